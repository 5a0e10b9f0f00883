package tools

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

//go:embed migration/*.sql
var migrationFiles embed.FS

// Wait between connection attempts, multiplied by the attempt number
var connectBackoff = 3 * time.Second

func ConnectSqlite(filePath string) (*sql.DB, error) {
	db, err := connectWithBackoff("sqlite3", filePath, 3)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", filePath, err)
	}
	return db, nil
}

// Apply every embedded migration in file name order. Migrations are
// written to be re-runnable.
func RunMigrations(db *sql.DB) error {
	entries, err := fs.ReadDir(migrationFiles, "migration")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		stmt, err := fs.ReadFile(migrationFiles, path.Join("migration", name))
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(stmt)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		logrus.Debugf("Applied migration %s", name)
	}
	return nil
}

func connectWithBackoff(driver string, connStr string, maxRetries int) (*sql.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err := sql.Open(driver, connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				return db, nil
			}
			db.Close()
		}
		lastErr = err
		logrus.Warnf("Failed attempt %d to connect to %s: %v", attempt, driver, err)
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * connectBackoff)
		}
	}
	return nil, lastErr
}
