package tools

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is read from the environment, optionally seeded from a .env file.
type Config struct {
	I2CBus           string
	Simulate         bool
	SimulatedLux     float64
	SSL              bool
	AppPort          string
	DBPath           string
	LogPath          string
	RecordInterval   time.Duration
	MaxJobDuration   time.Duration
	GlassAttenuation float64
	InterruptMode    bool
	Timezone         *time.Location
}

// Load .env if present, then read the config from the environment
func LoadConfig(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		logrus.Debugf("No .env file loaded: %v", err)
	}

	cfg := Config{
		I2CBus:  getEnv("I2C_BUS", "/dev/i2c-1"),
		DBPath:  getEnv("DB_PATH", "colormeter.db"),
		LogPath: getEnv("LOG_PATH", "colormeter.log"),
	}

	var err error
	if cfg.Simulate, err = getBool("SIMULATE", false); err != nil {
		return Config{}, err
	}
	if cfg.SimulatedLux, err = getFloat("SIMULATED_LUX", 1000); err != nil {
		return Config{}, err
	}
	if cfg.SSL, err = getBool("SSL", false); err != nil {
		return Config{}, err
	}
	if cfg.InterruptMode, err = getBool("INTERRUPT_MODE", false); err != nil {
		return Config{}, err
	}
	if cfg.RecordInterval, err = getDuration("RECORD_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.MaxJobDuration, err = getDuration("MAX_JOB_DURATION", 8*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.GlassAttenuation, err = getFloat("GLASS_ATTENUATION", 1.0); err != nil {
		return Config{}, err
	}

	cfg.AppPort = "80"
	if cfg.SSL {
		cfg.AppPort = "443"
	}
	cfg.AppPort = getEnv("APP_PORT", cfg.AppPort)

	cfg.Timezone, err = time.LoadLocation(getEnv("TIMEZONE", "America/Indiana/Indianapolis"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
