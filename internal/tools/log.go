package tools

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Record anything we log in the log file as well as stdout
func SetupLogging(logPath string) (io.Closer, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("error opening log file: %w", err)
	}
	logrus.SetOutput(io.MultiWriter(logFile, os.Stdout))
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(ParseLogLevel(os.Getenv("LOG_LEVEL")))
	return logFile, nil
}

func ParseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
