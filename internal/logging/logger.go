package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

func init() {
	logger = logrus.New()

	// Everything goes to stderr so stdout stays clean for prompts
	// (the vault unlock step reads a password interactively).
	logger.SetOutput(os.Stderr)

	logger.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))

	if os.Getenv("LOG_FORMAT") == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug", "DEBUG":
		return logrus.DebugLevel
	case "info", "INFO":
		return logrus.InfoLevel
	case "warn", "WARN":
		return logrus.WarnLevel
	case "error", "ERROR":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// GetLogger returns the configured logger instance
func GetLogger() *logrus.Logger {
	return logger
}

// SetLevel overrides the log level, typically from a CLI flag.
func SetLevel(level string) {
	logger.SetLevel(parseLevel(level))
}

// SetFormat overrides the log format ("json" or "text").
func SetFormat(format string) {
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// WithField creates a new logger entry with a single field
func WithField(key string, value interface{}) *logrus.Entry {
	return logger.WithField(key, value)
}

// WithFields creates a new logger entry with multiple fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// WithError creates a new logger entry with an error field
func WithError(err error) *logrus.Entry {
	return logger.WithError(err)
}

// Info logs an info message
func Info(args ...interface{}) {
	logger.Info(args...)
}

// Debug logs a debug message
func Debug(args ...interface{}) {
	logger.Debug(args...)
}

// Warn logs a warning message
func Warn(args ...interface{}) {
	logger.Warn(args...)
}

// Error logs an error message
func Error(args ...interface{}) {
	logger.Error(args...)
}

// Fatal logs a fatal message and exits
func Fatal(args ...interface{}) {
	logger.Fatal(args...)
}
