package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"video-scanner-go/internal/config"
)

// LoggerConfig defines the configuration for the logger.
type LoggerConfig struct {
	Level      string    // Log level (e.g., "info", "debug", "error")
	FilePath   string    // Rotated log file; empty logs to Console only
	MaxSize    int       // Maximum size in megabytes before log rotation
	MaxBackups int       // Maximum number of old log files to retain
	MaxAge     int       // Maximum number of days to retain old log files
	Compress   bool      // Whether to compress rotated log files
	Console    bool      // Whether to also log to the console
	Output     io.Writer // Console writer, os.Stderr when nil
}

// NewLogger returns a logrus.Logger emitting JSON lines, rotated through
// lumberjack when FilePath is set.
func NewLogger(cfg LoggerConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
			logrus.FieldKeyFunc:  "function",
		},
	})

	var writers []io.Writer

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}

	if cfg.Console || cfg.FilePath == "" {
		console := cfg.Output
		if console == nil {
			console = os.Stderr
		}
		writers = append(writers, console)
	}

	if len(writers) > 1 {
		logger.SetOutput(io.MultiWriter(writers...))
	} else {
		logger.SetOutput(writers[0])
	}

	return logger, nil
}

// FromConfig builds a LoggerConfig from the logging section. verbose forces
// debug and quiet forces error; verbose wins when both are set.
func FromConfig(lc config.LoggingConfig, verbose, quiet bool) LoggerConfig {
	cfg := LoggerConfig{
		Level:      lc.Level,
		FilePath:   lc.FilePath,
		MaxSize:    lc.MaxSize,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAge,
		Compress:   lc.Compress,
		Console:    true,
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	switch {
	case verbose:
		cfg.Level = "debug"
	case quiet:
		cfg.Level = "error"
	}
	return cfg
}

// WithFields returns a logger entry with the specified fields.
func WithFields(logger *logrus.Logger, fields logrus.Fields) *logrus.Entry {
	return logger.WithFields(fields)
}

// WithFile returns a logger entry with the specified file context.
func WithFile(logger *logrus.Logger, filePath string) *logrus.Entry {
	return logger.WithField("file", filePath)
}

// WithOperation returns a logger entry with the specified operation context.
func WithOperation(logger *logrus.Logger, operation string) *logrus.Entry {
	return logger.WithField("operation", operation)
}

// WithFileOperation returns a logger entry with both file and operation context.
func WithFileOperation(logger *logrus.Logger, filePath, operation string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"file":      filePath,
		"operation": operation,
	})
}

// WithRun tags entries with a scan run ID.
func WithRun(logger *logrus.Logger, runID string) *logrus.Entry {
	return logger.WithField("run_id", runID)
}

// DefaultConfig returns the default LoggerConfig.
func DefaultConfig() LoggerConfig {
	return LoggerConfig{
		Level:      "info",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
		Console:    true,
	}
}
