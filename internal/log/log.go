// Package log provides structured logging for the drowsiness backend.
// It wraps slog with production defaults.
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger *slog.Logger
	level  slog.LevelVar
	once   sync.Once
)

// Init sets the global log level, creating the logger on first use.
// Valid levels: "debug", "info", "warn", "error" (case-insensitive).
// JSON output is used when ENVIRONMENT=production, text otherwise.
// Calling Init again only changes the level.
func Init(lvl string) {
	setup()
	level.Set(ParseLevel(lvl))
}

func setup() {
	once.Do(func() {
		opts := &slog.HandlerOptions{Level: &level}

		if os.Getenv("ENVIRONMENT") == "production" {
			logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
		}

		slog.SetDefault(logger)
	})
}

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// L returns the global logger instance. It logs at info level until Init
// is called.
func L() *slog.Logger {
	setup()
	return logger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	L().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	L().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	L().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	L().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return L().With(args...)
}
