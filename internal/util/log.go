// Package util holds the small shared pieces the rest of the module leans
// on: logger construction, retries with backoff, token-bucket rate limiting,
// and the US trading calendar.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a JSON slog logger writing to stdout at the given level.
// Unrecognized level strings fall back to info.
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetDefault installs logger as the process-wide slog default, so component
// loggers derived via slog.Default() pick it up.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
