// Package logging installs the JSON slog logger every binary starts with.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup makes a JSON logger tagged with service the process default. The
// level comes from LOG_LEVEL (debug, info, warn, error).
func Setup(service string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(os.Getenv("LOG_LEVEL")),
	})).With("service", service)
	slog.SetDefault(logger)
	return logger
}

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
