package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a slog JSON logger at the given level with source
// annotations. Every component takes one of these; nothing in the codebase
// logs through the global default.
func NewLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFromString(level),
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}

// levelFromString maps a LOG_LEVEL value to a slog level, defaulting to
// info for anything unrecognized.
func levelFromString(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
