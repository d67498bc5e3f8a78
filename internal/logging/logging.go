package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger: JSON to stderr, level from RATELIMITD_LOG_LEVEL
// (debug|info|warn|error, default info).
func New() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("RATELIMITD_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
