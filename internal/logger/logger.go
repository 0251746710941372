// Package logger builds Maestro's process-wide structured logger.
//
// Every component logs through the slog default (connection goroutines in the
// worker pool, the tick loops, the dispatcher callbacks), so New both returns
// the logger and installs it as the default.
package logger

import (
	"log/slog"
	"os"
	"strings"

	"github.com/calyptra/maestro/internal/config"
)

// New creates the process logger: JSON to stdout with a "service" attribute
// on every record. At debug level, records also carry their source location,
// which is the practical way to attribute interleaved frame-routing and tick
// logs to their call sites.
func New(cfg config.Logging) *slog.Logger {
	level := levelFor(cfg.Level)

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})

	log := slog.New(handler).With("service", cfg.Service)
	slog.SetDefault(log)
	return log
}

// levelFor maps a config string to a slog.Level, defaulting to info.
func levelFor(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
