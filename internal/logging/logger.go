// Package logging builds the slog loggers used by the solidtracker binaries.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config holds logger configuration.
type Config struct {
	Level     slog.Level
	JSON      bool
	Output    io.Writer // default: stderr
	AddSource bool
}

// FromStrings converts LOG_LEVEL and LOG_FORMAT values into a Config. Unknown levels fall
// back to info.
func FromStrings(level, format string) Config {
	cfg := Config{Level: ParseLevel(level), JSON: strings.EqualFold(format, "json")}
	cfg.AddSource = cfg.Level == slog.LevelDebug
	return cfg
}

// ParseLevel maps debug, info, warn and error onto slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New builds a logger tagged with the component name and installs it as the slog default.
func New(cfg Config, component string) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	logger := slog.New(handler)
	if component != "" {
		logger = logger.With(KeyComponent, component)
	}
	slog.SetDefault(logger)
	return logger
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common structured logging fields.
const (
	KeyComponent  = "component"
	KeyEntityType = "entity_type"
	KeyEntityID   = "entity_id"
	KeyRemoteID   = "remote_id"
	KeyError      = "error"
)
