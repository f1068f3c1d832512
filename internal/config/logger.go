package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps LOG_LEVEL onto a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger builds a logger writing to w in the configured format
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", "sentinel")
}

// InitLogger installs the configured logger as the process default
func InitLogger(cfg *Config) {
	slog.SetDefault(NewLogger(cfg, os.Stdout))

	slog.Debug("Logger initialized",
		"level", cfg.LogLevel,
		"format", cfg.LogFormat,
	)
}
