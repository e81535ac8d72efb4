package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
)

// newLogger builds the process logger from the observability settings.
// Unknown levels fall back to info and unknown formats to JSON.
func newLogger(cfg configuration.ObservabilityConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "evalrun")
}

func setupLogging(cfg configuration.ObservabilityConfig, w io.Writer) {
	slog.SetDefault(newLogger(cfg, w))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
