package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"trace": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(configuration.ObservabilityConfig{LogLevel: "info", LogFormat: "json"}, &buf)
		logger.Debug("hidden")
		logger.Info("shown", "experiment_id", 7)

		var record map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "shown", record["msg"])
		assert.Equal(t, "evalrun", record["service"])
		assert.InDelta(t, 7, record["experiment_id"], 0)
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(configuration.ObservabilityConfig{LogLevel: "debug", LogFormat: "text"}, &buf)
		logger.Debug("details")
		assert.Contains(t, buf.String(), "level=DEBUG")
		assert.Contains(t, buf.String(), "msg=details")
	})
}
