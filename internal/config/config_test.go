package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/italolelis/crocstore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, 2*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "crocstore.db", cfg.DBPath)
	assert.Equal(t, 720*time.Hour, cfg.HistoryRetention)
	assert.Equal(t, "http://127.0.0.1:1337", cfg.Backend.BaseURL)
	assert.Equal(t, "crocdb", cfg.Backend.Plugin)
	assert.Zero(t, cfg.Backend.Timeout)
	assert.Equal(t, "0.0.0.0:8099", cfg.Web.BindAddress)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("REFRESH_INTERVAL", "5s")
	t.Setenv("BACKEND_BASE_URL", "http://deck.local:1337")
	t.Setenv("BACKEND_TOKEN", "secret")
	t.Setenv("WEB_USERNAME", "deck")
	t.Setenv("WEB_PASSWORD", "hunter2")
	t.Setenv("TELEMETRY_OTLP_ENDPOINT", "otel:4317")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "http://deck.local:1337", cfg.Backend.BaseURL)
	assert.Equal(t, "secret", cfg.Backend.Token)
	assert.Equal(t, "deck", cfg.Web.Username)
	assert.Equal(t, "otel:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "zero poll interval", env: map[string]string{"POLL_INTERVAL": "0s"}},
		{name: "negative refresh interval", env: map[string]string{"REFRESH_INTERVAL": "-1s"}},
		{name: "username without password", env: map[string]string{"WEB_USERNAME": "deck"}},
		{name: "unparsable duration", env: map[string]string{"POLL_INTERVAL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := config.LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := config.Config{LogLevel: tt.in}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}
