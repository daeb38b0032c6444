package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`
	RefreshInterval   time.Duration `envconfig:"REFRESH_INTERVAL" default:"2s"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"crocstore.db"`
	HistoryRetention  time.Duration `envconfig:"HISTORY_RETENTION" default:"720h"`
	CleanupSchedule   string        `envconfig:"CLEANUP_SCHEDULE" default:"0 * * * *"`

	Backend struct {
		BaseURL string `split_words:"true" default:"http://127.0.0.1:1337"`
		Plugin  string `split_words:"true" default:"crocdb"`
		Token   string `split_words:"true"`
		// Timeout of zero leaves backend calls unbounded.
		Timeout time.Duration `split_words:"true" default:"0s"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8099"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"crocstore"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the tracker and the backend client cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval))
	}

	if c.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", c.RefreshInterval))
	}

	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	}

	if c.Backend.Plugin == "" {
		errs = append(errs, errors.New("BACKEND_PLUGIN is required"))
	}

	if (c.Web.Username == "") != (c.Web.Password == "") {
		errs = append(errs, errors.New("WEB_USERNAME and WEB_PASSWORD must be set together"))
	}

	return errors.Join(errs...)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
