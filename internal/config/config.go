package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	HubBaseURL string `envconfig:"HUB_BASE_URL" default:"https://huggingface.co"`
	HubToken   string `envconfig:"HUB_TOKEN"`
	Revision   string `envconfig:"HUB_REVISION" default:"main"`

	DataDir           string        `envconfig:"DATA_DIR" required:"true"`
	DBPath            string        `envconfig:"DB_PATH" default:"hubfetch.db"`
	DeviceMemory      int64         `envconfig:"DEVICE_MEMORY_BYTES"`
	AttemptTimeout    time.Duration `envconfig:"ATTEMPT_TIMEOUT"`
	ScratchTTL        time.Duration `envconfig:"SCRATCH_TTL" default:"168h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Retry struct {
		BaseDelay   time.Duration `split_words:"true" default:"500ms"`
		MaxDelay    time.Duration `split_words:"true" default:"30s"`
		MaxAttempts int           `split_words:"true" default:"5"`
		Jitter      float64       `split_words:"true" default:"0.25"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled     bool   `split_words:"true" default:"true"`
		ServiceName string `split_words:"true" default:"hubfetch"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
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
