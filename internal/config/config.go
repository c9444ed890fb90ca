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
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath   string `envconfig:"DB_PATH" default:"yuque_exporter.db"`

	DownloadDir       string `envconfig:"DOWNLOAD_DIR" default:"downloads"`
	BrowserBin        string `envconfig:"BROWSER_BIN"`
	BrowserControlURL string `envconfig:"BROWSER_CONTROL_URL"`
	Headless          bool   `envconfig:"HEADLESS" default:"true"`

	SelectorsFile   string   `envconfig:"SELECTORS_FILE"`
	RecognizedHosts []string `envconfig:"RECOGNIZED_HOSTS" default:"yuque.com,aliyuncs.com"`

	ElementTimeout  time.Duration `envconfig:"ELEMENT_TIMEOUT" default:"10s"`
	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"60s"`
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"500ms"`
	Cooldown        time.Duration `envconfig:"COOLDOWN" default:"3s"`

	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	// AutoGrant answers vault permission prompts without asking, for unattended use.
	AutoGrant bool `envconfig:"AUTO_GRANT" default:"false"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`
	TelemetryEnabled  bool   `envconfig:"TELEMETRY_ENABLED" default:"true"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9092"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
