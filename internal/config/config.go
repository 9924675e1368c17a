// Package config loads and normalizes the previewd configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/previewd/internal/errors"
)

// Config is the application configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Source   SourceConfig   `yaml:"source"`
	Events   EventsConfig   `yaml:"events"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Timings  Timings        `yaml:"timings"`
	Retry    RetryConfig    `yaml:"retry"`
}

// ProviderConfig identifies the remote sandbox provider. When BaseURL or
// Token is empty the preview feature is disabled rather than failing boot.
type ProviderConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Runtime string `yaml:"runtime"` // sandbox runtime image, e.g. "node22"
}

// Configured reports whether the provider is usable.
func (p ProviderConfig) Configured() bool {
	return p.BaseURL != "" && p.Token != ""
}

// SourceConfig describes where the virtual file set comes from.
type SourceConfig struct {
	Dir              string        `yaml:"dir"`
	Repo             string        `yaml:"repo"`
	Branch           string        `yaml:"branch"`
	WatchDebounce    time.Duration `yaml:"watch_debounce"`
	ExcludePatterns  []string      `yaml:"exclude"`
	IncludeDotfiles  bool          `yaml:"include_dotfiles"`
	MaxFileSizeBytes int64         `yaml:"max_file_size_bytes"`
}

// EventsConfig configures pipeline event persistence and publication.
type EventsConfig struct {
	StorePath   string `yaml:"store_path"`   // sqlite database path, ":memory:" allowed
	NATSURL     string `yaml:"nats_url"`     // optional NATS publisher
	NATSSubject string `yaml:"nats_subject"` // subject for incident/lifecycle events
}

// MetricsConfig controls the Prometheus endpoint in daemon mode.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// Default returns a configuration with all tunables at their defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from the given YAML file. Environment variables in
// the file are expanded, and a local .env file is loaded first when present.
func Load(configPath string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(configPath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Init writes a starter configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Config{
		Provider: ProviderConfig{
			BaseURL: "${PREVIEWD_PROVIDER_URL}",
			Token:   "${PREVIEWD_PROVIDER_TOKEN}",
			Runtime: "node22",
		},
		Source: SourceConfig{
			Dir:           ".",
			WatchDebounce: 500 * time.Millisecond,
		},
		Events: EventsConfig{
			StorePath:   "previewd.db",
			NATSSubject: "previewd.events",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9464",
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Provider.Runtime == "" {
		c.Provider.Runtime = "node22"
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = os.Getenv("PREVIEWD_PROVIDER_URL")
	}
	if c.Provider.Token == "" {
		c.Provider.Token = os.Getenv("PREVIEWD_PROVIDER_TOKEN")
	}
	if c.Source.Dir == "" && c.Source.Repo == "" {
		c.Source.Dir = "."
	}
	if c.Source.Branch == "" {
		c.Source.Branch = "main"
	}
	if c.Source.WatchDebounce <= 0 {
		c.Source.WatchDebounce = 500 * time.Millisecond
	}
	if c.Source.MaxFileSizeBytes <= 0 {
		c.Source.MaxFileSizeBytes = 2 << 20 // 2 MiB per file
	}
	if c.Events.NATSSubject == "" {
		c.Events.NATSSubject = "previewd.events"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9464"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = LogLevelInfo
	}
	if c.Logging.Format == "" {
		c.Logging.Format = LogFormatText
	}
	c.Timings.applyDefaults()
	c.Retry.applyDefaults()
}
