package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the connection settings for the attempt server.
type ServerConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token,omitempty"`
	Transport string `yaml:"transport"`     // "sse", "poll" or "auto" (capability probe)
	PollEvery string `yaml:"poll_every"`    // polling transport interval (default: 2s)
	Timeout   string `yaml:"timeout"`       // one-shot request timeout (default: 30s)
}

// SyncConfig tunes the synchronization engine. All durations are strings
// parsed at load time.
type SyncConfig struct {
	ReconnectBase     string `yaml:"reconnect_base"`      // first retry delay (default: 1s)
	ReconnectCap      string `yaml:"reconnect_cap"`       // max retry delay (default: 8s)
	InitialEntries    int    `yaml:"initial_entries"`     // historic entries before first emit (default: 10)
	BackfillBatch     int    `yaml:"backfill_batch"`      // entries added per backfill round (default: 50)
	BackfillPause     string `yaml:"backfill_pause"`      // pause between backfill rounds (default: 1s)
	LiveRetryAttempts int    `yaml:"live_retry_attempts"` // live-stream open attempts (default: 20)
	LiveRetryDelay    string `yaml:"live_retry_delay"`    // spacing between open attempts (default: 500ms)
	DraftDebounce     string `yaml:"draft_debounce"`      // draft autosave debounce (default: 400ms)
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
	Output string `yaml:"output"` // stdout, stderr or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Config is the top-level application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Sync   SyncConfig   `yaml:"sync"`
	Logger LoggerConfig `yaml:"logger"`
	Tracer TracerConfig `yaml:"tracer"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// Load reads a YAML config file, applies defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Transport == "" {
		c.Server.Transport = "auto"
	}
	if c.Server.PollEvery == "" {
		c.Server.PollEvery = "2s"
	}
	if c.Server.Timeout == "" {
		c.Server.Timeout = "30s"
	}
	if c.Sync.ReconnectBase == "" {
		c.Sync.ReconnectBase = "1s"
	}
	if c.Sync.ReconnectCap == "" {
		c.Sync.ReconnectCap = "8s"
	}
	if c.Sync.InitialEntries <= 0 {
		c.Sync.InitialEntries = 10
	}
	if c.Sync.BackfillBatch <= 0 {
		c.Sync.BackfillBatch = 50
	}
	if c.Sync.BackfillPause == "" {
		c.Sync.BackfillPause = "1s"
	}
	if c.Sync.LiveRetryAttempts <= 0 {
		c.Sync.LiveRetryAttempts = 20
	}
	if c.Sync.LiveRetryDelay == "" {
		c.Sync.LiveRetryDelay = "500ms"
	}
	if c.Sync.DraftDebounce == "" {
		c.Sync.DraftDebounce = "400ms"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
	if c.Logger.Output == "" {
		c.Logger.Output = "stderr"
	}
}

// Validate checks field values that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.Server.BaseURL != "" {
		if _, err := url.Parse(c.Server.BaseURL); err != nil {
			return fmt.Errorf("server.base_url: %w", err)
		}
	}
	switch c.Server.Transport {
	case "sse", "poll", "auto":
	default:
		return fmt.Errorf("server.transport: must be sse, poll or auto, got %q", c.Server.Transport)
	}
	for name, s := range map[string]string{
		"server.poll_every":    c.Server.PollEvery,
		"server.timeout":       c.Server.Timeout,
		"sync.reconnect_base":  c.Sync.ReconnectBase,
		"sync.reconnect_cap":   c.Sync.ReconnectCap,
		"sync.backfill_pause":  c.Sync.BackfillPause,
		"sync.live_retry_delay": c.Sync.LiveRetryDelay,
		"sync.draft_debounce":  c.Sync.DraftDebounce,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Duration parses a duration string that Validate has already checked,
// falling back to def when parsing fails anyway.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
