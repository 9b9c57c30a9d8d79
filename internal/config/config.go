// Package config loads and validates the service configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service settings. Values are loaded from YAML and can be
// overridden through environment variables for deployment-sensitive fields.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feed struct {
		Endpoint        string `yaml:"endpoint"`
		TLSInsecureSkip bool   `yaml:"tls_insecure_skip"`
		PingPeriodSec   int    `yaml:"ping_period_sec"`
		ReconnectMinSec int    `yaml:"reconnect_min_sec"`
		ReconnectMaxSec int    `yaml:"reconnect_max_sec"`
	} `yaml:"feed"`

	Candles struct {
		IntervalSec    int `yaml:"interval_sec"`
		RingCapacity   int `yaml:"ring_capacity"`
		HistoryCap     int `yaml:"history_cap"`
		ResampleWindow int `yaml:"resample_window"`
		RecentLimit    int `yaml:"recent_limit"`
	} `yaml:"candles"`

	Fanout struct {
		QueueSize      int `yaml:"queue_size"`
		SendTimeoutSec int `yaml:"send_timeout_sec"`
	} `yaml:"fanout"`

	Server struct {
		ListenAddr      string `yaml:"listen_addr"`
		ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
		WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	} `yaml:"server"`

	// Instruments maps trading symbols to feed tokens.
	Instruments map[string]uint32 `yaml:"instruments"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// Load reads and parses the configuration file, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	var cfg Config
	cfg.App.Name = "tickstream"
	cfg.Feed.Endpoint = "ws://localhost:9000/feed"
	cfg.Server.ListenAddr = ":8080"
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Feed.PingPeriodSec <= 0 {
		c.Feed.PingPeriodSec = 15
	}
	if c.Feed.ReconnectMinSec <= 0 {
		c.Feed.ReconnectMinSec = 1
	}
	if c.Feed.ReconnectMaxSec <= 0 {
		c.Feed.ReconnectMaxSec = 30
	}
	if c.Candles.IntervalSec <= 0 {
		c.Candles.IntervalSec = 60
	}
	if c.Fanout.QueueSize <= 0 {
		c.Fanout.QueueSize = 100
	}
	if c.Fanout.SendTimeoutSec <= 0 {
		c.Fanout.SendTimeoutSec = 5
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Feed.Endpoint, "ws://") && !strings.HasPrefix(c.Feed.Endpoint, "wss://") {
		return fmt.Errorf("invalid feed endpoint: %s", c.Feed.Endpoint)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}
	if c.Feed.ReconnectMinSec > c.Feed.ReconnectMaxSec {
		return fmt.Errorf("reconnect_min_sec %d exceeds reconnect_max_sec %d",
			c.Feed.ReconnectMinSec, c.Feed.ReconnectMaxSec)
	}
	return nil
}

// CandleInterval returns the bucket interval as a duration.
func (c *Config) CandleInterval() time.Duration {
	return time.Duration(c.Candles.IntervalSec) * time.Second
}

// overrideWithEnv overwrites deployment-sensitive settings from the
// environment when the corresponding variable is set.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("TICKSTREAM_FEED_ENDPOINT"); v != "" {
		cfg.Feed.Endpoint = v
	}
	if v := os.Getenv("TICKSTREAM_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("TICKSTREAM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
