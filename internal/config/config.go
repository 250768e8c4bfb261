// SPDX-License-Identifier: MIT

// Package config loads streamwatch configuration from YAML with environment
// overrides and strict validation.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied before file and environment values.
const (
	DefaultSyncInterval = 5 * time.Second
	DefaultDownloadDir  = "downloads"
	DefaultMaxParallel  = 1
)

// Config is the full client configuration.
type Config struct {
	// APIBase is the REST collaborator base URL, e.g. "https://host/api".
	APIBase string `yaml:"api_base"`
	// WSBase is the control-channel base URL, e.g. "wss://host/ws".
	WSBase string `yaml:"ws_base"`
	// Token is the viewer bearer token.
	Token string `yaml:"token"`

	// SyncInterval is the playback snapshot cadence.
	SyncInterval time.Duration `yaml:"sync_interval"`
	// Reconnect enables automatic control-channel reopen with backoff.
	Reconnect bool `yaml:"reconnect"`

	// DownloadDir is where download jobs materialize files.
	DownloadDir string `yaml:"download_dir"`
	// MaxParallelDownloads caps concurrently active download jobs.
	MaxParallelDownloads int `yaml:"max_parallel_downloads"`
	// ThrottleBytesPerSec limits download throughput; 0 means unlimited.
	ThrottleBytesPerSec int `yaml:"throttle_bytes_per_sec"`

	// LogLevel overrides the zerolog level ("debug", "info", ...).
	LogLevel string `yaml:"log_level"`
}

// Load reads the optional YAML file at path, applies environment overrides,
// and validates. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := &Config{
		SyncInterval:         DefaultSyncInterval,
		DownloadDir:          DefaultDownloadDir,
		MaxParallelDownloads: DefaultMaxParallel,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STREAMWATCH_API_BASE"); v != "" {
		cfg.APIBase = v
	}
	if v := os.Getenv("STREAMWATCH_WS_BASE"); v != "" {
		cfg.WSBase = v
	}
	if v := os.Getenv("STREAMWATCH_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("STREAMWATCH_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncInterval = d
		}
	}
	if v := os.Getenv("STREAMWATCH_DOWNLOAD_DIR"); v != "" {
		cfg.DownloadDir = v
	}
	if v := os.Getenv("STREAMWATCH_RECONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Reconnect = b
		}
	}
	if v := os.Getenv("STREAMWATCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks the configuration, naming the offending key in every error.
func (c *Config) Validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("api_base: missing")
	}
	if err := validateURL(c.APIBase, "http", "https"); err != nil {
		return fmt.Errorf("api_base: %w", err)
	}
	if c.WSBase == "" {
		return fmt.Errorf("ws_base: missing")
	}
	if err := validateURL(c.WSBase, "ws", "wss"); err != nil {
		return fmt.Errorf("ws_base: %w", err)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval: must be positive, got %s", c.SyncInterval)
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("download_dir: missing")
	}
	if c.MaxParallelDownloads <= 0 {
		return fmt.Errorf("max_parallel_downloads: must be positive, got %d", c.MaxParallelDownloads)
	}
	if c.ThrottleBytesPerSec < 0 {
		return fmt.Errorf("throttle_bytes_per_sec: must not be negative, got %d", c.ThrottleBytesPerSec)
	}
	return nil
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("url %q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("url %q must use one of %v", raw, schemes)
}
