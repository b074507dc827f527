// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for relaychat.
//
// Configuration file location: ~/.relaychat/config.toml, with
// environment variable overrides and built-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/relaychat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete relaychat configuration.
type Config struct {
	Version      string `toml:"version"`
	DefaultModel string `toml:"default_model"`

	Server  ServerConfig  `toml:"server"`
	Queue   QueueConfig   `toml:"queue"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
	UI      UIConfig      `toml:"ui"`
}

// ServerConfig points at the conversational-agent service.
type ServerConfig struct {
	// BaseURL is the service root, e.g. https://relay.example.com
	BaseURL string `toml:"base_url"`

	// ProbeIntervalSeconds is the connectivity probe cadence.
	ProbeIntervalSeconds int `toml:"probe_interval_seconds"`
}

// QueueConfig tunes the offline action queue.
type QueueConfig struct {
	// Path is the durable queue slot. Default: ~/.relaychat/queue.json
	Path string `toml:"path"`

	// BackoffBaseMs is the first retry delay in milliseconds.
	BackoffBaseMs int `toml:"backoff_base_ms"`

	// BackoffMaxMs caps the retry delay in milliseconds.
	BackoffMaxMs int `toml:"backoff_max_ms"`
}

// StorageConfig locates the local conversation cache.
type StorageConfig struct {
	// DatabasePath is the SQLite file. Default: ~/.relaychat/relaychat.db
	DatabasePath string `toml:"database_path"`
}

// LoggingConfig tunes the structured log.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level"`

	// Path is the log file. Default: ~/.relaychat/relaychat.log
	Path string `toml:"path"`
}

// UIConfig holds presentation preferences.
type UIConfig struct {
	ShowTimestamps bool `toml:"show_timestamps"`
	PreviewLength  int  `toml:"preview_length"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// HomeDir returns the relaychat home directory (~/.relaychat).
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaychat"
	}
	return filepath.Join(home, ".relaychat")
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home := HomeDir()
	return &Config{
		Version:      "1",
		DefaultModel: "relay-default",
		Server: ServerConfig{
			BaseURL:              "http://127.0.0.1:8791",
			ProbeIntervalSeconds: 10,
		},
		Queue: QueueConfig{
			Path:          filepath.Join(home, "queue.json"),
			BackoffBaseMs: 1000,
			BackoffMaxMs:  60000,
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(home, "relaychat.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
			Path:  filepath.Join(home, "relaychat.log"),
		},
		UI: UIConfig{
			ShowTimestamps: false,
			PreviewLength:  60,
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// ConfigPath returns the config file location.
func ConfigPath() string {
	return filepath.Join(HomeDir(), "config.toml")
}

// Load reads the config file, falling back to defaults when absent,
// then applies environment overrides and validates.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults.
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies RELAYCHAT_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("RELAYCHAT_SERVER_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("RELAYCHAT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("RELAYCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url %q is not a valid URL", c.Server.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("server.base_url must use http or https")
	}
	if c.Queue.BackoffBaseMs <= 0 || c.Queue.BackoffMaxMs < c.Queue.BackoffBaseMs {
		return errors.New("queue backoff values are inconsistent")
	}
	if c.Server.ProbeIntervalSeconds <= 0 {
		return errors.New("server.probe_interval_seconds must be positive")
	}
	return nil
}

// Save writes the configuration atomically.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0644)
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// ProbeInterval returns the probe cadence as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Server.ProbeIntervalSeconds) * time.Second
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Queue.BackoffBaseMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c *Config) BackoffMax() time.Duration {
	return time.Duration(c.Queue.BackoffMaxMs) * time.Millisecond
}
