// Package config provides configuration management for riftstore.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the riftstore server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// StorageConfig represents the file-backed storage roots.
type StorageConfig struct {
	DataDir   string `yaml:"data_dir"`
	ConfigDir string `yaml:"config_dir"`
}

// DispatchConfig tunes the Topic Dispatcher subsystem.
type DispatchConfig struct {
	PollIntervalMS         int `yaml:"poll_interval_ms"`
	BatchSize              int `yaml:"batch_size"`
	DeliveryTimeoutSeconds int `yaml:"delivery_timeout_seconds"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`    // json, text
	FilePath string `yaml:"file_path"` // empty means log to stdout only
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8081,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Storage: StorageConfig{
			DataDir:   "./data",
			ConfigDir: "./config",
		},
		Dispatch: DispatchConfig{
			PollIntervalMS:         500,
			BatchSize:              100,
			DeliveryTimeoutSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file and environment variables.
// Environment variables override file configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 -- path is from command-line argument, user-controlled input is expected
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. PORT, DATA_DIR,
// and CONFIG_DIR match spec.md §6.3's bare, unprefixed names; everything else
// follows the RIFTSTORE_* naming convention.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("CONFIG_DIR"); v != "" {
		c.Storage.ConfigDir = v
	}

	if v := os.Getenv("RIFTSTORE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("RIFTSTORE_READ_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Server.ReadTimeout = secs
		}
	}
	if v := os.Getenv("RIFTSTORE_WRITE_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Server.WriteTimeout = secs
		}
	}
	if v := os.Getenv("RIFTSTORE_POLL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Dispatch.PollIntervalMS = ms
		}
	}
	if v := os.Getenv("RIFTSTORE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.BatchSize = n
		}
	}
	if v := os.Getenv("RIFTSTORE_DELIVERY_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.Dispatch.DeliveryTimeoutSeconds = secs
		}
	}
	if v := os.Getenv("RIFTSTORE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RIFTSTORE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("RIFTSTORE_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
}

// Validate validates the configuration, clamping the dispatcher batch size
// to [1, 100] per spec.md §9's chosen bound rather than rejecting
// out-of-range values outright.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if strings.TrimSpace(c.Storage.ConfigDir) == "" {
		return fmt.Errorf("config_dir must not be empty")
	}
	if c.Dispatch.PollIntervalMS < 1 {
		return fmt.Errorf("dispatch.poll_interval_ms must be positive")
	}
	if c.Dispatch.BatchSize < 1 {
		c.Dispatch.BatchSize = 1
	}
	if c.Dispatch.BatchSize > 100 {
		c.Dispatch.BatchSize = 100
	}
	if c.Dispatch.DeliveryTimeoutSeconds < 1 {
		return fmt.Errorf("dispatch.delivery_timeout_seconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// Address returns the server address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
