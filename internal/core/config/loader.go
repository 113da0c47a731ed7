package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills unset fields with sensible defaults.
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Timeouts.Default == 0 {
		cfg.Timeouts.Default = 10 * time.Second
	}
	if cfg.Timeouts.Slow == 0 {
		cfg.Timeouts.Slow = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = 1 * time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 5 * time.Second
	}
	if cfg.Batch.MaxSize == 0 {
		cfg.Batch.MaxSize = 10
	}
	if cfg.Batch.BaseInterval == 0 {
		cfg.Batch.BaseInterval = 10 * time.Millisecond
	}
	if cfg.Batch.MinInterval == 0 {
		cfg.Batch.MinInterval = 5 * time.Millisecond
	}
	if cfg.Batch.MaxInterval == 0 {
		cfg.Batch.MaxInterval = 50 * time.Millisecond
	}
	if cfg.Batch.MaxFailures == 0 {
		cfg.Batch.MaxFailures = 3
	}
	if cfg.Auth.Store == "" {
		cfg.Auth.Store = "file"
	}
	if cfg.Auth.Scope == "" {
		cfg.Auth.Scope = "default"
	}
	if cfg.Auth.TokenFile == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.Auth.TokenFile = filepath.Join(home, ".config", "gqlmux", "token")
		}
	}
}
