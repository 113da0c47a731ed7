package config

import (
	"time"

	redisclient "github.com/stackfolio/gqlmux/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Endpoint string             `yaml:"endpoint"`
	Logging  LoggingConfig      `yaml:"logging"`
	Timeouts TimeoutConfig      `yaml:"timeouts"`
	Retry    RetryConfig        `yaml:"retry"`
	Batch    BatchConfig        `yaml:"batch"`
	Auth     AuthConfig         `yaml:"auth"`
	Redis    redisclient.Config `yaml:"redis"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TimeoutConfig holds transport deadline settings.
type TimeoutConfig struct {
	Default        time.Duration `yaml:"default"`
	Slow           time.Duration `yaml:"slow"`
	SlowOperations []string      `yaml:"slow_operations"`
}

// RetryConfig holds retry controller settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// BatchConfig holds multiplexer settings.
type BatchConfig struct {
	Disabled     bool          `yaml:"disabled"`
	MaxSize      int           `yaml:"max_size"`
	BaseInterval time.Duration `yaml:"base_interval"`
	MinInterval  time.Duration `yaml:"min_interval"`
	MaxInterval  time.Duration `yaml:"max_interval"`
	MaxFailures  int           `yaml:"max_failures"`
}

// AuthConfig selects the credential store.
type AuthConfig struct {
	Store     string `yaml:"store"` // file, redis, none
	TokenFile string `yaml:"token_file"`
	Scope     string `yaml:"scope"`
}
