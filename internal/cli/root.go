package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/stackfolio/gqlmux/internal/auth"
	"github.com/stackfolio/gqlmux/internal/core/config"
	"github.com/stackfolio/gqlmux/internal/infra/gql"
	"github.com/stackfolio/gqlmux/internal/infra/gql/mux"
	"github.com/stackfolio/gqlmux/internal/infra/gql/retry"
	"github.com/stackfolio/gqlmux/internal/infra/gql/transport"
	redisclient "github.com/stackfolio/gqlmux/internal/infra/redis"
)

var (
	cfgPath  string
	isDebug  bool
	endpoint string
)

var rootCmd = &cobra.Command{
	Use:   "gqlmux",
	Short: "Resilient GraphQL client",
	Long: `gqlmux submits GraphQL operations through a multiplexing network layer
that batches concurrent queries, retries transient faults with backoff, and
degrades to individual dispatch when the server rejects batched bodies.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(setup)
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "GraphQL endpoint URL (overrides config)")
}

func setup() {
	_ = godotenv.Load()
}

// loadConfig resolves the configuration and initializes logging. A missing
// config file is fine when --endpoint is given.
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			stylelog.InitDefault()
			return nil, err
		}
		cfg = &config.AppConfig{}
		config.ApplyDefaults(cfg)
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if cfg.Endpoint == "" {
		stylelog.InitDefault()
		return nil, fmt.Errorf("no endpoint configured; set endpoint in %s or pass --endpoint", cfgPath)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	return cfg, nil
}

// tokenStore builds the configured credential store.
func tokenStore(cfg *config.AppConfig) (auth.TokenStore, func(), error) {
	switch cfg.Auth.Store {
	case "none":
		return nil, func() {}, nil
	case "redis":
		store, err := redisclient.NewTokenStore(cfg.Redis, cfg.Auth.Scope)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return auth.NewFileStore(cfg.Auth.TokenFile), func() {}, nil
	}
}

// newClient wires a gql.Client from the resolved configuration.
func newClient(cfg *config.AppConfig, tokens auth.TokenStore) *gql.Client {
	return gql.NewClient(gql.Config{
		Endpoint: cfg.Endpoint,
		Tokens:   tokens,
		Transport: transport.Config{
			DefaultTimeout: cfg.Timeouts.Default,
			SlowTimeout:    cfg.Timeouts.Slow,
			SlowOperations: cfg.Timeouts.SlowOperations,
		},
		Retry: retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Batch: mux.Config{
			MaxBatchSize: cfg.Batch.MaxSize,
			BaseInterval: cfg.Batch.BaseInterval,
			MinInterval:  cfg.Batch.MinInterval,
			MaxInterval:  cfg.Batch.MaxInterval,
			MaxFailures:  cfg.Batch.MaxFailures,
		},
		DisableBatching: cfg.Batch.Disabled,
	})
}
