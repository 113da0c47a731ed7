// Package redis implements a redis-backed scoped credential store, for
// deployments where several agent processes share one session.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stackfolio/gqlmux/internal/auth"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// TokenStore is an auth.TokenStore backed by a single scoped Redis key.
type TokenStore struct {
	rdb *redis.Client
	key string
}

var _ auth.TokenStore = (*TokenStore)(nil)

// NewTokenStore connects to Redis and verifies the connection.
func NewTokenStore(cfg Config, scope string) (*TokenStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &TokenStore{rdb: rdb, key: tokenKey(scope)}, nil
}

// Close closes the Redis connection.
func (s *TokenStore) Close() error {
	return s.rdb.Close()
}

func tokenKey(scope string) string {
	return fmt.Sprintf("gqlmux:token:%s", scope)
}

// Token returns the stored access token, or auth.ErrNoToken.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	val, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", auth.ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return val, nil
}

// Save stores a new access token, replacing any previous one.
func (s *TokenStore) Save(ctx context.Context, token string) error {
	if err := s.rdb.Set(ctx, s.key, token, 0).Err(); err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	return nil
}

// Remove deletes the stored token.
func (s *TokenStore) Remove(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("del token: %w", err)
	}
	return nil
}
