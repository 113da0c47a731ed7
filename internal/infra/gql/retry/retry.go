// Package retry implements fault classification and bounded exponential
// backoff for GraphQL dispatches.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/stackfolio/gqlmux/internal/infra/gql/transport"
	"github.com/stackfolio/gqlmux/internal/metrics"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// IdempotentOnly restricts retries to pre-response failures (network,
	// timeout). Mutations use this so a retry can never duplicate a side
	// effect after the server already processed the request.
	IdempotentOnly bool
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    5 * time.Second,
}

// Fault labels a completed or failed dispatch attempt.
type Fault int

const (
	// FaultRetryable covers timeouts, network failures and 5xx statuses.
	FaultRetryable Fault = iota

	// FaultAuth covers 401/403 and known credential-invalid error
	// payloads. The caller must invalidate the stored credential.
	FaultAuth

	// FaultTerminal covers every other failure; retrying cannot help.
	FaultTerminal
)

// String returns the fault name for logging.
func (f Fault) String() string {
	switch f {
	case FaultAuth:
		return "auth"
	case FaultTerminal:
		return "terminal"
	default:
		return "retryable"
	}
}

// AuthError marks a dispatch that failed on an authentication fault after
// the stored credential was invalidated.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication invalid: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// authPatterns are the credential-invalid messages the backend emits
// (django-graphql-jwt wording), matched case-insensitively.
var authPatterns = []string{
	"signature has expired",
	"error decoding signature",
	"authentication credentials were not provided",
	"you do not have permission to perform this action",
	"invalid token",
	"invalid credentials",
}

// IsAuthMessage reports whether a structured error payload message matches
// a known authentication-invalid pattern.
func IsAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range authPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Classify labels an error from a dispatch attempt.
//
// A well-formed 200 response carrying application errors never reaches this
// function; that is success with payload errors and flows straight through
// to the caller.
func Classify(err error) Fault {
	if err == nil {
		return FaultRetryable // should not happen
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return FaultAuth
	}

	var terr *transport.Error
	if errors.As(err, &terr) {
		switch terr.Kind {
		case transport.ErrTimeout, transport.ErrNetwork:
			return FaultRetryable
		case transport.ErrHTTPStatus:
			switch {
			case terr.Status == 401 || terr.Status == 403:
				return FaultAuth
			case terr.Status >= 500 && terr.Status < 600:
				return FaultRetryable
			default:
				if IsAuthMessage(string(terr.Body)) {
					return FaultAuth
				}
				return FaultTerminal
			}
		default: // transport.ErrDecode
			return FaultTerminal
		}
	}

	if IsAuthMessage(err.Error()) {
		return FaultAuth
	}

	return FaultTerminal
}

// Do executes fn with bounded exponential backoff. Retryable faults are
// absorbed up to MaxAttempts; auth and terminal faults return immediately.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if Classify(err) != FaultRetryable {
			return nil, err
		}
		if cfg.IdempotentOnly && responseReceived(err) {
			// The server may have processed the request; retrying
			// could duplicate a side effect.
			return nil, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		metrics.RetriesTotal.Inc()
		delay := backoff(attempt, cfg)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// responseReceived reports whether an HTTP response arrived for the failed
// attempt. Network and timeout failures happen before any response.
func responseReceived(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.Kind == transport.ErrHTTPStatus || terr.Kind == transport.ErrDecode
	}
	return true
}

func backoff(attempt int, cfg Config) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
