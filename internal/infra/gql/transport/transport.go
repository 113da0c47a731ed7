// Package transport implements the deadline-bound HTTP transport for GraphQL
// operations.
//
// This package contains:
//   - Operation: one logical GraphQL request (query or mutation)
//   - Response: a GraphQL result object, data plus application errors
//   - Transport: HTTP POST with enforced per-operation deadlines
//   - Error: typed transport failures (Network, Timeout, HTTPStatus, Decode)
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/stackfolio/gqlmux/internal/auth"
	"github.com/stackfolio/gqlmux/internal/metrics"
)

// Kind distinguishes queries from mutations. Only queries are eligible for
// batching; mutations must never be coalesced or reordered.
type Kind int

const (
	KindQuery Kind = iota
	KindMutation
)

// String returns the kind name for logging and metrics labels.
func (k Kind) String() string {
	if k == KindMutation {
		return "mutation"
	}
	return "query"
}

// Operation represents one logical GraphQL request.
// It is immutable once created; the layer owns it for its queue lifetime.
type Operation struct {
	// ID is a unique correlation token for this operation.
	ID string `json:"-"`

	// Kind is Query or Mutation.
	Kind Kind `json:"-"`

	// Document is the printed operation text.
	Document string `json:"query"`

	// Variables maps variable names to values.
	Variables map[string]any `json:"variables,omitempty"`

	// OperationName selects the operation when Document holds several.
	OperationName string `json:"operationName,omitempty"`
}

// Response is one GraphQL result object. Application-level errors are data,
// not transport faults; they flow through to the caller untouched.
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors []ResponseError `json:"errors,omitempty"`
}

// ResponseError is a single entry of a GraphQL "errors" array.
type ResponseError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Config holds transport settings.
type Config struct {
	// Endpoint is the single GraphQL HTTP POST URL.
	Endpoint string

	// DefaultTimeout bounds ordinary operations.
	DefaultTimeout time.Duration

	// SlowTimeout bounds operations named in SlowOperations.
	SlowTimeout time.Duration

	// SlowOperations lists operation names that need the long deadline
	// (AI recommendation and analytics resolvers on the backend).
	SlowOperations []string

	// HTTPClient overrides the default pooled client, mainly for tests.
	HTTPClient *http.Client
}

// DefaultConfig provides sensible transport defaults.
var DefaultConfig = Config{
	DefaultTimeout: 10 * time.Second,
	SlowTimeout:    30 * time.Second,
	SlowOperations: []string{
		"aiRecommendations",
		"rustStockAnalysis",
		"portfolioAnalytics",
	},
}

// Transport sends serialized operation bodies to a single GraphQL endpoint
// within an enforced deadline. It holds no mutable shared state beyond the
// pooled HTTP client.
type Transport struct {
	endpoint   string
	httpClient *http.Client
	tokens     auth.TokenStore

	defaultTimeout time.Duration
	slowTimeout    time.Duration
	slowOps        map[string]struct{}
}

// New creates a Transport for the given endpoint. tokens supplies the bearer
// credential attached to every dispatch; it may be nil for anonymous use.
func New(cfg Config, tokens auth.TokenStore) *Transport {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig.DefaultTimeout
	}
	if cfg.SlowTimeout <= 0 {
		cfg.SlowTimeout = DefaultConfig.SlowTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	slowOps := make(map[string]struct{}, len(cfg.SlowOperations))
	for _, name := range cfg.SlowOperations {
		slowOps[name] = struct{}{}
	}

	return &Transport{
		endpoint:       cfg.Endpoint,
		httpClient:     client,
		tokens:         tokens,
		defaultTimeout: cfg.DefaultTimeout,
		slowTimeout:    cfg.SlowTimeout,
		slowOps:        slowOps,
	}
}

// DeadlineFor returns the deadline for a dispatch carrying the given
// operation names. Any slow operation in the set widens the whole call.
func (t *Transport) DeadlineFor(opNames ...string) time.Duration {
	for _, name := range opNames {
		if _, ok := t.slowOps[name]; ok {
			return t.slowTimeout
		}
	}
	return t.defaultTimeout
}

// Send posts body to the endpoint and returns the raw response bytes.
// The body is either one serialized operation object or a positional array
// of them; the response mirrors the shape. Failures are returned as *Error
// so the fault classifier can distinguish timeouts from server errors.
func (t *Transport) Send(ctx context.Context, body []byte, opNames ...string) ([]byte, error) {
	deadline := t.DeadlineFor(opNames...)
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	if t.tokens != nil {
		token, err := t.tokens.Token(ctx)
		if err != nil && !errors.Is(err, auth.ErrNoToken) {
			return nil, &Error{Kind: ErrNetwork, Err: err}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		if isTimeout(ctx, err) {
			metrics.TransportErrorsTotal.WithLabelValues("timeout").Inc()
			slog.Debug("transport timeout", "deadline", deadline, "elapsed", latency)
			return nil, &Error{Kind: ErrTimeout, Err: err}
		}
		metrics.TransportErrorsTotal.WithLabelValues("network").Inc()
		return nil, &Error{Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			metrics.TransportErrorsTotal.WithLabelValues("timeout").Inc()
			return nil, &Error{Kind: ErrTimeout, Err: err}
		}
		metrics.TransportErrorsTotal.WithLabelValues("network").Inc()
		return nil, &Error{Kind: ErrNetwork, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		metrics.TransportErrorsTotal.WithLabelValues("http_status").Inc()
		return nil, &Error{
			Kind:   ErrHTTPStatus,
			Status: resp.StatusCode,
			Body:   truncate(raw, maxErrorBody),
		}
	}

	metrics.TransportLatency.Observe(latency.Seconds())
	return raw, nil
}

// maxErrorBody bounds the response snippet retained on HTTP errors.
const maxErrorBody = 2048

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
