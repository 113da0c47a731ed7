package gql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stackfolio/gqlmux/internal/auth"
	"github.com/stackfolio/gqlmux/internal/infra/gql/mux"
	"github.com/stackfolio/gqlmux/internal/infra/gql/retry"
	"github.com/stackfolio/gqlmux/internal/infra/gql/transport"
	"github.com/stackfolio/gqlmux/internal/metrics"
)

// Config holds client settings.
type Config struct {
	// Endpoint is the single GraphQL HTTP POST URL.
	Endpoint string

	// Tokens supplies the bearer credential; nil disables authentication.
	Tokens auth.TokenStore

	// Transport, Retry and Batch override component defaults. Endpoint
	// takes precedence over Transport.Endpoint.
	Transport transport.Config
	Retry     retry.Config
	Batch     mux.Config

	// DisableBatching forces individual dispatch for every operation.
	DisableBatching bool
}

// Client is the high-level interface for submitting GraphQL operations.
// This is what application layers should use.
type Client struct {
	transport *transport.Transport
	retryCfg  retry.Config
	tokens    auth.TokenStore
	mux       *mux.Mux
	batching  bool
}

// NewClient creates a client and starts its multiplexer.
func NewClient(cfg Config) *Client {
	tcfg := cfg.Transport
	if cfg.Endpoint != "" {
		tcfg.Endpoint = cfg.Endpoint
	}
	if tcfg.SlowOperations == nil {
		tcfg.SlowOperations = transport.DefaultConfig.SlowOperations
	}

	c := &Client{
		transport: transport.New(tcfg, cfg.Tokens),
		retryCfg:  cfg.Retry,
		tokens:    cfg.Tokens,
		batching:  !cfg.DisableBatching,
	}
	if c.batching {
		c.mux = mux.New(cfg.Batch, (*muxSender)(c))
	}
	return c
}

// Do submits an operation and blocks until it resolves. Queries travel
// through the multiplexer; mutations bypass the queue so they are never
// coalesced or reordered relative to each other.
func (c *Client) Do(ctx context.Context, op Operation) (*Response, error) {
	metrics.OperationsTotal.WithLabelValues(op.Kind.String()).Inc()

	if op.Kind == KindMutation || !c.batching {
		return c.sendOne(ctx, op)
	}
	return c.mux.Enqueue(ctx, op)
}

// Stats returns a snapshot of the multiplexer's resilience state.
func (c *Client) Stats() Stats {
	if c.mux == nil {
		return Stats{}
	}
	return c.mux.Stats()
}

// Close flushes any pending window and stops the multiplexer.
func (c *Client) Close() {
	if c.mux != nil {
		c.mux.Close()
	}
}

// sendOne dispatches a single operation object through retry and transport.
func (c *Client) sendOne(ctx context.Context, op Operation) (*Response, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal operation: %w", err)
	}

	cfg := c.retryCfg
	if op.Kind == KindMutation {
		cfg.IdempotentOnly = true
	}

	raw, err := retry.Do(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		return c.transport.Send(ctx, body, op.OperationName)
	})
	if err != nil {
		return nil, c.faulted(ctx, err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		metrics.TransportErrorsTotal.WithLabelValues("decode").Inc()
		return nil, &transport.Error{Kind: transport.ErrDecode, Err: err}
	}

	c.sweepAuthErrors(ctx, resp.Errors)
	return &resp, nil
}

// sendBatch dispatches a positional array body for the multiplexer.
func (c *Client) sendBatch(ctx context.Context, ops []Operation) ([]Response, error) {
	body, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.OperationName
	}

	raw, err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) ([]byte, error) {
		return c.transport.Send(ctx, body, names...)
	})
	if err != nil {
		return nil, c.faulted(ctx, err)
	}

	var resps []Response
	if err := json.Unmarshal(raw, &resps); err != nil {
		metrics.TransportErrorsTotal.WithLabelValues("decode").Inc()
		return nil, &transport.Error{Kind: transport.ErrDecode, Err: err}
	}

	for i := range resps {
		c.sweepAuthErrors(ctx, resps[i].Errors)
	}
	return resps, nil
}

// faulted invalidates the stored credential exactly once per failed
// dispatch when the failure classifies as an auth fault, then surfaces it
// as an AuthError for the caller's re-login flow.
func (c *Client) faulted(ctx context.Context, err error) error {
	var authErr *retry.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	if retry.Classify(err) != retry.FaultAuth {
		return err
	}

	c.invalidateToken(ctx)
	return &retry.AuthError{Err: err}
}

// sweepAuthErrors handles the 200-with-auth-error case: the payload still
// flows through to the caller untouched, but an expired credential is
// removed so the auth subsystem can force re-login.
func (c *Client) sweepAuthErrors(ctx context.Context, errs []ResponseError) {
	for _, e := range errs {
		if retry.IsAuthMessage(e.Message) {
			c.invalidateToken(ctx)
			return
		}
	}
}

func (c *Client) invalidateToken(ctx context.Context) {
	if c.tokens == nil {
		return
	}
	if err := c.tokens.Remove(ctx); err != nil {
		slog.Error("failed to remove invalid credential", "error", err)
		return
	}
	metrics.AuthInvalidationsTotal.Inc()
	slog.Warn("credential invalidated after auth fault")
}

// muxSender adapts Client to the multiplexer's Sender interface without
// exporting the dispatch methods.
type muxSender Client

func (s *muxSender) SendBatch(ctx context.Context, ops []transport.Operation) ([]transport.Response, error) {
	return (*Client)(s).sendBatch(ctx, ops)
}

func (s *muxSender) SendOne(ctx context.Context, op transport.Operation) (*transport.Response, error) {
	return (*Client)(s).sendOne(ctx, op)
}
