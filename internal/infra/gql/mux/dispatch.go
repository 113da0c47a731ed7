package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stackfolio/gqlmux/internal/infra/gql/retry"
	"github.com/stackfolio/gqlmux/internal/infra/gql/transport"
	"github.com/stackfolio/gqlmux/internal/metrics"
)

// dispatchBatch sends one physical call for the collected window and routes
// the positional results back to the individual callers. It runs off the
// owner goroutine and feeds state changes back through report.
func (m *Mux) dispatchBatch(items []*pending) {
	ops := make([]transport.Operation, len(items))
	for i, p := range items {
		ops[i] = p.op
	}

	metrics.BatchSize.Observe(float64(len(items)))
	resps, err := m.sender.SendBatch(context.Background(), ops)

	switch {
	case err == nil && len(resps) == len(items):
		for i := range items {
			r := resps[i]
			items[i].resolve(&r, nil)
		}
		metrics.BatchesTotal.WithLabelValues("success").Inc()
		m.report(outcome{ok: true, size: len(items)})

	case err == nil:
		// Never guess a mapping between mismatched arrays.
		mismatch := fmt.Errorf("%w: %d results for %d operations",
			ErrBatchMismatch, len(resps), len(items))
		slog.Error("batch response length mismatch",
			"sent", len(items), "received", len(resps))
		for _, p := range items {
			p.resolve(nil, mismatch)
		}
		metrics.BatchesTotal.WithLabelValues("mismatch").Inc()
		m.report(outcome{size: len(items)})

	default:
		m.handleBatchFailure(items, err)
	}
}

// handleBatchFailure degrades a failed batch to per-operation dispatch.
// Auth faults are the exception: the credential is already invalidated and
// re-dispatching each item would only hammer the server with the same 401.
func (m *Mux) handleBatchFailure(items []*pending, err error) {
	if retry.Classify(err) == retry.FaultAuth {
		for _, p := range items {
			p.resolve(nil, err)
		}
		metrics.BatchesTotal.WithLabelValues("auth").Inc()
		m.report(outcome{size: len(items)})
		return
	}

	unsupported := batchUnsupported(err)
	reason := "failure"
	if unsupported {
		reason = "batch_unsupported"
	}
	metrics.BatchesTotal.WithLabelValues(reason).Inc()
	slog.Warn("batch dispatch failed, falling back to individual dispatch",
		"size", len(items), "reason", reason, "error", err)

	for _, p := range items {
		metrics.FallbacksTotal.WithLabelValues(reason).Inc()
		go m.dispatchOne(p)
	}
	m.report(outcome{size: len(items), batchUnsupported: unsupported})
}

// dispatchOne sends a single operation and resolves its caller directly.
func (m *Mux) dispatchOne(p *pending) {
	resp, err := m.sender.SendOne(context.Background(), p.op)
	p.resolve(resp, err)
}

// batchUnsupported reports whether the server rejected the array body
// outright (HTTP 400/415), which means batching is not a capability of this
// endpoint rather than a transient fault.
func batchUnsupported(err error) bool {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return false
	}
	return terr.Kind == transport.ErrHTTPStatus &&
		(terr.Status == 400 || terr.Status == 415)
}
