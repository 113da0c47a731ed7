// Package mux implements the request multiplexer: it coalesces concurrent
// query operations into positional batch calls, demultiplexes the response
// array back to individual callers, and degrades to per-operation dispatch
// when the server rejects batches or batches keep failing.
//
// One goroutine owns the batch window and the resilience state exclusively;
// call sites reach it only through a channel inbox, so no locking is needed
// around the adaptive interval, the failure counter or the batching latch.
package mux

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/stackfolio/gqlmux/internal/infra/gql/transport"
	"github.com/stackfolio/gqlmux/internal/metrics"
)

// ErrBatchMismatch is returned to every operation of a batch whose response
// array length does not match the request array. The layer never guesses a
// mapping.
var ErrBatchMismatch = errors.New("batch response length mismatch")

// ErrClosed is returned for operations submitted after Close.
var ErrClosed = errors.New("multiplexer closed")

// Sender dispatches serialized operations through the retry controller and
// transport. Implementations must preserve positional order in SendBatch:
// response[i] corresponds to ops[i].
type Sender interface {
	SendBatch(ctx context.Context, ops []transport.Operation) ([]transport.Response, error)
	SendOne(ctx context.Context, op transport.Operation) (*transport.Response, error)
}

// Config holds multiplexer settings.
type Config struct {
	// MaxBatchSize flushes the window immediately once reached.
	MaxBatchSize int

	// BaseInterval is the initial adaptive flush interval.
	BaseInterval time.Duration

	// MinInterval and MaxInterval bound the adaptive interval.
	MinInterval time.Duration
	MaxInterval time.Duration

	// MaxFailures consecutive batch failures trip the batching latch.
	MaxFailures int
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxBatchSize: 10,
	BaseInterval: 10 * time.Millisecond,
	MinInterval:  5 * time.Millisecond,
	MaxInterval:  50 * time.Millisecond,
	MaxFailures:  3,
}

// growFillRatio is the window fill ratio at or above which the interval
// widens after a successful flush; shrinkFill is the size at or below which
// it narrows.
const (
	growFillRatio = 0.8
	shrinkFill    = 2
)

// Stats is a snapshot of the resilience state, taken on the owner goroutine.
type Stats struct {
	BatchingEnabled     bool
	Interval            time.Duration
	ConsecutiveFailures int
	Enqueued            uint64
	Flushes             uint64
}

type result struct {
	resp *transport.Response
	err  error
}

// pending is one query waiting in the batch window. Its completion channel
// is resolved exactly once; the sync.Once makes double resolution impossible
// and the buffer makes resolution non-blocking when the caller went away.
type pending struct {
	op         transport.Operation
	done       chan result
	once       sync.Once
	enqueuedAt time.Time
}

func newPending(op transport.Operation) *pending {
	return &pending{
		op:         op,
		done:       make(chan result, 1),
		enqueuedAt: time.Now(),
	}
}

func (p *pending) resolve(resp *transport.Response, err error) {
	p.once.Do(func() {
		p.done <- result{resp: resp, err: err}
	})
}

// outcome reports a finished batch dispatch back to the owner goroutine,
// which alone mutates the resilience state.
type outcome struct {
	ok               bool
	size             int
	batchUnsupported bool
}

// Mux owns the queue of pending query operations.
type Mux struct {
	cfg    Config
	sender Sender

	inbox    chan *pending
	outcomes chan outcome
	statsReq chan chan Stats
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}

	// owner-goroutine state; never touched outside run()
	window   []*pending
	timer    *time.Timer
	timerC   <-chan time.Time
	interval time.Duration
	batching bool
	failures int
	enqueued uint64
	flushes  uint64
}

// New creates a multiplexer and starts its owner goroutine.
func New(cfg Config, sender Sender) *Mux {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig.MaxBatchSize
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultConfig.BaseInterval
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultConfig.MinInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultConfig.MaxInterval
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig.MaxFailures
	}

	m := &Mux{
		cfg:      cfg,
		sender:   sender,
		inbox:    make(chan *pending),
		outcomes: make(chan outcome),
		statsReq: make(chan chan Stats),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
		interval: cfg.BaseInterval,
		batching: true,
	}
	go m.run()
	return m
}

// Enqueue submits a query operation and blocks until it resolves. A caller
// that abandons interest cancels its own wait via ctx; the operation itself
// still resolves into its buffered completion channel, since mid-flight
// removal from a shared batch would renumber the positional array.
func (m *Mux) Enqueue(ctx context.Context, op transport.Operation) (*transport.Response, error) {
	p := newPending(op)

	select {
	case m.inbox <- p:
	case <-m.stop:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns a snapshot of the resilience state.
func (m *Mux) Stats() Stats {
	ch := make(chan Stats, 1)
	select {
	case m.statsReq <- ch:
		return <-ch
	case <-m.loopDone:
		return Stats{}
	}
}

// Close flushes the current window and stops the owner goroutine. In-flight
// dispatches still resolve their callers.
func (m *Mux) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.loopDone
}

func (m *Mux) run() {
	defer close(m.loopDone)

	for {
		select {
		case p := <-m.inbox:
			m.admit(p)

		case <-m.timerC:
			m.timerC = nil
			m.timer = nil
			m.flush()

		case o := <-m.outcomes:
			m.apply(o)

		case ch := <-m.statsReq:
			ch <- m.snapshot()

		case <-m.stop:
			m.drain()
			return
		}
	}
}

// admit routes an incoming query: with batching disabled it dispatches
// alone, otherwise it joins the window.
func (m *Mux) admit(p *pending) {
	m.enqueued++

	if !m.batching {
		go m.dispatchOne(p)
		return
	}

	m.window = append(m.window, p)
	if len(m.window) >= m.cfg.MaxBatchSize {
		m.flush()
		return
	}
	if m.timerC == nil {
		m.timer = time.NewTimer(m.interval)
		m.timerC = m.timer.C
	}
}

// flush replaces the window with a fresh empty one before dispatching, so
// new enqueues never land in an in-flight batch.
func (m *Mux) flush() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
		m.timerC = nil
	}

	items := m.window
	m.window = nil
	if len(items) == 0 {
		return
	}

	m.flushes++
	go m.dispatchBatch(items)
}

// drain collects racing enqueues and flushes one final window on shutdown
// so no pending request is left unresolved.
func (m *Mux) drain() {
	for {
		select {
		case p := <-m.inbox:
			m.window = append(m.window, p)
		default:
			m.flush()
			return
		}
	}
}

func (m *Mux) apply(o outcome) {
	if o.ok {
		m.failures = 0
		m.adjustInterval(o.size)
		return
	}

	if o.batchUnsupported {
		// Capability discovery, not a reliability failure: the server
		// does not accept array bodies. Stop batching for good.
		if m.batching {
			slog.Warn("server does not support batched operations, disabling batching")
		}
		m.batching = false
		m.failures = 0
		return
	}

	m.failures++
	if m.failures >= m.cfg.MaxFailures && m.batching {
		slog.Warn("disabling batching after consecutive batch failures",
			"failures", m.failures)
		m.batching = false
	}
}

// adjustInterval adapts the flush interval to observed batch fill: nearly
// full windows widen it to capture more, tiny windows shrink it to cut
// latency. Updated only on successful flushes.
func (m *Mux) adjustInterval(size int) {
	switch {
	case float64(size) >= growFillRatio*float64(m.cfg.MaxBatchSize):
		m.interval = min(m.interval*3/2, m.cfg.MaxInterval)
	case size <= shrinkFill:
		m.interval = max(m.interval/2, m.cfg.MinInterval)
	}
	metrics.BatchInterval.Set(m.interval.Seconds())
}

func (m *Mux) snapshot() Stats {
	return Stats{
		BatchingEnabled:     m.batching,
		Interval:            m.interval,
		ConsecutiveFailures: m.failures,
		Enqueued:            m.enqueued,
		Flushes:             m.flushes,
	}
}

// report delivers an outcome to the owner goroutine unless it already
// exited.
func (m *Mux) report(o outcome) {
	select {
	case m.outcomes <- o:
	case <-m.loopDone:
	}
}
