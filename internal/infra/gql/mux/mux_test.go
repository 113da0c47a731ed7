package mux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stackfolio/gqlmux/internal/infra/gql/retry"
	"github.com/stackfolio/gqlmux/internal/infra/gql/transport"
)

// fakeSender records dispatches and lets each test script outcomes.
type fakeSender struct {
	mu      sync.Mutex
	batches [][]transport.Operation
	singles []transport.Operation
	batchFn func(ops []transport.Operation) ([]transport.Response, error)
	oneFn   func(op transport.Operation) (*transport.Response, error)
}

func echo(op transport.Operation) transport.Response {
	return transport.Response{Data: json.RawMessage(fmt.Sprintf(`{"echo":%q}`, op.ID))}
}

func (s *fakeSender) SendBatch(ctx context.Context, ops []transport.Operation) ([]transport.Response, error) {
	s.mu.Lock()
	s.batches = append(s.batches, ops)
	fn := s.batchFn
	s.mu.Unlock()

	if fn != nil {
		return fn(ops)
	}
	resps := make([]transport.Response, len(ops))
	for i, op := range ops {
		resps[i] = echo(op)
	}
	return resps, nil
}

func (s *fakeSender) SendOne(ctx context.Context, op transport.Operation) (*transport.Response, error) {
	s.mu.Lock()
	s.singles = append(s.singles, op)
	fn := s.oneFn
	s.mu.Unlock()

	if fn != nil {
		return fn(op)
	}
	r := echo(op)
	return &r, nil
}

func (s *fakeSender) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *fakeSender) singleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.singles)
}

func queryOp(id string) transport.Operation {
	return transport.Operation{ID: id, Kind: transport.KindQuery, Document: "query { ping }"}
}

// waitStats polls until cond holds or the deadline passes.
func waitStats(t *testing.T, m *Mux, cond func(Stats) bool) Stats {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := m.Stats()
		if cond(s) {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not reached, stats: %+v", m.Stats())
	return Stats{}
}

func TestBatchWindowResolvesEachCallerPositionally(t *testing.T) {
	sender := &fakeSender{}
	m := New(Config{MaxBatchSize: 10, BaseInterval: 20 * time.Millisecond}, sender)
	defer m.Close()

	var wg sync.WaitGroup
	results := make(map[string]*transport.Response)
	var mu sync.Mutex

	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			resp, err := m.Enqueue(context.Background(), queryOp(id))
			if err != nil {
				t.Errorf("Enqueue(%s) failed: %v", id, err)
				return
			}
			mu.Lock()
			results[id] = resp
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	if got := sender.batchCount(); got != 1 {
		t.Fatalf("batch calls = %d, want 1", got)
	}
	if got := len(sender.batches[0]); got != 3 {
		t.Fatalf("batch size = %d, want 3", got)
	}
	for id, resp := range results {
		want := fmt.Sprintf(`{"echo":%q}`, id)
		if string(resp.Data) != want {
			t.Errorf("caller %s got %s, want %s", id, resp.Data, want)
		}
	}
}

func TestFullWindowFlushesImmediately(t *testing.T) {
	sender := &fakeSender{}
	m := New(Config{
		MaxBatchSize: 2,
		BaseInterval: time.Hour,
		MinInterval:  time.Millisecond,
		MaxInterval:  2 * time.Hour,
	}, sender)
	defer m.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if _, err := m.Enqueue(context.Background(), queryOp(fmt.Sprintf("op-%d", i))); err != nil {
					t.Errorf("Enqueue failed: %v", err)
				}
			}(i)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("full window did not flush before the timer")
	}
	if got := sender.batchCount(); got != 1 {
		t.Errorf("batch calls = %d, want 1", got)
	}
}

func TestLengthMismatchRejectsWholeBatch(t *testing.T) {
	sender := &fakeSender{
		batchFn: func(ops []transport.Operation) ([]transport.Response, error) {
			return []transport.Response{echo(ops[0])}, nil
		},
	}
	m := New(Config{MaxBatchSize: 2, BaseInterval: 5 * time.Millisecond}, sender)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Enqueue(context.Background(), queryOp(fmt.Sprintf("op-%d", i)))
			if !errors.Is(err, ErrBatchMismatch) {
				t.Errorf("Enqueue error = %v, want ErrBatchMismatch", err)
			}
		}(i)
	}
	wg.Wait()

	if got := sender.singleCount(); got != 0 {
		t.Errorf("singles = %d, want 0 (never guess a mapping)", got)
	}
}

func TestBatchUnsupportedFallsBackAndDisablesBatching(t *testing.T) {
	sender := &fakeSender{
		batchFn: func(ops []transport.Operation) ([]transport.Response, error) {
			return nil, &transport.Error{Kind: transport.ErrHTTPStatus, Status: 400, Body: []byte("batch not allowed")}
		},
	}
	m := New(Config{MaxBatchSize: 10, BaseInterval: 5 * time.Millisecond}, sender)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := m.Enqueue(context.Background(), queryOp(fmt.Sprintf("op-%d", i)))
			if err != nil {
				t.Errorf("fallback dispatch failed: %v", err)
				return
			}
			if resp == nil {
				t.Error("fallback returned nil response")
			}
		}(i)
	}
	wg.Wait()

	if got := sender.singleCount(); got != 2 {
		t.Errorf("singles = %d, want 2 (each item resubmitted individually)", got)
	}

	// Capability discovery: latch open, failure counter untouched.
	stats := waitStats(t, m, func(s Stats) bool { return !s.BatchingEnabled })
	if stats.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0 after capability discovery", stats.ConsecutiveFailures)
	}

	// Subsequent operations go out alone, never through a batch.
	if _, err := m.Enqueue(context.Background(), queryOp("after")); err != nil {
		t.Fatalf("individual dispatch failed: %v", err)
	}
	if got := sender.batchCount(); got != 1 {
		t.Errorf("batch calls = %d, want 1 (batching stays disabled)", got)
	}
}

func TestConsecutiveFailuresTripCircuitBreaker(t *testing.T) {
	sender := &fakeSender{
		batchFn: func(ops []transport.Operation) ([]transport.Response, error) {
			return nil, &transport.Error{Kind: transport.ErrHTTPStatus, Status: 502}
		},
	}
	m := New(Config{MaxBatchSize: 10, BaseInterval: 5 * time.Millisecond, MaxFailures: 3}, sender)
	defer m.Close()

	for i := 0; i < 3; i++ {
		if _, err := m.Enqueue(context.Background(), queryOp(fmt.Sprintf("op-%d", i))); err != nil {
			t.Fatalf("fallback dispatch %d failed: %v", i, err)
		}
	}

	waitStats(t, m, func(s Stats) bool { return !s.BatchingEnabled })

	before := sender.batchCount()
	if _, err := m.Enqueue(context.Background(), queryOp("after")); err != nil {
		t.Fatalf("individual dispatch failed: %v", err)
	}
	if got := sender.batchCount(); got != before {
		t.Errorf("batch calls grew from %d to %d after circuit opened", before, got)
	}
}

func TestAuthFailureRejectsBatchWithoutFallback(t *testing.T) {
	sender := &fakeSender{
		batchFn: func(ops []transport.Operation) ([]transport.Response, error) {
			return nil, &retry.AuthError{Err: &transport.Error{Kind: transport.ErrHTTPStatus, Status: 401}}
		},
	}
	m := New(Config{MaxBatchSize: 2, BaseInterval: 5 * time.Millisecond}, sender)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Enqueue(context.Background(), queryOp(fmt.Sprintf("op-%d", i)))
			var authErr *retry.AuthError
			if !errors.As(err, &authErr) {
				t.Errorf("Enqueue error = %v, want *retry.AuthError", err)
			}
		}(i)
	}
	wg.Wait()

	if got := sender.singleCount(); got != 0 {
		t.Errorf("singles = %d, want 0 (auth fault must not re-dispatch)", got)
	}
}

// TestResilienceStateTransitions drives the owner-state methods directly;
// no goroutine is started, so the assertions are deterministic.
func TestResilienceStateTransitions(t *testing.T) {
	newOwner := func() *Mux {
		return &Mux{
			cfg: Config{
				MaxBatchSize: 10,
				BaseInterval: 10 * time.Millisecond,
				MinInterval:  5 * time.Millisecond,
				MaxInterval:  50 * time.Millisecond,
				MaxFailures:  3,
			},
			interval: 10 * time.Millisecond,
			batching: true,
		}
	}

	t.Run("nearly full batches widen the interval up to the cap", func(t *testing.T) {
		m := newOwner()
		for i := 0; i < 20; i++ {
			m.apply(outcome{ok: true, size: 8})
			if m.interval > 50*time.Millisecond {
				t.Fatalf("interval %v exceeded 50ms cap", m.interval)
			}
		}
		if m.interval != 50*time.Millisecond {
			t.Errorf("interval = %v, want 50ms", m.interval)
		}
	})

	t.Run("tiny batches shrink the interval down to the floor", func(t *testing.T) {
		m := newOwner()
		for i := 0; i < 20; i++ {
			m.apply(outcome{ok: true, size: 1})
			if m.interval < 5*time.Millisecond {
				t.Fatalf("interval %v dropped below 5ms floor", m.interval)
			}
		}
		if m.interval != 5*time.Millisecond {
			t.Errorf("interval = %v, want 5ms", m.interval)
		}
	})

	t.Run("mid-fill batches leave the interval unchanged", func(t *testing.T) {
		m := newOwner()
		m.apply(outcome{ok: true, size: 5})
		if m.interval != 10*time.Millisecond {
			t.Errorf("interval = %v, want unchanged 10ms", m.interval)
		}
	})

	t.Run("success resets the failure counter", func(t *testing.T) {
		m := newOwner()
		m.apply(outcome{size: 3})
		m.apply(outcome{size: 3})
		if m.failures != 2 {
			t.Fatalf("failures = %d, want 2", m.failures)
		}
		m.apply(outcome{ok: true, size: 3})
		if m.failures != 0 {
			t.Errorf("failures = %d, want 0 after success", m.failures)
		}
		if !m.batching {
			t.Error("batching disabled below the failure threshold")
		}
	})

	t.Run("the latch never closes again once tripped", func(t *testing.T) {
		m := newOwner()
		for i := 0; i < 3; i++ {
			m.apply(outcome{size: 3})
		}
		if m.batching {
			t.Fatal("batching still enabled after max failures")
		}
		m.apply(outcome{ok: true, size: 3})
		if m.batching {
			t.Error("latch reopened after a success")
		}
	})
}

func TestNoDoubleResolutionAcrossRandomizedInterleavings(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping randomized interleaving test in short mode")
	}

	var resolved atomic.Int64
	const iterations = 1000
	const opsPerIteration = 4

	for i := 0; i < iterations; i++ {
		sender := &fakeSender{
			batchFn: func(ops []transport.Operation) ([]transport.Response, error) {
				switch rand.Intn(5) {
				case 0:
					return nil, &transport.Error{Kind: transport.ErrHTTPStatus, Status: 400}
				case 1:
					return nil, &transport.Error{Kind: transport.ErrTimeout}
				case 2:
					return []transport.Response{}, nil // length mismatch
				case 3:
					return nil, &retry.AuthError{Err: &transport.Error{Kind: transport.ErrHTTPStatus, Status: 401}}
				default:
					resps := make([]transport.Response, len(ops))
					for i, op := range ops {
						resps[i] = echo(op)
					}
					return resps, nil
				}
			},
			oneFn: func(op transport.Operation) (*transport.Response, error) {
				if rand.Intn(2) == 0 {
					return nil, &transport.Error{Kind: transport.ErrHTTPStatus, Status: 404}
				}
				r := echo(op)
				return &r, nil
			},
		}

		m := New(Config{
			MaxBatchSize: opsPerIteration,
			BaseInterval: time.Millisecond,
			MinInterval:  time.Millisecond,
			MaxInterval:  5 * time.Millisecond,
		}, sender)

		var wg sync.WaitGroup
		for j := 0; j < opsPerIteration; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, _ = m.Enqueue(context.Background(), queryOp(fmt.Sprintf("op-%d-%d", i, j)))
				resolved.Add(1)
			}(j)
		}

		waited := make(chan struct{})
		go func() {
			wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: callers left pending", i)
		}
		m.Close()
	}

	if got := resolved.Load(); got != iterations*opsPerIteration {
		t.Errorf("resolutions = %d, want %d", got, iterations*opsPerIteration)
	}
}

func TestCloseFlushesPendingWindow(t *testing.T) {
	sender := &fakeSender{}
	m := New(Config{
		MaxBatchSize: 10,
		BaseInterval: time.Hour,
		MinInterval:  time.Millisecond,
		MaxInterval:  2 * time.Hour,
	}, sender)

	done := make(chan error, 1)
	go func() {
		_, err := m.Enqueue(context.Background(), queryOp("pending"))
		done <- err
	}()

	// Let the operation land in the window before shutting down.
	waitStats(t, m, func(s Stats) bool { return s.Enqueued == 1 })
	m.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("pending operation rejected on close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending operation never resolved after Close")
	}

	if _, err := m.Enqueue(context.Background(), queryOp("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
}
