// Package offload moves computations off a latency-sensitive loop with a bounded
// wait and a synchronous fallback.
package offload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	ErrTimeout = errors.New("offload: result not ready in time")
	ErrPanic   = errors.New("offload: computation panicked")
)

// Outcome tells how TryApply obtained its result.
type Outcome uint8

const (
	// Applied means the offloaded result arrived within the deadline.
	Applied Outcome = iota
	// Inline means the pool was saturated and the computation ran on the caller.
	Inline
	// Fallback means the deadline passed and the fallback was computed instead.
	Fallback
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Inline:
		return "inline"
	case Fallback:
		return "fallback"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Func computes a result from an immutable snapshot.
type Func[S, R any] func(ctx context.Context, snapshot S) (R, error)

// Stats counts what an Offloader has done.
type Stats struct {
	Submitted uint64
	Inline    uint64
	Abandoned uint64
	Discarded uint64
	InFlight  int64
}

// Offloader runs at most workers computations concurrently.
type Offloader[S, R any] struct {
	sem     *semaphore.Weighted
	discard func(R)

	submitted atomic.Uint64
	inline    atomic.Uint64
	abandoned atomic.Uint64
	discarded atomic.Uint64
	inflight  atomic.Int64
}

// New returns an Offloader. With workers <= 0 every computation runs inline.
// discard, if not nil, receives results that finish after their handle was abandoned.
func New[S, R any](workers int64, discard func(R)) *Offloader[S, R] {
	o := &Offloader[S, R]{discard: discard}
	if workers > 0 {
		o.sem = semaphore.NewWeighted(workers)
	}
	return o
}

// Submit starts fn on a worker. When no worker is free, fn runs on the caller and
// the returned handle is already complete.
func (o *Offloader[S, R]) Submit(ctx context.Context, snapshot S, fn Func[S, R]) *Handle[R] {
	o.submitted.Add(1)
	h := &Handle[R]{done: make(chan struct{}), o: o}

	if o.sem == nil || !o.sem.TryAcquire(1) {
		o.inline.Add(1)
		h.inline = true
		h.complete(call(ctx, snapshot, fn))
		return h
	}

	o.inflight.Add(1)
	go func() {
		defer o.sem.Release(1)
		defer o.inflight.Add(-1)
		h.complete(call(ctx, snapshot, fn))
	}()
	return h
}

// TryApply waits up to timeout for h. On timeout h is abandoned and fallback runs
// on the caller.
func (o *Offloader[S, R]) TryApply(h *Handle[R], timeout time.Duration, fallback func() (R, error)) (R, Outcome, error) {
	if h.inline {
		return h.result, Inline, h.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return h.result, Applied, h.err
	case <-timer.C:
	}

	if !h.abandon() {
		// Completed between the timer firing and the abandon.
		return h.result, Applied, h.err
	}
	o.abandoned.Add(1)

	if fallback == nil {
		var zero R
		return zero, Fallback, ErrTimeout
	}
	r, err := fallback()
	return r, Fallback, err
}

func (o *Offloader[S, R]) Stats() Stats {
	return Stats{
		Submitted: o.submitted.Load(),
		Inline:    o.inline.Load(),
		Abandoned: o.abandoned.Load(),
		Discarded: o.discarded.Load(),
		InFlight:  o.inflight.Load(),
	}
}

// Handle is a pending result.
type Handle[R any] struct {
	o interface{ drop(R) }

	done   chan struct{}
	inline bool

	mu        sync.Mutex
	finished  bool
	abandoned bool

	result R
	err    error
}

// Done is closed once the result is available. It is never closed for a handle
// that was abandoned first.
func (h *Handle[R]) Done() <-chan struct{} { return h.done }

// Wait blocks until the result is ready or ctx ends.
func (h *Handle[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

func (h *Handle[R]) complete(r R, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = true
	if h.abandoned {
		if err == nil {
			h.o.drop(r)
		}
		return
	}
	h.result, h.err = r, err
	close(h.done)
}

// abandon reports false when the handle already finished.
func (h *Handle[R]) abandon() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return false
	}
	h.abandoned = true
	return true
}

func (o *Offloader[S, R]) drop(r R) {
	o.discarded.Add(1)
	if o.discard != nil {
		o.discard(r)
	}
}

func call[S, R any](ctx context.Context, snapshot S, fn Func[S, R]) (r R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Wrapf(ErrPanic, "%v", p)
		}
	}()
	return fn(ctx, snapshot)
}

// Batch runs fn over items with at most limit concurrent calls and returns the
// results in item order. The first error cancels the remaining calls.
func Batch[S, R any](ctx context.Context, limit int, items []S, fn Func[S, R]) ([]R, error) {
	out := make([]R, len(items))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			r, err := call(ctx, item, fn)
			if err != nil {
				return errors.Wrapf(err, "batch item %d", i)
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
