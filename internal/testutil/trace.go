package testutil

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/roach88/settlewatch/internal/reconcile"
)

// DefaultWait bounds how long wait helpers block before failing the test.
const DefaultWait = 2 * time.Second

// TraceRecorder collects engine traces and lets tests wait for them.
//
// Record is the reconcile.Tracer. Every trace is kept for Traces and also
// queued for the Wait helpers, which consume the queue in order.
type TraceRecorder struct {
	mu     sync.Mutex
	traces []reconcile.Trace
	queue  chan reconcile.Trace
}

// NewTraceRecorder creates an empty recorder.
func NewTraceRecorder() *TraceRecorder {
	return &TraceRecorder{queue: make(chan reconcile.Trace, 4096)}
}

// Record stores t. Safe for concurrent use.
func (r *TraceRecorder) Record(t reconcile.Trace) {
	r.mu.Lock()
	r.traces = append(r.traces, t)
	r.mu.Unlock()

	select {
	case r.queue <- t:
	default:
	}
}

// Traces returns every recorded trace in sequence order.
func (r *TraceRecorder) Traces() []reconcile.Trace {
	r.mu.Lock()
	out := append([]reconcile.Trace(nil), r.traces...)
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b reconcile.Trace) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Kinds returns the kinds of every recorded trace in sequence order.
func (r *TraceRecorder) Kinds() []reconcile.TraceKind {
	traces := r.Traces()
	kinds := make([]reconcile.TraceKind, len(traces))
	for i, t := range traces {
		kinds[i] = t.Kind
	}
	return kinds
}

// Count returns how many traces of kind were recorded.
func (r *TraceRecorder) Count(kind reconcile.TraceKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.traces {
		if t.Kind == kind {
			n++
		}
	}
	return n
}

// WaitFor consumes queued traces until one matches a kind in kinds and
// returns it. Fails the test after DefaultWait.
func (r *TraceRecorder) WaitFor(t testing.TB, kinds ...reconcile.TraceKind) reconcile.Trace {
	t.Helper()
	tr, ok := r.Next(DefaultWait, kinds...)
	if !ok {
		t.Fatalf("timed out waiting for trace %v; recorded %v", kinds, r.Kinds())
	}
	return tr
}

// Next is WaitFor without a test: it reports false on timeout.
func (r *TraceRecorder) Next(timeout time.Duration, kinds ...reconcile.TraceKind) (reconcile.Trace, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case tr := <-r.queue:
			if slices.Contains(kinds, tr.Kind) {
				return tr, true
			}
		case <-deadline.C:
			return reconcile.Trace{}, false
		}
	}
}

// PollSettled lists the trace kinds that end a poll.
var PollSettled = []reconcile.TraceKind{
	reconcile.TracePollSucceeded,
	reconcile.TracePollFailed,
	reconcile.TraceFinalized,
	reconcile.TraceAborted,
}
