package reconcile

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/roach88/settlewatch/internal/metrics"
	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/push"
)

// Default timings.
const (
	DefaultPollInterval   = 3 * time.Second
	DefaultDeadline       = 90 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultMaxRetries     = 5
	DefaultRetainEnded    = 1024
)

// StatusSource answers status queries for one order.
// Implemented by simulator.Source (in process) and client.Client (over HTTP).
// Unknown orders must return an error wrapping order.ErrNotFound.
type StatusSource interface {
	Fetch(ctx context.Context, orderID string) (order.Order, error)
}

// Subscriber registers push handlers for one order.
// Implemented by push.Bus.
type Subscriber interface {
	Subscribe(orderID string, h push.Handler) func()
}

// OutcomeSink persists outcomes. StoreSink adapts the SQLite store.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, o Outcome) error
}

// OutcomeSinkFunc adapts a function to OutcomeSink.
type OutcomeSinkFunc func(ctx context.Context, o Outcome) error

// RecordOutcome calls f.
func (f OutcomeSinkFunc) RecordOutcome(ctx context.Context, o Outcome) error {
	return f(ctx, o)
}

// noSubscriber is used when no push channel is wired.
type noSubscriber struct{}

func (noSubscriber) Subscribe(string, push.Handler) func() { return func() {} }

// Engine creates and tracks reconciliation sessions.
//
// Thread-safety model:
//   - Watch, Session, Sessions, OnOutcome, Close: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Engine struct {
	source     StatusSource
	subscriber Subscriber
	clock      clock.Clock
	ids        IDGenerator
	tracer     Tracer
	sink       OutcomeSink
	seq        sequence
	queue      *outcomeQueue

	pollInterval   time.Duration
	deadline       time.Duration
	requestTimeout time.Duration
	maxRetries     int
	retainEnded    int

	mu        sync.Mutex
	sessions  map[string]*Session // latest session per order id
	ended     []endedAttempt      // oldest first
	listeners []func(Outcome)
	closed    bool
}

// endedAttempt identifies one dispatched outcome for eviction.
type endedAttempt struct {
	orderID   string
	sessionID string
	attempt   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for timers and timestamps.
// Tests use clock.NewMock() to drive time explicitly.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithPollInterval sets the cadence between poll ticks.
//
// Default: 3s (DefaultPollInterval)
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.pollInterval = d
	}
}

// WithDeadline sets how long an attempt waits for a terminal status.
//
// Default: 90s (DefaultDeadline)
func WithDeadline(d time.Duration) Option {
	return func(e *Engine) {
		e.deadline = d
	}
}

// WithRequestTimeout bounds each individual poll.
//
// Default: 10s (DefaultRequestTimeout)
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.requestTimeout = d
	}
}

// WithMaxRetries sets how many consecutive poll failures pause polling.
//
// Default: 5 (DefaultMaxRetries)
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// WithRetainEnded sets how many ended sessions stay tracked for snapshots
// and retries. Older ended sessions are dropped as new outcomes dispatch.
//
// Default: 1024 (DefaultRetainEnded)
func WithRetainEnded(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.retainEnded = n
		}
	}
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithTracer receives every session trace.
func WithTracer(t Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithOutcomeSink persists outcomes from the Run loop.
func WithOutcomeSink(s OutcomeSink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// New creates an Engine polling source and listening on subscriber.
// subscriber may be nil when only polling is available.
func New(source StatusSource, subscriber Subscriber, opts ...Option) *Engine {
	if subscriber == nil {
		subscriber = noSubscriber{}
	}
	e := &Engine{
		source:         source,
		subscriber:     subscriber,
		clock:          clock.New(),
		ids:            UUIDv7Generator{},
		tracer:         logTrace,
		queue:          newOutcomeQueue(),
		pollInterval:   DefaultPollInterval,
		deadline:       DefaultDeadline,
		requestTimeout: DefaultRequestTimeout,
		maxRetries:     DefaultMaxRetries,
		retainEnded:    DefaultRetainEnded,
		sessions:       make(map[string]*Session),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Watch starts watching orderID and returns its session.
//
// If a session for the order is still watching, that session is returned
// instead of starting a second one. The session is bound to ctx: cancelling
// ctx cancels the session.
func (e *Engine) Watch(ctx context.Context, orderID string) (*Session, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if s, ok := e.sessions[orderID]; ok && s.State() == StateWatching {
		e.mu.Unlock()
		return s, nil
	}
	s := newSession(e, e.ids.Generate(), orderID)
	e.sessions[orderID] = s
	r := s.prepare(ctx)
	e.mu.Unlock()

	slog.Info("session starting", "session_id", s.id, "order_id", orderID)
	s.start(r)
	return s, nil
}

// Session returns the latest session for orderID, or nil.
func (e *Engine) Session(orderID string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[orderID]
}

// Sessions returns every tracked session.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	return out
}

// Forget closes the session for orderID and stops tracking it.
func (e *Engine) Forget(orderID string) bool {
	e.mu.Lock()
	s, ok := e.sessions[orderID]
	delete(e.sessions, orderID)
	e.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// OnOutcome registers fn to receive every outcome from the Run loop.
func (e *Engine) OnOutcome(fn func(Outcome)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Run dispatches outcomes until ctx is cancelled or the engine is closed.
//
// Each outcome goes to the OutcomeSink, then to listeners, in the order the
// sessions ended. Ended sessions beyond the retention limit are dropped
// before listeners run. Sink failures are logged and processing continues.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("reconcile engine starting")

	for {
		if o, ok := e.queue.TryDequeue(); ok {
			e.dispatch(ctx, o)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("reconcile engine stopping: context cancelled")
			return ctx.Err()

		case _, open := <-e.queue.Wait():
			if !open && e.queue.Len() == 0 {
				slog.Info("reconcile engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Close cancels every watching session and stops the Run loop once the
// resulting outcomes have been dispatched.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	e.queue.Close()
}

func (e *Engine) dispatch(ctx context.Context, o Outcome) {
	if e.sink != nil {
		if err := e.sink.RecordOutcome(ctx, o); err != nil {
			slog.Error("failed to record outcome",
				"session_id", o.SessionID,
				"order_id", o.OrderID,
				"attempt", o.Attempt,
				"state", o.State,
				"error", err,
			)
		}
	}

	e.mu.Lock()
	e.retire(o)
	listeners := slices.Clone(e.listeners)
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(o)
	}
}

// retire records o and stops tracking the oldest ended sessions beyond
// retainEnded. A session that was retried or replaced since its entry was
// recorded stays tracked. Caller holds e.mu.
func (e *Engine) retire(o Outcome) {
	e.ended = append(e.ended, endedAttempt{orderID: o.OrderID, sessionID: o.SessionID, attempt: o.Attempt})

	for len(e.ended) > e.retainEnded {
		old := e.ended[0]
		e.ended = e.ended[1:]

		s, ok := e.sessions[old.orderID]
		if !ok || s.id != old.sessionID {
			continue
		}
		if snap := s.Snapshot(); snap.State == StateWatching || snap.Attempt != old.attempt {
			continue
		}
		delete(e.sessions, old.orderID)
	}
}

// report publishes a terminal outcome. Called exactly once per attempt.
func (e *Engine) report(o Outcome) {
	metrics.SessionOutcomesTotal.WithLabelValues(string(o.State), string(o.Source)).Inc()
	metrics.ActiveSessions.Dec()

	slog.Info("session ended",
		"session_id", o.SessionID,
		"order_id", o.OrderID,
		"attempt", o.Attempt,
		"state", o.State,
		"source", o.Source,
		"status", o.Status,
	)

	if !e.queue.Enqueue(o) {
		slog.Debug("outcome dropped: engine closed", "session_id", o.SessionID, "state", o.State)
	}
}

func (e *Engine) trace(t Trace) {
	t.Seq = e.seq.Next()
	if e.tracer != nil {
		e.tracer(t)
	}
}

func logTrace(t Trace) {
	slog.Debug("session trace",
		"session_id", t.SessionID,
		"order_id", t.OrderID,
		"event", t.Kind,
		"offset", t.Offset,
		"status", t.Status,
		"retries", t.RetryCount,
	)
}
