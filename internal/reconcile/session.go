package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"

	"github.com/roach88/settlewatch/internal/metrics"
	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/push"
)

// Session is the reconciliation state for one order.
//
// A session runs one attempt at a time. Retry replaces a timed-out attempt
// with a fresh one; the session id stays the same and Attempt increases.
//
// Ownership:
//   - the attempt's loop goroutine owns RetryCount and LastPollTime
//   - the push handler owns push-derived status and PushActive
//   - the attempt's finalized flag is the only state both sides race on
//
// mu protects the snapshot fields so callers can read them at any time.
type Session struct {
	engine  *Engine
	id      string
	orderID string

	mu            sync.Mutex
	run           *run
	attempt       int
	state         State
	lastStatus    order.Status
	retryCount    int
	pollingActive bool
	pushActive    bool
	lastPollTime  time.Time
	startedAt     time.Time
	deadline      time.Time
	lastErr       error
	outcome       *Outcome
}

// run is one attempt of a session.
type run struct {
	n         int
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
	deadline  time.Time

	// finalized is set exactly once, by compare-and-set, on every terminal path.
	finalized atomic.Bool
	outcome   Outcome       // written before done is closed
	done      chan struct{} // closed when the attempt ends

	ticks   chan time.Time
	expired chan struct{}
	refresh chan struct{}

	mu            sync.Mutex // guards the fields below
	stopped       bool
	deadlineTimer *clock.Timer
	pacer         *clock.Timer
	unsubscribe   func()
}

// poll is one in-flight status request.
type poll struct {
	at     time.Time
	result chan pollResult
	cancel context.CancelCauseFunc
	timer  *clock.Timer
}

type pollResult struct {
	order order.Order
	err   error
}

func newSession(e *Engine, id, orderID string) *Session {
	return &Session{engine: e, id: id, orderID: orderID}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// OrderID returns the watched order id.
func (s *Session) OrderID() string { return s.orderID }

// State returns the state of the current attempt.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session's observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:     s.id,
		OrderID:       s.orderID,
		Attempt:       s.attempt,
		State:         s.state,
		LastStatus:    s.lastStatus,
		RetryCount:    s.retryCount,
		PollingActive: s.pollingActive,
		PushActive:    s.pushActive,
		StartedAt:     s.startedAt,
		Deadline:      s.deadline,
		CanRetry:      s.state == StateTimedOut,
	}
	if !s.lastPollTime.IsZero() {
		t := s.lastPollTime
		snap.LastPollTime = &t
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
		snap.Retryable = true
	}
	if s.outcome != nil {
		o := *s.outcome
		snap.Outcome = &o
	}
	return snap
}

// Done returns a channel closed when the current attempt ends.
func (s *Session) Done() <-chan struct{} {
	return s.current().done
}

// Outcome returns the outcome of the current attempt, if it has ended.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return Outcome{}, false
	}
	return *s.outcome, true
}

// Wait blocks until the current attempt ends or ctx is done.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	r := s.current()
	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Refresh requests an immediate poll and resumes polling if it was paused.
// Returns false if the attempt has already ended.
func (s *Session) Refresh() bool {
	r := s.current()
	if r.finalized.Load() {
		return false
	}
	select {
	case r.refresh <- struct{}{}:
	default:
	}
	return true
}

// Retry starts a fresh attempt after a timeout.
//
// The new attempt has RetryCount 0, a new deadline and no cached status.
// Any other state returns ErrRetryNotAllowed. The new attempt is bound to ctx.
func (s *Session) Retry(ctx context.Context) error {
	if s.engine.isClosed() {
		return ErrEngineClosed
	}

	s.mu.Lock()
	if s.state != StateTimedOut {
		s.mu.Unlock()
		return ErrRetryNotAllowed
	}
	r := s.prepareLocked(ctx)
	s.mu.Unlock()

	slog.Info("session retrying", "session_id", s.id, "order_id", s.orderID, "attempt", r.n)
	s.start(r)
	return nil
}

// Close cancels the current attempt. Polling stops, the push subscription is
// released and any in-flight poll is cancelled; its result is discarded.
// Close after the attempt has ended is a no-op.
func (s *Session) Close() {
	s.end(s.current(), Outcome{State: StateCancelled, At: s.engine.clock.Now()})
}

func (s *Session) current() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

func (s *Session) prepare(parent context.Context) *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepareLocked(parent)
}

// prepareLocked resets the session for a new attempt. Caller holds s.mu.
func (s *Session) prepareLocked(parent context.Context) *run {
	now := s.engine.clock.Now()
	ctx, cancel := context.WithCancel(parent)

	s.attempt++
	r := &run{
		n:         s.attempt,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: now,
		deadline:  now.Add(s.engine.deadline),
		done:      make(chan struct{}),
		ticks:     make(chan time.Time, 1),
		expired:   make(chan struct{}, 1),
		refresh:   make(chan struct{}, 1),
	}

	s.run = r
	s.state = StateWatching
	s.lastStatus = ""
	s.retryCount = 0
	s.pollingActive = true
	s.pushActive = false
	s.lastPollTime = time.Time{}
	s.startedAt = now
	s.deadline = r.deadline
	s.lastErr = nil
	s.outcome = nil
	return r
}

// start arms the attempt's timers, subscribes to pushes and launches the loop.
func (s *Session) start(r *run) {
	e := s.engine
	metrics.ActiveSessions.Inc()

	deadline := e.clock.AfterFunc(r.deadline.Sub(e.clock.Now()), func() {
		select {
		case r.expired <- struct{}{}:
		default:
		}
	})
	if !r.setDeadlineTimer(deadline) {
		deadline.Stop()
	}
	s.armTick(r, r.startedAt.Add(e.pollInterval))

	unsub := e.subscriber.Subscribe(s.orderID, func(ev push.Event) {
		s.onPush(r, ev)
	})
	if !r.setUnsubscribe(unsub) {
		unsub()
	}

	go s.loop(r)
}

// armTick schedules the poll tick at the absolute time at.
// Ticks are never scheduled at or after the deadline, so the deadline is the
// only timer that can fire at that instant.
func (s *Session) armTick(r *run, at time.Time) {
	e := s.engine
	if !at.Before(r.deadline) {
		return
	}

	t := e.clock.AfterFunc(at.Sub(e.clock.Now()), func() {
		select {
		case r.ticks <- at:
		default:
		}
		s.armTick(r, at.Add(e.pollInterval))
	})
	if !r.setPacer(t) {
		t.Stop()
	}
}

// loop owns polling for one attempt.
func (s *Session) loop(r *run) {
	e := s.engine

	var inflight *poll
	defer func() {
		if inflight != nil {
			inflight.release()
		}
	}()

	inflight = s.startPoll(r, r.startedAt)

	for {
		var results <-chan pollResult
		if inflight != nil {
			results = inflight.result
		}

		select {
		case <-r.ctx.Done():
			s.end(r, Outcome{State: StateCancelled, At: e.clock.Now()})
			return

		case <-r.expired:
			s.timeout(r)
			return

		case at := <-r.ticks:
			if r.expiredNow() {
				s.timeout(r)
				return
			}
			if inflight == nil && s.isPolling() {
				inflight = s.startPoll(r, at)
			}

		case <-r.refresh:
			if r.expiredNow() {
				s.timeout(r)
				return
			}
			s.resume(r)
			if inflight == nil {
				inflight = s.startPoll(r, e.clock.Now())
			}

		case res := <-results:
			p := inflight
			p.release()
			inflight = nil
			if r.expiredNow() {
				s.timeout(r)
				return
			}
			if s.applyPoll(r, p, res) {
				return
			}
		}
	}
}

// startPoll issues one status request with its own timeout.
// The result channel receives exactly one value: the response or the timeout,
// whichever comes first.
func (s *Session) startPoll(r *run, at time.Time) *poll {
	e := s.engine
	pctx, cancel := context.WithCancelCause(r.ctx)
	p := &poll{at: at, result: make(chan pollResult, 1), cancel: cancel}
	p.timer = e.clock.AfterFunc(e.requestTimeout, func() {
		cancel(ErrRequestTimeout)
		p.deliver(pollResult{err: ErrRequestTimeout})
	})

	s.mu.Lock()
	s.lastPollTime = at
	s.mu.Unlock()

	metrics.PollsTotal.Inc()
	s.emit(r, Trace{Kind: TracePollStarted, At: at})

	go func() {
		o, err := e.source.Fetch(pctx, s.orderID)
		if err != nil && errors.Is(context.Cause(pctx), ErrRequestTimeout) {
			err = ErrRequestTimeout
		}
		p.deliver(pollResult{order: o, err: err})
	}()
	return p
}

func (p *poll) deliver(res pollResult) {
	select {
	case p.result <- res:
	default:
	}
}

func (p *poll) release() {
	p.timer.Stop()
	p.cancel(context.Canceled)
}

// applyPoll folds a poll result into the session.
// Returns true if the attempt is over.
func (s *Session) applyPoll(r *run, p *poll, res pollResult) bool {
	if res.err != nil {
		if IsNotFound(res.err) {
			s.end(r, Outcome{State: StateAborted, At: p.at, Err: res.err})
			return true
		}
		s.pollFailed(r, p.at, res.err)
		return false
	}

	o := res.order
	if o.Status.IsTerminal() {
		s.end(r, Outcome{
			State:  StateFinalized,
			Source: SourcePolling,
			Status: o.Status,
			Order:  &o,
			At:     p.at,
		})
		return true
	}

	s.mu.Lock()
	if r.finalized.Load() {
		s.mu.Unlock()
		return true
	}
	s.retryCount = 0
	s.lastErr = nil
	s.lastStatus = o.Status
	s.mu.Unlock()

	s.emit(r, Trace{Kind: TracePollSucceeded, At: p.at, Status: o.Status})
	return false
}

func (s *Session) pollFailed(r *run, at time.Time, err error) {
	metrics.PollFailuresTotal.Inc()

	s.mu.Lock()
	if r.finalized.Load() {
		s.mu.Unlock()
		return
	}
	s.retryCount++
	s.lastErr = err
	n := s.retryCount
	paused := false
	if n >= s.engine.maxRetries && s.pollingActive {
		s.pollingActive = false
		s.lastErr = fmt.Errorf("%w: %v", ErrPollingExhausted, err)
		paused = true
	}
	s.mu.Unlock()

	s.emit(r, Trace{Kind: TracePollFailed, At: at, RetryCount: n, Err: err})
	if paused {
		slog.Warn("polling paused",
			"session_id", s.id,
			"order_id", s.orderID,
			"retries", n,
			"error", err,
		)
		s.emit(r, Trace{Kind: TracePollingPaused, At: at, RetryCount: n})
	}
}

// resume re-enables polling after a manual refresh and clears the error.
func (s *Session) resume(r *run) {
	s.mu.Lock()
	if r.finalized.Load() {
		s.mu.Unlock()
		return
	}
	s.pollingActive = true
	s.lastErr = nil
	n := s.retryCount
	s.mu.Unlock()

	s.emit(r, Trace{Kind: TraceRefreshRequested, At: s.engine.clock.Now(), RetryCount: n})
}

func (s *Session) isPolling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollingActive
}

// onPush runs on the publisher's goroutine.
func (s *Session) onPush(r *run, ev push.Event) {
	if r.finalized.Load() {
		return
	}

	now := s.engine.clock.Now()
	if !now.Before(r.deadline) {
		s.timeout(r)
		return
	}

	if ev.Status.IsTerminal() {
		s.end(r, Outcome{
			State:  StateFinalized,
			Source: SourceWebhook,
			Status: ev.Status,
			At:     now,
		})
		return
	}

	s.mu.Lock()
	if r.finalized.Load() {
		s.mu.Unlock()
		return
	}
	s.lastStatus = ev.Status
	s.pushActive = true
	s.mu.Unlock()

	s.emit(r, Trace{Kind: TracePushApplied, At: now, Status: ev.Status})
}

func (s *Session) timeout(r *run) {
	s.end(r, Outcome{State: StateTimedOut, At: r.deadline})
}

// end is the single exit of an attempt. Only the first caller wins the
// compare-and-set; every later call is a no-op and returns false.
func (s *Session) end(r *run, o Outcome) bool {
	if !r.finalized.CompareAndSwap(false, true) {
		return false
	}
	r.cancel()
	r.stop()

	o.SessionID = s.id
	o.OrderID = s.orderID
	o.Attempt = r.n
	if o.Err != nil {
		o.Error = o.Err.Error()
	}

	s.mu.Lock()
	s.state = o.State
	s.pollingActive = false
	if o.Status != "" {
		s.lastStatus = o.Status
	}
	s.outcome = &o
	s.mu.Unlock()

	s.emit(r, Trace{Kind: traceKindFor(o.State), At: o.At, Status: o.Status, Source: o.Source, Err: o.Err})
	s.engine.report(o)

	r.outcome = o
	close(r.done)
	return true
}

func (s *Session) emit(r *run, t Trace) {
	t.SessionID = s.id
	t.OrderID = s.orderID
	t.Attempt = r.n
	t.Offset = t.At.Sub(r.startedAt)
	s.engine.trace(t)
}

func traceKindFor(st State) TraceKind {
	switch st {
	case StateFinalized:
		return TraceFinalized
	case StateTimedOut:
		return TraceTimedOut
	case StateAborted:
		return TraceAborted
	default:
		return TraceCancelled
	}
}

func (r *run) expiredNow() bool {
	select {
	case <-r.expired:
		return true
	default:
		return false
	}
}

func (r *run) setDeadlineTimer(t *clock.Timer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.deadlineTimer = t
	return true
}

func (r *run) setPacer(t *clock.Timer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.pacer = t
	return true
}

func (r *run) setUnsubscribe(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.unsubscribe = fn
	return true
}

// stop releases the attempt's timers and push subscription.
func (r *run) stop() {
	r.mu.Lock()
	r.stopped = true
	deadline, pacer, unsub := r.deadlineTimer, r.pacer, r.unsubscribe
	r.deadlineTimer, r.pacer, r.unsubscribe = nil, nil, nil
	r.mu.Unlock()

	if deadline != nil {
		deadline.Stop()
	}
	if pacer != nil {
		pacer.Stop()
	}
	if unsub != nil {
		unsub()
	}
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
