package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"github.com/shopspring/decimal"

	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/push"
	"github.com/roach88/settlewatch/internal/reconcile"
	"github.com/roach88/settlewatch/internal/simulator"
	"github.com/roach88/settlewatch/internal/store"
	"github.com/roach88/settlewatch/internal/testutil"
	"github.com/roach88/settlewatch/internal/webhook"
)

// T0 is the creation time of every scenario's order.
var T0 = time.Unix(1_700_000_000, 0)

// Secret signs scenario pushes.
var Secret = []byte("whsec_harness")

// ErrInjected is the status query failure while fail_polls is on.
var ErrInjected = errors.New("connection refused")

// faultySource fails every query while fail is set.
type faultySource struct {
	next reconcile.StatusSource
	fail atomic.Bool
}

func (f *faultySource) Fetch(ctx context.Context, orderID string) (order.Order, error) {
	if f.fail.Load() {
		return order.Order{}, ErrInjected
	}
	return f.next.Fetch(ctx, orderID)
}

// Harness is the scenario execution engine.
// It owns a mock clock and the full reconciliation stack for one scenario.
type Harness struct {
	scenario *Scenario
	orderID  string
	clock    *clock.Mock
	t0       time.Time

	store    *store.Store
	source   *faultySource
	bus      *push.Bus
	engine   *reconcile.Engine
	receiver *webhook.Receiver
	traces   *testutil.TraceRecorder
	session  *reconcile.Session

	runDone  chan error
	shutdown sync.Once
	runErr   error

	mu     sync.Mutex
	events []TraceEvent
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database for isolation.
// An error means the harness itself could not drive the scenario, for
// example because an expected poll never settled; failed expectations are
// reported in the result instead.
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	return h.run()
}

func newHarness(scenario *Scenario) (*Harness, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	mock := clock.NewMock()
	mock.Add(T0.Sub(mock.Now()))

	amount := decimal.NewFromInt(100)
	req, err := order.CreateRequest{
		Amount:   &amount,
		Currency: "KES",
		Token:    "USDC",
		Note:     scenario.Name,
	}.Normalize()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build order: %w", err)
	}
	if _, err := st.CreateOrder(context.Background(), order.NewOrder(scenario.orderID(), req, mock.Now())); err != nil {
		st.Close()
		return nil, fmt.Errorf("create order: %w", err)
	}

	draw := scenario.Draw
	sim := simulator.New(st,
		simulator.WithClock(mock),
		simulator.WithRand(func() float64 { return draw }),
	)

	h := &Harness{
		scenario: scenario,
		orderID:  scenario.orderID(),
		clock:    mock,
		t0:       mock.Now(),
		store:    st,
		source:   &faultySource{next: sim},
		bus:      push.NewBus(),
		traces:   testutil.NewTraceRecorder(),
		runDone:  make(chan error, 1),
	}

	h.engine = reconcile.New(h.source, h.bus,
		reconcile.WithClock(mock),
		reconcile.WithTracer(h.record),
		reconcile.WithIDGenerator(reconcile.NewFixedGenerator("sess-1")),
		reconcile.WithOutcomeSink(reconcile.StoreSink(st)),
	)

	verifier := webhook.NewVerifier(Secret, webhook.WithVerifierClock(mock))
	h.receiver = webhook.NewReceiver(verifier, webhook.MustSchema(), st, h.bus)

	go func() { h.runDone <- h.engine.Run(context.Background()) }()
	return h, nil
}

func (h *Harness) run() (*Result, error) {
	result := NewResult()

	for _, step := range h.scenario.Steps {
		if err := h.advanceTo(step.At); err != nil {
			return nil, err
		}
		if err := h.apply(step, result); err != nil {
			return nil, err
		}
	}

	result.Trace = h.trace()
	if h.session != nil {
		snap := h.session.Snapshot()
		result.Final = &snap
	}

	if err := h.stop(); err != nil {
		return nil, fmt.Errorf("outcome dispatcher: %w", err)
	}
	outcomes, err := h.store.Outcomes(context.Background(), h.orderID)
	if err != nil {
		return nil, fmt.Errorf("read outcomes: %w", err)
	}
	result.Outcomes = outcomes

	return result, nil
}

// stop closes the engine and waits for its outcomes to reach the store.
func (h *Harness) stop() error {
	h.shutdown.Do(func() {
		h.engine.Close()
		h.runErr = <-h.runDone
	})
	return h.runErr
}

func (h *Harness) close() {
	h.stop()
	h.store.Close()
}

// advanceTo moves the clock one second at a time until offset at.
func (h *Harness) advanceTo(at time.Duration) error {
	for h.offset() < at {
		if err := h.tick(); err != nil {
			return err
		}
	}
	return nil
}

// tick advances the clock by one second and waits for whatever it triggers.
//
// The snapshot is taken before the clock moves, while the session is idle,
// so it describes exactly which timers are armed.
func (h *Harness) tick() error {
	var (
		snap     reconcile.Snapshot
		watching bool
	)
	if h.session != nil {
		snap = h.session.Snapshot()
		watching = snap.State == reconcile.StateWatching
	}

	h.clock.Add(time.Second)
	if !watching {
		return nil
	}

	now := h.clock.Now()
	if !now.Before(snap.Deadline) {
		_, err := h.await(reconcile.TraceTimedOut)
		return err
	}
	if snap.PollingActive && now.Sub(snap.StartedAt)%reconcile.DefaultPollInterval == 0 {
		return h.awaitPoll()
	}
	return nil
}

// apply runs one step's actions in their fixed order.
func (h *Harness) apply(step Step, result *Result) error {
	ctx := context.Background()

	if step.FailPolls != nil {
		h.source.fail.Store(*step.FailPolls)
		h.note(EventFailPolls, onOff(*step.FailPolls))
	}

	if step.Watch {
		h.note(EventWatchStarted, "order="+h.orderID)
		s, err := h.engine.Watch(ctx, h.orderID)
		if err != nil {
			return fmt.Errorf("+%s: watch: %w", step.At, err)
		}
		h.session = s
		if err := h.awaitPoll(); err != nil {
			return err
		}
	}

	if step.Push != nil {
		if err := h.push(ctx, *step.Push); err != nil {
			return err
		}
	}

	if step.Refresh {
		h.note(EventRefreshRequested, "")
		switch {
		case h.session == nil:
			result.AddError(fmt.Sprintf("+%s: refresh: no session", step.At))
		case !h.session.Refresh():
			result.AddError(fmt.Sprintf("+%s: refresh: session has ended", step.At))
		default:
			if err := h.awaitPoll(); err != nil {
				return err
			}
		}
	}

	if step.Retry {
		h.note(EventRetryRequested, "")
		if h.session == nil {
			result.AddError(fmt.Sprintf("+%s: retry: no session", step.At))
		} else if err := h.session.Retry(ctx); err != nil {
			result.AddError(fmt.Sprintf("+%s: retry: %v", step.At, err))
		} else if err := h.awaitPoll(); err != nil {
			return err
		}
	}

	if step.Expect != nil {
		if h.session == nil {
			result.AddError(fmt.Sprintf("+%s: expect: no session", step.At))
			return nil
		}
		for _, err := range checkExpect(step.At, step.Expect, h.session.Snapshot(), h.trace()) {
			result.AddError(err.Error())
		}
	}
	return nil
}

// push signs and delivers one notification through the webhook receiver.
// Delivery is synchronous, so any finalization it causes has been traced
// by the time Receive returns.
func (h *Harness) push(ctx context.Context, p PushStep) error {
	st := order.Status(p.Status)
	header, body := testutil.SignedPush(Secret, h.clock.Now().Add(p.Skew).Unix(), h.orderID, st)
	if p.Tamper {
		body = append(body, ' ')
	}

	detail := []string{"status=" + p.Status}
	if p.Skew != 0 {
		detail = append(detail, "skew="+p.Skew.String())
	}
	if p.Tamper {
		detail = append(detail, "tampered")
	}
	h.note(EventPushReceived, strings.Join(detail, " "))

	watching := h.session != nil && h.session.State() == reconcile.StateWatching

	res, err := h.receiver.Receive(ctx, header, body)
	if err != nil {
		reason := webhook.ReasonOf(err)
		if reason == "" {
			reason = webhook.Classify(err).String()
		}
		h.note(EventPushRejected, "reason="+reason)
		return nil
	}
	if !res.Applied && res.Status != res.Claimed {
		h.note(EventPushNotApplied, "stored="+string(res.Status))
	}

	if watching && h.session.State() == reconcile.StateFinalized {
		if _, err := h.await(reconcile.TraceFinalized); err != nil {
			return err
		}
	}
	return nil
}

// await consumes queued traces until one of kinds arrives.
func (h *Harness) await(kinds ...reconcile.TraceKind) (reconcile.Trace, error) {
	tr, ok := h.traces.Next(testutil.DefaultWait, kinds...)
	if !ok {
		return tr, fmt.Errorf("+%s: timed out waiting for %v; recorded %v", h.offset(), kinds, h.traces.Kinds())
	}
	return tr, nil
}

// awaitPoll waits for the poll in flight to settle, including the pause
// that follows the failure exhausting the retry budget.
func (h *Harness) awaitPoll() error {
	tr, err := h.await(testutil.PollSettled...)
	if err != nil {
		return err
	}
	if tr.Kind == reconcile.TracePollFailed && tr.RetryCount >= reconcile.DefaultMaxRetries {
		_, err = h.await(reconcile.TracePollingPaused)
	}
	return err
}

// record is the engine's tracer.
func (h *Harness) record(t reconcile.Trace) {
	h.traces.Record(t)
	if t.Kind == reconcile.TracePollStarted {
		return
	}
	h.mu.Lock()
	h.events = append(h.events, fromTrace(t, h.t0))
	h.mu.Unlock()
}

// note appends a harness event at the current time.
func (h *Harness) note(kind, detail string) {
	h.mu.Lock()
	h.events = append(h.events, TraceEvent{Offset: h.offset(), Kind: kind, Detail: detail})
	h.mu.Unlock()
}

func (h *Harness) trace() []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]TraceEvent(nil), h.events...)
}

func (h *Harness) offset() time.Duration {
	return h.clock.Now().Sub(h.t0)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
