package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"

	"github.com/roach88/settlewatch/internal/push"
	"github.com/roach88/settlewatch/internal/reconcile"
	"github.com/roach88/settlewatch/internal/testutil"
)

const testOrderID = "ord_0xabc123"

// fixture wires an engine to a mock clock, a scripted source and a real bus.
type fixture struct {
	t      *testing.T
	clock  *clock.Mock
	source *testutil.ScriptedSource
	bus    *push.Bus
	traces *testutil.TraceRecorder
	engine *reconcile.Engine
}

func newFixture(t *testing.T, source *testutil.ScriptedSource, opts ...reconcile.Option) *fixture {
	t.Helper()

	f := &fixture{
		t:      t,
		clock:  clock.NewMock(),
		source: source,
		bus:    push.NewBus(),
		traces: testutil.NewTraceRecorder(),
	}

	base := []reconcile.Option{
		reconcile.WithClock(f.clock),
		reconcile.WithTracer(f.traces.Record),
		reconcile.WithIDGenerator(reconcile.NewFixedGenerator("sess-1", "sess-2", "sess-3")),
	}
	f.engine = reconcile.New(source, f.bus, append(base, opts...)...)
	t.Cleanup(f.engine.Close)
	return f
}

// watch starts a session and waits for its initial poll to settle.
func (f *fixture) watch() (*reconcile.Session, reconcile.Trace) {
	f.t.Helper()
	s, err := f.engine.Watch(context.Background(), testOrderID)
	if err != nil {
		f.t.Fatalf("watch: %v", err)
	}
	return s, f.traces.WaitFor(f.t, testutil.PollSettled...)
}

// tick advances one poll interval and waits for the poll it triggers.
func (f *fixture) tick(interval time.Duration) reconcile.Trace {
	f.t.Helper()
	f.clock.Add(interval)
	return f.traces.WaitFor(f.t, testutil.PollSettled...)
}

func (f *fixture) publish(orderID string, st string) int {
	return f.bus.Publish(push.Event{
		Type:      "order." + st,
		OrderID:   orderID,
		Status:    parseStatus(f.t, st),
		Timestamp: f.clock.Now(),
	})
}

func waitDone(t *testing.T, s *reconcile.Session) reconcile.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testutil.DefaultWait)
	defer cancel()
	o, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("session did not end: %v", err)
	}
	return o
}

// runEngine runs the dispatcher until the test ends and returns a channel
// receiving every dispatched outcome.
func runEngine(t *testing.T, f *fixture) <-chan reconcile.Outcome {
	t.Helper()
	dispatched := make(chan reconcile.Outcome, 16)
	f.engine.OnOutcome(func(o reconcile.Outcome) { dispatched <- o })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return dispatched
}

func awaitOutcome(t *testing.T, dispatched <-chan reconcile.Outcome) reconcile.Outcome {
	t.Helper()
	select {
	case o := <-dispatched:
		return o
	case <-time.After(testutil.DefaultWait):
		t.Fatal("outcome not dispatched")
		return reconcile.Outcome{}
	}
}
