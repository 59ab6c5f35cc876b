package harness

import (
	"fmt"
	"time"

	"github.com/roach88/settlewatch/internal/reconcile"
	"github.com/roach88/settlewatch/internal/store"
)

// Harness event kinds. Session traces use reconcile.TraceKind values.
const (
	EventWatchStarted     = "watch_started"
	EventPushReceived     = "push_received"
	EventPushRejected     = "push_rejected"
	EventPushNotApplied   = "push_not_applied"
	EventFailPolls        = "fail_polls"
	EventRefreshRequested = "refresh_sent"
	EventRetryRequested   = "retry_sent"
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	// Offset is measured from T0, the order's creation time.
	Offset time.Duration `json:"offset"`
	Kind   string        `json:"kind"`
	// Detail carries the event's key=value pairs.
	Detail string `json:"detail,omitempty"`
	// Attempt is the session attempt for session traces, 0 for harness events.
	Attempt int `json:"attempt,omitempty"`
}

// String renders the event as "+<offset> <kind> [detail]".
func (e TraceEvent) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("+%s %s", e.Offset, e.Kind)
	}
	return fmt.Sprintf("+%s %s %s", e.Offset, e.Kind, e.Detail)
}

// fromTrace converts a session trace, re-basing its offset on t0.
func fromTrace(t reconcile.Trace, t0 time.Time) TraceEvent {
	t.Offset = t.At.Sub(t0)
	line := t.String()
	prefix := fmt.Sprintf("+%s %s", t.Offset, t.Kind)

	detail := ""
	if len(line) > len(prefix) {
		detail = line[len(prefix)+1:]
	}
	return TraceEvent{
		Offset:  t.Offset,
		Kind:    string(t.Kind),
		Detail:  detail,
		Attempt: t.Attempt,
	}
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause matched.
	Pass bool `json:"pass"`

	// Trace is the interleaved session and harness trace.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the session snapshot when the scenario ended.
	// Nil if the scenario never started watching.
	Final *reconcile.Snapshot `json:"final,omitempty"`

	// Outcomes is the finalization log persisted for the order.
	Outcomes []store.OutcomeRecord `json:"outcomes,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Kinds returns the kind of every trace event in order.
func (r *Result) Kinds() []string {
	kinds := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		kinds[i] = e.Kind
	}
	return kinds
}
