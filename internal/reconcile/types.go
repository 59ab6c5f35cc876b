package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/settlewatch/internal/order"
)

// State is the lifecycle state of a session attempt.
type State string

const (
	// StateWatching is the initial state: polling and listening for pushes.
	StateWatching State = "watching"
	// StateFinalized means a terminal order status was observed.
	StateFinalized State = "finalized"
	// StateTimedOut means the deadline passed without a terminal status.
	StateTimedOut State = "timed_out"
	// StateAborted means the order does not exist.
	StateAborted State = "aborted"
	// StateCancelled means the caller closed the session.
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the attempt has ended.
func (s State) IsTerminal() bool {
	return s != StateWatching
}

// Source identifies which channel finalized a session.
type Source string

const (
	SourcePolling Source = "polling"
	SourceWebhook Source = "webhook"
)

// Outcome is the single terminal report of a session attempt.
type Outcome struct {
	SessionID string       `json:"session_id"`
	OrderID   string       `json:"order_id"`
	Attempt   int          `json:"attempt"`
	State     State        `json:"state"`
	Source    Source       `json:"source,omitempty"`
	Status    order.Status `json:"status,omitempty"`
	// Order is the full record when the outcome came from a poll.
	Order *order.Order `json:"order,omitempty"`
	At    time.Time    `json:"at"`
	Err   error        `json:"-"`
	Error string       `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	SessionID     string       `json:"session_id"`
	OrderID       string       `json:"order_id"`
	Attempt       int          `json:"attempt"`
	State         State        `json:"state"`
	LastStatus    order.Status `json:"last_status,omitempty"`
	RetryCount    int          `json:"retry_count"`
	PollingActive bool         `json:"polling_active"`
	PushActive    bool         `json:"push_active"`
	LastPollTime  *time.Time   `json:"last_poll_time,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	Deadline      time.Time    `json:"deadline"`
	// LastError describes the most recent poll failure; empty after a success.
	LastError string `json:"last_error,omitempty"`
	// Retryable is true while LastError is a transient condition.
	Retryable bool `json:"retryable"`
	// CanRetry is true when Retry would start a new attempt.
	CanRetry bool     `json:"can_retry"`
	Outcome  *Outcome `json:"outcome,omitempty"`
}

// TraceKind names a session lifecycle event.
type TraceKind string

const (
	TracePollStarted      TraceKind = "poll_started"
	TracePollSucceeded    TraceKind = "poll_succeeded"
	TracePollFailed       TraceKind = "poll_failed"
	TracePollingPaused    TraceKind = "polling_paused"
	TraceRefreshRequested TraceKind = "refresh_requested"
	TracePushApplied      TraceKind = "push_applied"
	TraceFinalized        TraceKind = "finalized"
	TraceTimedOut         TraceKind = "timed_out"
	TraceAborted          TraceKind = "aborted"
	TraceCancelled        TraceKind = "cancelled"
)

// Trace is one session lifecycle event.
//
// Poll traces are stamped with the time the poll was issued, so a trace
// stream is stable regardless of how long the status source took to answer.
type Trace struct {
	Seq        int64
	Kind       TraceKind
	SessionID  string
	OrderID    string
	Attempt    int
	At         time.Time
	Offset     time.Duration // since the attempt started
	Status     order.Status
	Source     Source
	RetryCount int
	Err        error
}

// Tracer receives traces. It is called synchronously from session goroutines
// and the push publisher, so it must be fast and safe for concurrent use.
type Tracer func(Trace)

// String renders a trace as "+<offset> <kind> [key=value ...]".
func (t Trace) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "+%s %s", t.Offset, t.Kind)
	if t.Source != "" {
		fmt.Fprintf(&b, " source=%s", t.Source)
	}
	if t.Status != "" {
		fmt.Fprintf(&b, " status=%s", t.Status)
	}
	if t.Kind == TracePollFailed || t.Kind == TracePollingPaused {
		fmt.Fprintf(&b, " retries=%d", t.RetryCount)
	}
	if t.Err != nil {
		fmt.Fprintf(&b, " error=%q", t.Err.Error())
	}
	return b.String()
}
