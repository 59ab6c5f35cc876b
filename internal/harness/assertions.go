package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/settlewatch/internal/reconcile"
)

// AssertionError is returned when an expect clause fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	At       time.Duration // step offset from T0
	Field    string
	Expected string
	Actual   string
	Trace    []TraceEvent // trace up to the failing step
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed at +%s: %s\n", e.At, e.Field)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace so far:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}

	return buf.String()
}

// checkExpect compares a snapshot against an expect clause (subset match).
// Returns one error per mismatched field.
func checkExpect(at time.Duration, exp *Expect, snap reconcile.Snapshot, trace []TraceEvent) []error {
	var errs []error
	mismatch := func(field, expected, actual string) {
		errs = append(errs, &AssertionError{
			At:       at,
			Field:    field,
			Expected: expected,
			Actual:   actual,
			Trace:    trace,
		})
	}

	if exp.State != "" && string(snap.State) != exp.State {
		mismatch("state", exp.State, string(snap.State))
	}

	if exp.Source != "" {
		actual := ""
		if snap.Outcome != nil {
			actual = string(snap.Outcome.Source)
		}
		if actual != exp.Source {
			mismatch("source", exp.Source, orNone(actual))
		}
	}

	if exp.Status != "" && string(snap.LastStatus) != exp.Status {
		mismatch("status", exp.Status, orNone(string(snap.LastStatus)))
	}

	if exp.RetryCount != nil && snap.RetryCount != *exp.RetryCount {
		mismatch("retry_count", fmt.Sprint(*exp.RetryCount), fmt.Sprint(snap.RetryCount))
	}

	if exp.PollingActive != nil && snap.PollingActive != *exp.PollingActive {
		mismatch("polling_active", fmt.Sprint(*exp.PollingActive), fmt.Sprint(snap.PollingActive))
	}

	if exp.Attempt != 0 && snap.Attempt != exp.Attempt {
		mismatch("attempt", fmt.Sprint(exp.Attempt), fmt.Sprint(snap.Attempt))
	}

	return errs
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
