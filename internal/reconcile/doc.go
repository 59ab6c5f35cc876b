// Package reconcile watches an order until its settlement outcome is known.
//
// A Session races two unreliable channels for one order:
//   - polling: a status query every 3s, each with its own 10s request timeout
//   - push: verified webhook events delivered through a bus subscription
//
// The first terminal status from either channel finalizes the session. If
// neither produces one within 90s the session times out. Every terminal path
// (finalized, timed out, aborted, cancelled) goes through one compare-and-set,
// so an attempt reports exactly one outcome no matter how deliveries interleave.
//
// ARCHITECTURE:
//
// Per-Session Loop:
// Each attempt runs one goroutine that owns polling. It selects over the poll
// cadence, the in-flight poll result, manual refresh requests, the deadline and
// cancellation. At most one poll is in flight; ticks that arrive while a poll
// is outstanding are dropped.
//
// Push Path:
// Push events run on the publisher's goroutine. Terminal events finalize
// directly through the compare-and-set; non-terminal events only update the
// cached status.
//
// Outcome Dispatch:
// Terminal outcomes are queued on the engine's FIFO outcome queue. Engine.Run
// drains it on a single goroutine, writing each outcome to the OutcomeSink and
// then to registered listeners.
//
// Failure Handling:
//   - transient poll errors increment RetryCount and are visible on the Snapshot
//   - after MaxRetries consecutive failures polling pauses; Refresh resumes it
//   - a not-found poll aborts the attempt immediately
//   - the deadline produces TimedOut, after which Retry starts a fresh attempt
package reconcile
