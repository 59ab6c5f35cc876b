package reconcile

import (
	"errors"

	"github.com/roach88/settlewatch/internal/order"
)

var (
	// ErrRetryNotAllowed is returned by Retry unless the attempt timed out.
	ErrRetryNotAllowed = errors.New("retry is only allowed after a timeout")

	// ErrEngineClosed is returned by Watch after Close.
	ErrEngineClosed = errors.New("reconcile engine closed")

	// ErrRequestTimeout is recorded when a poll exceeds its request timeout.
	ErrRequestTimeout = errors.New("request timeout - retrying")

	// ErrPollingExhausted is surfaced once consecutive failures pause polling.
	ErrPollingExhausted = errors.New("multiple polling failures")
)

// IsNotFound returns true if err reports an unknown order.
// Uses errors.Is to handle wrapped errors.
func IsNotFound(err error) bool {
	return errors.Is(err, order.ErrNotFound)
}

// IsRequestTimeout returns true if err is a per-poll request timeout.
func IsRequestTimeout(err error) bool {
	return errors.Is(err, ErrRequestTimeout)
}
