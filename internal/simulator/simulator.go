// Package simulator derives an order's settlement status from elapsed time.
//
// It stands in for a real settlement backend: an order is created for 8
// seconds, processing until 18 seconds, and then terminal. The terminal
// outcome is drawn once per order (80% settled, 20% failed) and never
// re-rolled, so once a caller has seen a terminal status every later query
// returns the same one.
package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/store"
)

// Phase thresholds and terminal odds.
const (
	ProcessingAfter = 8 * time.Second
	TerminalAfter   = 18 * time.Second
	SettleRate      = 0.8
)

// Store is the subset of the order store the simulator needs.
type Store interface {
	GetOrder(ctx context.Context, id string) (order.Order, error)
	AdvanceStatus(ctx context.Context, id string, next order.Status, source string, at time.Time) (order.Order, bool, error)
}

// Source is the authoritative status source consumed by polling.
type Source struct {
	store Store
	clock clock.Clock
	rand  func() float64

	mu    sync.Mutex
	drawn map[string]order.Status
}

// Option configures a Source.
type Option func(*Source)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Source) {
		s.clock = c
	}
}

// WithRand overrides the random source used for the terminal draw.
// The function must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(s *Source) {
		s.rand = fn
	}
}

// New creates a Source over the given store.
func New(st Store, opts ...Option) *Source {
	s := &Source{
		store: st,
		clock: clock.New(),
		rand:  rand.Float64,
		drawn: make(map[string]order.Status),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StatusFor returns the time-derived status of an order.
//
//	elapsed < 8s        → created
//	8s ≤ elapsed < 18s  → processing
//	elapsed ≥ 18s       → terminal, drawn on first use and cached
func (s *Source) StatusFor(orderID string, createdAt, now time.Time) order.Status {
	elapsed := now.Sub(createdAt)
	switch {
	case elapsed < ProcessingAfter:
		return order.StatusCreated
	case elapsed < TerminalAfter:
		return order.StatusProcessing
	default:
		return s.terminal(orderID)
	}
}

// Fetch returns the current order record with its status brought up to date.
//
// The time-derived status is persisted only when it moves the record forward.
// A terminal status already on the record, for example one applied by a
// verified webhook, wins over the draw and is remembered as the order's outcome.
func (s *Source) Fetch(ctx context.Context, orderID string) (order.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return order.Order{}, err
	}

	if o.Status.IsTerminal() {
		s.remember(orderID, o.Status)
		return o, nil
	}

	now := s.clock.Now()
	next := s.StatusFor(orderID, o.CreatedAt, now)
	if !o.Status.CanAdvanceTo(next) {
		return o, nil
	}

	updated, applied, err := s.store.AdvanceStatus(ctx, orderID, next, store.SourceClock, now)
	if err != nil {
		return order.Order{}, fmt.Errorf("advance %s to %s: %w", orderID, next, err)
	}
	if applied {
		slog.Debug("order advanced", "order_id", orderID, "status", next, "elapsed", now.Sub(o.CreatedAt))
	}
	if updated.Status.IsTerminal() {
		s.remember(orderID, updated.Status)
	}
	return updated, nil
}

func (s *Source) terminal(orderID string) order.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.drawn[orderID]; ok {
		return st
	}
	st := order.StatusFailed
	if s.rand() < SettleRate {
		st = order.StatusSettled
	}
	s.drawn[orderID] = st
	return st
}

// remember pins the cached outcome to a terminal status observed in storage.
func (s *Source) remember(orderID string, st order.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawn[orderID] = st
}
