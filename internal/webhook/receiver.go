package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/facebookgo/clock"

	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/push"
	"github.com/roach88/settlewatch/internal/store"
)

// OrderStore is the subset of the order store the receiver writes to.
type OrderStore interface {
	AdvanceStatus(ctx context.Context, id string, next order.Status, source string, at time.Time) (order.Order, bool, error)
}

// Publisher delivers accepted events to subscribers.
type Publisher interface {
	Publish(e push.Event) int
}

// Category groups receive failures for transport mapping.
type Category int

const (
	CategoryAccepted Category = iota
	CategoryUnauthenticated
	CategoryForbidden
	CategoryInvalid
	CategoryNotFound
	CategoryInternal
)

func (c Category) String() string {
	switch c {
	case CategoryAccepted:
		return "accepted"
	case CategoryUnauthenticated:
		return "unauthenticated"
	case CategoryForbidden:
		return "forbidden"
	case CategoryInvalid:
		return "invalid"
	case CategoryNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Classify maps a Receive error to its category.
// A missing header is unauthenticated; every other verification failure is forbidden.
func Classify(err error) Category {
	switch {
	case err == nil:
		return CategoryAccepted
	case ReasonOf(err) == ReasonMissingHeader:
		return CategoryUnauthenticated
	case IsVerifyError(err):
		return CategoryForbidden
	case IsPayloadError(err):
		return CategoryInvalid
	case errors.Is(err, order.ErrNotFound):
		return CategoryNotFound
	default:
		return CategoryInternal
	}
}

// Result describes an accepted push.
type Result struct {
	OrderID string
	// Claimed is the status the sender asserted.
	Claimed order.Status
	// Status is the order's stored status after the push.
	Status order.Status
	// Applied is false when the claim was not a forward move.
	Applied bool
	// Delivered counts subscribers that received the event.
	Delivered int
	SentAt    time.Time
}

// Receiver authenticates pushes, applies them to the store and publishes them.
type Receiver struct {
	verifier  *Verifier
	schema    *Schema
	store     OrderStore
	publisher Publisher
	clock     clock.Clock
}

// NewReceiver wires a receiver. The verifier's clock also stamps transitions.
func NewReceiver(v *Verifier, schema *Schema, st OrderStore, pub Publisher) *Receiver {
	return &Receiver{
		verifier:  v,
		schema:    schema,
		store:     st,
		publisher: pub,
		clock:     v.clock,
	}
}

// Receive processes one push. On error nothing has been stored or published.
//
// The stored record is the ground truth for both channels: a claim that is not
// a forward move (a regression, or a different terminal status after one was
// recorded) is accepted but not applied, and subscribers receive the stored
// status rather than the claim.
func (r *Receiver) Receive(ctx context.Context, header string, body []byte) (Result, error) {
	sentAt, err := r.verifier.Verify(header, body)
	if err != nil {
		slog.Warn("webhook rejected", "reason", ReasonOf(err), "error", err)
		return Result{}, err
	}

	p, err := r.schema.Decode(body)
	if err != nil {
		slog.Warn("webhook payload rejected", "error", err)
		return Result{}, err
	}

	o, applied, err := r.store.AdvanceStatus(ctx, p.Data.OrderID, p.Data.Status, store.SourceWebhook, r.clock.Now())
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			slog.Warn("webhook for unknown order", "order_id", p.Data.OrderID)
			return Result{}, err
		}
		return Result{}, fmt.Errorf("apply webhook for %s: %w", p.Data.OrderID, err)
	}

	if !applied && o.Status != p.Data.Status {
		slog.Info("webhook claim not applied",
			"order_id", o.ID,
			"claimed", p.Data.Status,
			"stored", o.Status,
		)
	}

	delivered := r.publisher.Publish(push.Event{
		Type:      p.Type,
		OrderID:   o.ID,
		Status:    o.Status,
		Timestamp: sentAt,
	})

	slog.Info("webhook accepted",
		"order_id", o.ID,
		"status", o.Status,
		"applied", applied,
		"subscribers", delivered,
	)

	return Result{
		OrderID:   o.ID,
		Claimed:   p.Data.Status,
		Status:    o.Status,
		Applied:   applied,
		Delivered: delivered,
		SentAt:    sentAt,
	}, nil
}
