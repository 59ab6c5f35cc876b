package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/settlewatch/internal/order"
)

// Transition sources recorded in status_transitions.
const (
	SourceClock   = "clock"
	SourceWebhook = "webhook"
)

// CreateOrder inserts a new order record.
// Uses ON CONFLICT(id) DO NOTHING; returns false if the id already existed.
func (s *Store) CreateOrder(ctx context.Context, o order.Order) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
		(id, status, amount, currency, token, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		o.ID,
		string(o.Status),
		o.Amount.String(),
		o.Currency,
		o.Token,
		o.Note,
		o.CreatedAt.UnixNano(),
		nullableNanos(o.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("write order: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write order: %w", err)
	}
	return n == 1, nil
}

// AdvanceStatus moves an order to next if that is a forward transition.
//
// Returns the order as stored after the call and whether the transition was
// applied. A backward, sideways or post-terminal move is not an error: the
// current record is returned with applied=false. Unknown ids return an error
// wrapping order.ErrNotFound.
//
// The read and the write happen in one transaction, so two concurrent callers
// racing toward different terminal statuses cannot both win.
func (s *Store) AdvanceStatus(ctx context.Context, id string, next order.Status, source string, at time.Time) (order.Order, bool, error) {
	if !next.Valid() {
		return order.Order{}, false, fmt.Errorf("advance status: unrecognized status %q", next)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return order.Order{}, false, fmt.Errorf("advance status: begin: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanOrder(tx.QueryRowContext(ctx, selectOrderSQL+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return order.Order{}, false, fmt.Errorf("advance status %s: %w", id, order.ErrNotFound)
		}
		return order.Order{}, false, fmt.Errorf("advance status %s: %w", id, err)
	}

	if !cur.Status.CanAdvanceTo(next) {
		return cur, false, nil
	}

	atNanos := at.UnixNano()
	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ? WHERE id = ?
	`, string(next), atNanos, id); err != nil {
		return order.Order{}, false, fmt.Errorf("advance status %s: update: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO status_transitions (order_id, from_status, to_status, source, at)
		VALUES (?, ?, ?, ?, ?)
	`, id, string(cur.Status), string(next), source, atNanos); err != nil {
		return order.Order{}, false, fmt.Errorf("advance status %s: audit: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return order.Order{}, false, fmt.Errorf("advance status %s: commit: %w", id, err)
	}

	updated := at.UTC()
	cur.Status = next
	cur.UpdatedAt = &updated
	return cur, true, nil
}

// OutcomeRecord is one row of the finalization log.
type OutcomeRecord struct {
	SessionID string
	Attempt   int
	OrderID   string
	State     string
	Source    string
	Status    string
	Error     string
	At        time.Time
}

// RecordOutcome appends a session outcome.
// Uses ON CONFLICT DO NOTHING: reporting the same (session, attempt) twice is a no-op.
func (s *Store) RecordOutcome(ctx context.Context, rec OutcomeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_outcomes
		(session_id, attempt, order_id, state, source, status, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, attempt) DO NOTHING
	`,
		rec.SessionID,
		rec.Attempt,
		rec.OrderID,
		rec.State,
		rec.Source,
		rec.Status,
		rec.Error,
		rec.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write outcome: %w", err)
	}
	return nil
}

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
