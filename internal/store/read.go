package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/settlewatch/internal/order"
)

const selectOrderSQL = `
	SELECT id, status, amount, currency, token, note, created_at, updated_at
	FROM orders`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// GetOrder returns the order with the given id.
// Unknown ids return an error wrapping order.ErrNotFound.
func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, selectOrderSQL+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return order.Order{}, fmt.Errorf("get order %s: %w", id, order.ErrNotFound)
		}
		return order.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

// ListOrders returns up to limit orders, newest first.
// Ties on created_at are broken by id so the order is deterministic.
// Returns an empty slice (not nil) if there are no orders.
func (s *Store) ListOrders(ctx context.Context, limit int) ([]order.Order, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, selectOrderSQL+`
		ORDER BY created_at DESC, id COLLATE BINARY ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []order.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

// Transition is one applied status change.
type Transition struct {
	OrderID string
	From    order.Status
	To      order.Status
	Source  string
	At      time.Time
}

// Transitions returns the audit trail for an order in the order applied.
func (s *Store) Transitions(ctx context.Context, orderID string) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, from_status, to_status, source, at
		FROM status_transitions
		WHERE order_id = ?
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	transitions := []Transition{}
	for rows.Next() {
		var (
			tr       Transition
			from, to string
			at       int64
		)
		if err := rows.Scan(&tr.OrderID, &from, &to, &tr.Source, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From = order.Status(from)
		tr.To = order.Status(to)
		tr.At = fromNanos(at)
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return transitions, nil
}

// Outcomes returns every recorded session outcome for an order, oldest first.
func (s *Store) Outcomes(ctx context.Context, orderID string) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, attempt, order_id, state, source, status, error, at
		FROM session_outcomes
		WHERE order_id = ?
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []OutcomeRecord{}
	for rows.Next() {
		var (
			rec OutcomeRecord
			at  int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Attempt, &rec.OrderID, &rec.State,
			&rec.Source, &rec.Status, &rec.Error, &at); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		rec.At = fromNanos(at)
		outcomes = append(outcomes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

func scanOrder(row rowScanner) (order.Order, error) {
	var (
		o         order.Order
		status    string
		amount    string
		createdAt int64
		updatedAt sql.NullInt64
	)
	if err := row.Scan(&o.ID, &status, &amount, &o.Currency, &o.Token, &o.Note, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return order.Order{}, err
		}
		return order.Order{}, fmt.Errorf("scan order: %w", err)
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return order.Order{}, fmt.Errorf("scan order %s: amount: %w", o.ID, err)
	}

	o.Status = order.Status(status)
	o.Amount = d
	o.CreatedAt = fromNanos(createdAt)
	if updatedAt.Valid {
		t := fromNanos(updatedAt.Int64)
		o.UpdatedAt = &t
	}
	return o, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
