// Package store provides SQLite-backed storage for settlement orders.
//
// The store holds three tables:
//   - orders: the keyed order records, one row per order id
//   - status_transitions: append-only audit of every applied status change
//   - session_outcomes: the finalization log written by the reconciliation engine
//
// # Forward-Only Status
//
// AdvanceStatus is the only way an order's status changes. It reads and writes
// inside one transaction and refuses anything but a forward move, so a terminal
// status, once written, is frozen. Both the time-derived simulator and the
// webhook receiver go through it, which makes the stored record the single
// ground truth for both channels.
//
// # Idempotency
//
//   - CreateOrder uses ON CONFLICT(id) DO NOTHING and reports whether a row was inserted
//   - RecordOutcome uses UNIQUE(session_id, attempt) with ON CONFLICT DO NOTHING
//
// # Schema and Migrations
//
// schema.sql creates the base tables idempotently. Later changes are entries
// in the migrations list, applied in order and recorded in PRAGMA
// user_version, so an old database file is upgraded in place on Open.
//
// Every connection runs with WAL journaling, synchronous=NORMAL, a 5s busy
// timeout and foreign keys enforced.
package store
