package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/settlewatch/internal/order"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testEpoch is the creation time used by test orders.
var testEpoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestOrder builds an order in the created status.
func createTestOrder(id string) order.Order {
	return order.Order{
		ID:        id,
		Status:    order.StatusCreated,
		Amount:    decimal.RequireFromString("1500.50"),
		Currency:  "KES",
		Token:     "USDC",
		CreatedAt: testEpoch,
	}
}
