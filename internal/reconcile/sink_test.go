package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/reconcile"
	"github.com/roach88/settlewatch/internal/store"
)

type recordingStore struct {
	records []store.OutcomeRecord
	err     error
}

func (s *recordingStore) RecordOutcome(_ context.Context, rec store.OutcomeRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

func TestStoreSink_MapsOutcome(t *testing.T) {
	st := &recordingStore{}
	at := time.Date(2025, 3, 1, 12, 0, 19, 0, time.UTC)

	err := reconcile.StoreSink(st).RecordOutcome(context.Background(), reconcile.Outcome{
		SessionID: "sess-1",
		OrderID:   testOrderID,
		Attempt:   2,
		State:     reconcile.StateFinalized,
		Source:    reconcile.SourceWebhook,
		Status:    order.StatusSettled,
		At:        at,
	})
	require.NoError(t, err)
	require.Len(t, st.records, 1)
	assert.Equal(t, store.OutcomeRecord{
		SessionID: "sess-1",
		Attempt:   2,
		OrderID:   testOrderID,
		State:     "finalized",
		Source:    "webhook",
		Status:    "settled",
		At:        at,
	}, st.records[0])
}

func TestStoreSink_CarriesErrorText(t *testing.T) {
	st := &recordingStore{err: errors.New("disk full")}

	err := reconcile.StoreSink(st).RecordOutcome(context.Background(), reconcile.Outcome{
		SessionID: "sess-1",
		OrderID:   testOrderID,
		Attempt:   1,
		State:     reconcile.StateAborted,
		Error:     "order not found",
	})
	assert.EqualError(t, err, "disk full")
	require.Len(t, st.records, 1)
	assert.Equal(t, "aborted", st.records[0].State)
	assert.Equal(t, "order not found", st.records[0].Error)
	assert.Empty(t, st.records[0].Source)
}
