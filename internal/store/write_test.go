package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/settlewatch/internal/order"
)

func TestCreateOrder_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	o := createTestOrder("ord_0x00000001")

	inserted, err := s.CreateOrder(ctx, o)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := o
	dup.Token = "USDT"
	inserted, err = s.CreateOrder(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert with same id should be ignored")

	got, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "USDC", got.Token, "original row must be untouched")
}

func TestAdvanceStatus_ForwardOnly(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	o := createTestOrder("ord_0x00000002")
	_, err := s.CreateOrder(ctx, o)
	require.NoError(t, err)

	at := testEpoch.Add(9 * time.Second)
	got, applied, err := s.AdvanceStatus(ctx, o.ID, order.StatusProcessing, SourceClock, at)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, order.StatusProcessing, got.Status)
	require.NotNil(t, got.UpdatedAt)
	assert.Equal(t, at, *got.UpdatedAt)

	// Regression is refused but not an error.
	got, applied, err = s.AdvanceStatus(ctx, o.ID, order.StatusCreated, SourceWebhook, at.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, order.StatusProcessing, got.Status)

	got, applied, err = s.AdvanceStatus(ctx, o.ID, order.StatusSettled, SourceWebhook, at.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, order.StatusSettled, got.Status)

	// Terminal is absorbing, including the other terminal status.
	got, applied, err = s.AdvanceStatus(ctx, o.ID, order.StatusFailed, SourceClock, at.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, order.StatusSettled, got.Status)

	stored, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusSettled, stored.Status)
}

func TestAdvanceStatus_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, _, err := s.AdvanceStatus(context.Background(), "ord_0xmissing0", order.StatusSettled, SourceWebhook, testEpoch)
	require.Error(t, err)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestAdvanceStatus_InvalidStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	o := createTestOrder("ord_0x00000003")
	_, err := s.CreateOrder(ctx, o)
	require.NoError(t, err)

	_, _, err = s.AdvanceStatus(ctx, o.ID, order.Status("done"), SourceWebhook, testEpoch)
	assert.Error(t, err)
}

func TestAdvanceStatus_ConcurrentTerminalsOneWins(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	o := createTestOrder("ord_0x00000004")
	_, err := s.CreateOrder(ctx, o)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied []order.Status
	)
	for i := 0; i < 20; i++ {
		next := order.StatusSettled
		if i%2 == 1 {
			next = order.StatusFailed
		}
		wg.Add(1)
		go func(next order.Status) {
			defer wg.Done()
			_, ok, err := s.AdvanceStatus(ctx, o.ID, next, SourceWebhook, testEpoch.Add(20*time.Second))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied = append(applied, next)
				mu.Unlock()
			}
		}(next)
	}
	wg.Wait()

	require.Len(t, applied, 1, "exactly one terminal transition may apply")
	stored, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, applied[0], stored.Status)
}

func TestRecordOutcome_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := OutcomeRecord{
		SessionID: "0190a2b4-0000-7000-8000-000000000001",
		Attempt:   1,
		OrderID:   "ord_0x00000005",
		State:     "finalized",
		Source:    "webhook",
		Status:    "settled",
		At:        testEpoch.Add(5 * time.Second),
	}
	require.NoError(t, s.RecordOutcome(ctx, rec))

	dup := rec
	dup.State = "timed_out"
	require.NoError(t, s.RecordOutcome(ctx, dup))

	retry := rec
	retry.Attempt = 2
	retry.State = "timed_out"
	retry.Source = ""
	retry.Status = ""
	require.NoError(t, s.RecordOutcome(ctx, retry))

	got, err := s.Outcomes(ctx, rec.OrderID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rec, got[0])
	assert.Equal(t, "timed_out", got[1].State)
	assert.Equal(t, 2, got[1].Attempt)
}
