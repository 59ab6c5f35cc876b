package webhook

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/push"
	"github.com/roach88/settlewatch/internal/store"
)

type receiverFixture struct {
	receiver *Receiver
	store    *store.Store
	bus      *push.Bus
	events   []push.Event
}

func setupReceiver(t *testing.T, orderIDs ...string) *receiverFixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "webhook.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	v, mock := newTestVerifier()
	for _, id := range orderIDs {
		_, err := st.CreateOrder(context.Background(), order.Order{
			ID:        id,
			Status:    order.StatusCreated,
			Amount:    decimal.NewFromInt(10),
			Currency:  "KES",
			Token:     "USDC",
			CreatedAt: mock.Now(),
		})
		require.NoError(t, err)
	}

	f := &receiverFixture{store: st, bus: push.NewBus()}
	f.bus.SubscribeAll(func(e push.Event) { f.events = append(f.events, e) })
	f.receiver = NewReceiver(v, MustSchema(), st, f.bus)
	return f
}

func pushBody(orderID string, st order.Status) []byte {
	return []byte(fmt.Sprintf(`{"type":"order.%s","data":{"order_id":%q,"status":%q}}`, st, orderID, st))
}

func TestReceive_AppliesAndPublishes(t *testing.T) {
	f := setupReceiver(t, "ord_0x00000001")
	body := pushBody("ord_0x00000001", order.StatusSettled)

	res, err := f.receiver.Receive(context.Background(), SignHeader(testSecret, testNow, body), body)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, order.StatusSettled, res.Status)
	assert.Equal(t, 1, res.Delivered)

	require.Len(t, f.events, 1)
	assert.Equal(t, push.Event{
		Type:      "order.settled",
		OrderID:   "ord_0x00000001",
		Status:    order.StatusSettled,
		Timestamp: time.Unix(testNow, 0),
	}, f.events[0])

	trail, err := f.store.Transitions(context.Background(), "ord_0x00000001")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, store.SourceWebhook, trail[0].Source)
}

func TestReceive_RejectionsTouchNothing(t *testing.T) {
	f := setupReceiver(t, "ord_0x00000001")
	good := pushBody("ord_0x00000001", order.StatusSettled)

	tests := []struct {
		name     string
		header   string
		body     []byte
		category Category
	}{
		{"missing header", "", good, CategoryUnauthenticated},
		{"malformed header", "t=abc,v1=xyz", good, CategoryForbidden},
		{"stale timestamp", SignHeader(testSecret, testNow-400, good), good, CategoryForbidden},
		{"bad signature", SignHeader([]byte("wrong"), testNow, good), good, CategoryForbidden},
		{"invalid json", SignHeader(testSecret, testNow, []byte("{")), []byte("{"), CategoryInvalid},
		{"invalid status", SignHeader(testSecret, testNow, pushBody("ord_0x00000001", "refunded")), pushBody("ord_0x00000001", "refunded"), CategoryInvalid},
		{"unknown order", SignHeader(testSecret, testNow, pushBody("ord_0xffffffff", order.StatusSettled)), pushBody("ord_0xffffffff", order.StatusSettled), CategoryNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.receiver.Receive(context.Background(), tt.header, tt.body)
			require.Error(t, err)
			assert.Equal(t, tt.category, Classify(err))
		})
	}

	assert.Empty(t, f.events, "rejected pushes are never published")
	o, err := f.store.GetOrder(context.Background(), "ord_0x00000001")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCreated, o.Status)
}

func TestReceive_ConflictingTerminalIsNotApplied(t *testing.T) {
	f := setupReceiver(t, "ord_0x00000001")
	ctx := context.Background()

	first := pushBody("ord_0x00000001", order.StatusFailed)
	_, err := f.receiver.Receive(ctx, SignHeader(testSecret, testNow, first), first)
	require.NoError(t, err)

	second := pushBody("ord_0x00000001", order.StatusSettled)
	res, err := f.receiver.Receive(ctx, SignHeader(testSecret, testNow, second), second)
	require.NoError(t, err, "a conflicting push is accepted")
	assert.False(t, res.Applied)
	assert.Equal(t, order.StatusSettled, res.Claimed)
	assert.Equal(t, order.StatusFailed, res.Status)

	require.Len(t, f.events, 2)
	assert.Equal(t, order.StatusFailed, f.events[1].Status, "subscribers see the stored status, not the claim")
}

func TestReceive_RegressionPublishesStoredStatus(t *testing.T) {
	f := setupReceiver(t, "ord_0x00000001")
	ctx := context.Background()

	_, _, err := f.store.AdvanceStatus(ctx, "ord_0x00000001", order.StatusProcessing, store.SourceClock, time.Unix(testNow, 0))
	require.NoError(t, err)

	body := pushBody("ord_0x00000001", order.StatusCreated)
	res, err := f.receiver.Receive(ctx, SignHeader(testSecret, testNow, body), body)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, order.StatusProcessing, res.Status)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CategoryAccepted, Classify(nil))
	assert.Equal(t, CategoryInternal, Classify(fmt.Errorf("disk full")))
	assert.Equal(t, CategoryNotFound, Classify(fmt.Errorf("wrap: %w", order.ErrNotFound)))
	assert.Equal(t, "forbidden", CategoryForbidden.String())
}
