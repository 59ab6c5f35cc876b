package push

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/settlewatch/internal/order"
)

func event(orderID string, st order.Status) Event {
	return Event{Type: "order.status", OrderID: orderID, Status: st, Timestamp: time.Unix(1700000000, 0)}
}

func TestBus_DeliversToMatchingOrderOnly(t *testing.T) {
	b := NewBus()

	var a, c []Event
	b.Subscribe("ord_0x0000000a", func(e Event) { a = append(a, e) })
	b.Subscribe("ord_0x0000000c", func(e Event) { c = append(c, e) })

	n := b.Publish(event("ord_0x0000000a", order.StatusSettled))
	assert.Equal(t, 1, n)
	require.Len(t, a, 1)
	assert.Equal(t, order.StatusSettled, a[0].Status)
	assert.Empty(t, c)
}

func TestBus_SubscribeAll(t *testing.T) {
	b := NewBus()

	var all []string
	b.SubscribeAll(func(e Event) { all = append(all, e.OrderID) })

	b.Publish(event("ord_0x00000001", order.StatusProcessing))
	b.Publish(event("ord_0x00000002", order.StatusFailed))
	assert.Equal(t, []string{"ord_0x00000001", "ord_0x00000002"}, all)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()

	var calls int
	unsub := b.Subscribe("ord_0x00000001", func(Event) { calls++ })
	assert.Equal(t, 1, b.Len())

	unsub()
	unsub()
	assert.Equal(t, 0, b.Len())

	assert.Equal(t, 0, b.Publish(event("ord_0x00000001", order.StatusSettled)))
	assert.Equal(t, 0, calls)
}

func TestBus_HandlerMayUnsubscribeItself(t *testing.T) {
	b := NewBus()

	var calls int
	var unsub func()
	unsub = b.Subscribe("ord_0x00000001", func(Event) {
		calls++
		unsub()
	})

	b.Publish(event("ord_0x00000001", order.StatusProcessing))
	b.Publish(event("ord_0x00000001", order.StatusSettled))
	assert.Equal(t, 1, calls)
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBus()
	var delivered atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := b.Subscribe("ord_0x00000001", func(Event) { delivered.Add(1) })
			defer unsub()
			b.Publish(event("ord_0x00000001", order.StatusProcessing))
		}()
		go func() {
			defer wg.Done()
			b.Publish(event("ord_0x00000002", order.StatusProcessing))
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.Len())
	assert.GreaterOrEqual(t, delivered.Load(), int64(16), "each subscriber sees at least its own publish")
}
