// Package push delivers verified settlement notifications to subscribers.
//
// The Bus replaces an ambient broadcast with explicit subscriptions: a
// reconciliation session subscribes to the order it watches and unsubscribes
// when it ends, so events never leak across sessions or tests.
package push

import (
	"sync"
	"time"

	"github.com/roach88/settlewatch/internal/order"
)

// Event is one verified push notification.
// Only the webhook receiver creates events, after signature and payload checks.
type Event struct {
	Type      string
	OrderID   string
	Status    order.Status
	Timestamp time.Time
}

// Handler receives events. Handlers run on the publisher's goroutine and
// must not block.
type Handler func(Event)

type subscription struct {
	id      uint64
	orderID string // empty for SubscribeAll
	handler Handler
}

// Bus is a per-order publish/subscribe registry. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]subscription)}
}

// Subscribe registers h for events about orderID.
// The returned function removes the subscription; calling it more than once is safe.
func (b *Bus) Subscribe(orderID string, h Handler) func() {
	return b.add(orderID, h)
}

// SubscribeAll registers h for events about every order.
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.add("", h)
}

// Publish delivers e to every matching subscriber and returns how many were called.
// Handlers are invoked outside the bus lock, so a handler may unsubscribe itself.
func (b *Bus) Publish(e Event) int {
	b.mu.Lock()
	var targets []Handler
	for _, s := range b.subs {
		if s.orderID == "" || s.orderID == e.OrderID {
			targets = append(targets, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(e)
	}
	return len(targets)
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) add(orderID string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{id: id, orderID: orderID, handler: h}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
