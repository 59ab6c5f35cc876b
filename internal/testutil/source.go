package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/roach88/settlewatch/internal/order"
)

// Response is one scripted answer to a status query.
type Response struct {
	Status order.Status
	Err    error
	// Block makes the query wait until its context is cancelled.
	Block bool
}

// Status is a successful response with st.
func Status(st order.Status) Response {
	return Response{Status: st}
}

// Fail is a failed response with err.
func Fail(err error) Response {
	return Response{Err: err}
}

// Hang is a response that never arrives on its own.
func Hang() Response {
	return Response{Block: true}
}

// ScriptedSource answers status queries for a single order from a script.
//
// Each Fetch consumes the next scripted response. Once the script is exhausted
// the fallback is returned for every call. Queries for any other order id
// return order.ErrNotFound.
//
// Thread-safety: ScriptedSource is safe for concurrent use.
type ScriptedSource struct {
	mu       sync.Mutex
	order    order.Order
	script   []Response
	fallback Response
	calls    int
	started  chan struct{}
}

// NewScriptedSource creates a source for orderID. The fallback defaults to
// the created status.
func NewScriptedSource(orderID string, script ...Response) *ScriptedSource {
	return &ScriptedSource{
		order: order.Order{
			ID:       orderID,
			Status:   order.StatusCreated,
			Amount:   decimal.NewFromInt(100),
			Currency: "KES",
			Token:    "USDC",
		},
		script:   script,
		fallback: Status(order.StatusCreated),
		started:  make(chan struct{}, 1024),
	}
}

// SetFallback sets the response used after the script is exhausted.
func (s *ScriptedSource) SetFallback(r Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = r
}

// Push appends responses to the script.
func (s *ScriptedSource) Push(rs ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, rs...)
}

// Calls returns how many queries have been made.
func (s *ScriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Started signals once per query, before the response is produced.
func (s *ScriptedSource) Started() <-chan struct{} {
	return s.started
}

// Fetch implements reconcile.StatusSource.
func (s *ScriptedSource) Fetch(ctx context.Context, orderID string) (order.Order, error) {
	s.mu.Lock()
	if orderID != s.order.ID {
		s.mu.Unlock()
		return order.Order{}, fmt.Errorf("fetch %s: %w", orderID, order.ErrNotFound)
	}
	s.calls++
	resp := s.fallback
	if len(s.script) > 0 {
		resp = s.script[0]
		s.script = s.script[1:]
	}
	o := s.order
	s.mu.Unlock()

	select {
	case s.started <- struct{}{}:
	default:
	}

	if resp.Block {
		<-ctx.Done()
		return order.Order{}, ctx.Err()
	}
	if resp.Err != nil {
		return order.Order{}, resp.Err
	}
	o.Status = resp.Status
	return o, nil
}
