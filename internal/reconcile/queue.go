package reconcile

import "sync"

// outcomeQueue is a thread-safe FIFO queue of session outcomes.
//
// Sessions enqueue from their own goroutines (or the push publisher's); the
// Engine's Run loop dequeues. The queue is unbounded so ending a session never
// blocks on a slow sink.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type outcomeQueue struct {
	mu       sync.Mutex
	outcomes []Outcome
	closed   bool
	signal   chan struct{} // Signals availability (buffered, size 1)
}

// newOutcomeQueue creates an empty queue.
func newOutcomeQueue() *outcomeQueue {
	return &outcomeQueue{
		outcomes: make([]Outcome, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds an outcome to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *outcomeQueue) Enqueue(o Outcome) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.outcomes = append(q.outcomes, o)

	// Non-blocking: a buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Outcome{}, false) if the queue is empty.
func (q *outcomeQueue) TryDequeue() (Outcome, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.outcomes) == 0 {
		return Outcome{}, false
	}

	o := q.outcomes[0]

	// Nil out the slot so the backing array does not pin the Order pointer
	q.outcomes[0] = Outcome{}

	if len(q.outcomes) == 1 {
		q.outcomes = q.outcomes[:0]
	} else {
		q.outcomes = q.outcomes[1:]
	}

	return o, true
}

// Wait returns a channel that signals when outcomes may be available.
// The channel is closed once the queue is closed.
func (q *outcomeQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *outcomeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.outcomes)
}

// Close signals that no more outcomes will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *outcomeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
