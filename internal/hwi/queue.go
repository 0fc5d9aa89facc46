package hwi

import (
	"sync"
	"time"
)

// envelope is one accepted event waiting for the engine
type envelope struct {
	evt        Event
	payload    any
	ticket     uint64 // non-zero for API calls
	acceptedAt time.Time
}

// eventQueue is an unbounded FIFO of envelopes. Producers never block; the engine
// waits on the size-one signal channel, which is closed by Close.
type eventQueue struct {
	mu     sync.Mutex
	events []envelope
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]envelope, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. It returns false once the queue is closed.
func (q *eventQueue) Enqueue(e envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the head without blocking
func (q *eventQueue) TryDequeue() (envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return envelope{}, false
	}
	e := q.events[0]
	q.events[0] = envelope{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns the channel signalling that events may be available
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events and wakes the engine
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
