package events

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO event queue. The runner pushes from its
// goroutine; a single response generator consumes with Next. Pushing never
// blocks, which keeps Emit cheap for the producer.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
	closed bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Emit implements Sink by enqueueing the event. Events pushed after Close
// are discarded.
func (q *Queue) Emit(_ string, ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next returns the oldest queued event, blocking until one is available,
// the queue is closed and drained, or ctx is done. The second return is
// false when no more events will arrive.
func (q *Queue) Next(ctx context.Context) (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Event{}, false
		}

		select {
		case <-ctx.Done():
			return Event{}, false
		case <-q.notify:
		}
	}
}

// Close stops the queue. Queued events remain readable; Next returns false
// once they are drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
