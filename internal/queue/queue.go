// Package queue provides the unbounded FIFO that carries raw watch events
// from the watch supervisor to the debounce aggregator.
package queue

import (
	"context"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
)

// Queue is an unbounded, ordered, goroutine-safe FIFO. Push never blocks.
// The zero value is not usable; call New.
type Queue[T any] struct {
	mu    sync.Mutex
	items *linkedlistqueue.Queue
	ready chan struct{}
}

// New returns an empty Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items: linkedlistqueue.New(),
		ready: make(chan struct{}, 1),
	}
}

// Push appends v and wakes a waiting consumer.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items.Enqueue(v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the head of the queue without waiting.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, ok := q.items.Dequeue()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Pop removes and returns the head of the queue, waiting until an item is
// available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

// Ready returns a channel that receives after a Push. A receive only means
// the queue may be non-empty; consumers must still TryPop.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}
