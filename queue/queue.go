// Package queue provides the blocking FIFO that feeds a root state machine.
package queue

import (
	"errors"
	"sync"
)

// ErrStopped is returned by Pop once the queue has been stopped.
var ErrStopped = errors.New("queue: stopped")

// Queue is a thread-safe blocking FIFO. Stop is one-way: after it, every Pop
// returns ErrStopped and pushed values are discarded.
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	stopped bool
}

func New[T any](maybeSize ...int) *Queue[T] {
	var items []T
	if len(maybeSize) > 0 {
		items = make([]T, 0, maybeSize[0])
	}
	q := &Queue[T]{items: items}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends item and wakes one waiting consumer. It never blocks on
// consumers.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.items = append(q.items, item)
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is stopped.
func (q *Queue[T]) Pop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.stopped {
		q.cond.Wait()
	}
	var zero T
	if q.stopped {
		return zero, ErrStopped
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, nil
}

// TryPop returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.stopped || len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Stop wakes every blocked consumer. Calls after the first are no-ops.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	q.items = nil
	q.cond.Broadcast()
}

func (q *Queue[T]) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
