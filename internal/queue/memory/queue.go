// Package memory provides the bounded in-process queue feeding the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQueueClosed is returned by Dequeue once the queue is closed and drained, and by
// Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
// Enqueue must not race with Close; a single producer owns both.
type Queue[T any] struct {
	ch      chan T
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		ch: make(chan T, capacity),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	q.closeMu.Lock()
	closed := q.closed
	q.closeMu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return zero, ErrQueueClosed
		}
		return item, nil
	}
}

// Drain removes and returns every buffered item without blocking.
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		select {
		case item, ok := <-q.ch:
			if !ok {
				return out
			}
			out = append(out, item)
		default:
			return out
		}
	}
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue[T]) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
