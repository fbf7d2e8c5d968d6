// Package memory provides the in-process run queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained, and
// by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded FIFO of submitted runs.
type Queue struct {
	ch     chan results.QueueItem
	mu     sync.RWMutex
	closed bool
}

// NewQueue constructs a queue holding up to capacity pending runs.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{ch: make(chan results.QueueItem, capacity)}
}

// Enqueue adds item, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, item results.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next run.
func (q *Queue) Dequeue(ctx context.Context) (results.QueueItem, error) {
	select {
	case <-ctx.Done():
		return results.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return results.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports how many runs are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting runs. Pending runs can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
