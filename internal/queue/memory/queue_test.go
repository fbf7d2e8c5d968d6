package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan results.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	item := results.QueueItem{RunID: "run-1", Request: results.RangeRequest{RollStart: 1, RollEnd: 2}}
	if err := q.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.RunID != "run-1" || got.Request.RollEnd != 2 {
			t.Fatalf("unexpected item %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewQueue(1).Dequeue(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	full := NewQueue(1)
	if err := full.Enqueue(context.Background(), results.QueueItem{RunID: "primed"}); err != nil {
		t.Fatalf("prime queue: %v", err)
	}
	if full.Len() != 1 {
		t.Fatalf("expected len 1, got %d", full.Len())
	}
	if err := full.Enqueue(ctx, results.QueueItem{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	if err := q.Enqueue(context.Background(), results.QueueItem{RunID: "pending"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	q.Close()
	q.Close()

	if err := q.Enqueue(context.Background(), results.QueueItem{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on enqueue, got %v", err)
	}
	item, err := q.Dequeue(context.Background())
	if err != nil || item.RunID != "pending" {
		t.Fatalf("expected pending item, got %+v err=%v", item, err)
	}
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
