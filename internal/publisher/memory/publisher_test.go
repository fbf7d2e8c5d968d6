package memory

import (
	"context"
	"errors"
	"testing"
)

func TestPublisherRecordsByTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "runs", map[string]string{"run_id": "r1"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	if _, err := pub.Publish(context.Background(), "audit", "payload"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := len(pub.Messages("")); got != 2 {
		t.Fatalf("expected 2 messages, got %d", got)
	}
	runs := pub.Messages("runs")
	if len(runs) != 1 || runs[0].Topic != "runs" {
		t.Fatalf("unexpected runs messages: %+v", runs)
	}
	runs[0].Topic = "modified"
	if pub.Messages("runs")[0].Topic != "runs" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestPublisherInjectedError(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.Err = errors.New("broker down")
	if _, err := pub.Publish(context.Background(), "runs", nil); err == nil {
		t.Fatal("expected injected error")
	}
	if len(pub.Messages("")) != 0 {
		t.Fatal("failed publish must not be recorded")
	}
}
