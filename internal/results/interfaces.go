package results

import (
	"context"
	"time"
)

// Fetcher performs one end-to-end attempt for a roll number. A nil error means
// success; ErrResultNotFound means the portal has no result; any other error is
// recoverable.
type Fetcher interface {
	Fetch(ctx context.Context, job RollJob) (ResultRecord, error)
}

// Collector receives completed records. Implementations must serialize
// concurrent appends.
type Collector interface {
	Append(ctx context.Context, runID string, rec ResultRecord) error
}

// Sleeper waits between attempts (swapped out in tests).
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RunStore persists run metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// BlobStore writes exported artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue transports submitted runs to the executor.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}
