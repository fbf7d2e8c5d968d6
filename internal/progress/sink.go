package progress

import "context"

// Sink consumes batches of progress events. Consume may be called from the
// hub goroutine only, but implementations should still honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}

// EmitterOrNop returns e, or a Nop emitter when e is nil.
func EmitterOrNop(e Emitter) Emitter {
	if e == nil {
		return Nop{}
	}
	return e
}
