package progress

import "context"

// Sink consumes batches of progress events. The hub delivers a batch to all
// sinks in parallel but waits for every sink before the next batch, so one
// sink never sees overlapping Consume calls. Implementations should honor ctx.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Hub satisfies it so the worker never
// knows how events are buffered or delivered.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}
