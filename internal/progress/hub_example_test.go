package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(ShowFound(time.Unix(0, 0), 1, "Under the Dome", 4))
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that totals cast members found.
func ExampleSink() {
	var cast int
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			cast += evt.CastCount
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(ShowFound(time.Unix(0, 0), 2, "Person of Interest", 7))
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("cast members found: %d\n", cast)
	// Output:
	// cast members found: 7
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
