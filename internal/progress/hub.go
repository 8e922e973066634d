package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config controls buffering and batching for the Hub. Zero values take the
// defaults below, which suit a trickle of show-found events.
type Config struct {
	// BufferSize is the capacity of the event channel.
	BufferSize int
	// MaxBatchEvents flushes as soon as this many events are pending.
	MaxBatchEvents int
	// MaxBatchWait bounds how long the first event of a batch waits.
	MaxBatchWait time.Duration
	// SinkTimeout bounds one Consume call.
	SinkTimeout time.Duration
	// BaseContext is the parent of every sink call.
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 512
	defaultMaxBatchEvents = 64
	defaultMaxBatchWait   = 2 * time.Second
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub fans events out to registered sinks in batches. Emit never blocks; a
// full buffer drops the event.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger

	lost        atomic.Int64
	unreported  atomic.Int64
	lastDropLog atomic.Int64
	failures    atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready to accept events.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.run()
	return h
}

// Emit enqueues evt. Invalid events are discarded; a zero TS is stamped with
// the current UTC time.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.lost.Add(1)
		h.unreported.Add(1)
		h.reportDrops(time.Now())
	}
}

// reportDrops logs the drop count at most once per dropLogInterval.
func (h *Hub) reportDrops(now time.Time) {
	last := h.lastDropLog.Load()
	if now.UnixNano()-last < dropLogInterval.Nanoseconds() {
		return
	}
	if !h.lastDropLog.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure",
		zap.Int64("dropped", h.unreported.Swap(0)))
}

// Dropped reports how many events were discarded since the hub started.
func (h *Hub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.lost.Load()
}

// SinkFailures reports how many Consume calls returned an error.
func (h *Hub) SinkFailures() int64 {
	if h == nil {
		return 0
	}
	return h.failures.Load()
}

// Close flushes pending events, closes the sinks and waits for the batching
// goroutine, or for ctx. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	// deadline is nil while no batch is pending.
	var deadline <-chan time.Time
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				timer.Stop()
				deadline = nil
				batch = h.flush(batch)
				continue
			}
			if deadline == nil {
				timer.Reset(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			deadline = nil
			batch = h.flush(batch)
		case <-h.stopCh:
			timer.Stop()
			h.drain(batch)
			return
		}
	}
}

// drain flushes everything still buffered and closes the sinks.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

// flush hands batch to every sink in parallel and returns batch emptied for reuse.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	shared := append([]Event(nil), batch...)
	var g errgroup.Group
	for _, sink := range h.sinks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, shared); err != nil {
				h.failures.Add(1)
				h.logger.Warn("progress sink consume failed",
					zap.String("sink", fmt.Sprintf("%T", sink)),
					zap.Int("events", len(shared)),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed",
				zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}
