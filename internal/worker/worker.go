// Package worker implements the background loop that drains the work queue one
// show id per tick.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/crawl"
	"github.com/JakeFAU/show-catalog-crawler/internal/metrics"
	"github.com/JakeFAU/show-catalog-crawler/internal/progress"
)

var tracer = otel.Tracer("github.com/JakeFAU/show-catalog-crawler/internal/worker")

// Default delays between ticks, keyed by the outcome of the previous tick.
const (
	DefaultDoneDelay    = 50 * time.Millisecond
	DefaultEmptyDelay   = 20 * time.Second
	DefaultBusyDelay    = 30 * time.Second
	DefaultErrorDelay   = 60 * time.Second
	DefaultRefillWindow = 30
)

// Outcome is the result of one tick.
type Outcome int

// Tick outcomes.
const (
	// Done means the id was resolved (stored or confirmed absent).
	Done Outcome = iota
	// Empty means the queue had nothing to do.
	Empty
	// Busy means the catalog rate limited the request; the id was requeued.
	Busy
	// Error means the request failed or the tick panicked.
	Error
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "done"
	case Empty:
		return "empty"
	case Busy:
		return "busy"
	default:
		return "error"
	}
}

// Queue is the part of the work queue the loop consumes.
type Queue interface {
	DequeueOne() (int, bool)
	Requeue(id int) bool
	EnqueueRange(start, count int) int
}

// Scheduler hands out one timer per wait.
type Scheduler interface {
	Next(d time.Duration) <-chan time.Time
}

// Config controls the delays between ticks and how many ids a discovery adds.
type Config struct {
	DoneDelay    time.Duration
	EmptyDelay   time.Duration
	BusyDelay    time.Duration
	ErrorDelay   time.Duration
	RefillWindow int
}

func (c Config) withDefaults() Config {
	if c.DoneDelay <= 0 {
		c.DoneDelay = DefaultDoneDelay
	}
	if c.EmptyDelay <= 0 {
		c.EmptyDelay = DefaultEmptyDelay
	}
	if c.BusyDelay <= 0 {
		c.BusyDelay = DefaultBusyDelay
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = DefaultErrorDelay
	}
	if c.RefillWindow <= 0 {
		c.RefillWindow = DefaultRefillWindow
	}
	return c
}

// Delay returns how long to wait after a tick with outcome o.
func (c Config) Delay(o Outcome) time.Duration {
	switch o {
	case Done:
		return c.DoneDelay
	case Empty:
		return c.EmptyDelay
	case Busy:
		return c.BusyDelay
	default:
		return c.ErrorDelay
	}
}

// Loop pulls ids off the queue and probes the catalog for each.
type Loop struct {
	queue      Queue
	client     crawl.Fetcher
	reconciler crawl.Reconciler
	scheduler  Scheduler
	events     progress.Emitter
	clock      catalog.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Loop. client must not retry on its own: a rate-limited id
// goes back on the queue instead. A nil events emitter discards progress.
func New(
	queue Queue,
	client crawl.Fetcher,
	reconciler crawl.Reconciler,
	scheduler Scheduler,
	clock catalog.Clock,
	events progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Loop {
	if events == nil {
		events = progress.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		queue:      queue,
		client:     client,
		reconciler: reconciler,
		scheduler:  scheduler,
		events:     events,
		clock:      clock,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Config returns the effective configuration.
func (l *Loop) Config() Config {
	return l.cfg
}

// Run ticks until ctx is canceled, waiting on one timer between ticks. A tick
// already in progress when ctx ends is allowed to finish.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("worker started")
	defer l.logger.Info("worker stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		outcome := l.Tick(context.WithoutCancel(ctx))
		select {
		case <-ctx.Done():
			return
		case <-l.scheduler.Next(l.cfg.Delay(outcome)):
		}
	}
}

// Tick processes at most one id. Panics are recovered and reported as Error.
func (l *Loop) Tick(ctx context.Context) (outcome Outcome) {
	ctx, span := tracer.Start(ctx, "worker.tick", trace.WithSpanKind(trace.SpanKindConsumer))
	start := l.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("worker tick panicked", zap.Any("panic", r), zap.Stack("stack"))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			outcome = Error
		}
		dur := l.clock.Now().Sub(start)
		if dur < 0 {
			dur = 0
		}
		span.SetAttributes(attribute.String("worker.outcome", outcome.String()))
		span.End()
		metrics.ObserveTick(outcome.String())
		l.events.Emit(progress.Tick(l.clock.Now(), outcome.String(), dur))
	}()

	id, ok := l.queue.DequeueOne()
	if !ok {
		return Empty
	}
	span.SetAttributes(attribute.Int("show.id", id))

	resp, err := l.client.Fetch(ctx, catalog.ShowPath(id))
	if err != nil {
		l.logger.Warn("show fetch aborted", zap.Int("show_id", id), zap.Error(err))
		return Error
	}
	switch resp.Status {
	case catalog.StatusOK:
		return l.handleFound(ctx, id, resp)
	case catalog.StatusNotFound:
		l.logger.Debug("show absent", zap.Int("show_id", id))
		return Done
	case catalog.StatusRateLimited:
		l.queue.Requeue(id)
		l.logger.Info("catalog busy, id requeued", zap.Int("show_id", id))
		return Busy
	default:
		l.logger.Warn("show fetch failed",
			zap.Int("show_id", id),
			zap.Int("code", resp.Code),
			zap.Error(resp.Err),
		)
		return Error
	}
}

func (l *Loop) handleFound(ctx context.Context, id int, resp catalog.Response) Outcome {
	show, err := catalog.DecodeShow(resp.Body)
	if err != nil {
		l.logger.Warn("undecodable show payload", zap.Int("show_id", id), zap.Error(err))
		return Error
	}
	summary := l.reconciler.Store(ctx, []catalog.Show{show}, nil)
	if summary.Failed == 0 {
		l.events.Emit(progress.ShowFound(l.clock.Now(), show.ID, show.Name, len(show.Cast)))
	}
	added := l.queue.EnqueueRange(id+1, l.cfg.RefillWindow)
	l.logger.Debug("show processed",
		zap.Int("show_id", id),
		zap.Int("enqueued", added),
		zap.Int("stored_failed", summary.Failed),
	)
	return Done
}
