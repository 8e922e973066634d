package rating

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/metrics"
)

var tracer = otel.Tracer("github.com/JakeFAU/show-catalog-crawler/internal/rating")

// Config tunes the pipeline. Zero values fall back to the package defaults.
type Config struct {
	TTL       time.Duration
	Cooldown  time.Duration
	BatchSize int
}

// Result is the answer to a rating query.
type Result struct {
	ExternalID string   `json:"external_rating_id"`
	State      State    `json:"state"`
	Rating     *float64 `json:"rating"`
	// Absent is true when the service confirmed the title has no rating.
	Absent bool `json:"absent,omitempty"`
}

// NoContent reports whether there is nothing to return yet.
func (r Result) NoContent() bool {
	return r.State == StateUnknown
}

// DrainStats counts what one Drain pass did.
type DrainStats struct {
	Received int  `json:"received"`
	Found    int  `json:"found"`
	NotFound int  `json:"not_found"`
	Deferred int  `json:"deferred"`
	Failed   int  `json:"failed"`
	Tripped  bool `json:"tripped"`
}

// Pipeline serves cached ratings and drains pending enrichment requests.
type Pipeline struct {
	table   Table
	queue   Queue
	service Service
	shows   ShowRater
	breaker *Breaker
	clock   catalog.Clock
	cfg     Config
	logger  *zap.Logger
}

// NewPipeline wires a Pipeline. shows may be nil when ratings are not written
// back to a show store.
func NewPipeline(
	table Table,
	queue Queue,
	service Service,
	shows ShowRater,
	breaker *Breaker,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Pipeline, error) {
	if table == nil || queue == nil {
		return nil, errors.New("rating table and queue are required")
	}
	if service == nil {
		return nil, errors.New("rating service is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if breaker == nil {
		breaker = NewBreaker(table, cfg.Cooldown)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		table:   table,
		queue:   queue,
		service: service,
		shows:   shows,
		breaker: breaker,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Breaker exposes the pipeline's circuit breaker.
func (p *Pipeline) Breaker() *Breaker {
	return p.breaker
}

// Query returns the best cached answer for externalID without calling the
// rating service. Stale and unknown entries additionally enqueue one re-fetch.
func (p *Pipeline) Query(ctx context.Context, externalID string) (Result, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Result{}, errors.New("external rating id is required")
	}
	entry, ok, err := p.table.GetRating(ctx, externalID)
	if err != nil {
		return Result{}, fmt.Errorf("read rating cache: %w", err)
	}
	res := Result{ExternalID: externalID, State: StateUnknown}
	if ok {
		res.Rating = entry.Value()
		res.Absent = entry.Absent()
		res.State = StateStale
		if p.clock.Now().Sub(entry.RetrievedAt) < p.cfg.TTL {
			res.State = StateFresh
		}
	}
	metrics.ObserveRatingQuery(string(res.State))
	if res.State != StateFresh {
		if err := p.queue.Send(ctx, Request{ExternalID: externalID}, 0); err != nil {
			p.logger.Warn("enqueue rating refresh failed",
				zap.String("external_rating_id", externalID), zap.Error(err))
		}
	}
	return res, nil
}

// Submit enqueues an enrichment request regardless of the cache state.
func (p *Pipeline) Submit(ctx context.Context, externalID string, showID int) error {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return errors.New("external rating id is required")
	}
	if err := p.queue.Send(ctx, Request{ExternalID: externalID, ShowID: showID}, 0); err != nil {
		return fmt.Errorf("enqueue rating request: %w", err)
	}
	return nil
}

// Drain processes one batch of pending requests. When the breaker is open,
// messages are re-sent with the remaining block as their delay. A failing
// upstream call trips the breaker and defers the rest of the batch.
func (p *Pipeline) Drain(ctx context.Context) DrainStats {
	ctx, span := tracer.Start(ctx, "rating.drain")
	defer span.End()

	var stats DrainStats
	if err := p.breaker.Load(ctx); err != nil {
		p.logger.Warn("load breaker state failed", zap.Error(err))
	}
	msgs, err := p.queue.Receive(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("receive rating requests failed", zap.Error(err))
		span.RecordError(err)
		return stats
	}
	stats.Received = len(msgs)

	for i, msg := range msgs {
		if ctx.Err() != nil {
			// Undeleted messages come back after the visibility timeout.
			break
		}
		now := p.clock.Now()
		if p.breaker.Open(now) {
			p.deferRest(ctx, msgs[i:], p.breaker.Remaining(now), &stats)
			break
		}
		lookup := p.service.Lookup(ctx, msg.Request.ExternalID)
		metrics.ObserveEnrichment(lookup.Outcome.String())
		switch lookup.Outcome {
		case OutcomeFound:
			if p.record(ctx, msg, Scale(lookup.Rating), now) {
				stats.Found++
			} else {
				stats.Failed++
			}
		case OutcomeNotFound:
			if p.record(ctx, msg, AbsentScaled, now) {
				stats.NotFound++
			} else {
				stats.Failed++
			}
		default:
			delay, err := p.breaker.Trip(ctx, now)
			if err != nil {
				p.logger.Warn("breaker state not persisted", zap.Error(err))
			}
			stats.Tripped = true
			p.logger.Warn("rating service unavailable, breaker tripped",
				zap.String("external_rating_id", msg.Request.ExternalID),
				zap.Duration("cooldown", delay),
				zap.Error(lookup.Err))
			p.deferRest(ctx, msgs[i:], delay, &stats)
		}
		if stats.Tripped {
			break
		}
	}
	span.SetAttributes(
		attribute.Int("rating.received", stats.Received),
		attribute.Int("rating.deferred", stats.Deferred),
		attribute.Bool("rating.tripped", stats.Tripped),
	)
	return stats
}

// record caches scaled, writes it through to the show store and deletes msg.
// It reports false when the message was left for redelivery.
func (p *Pipeline) record(ctx context.Context, msg Message, scaled int, now time.Time) bool {
	entry := CacheEntry{ExternalID: msg.Request.ExternalID, Scaled: scaled, RetrievedAt: now}
	if err := p.table.PutRating(ctx, entry); err != nil {
		p.logger.Error("cache rating failed",
			zap.String("external_rating_id", entry.ExternalID), zap.Error(err))
		return false
	}
	if p.shows != nil {
		n, err := p.shows.SetRatingByExternalID(ctx, entry.ExternalID, entry.Value())
		if err != nil {
			p.logger.Error("store show rating failed",
				zap.String("external_rating_id", entry.ExternalID), zap.Error(err))
			return false
		}
		p.logger.Debug("show rating stored",
			zap.String("external_rating_id", entry.ExternalID),
			zap.Int64("shows", n),
			zap.Int("scaled", scaled))
	}
	p.ack(ctx, msg)
	return true
}

// deferRest re-sends msgs with delay and deletes the originals.
func (p *Pipeline) deferRest(ctx context.Context, msgs []Message, delay time.Duration, stats *DrainStats) {
	for _, msg := range msgs {
		if err := p.queue.Send(ctx, msg.Request, delay); err != nil {
			stats.Failed++
			p.logger.Error("defer rating request failed",
				zap.String("external_rating_id", msg.Request.ExternalID), zap.Error(err))
			continue
		}
		p.ack(ctx, msg)
		stats.Deferred++
		metrics.ObserveEnrichment("deferred")
	}
}

func (p *Pipeline) ack(ctx context.Context, msg Message) {
	if err := p.queue.Delete(ctx, msg); err != nil {
		p.logger.Warn("delete rating message failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
