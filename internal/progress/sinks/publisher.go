package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/show-catalog-crawler/internal/catalog"
	"github.com/JakeFAU/show-catalog-crawler/internal/progress"
)

// ShowFoundEvent is the message name used for discovery notifications.
const ShowFoundEvent = "show_found"

// ShowFoundPayload is the JSON body published for each discovered show.
type ShowFoundPayload struct {
	ShowID    int       `json:"show_id"`
	Name      string    `json:"name"`
	CastCount int       `json:"cast_count"`
	FoundAt   time.Time `json:"found_at"`
}

// PublisherSink forwards show discoveries to a catalog.Publisher. Tick events
// are ignored.
type PublisherSink struct {
	publisher catalog.Publisher
}

// NewPublisherSink wraps publisher.
func NewPublisherSink(publisher catalog.Publisher) *PublisherSink {
	return &PublisherSink{publisher: publisher}
}

// Consume publishes one message per show found. Every event is attempted; the
// returned error joins the individual failures.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StageShowFound {
			continue
		}
		payload := ShowFoundPayload{
			ShowID:    evt.ShowID,
			Name:      evt.Name,
			CastCount: evt.CastCount,
			FoundAt:   evt.TS.UTC(),
		}
		if _, err := s.publisher.Publish(ctx, ShowFoundEvent, payload); err != nil {
			errs = append(errs, fmt.Errorf("publish show %d: %w", evt.ShowID, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface. Publisher lifetimes are owned by the
// caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
