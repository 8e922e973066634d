package sinks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/containrrr/shoutrrr"
	"github.com/containrrr/shoutrrr/pkg/types"
	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/progress"
)

// sender is the part of the shoutrrr router the sink uses.
type sender interface {
	Send(message string, params *types.Params) []error
}

// ShoutrrrSink sends a push notification per batch of discovered shows.
type ShoutrrrSink struct {
	sender sender
	logger *zap.Logger
}

// NewShoutrrrSink builds a sink delivering to every shoutrrr URL, for example
// "discord://token@id" or "ntfy://ntfy.sh/topic".
func NewShoutrrrSink(urls []string, logger *zap.Logger) (*ShoutrrrSink, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one notification url is required")
	}
	router, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("create shoutrrr sender: %w", err)
	}
	return newShoutrrrSink(router, logger), nil
}

func newShoutrrrSink(s sender, logger *zap.Logger) *ShoutrrrSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShoutrrrSink{sender: s, logger: logger}
}

// Consume folds the show discoveries of a batch into one message so a fast
// crawl does not trip the notification services' own rate limits.
func (s *ShoutrrrSink) Consume(_ context.Context, batch []progress.Event) error {
	message := formatShows(batch)
	if message == "" {
		return nil
	}
	if errs := s.sender.Send(message, nil); len(errs) > 0 {
		var failed []error
		for _, err := range errs {
			if err != nil {
				failed = append(failed, err)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("send notification: %w", errors.Join(failed...))
		}
	}
	s.logger.Debug("notification sent", zap.Int("events", len(batch)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *ShoutrrrSink) Close(context.Context) error {
	return nil
}

func formatShows(batch []progress.Event) string {
	var lines []string
	for _, evt := range batch {
		if evt.Stage != progress.StageShowFound {
			continue
		}
		lines = append(lines, fmt.Sprintf("New show #%d: %s (%d cast)", evt.ShowID, evt.Name, evt.CastCount))
	}
	return strings.Join(lines, "\n")
}
