package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/progress"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Show discoveries log at info and ticks
// at debug so an idle worker does not flood the output.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageShowFound:
			s.logger.Info("show found",
				zap.Int("show_id", evt.ShowID),
				zap.String("name", evt.Name),
				zap.Int("cast_count", evt.CastCount),
				zap.Time("ts", evt.TS),
			)
		default:
			s.logger.Debug("progress event",
				zap.String("stage", string(evt.Stage)),
				zap.String("outcome", evt.Outcome),
				zap.Duration("dur", evt.Dur),
				zap.String("note", evt.Note),
			)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
