package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/containrrr/shoutrrr/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/show-catalog-crawler/internal/progress"
	memorypub "github.com/JakeFAU/show-catalog-crawler/internal/publisher/memory"
)

func sampleBatch(now time.Time) []progress.Event {
	return []progress.Event{
		progress.Tick(now, "empty", 2*time.Millisecond),
		progress.Tick(now, "empty", 2*time.Millisecond),
		progress.ShowFound(now, 1, "Under the Dome", 15),
		progress.Tick(now, "done", 200*time.Millisecond),
		progress.ShowFound(now, 5, "True Detective", 4),
		progress.Tick(now, "empty", time.Millisecond),
	}
}

// TestPrometheusSinkRecordsMetrics ensures discovery and tick events feed the collectors.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sampleBatch(time.Now())))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.showsFound))
	require.Equal(t, 5.0, testutil.ToFloat64(sink.lastShowID))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.idleTicks))
	require.Equal(t, 1, testutil.CollectAndCount(sink.castSize, "crawler_show_cast_size"))
	require.Equal(t, 2, testutil.CollectAndCount(sink.tickDuration, "crawler_worker_tick_duration_seconds"))
	require.NoError(t, sink.Close(context.Background()))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestPublisherSinkPublishesShowsOnly(t *testing.T) {
	t.Parallel()

	pub := memorypub.New()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := NewPublisherSink(pub)
	require.NoError(t, sink.Consume(context.Background(), sampleBatch(now)))

	msgs := pub.Topic(ShowFoundEvent)
	require.Len(t, msgs, 2)
	require.Equal(t, ShowFoundPayload{ShowID: 1, Name: "Under the Dome", CastCount: 15, FoundAt: now}, msgs[0])
	require.Len(t, pub.Messages(), 2)
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, string, any) (string, error) {
	p.calls++
	return "", errors.New("topic gone")
}

func TestPublisherSinkAttemptsEveryShow(t *testing.T) {
	t.Parallel()

	pub := &failingPublisher{}
	err := NewPublisherSink(pub).Consume(context.Background(), sampleBatch(time.Now()))
	require.ErrorContains(t, err, "publish show 1")
	require.ErrorContains(t, err, "publish show 5")
	require.Equal(t, 2, pub.calls)
	require.NoError(t, NewPublisherSink(nil).Consume(context.Background(), sampleBatch(time.Now())))
}

type recordingSender struct {
	messages []string
	errs     []error
}

func (s *recordingSender) Send(message string, _ *types.Params) []error {
	s.messages = append(s.messages, message)
	return s.errs
}

func TestShoutrrrSinkFoldsBatch(t *testing.T) {
	t.Parallel()

	rec := &recordingSender{errs: []error{nil}}
	sink := newShoutrrrSink(rec, zap.NewNop())
	require.NoError(t, sink.Consume(context.Background(), sampleBatch(time.Now())))
	require.Equal(t, []string{
		"New show #1: Under the Dome (15 cast)\nNew show #5: True Detective (4 cast)",
	}, rec.messages)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{progress.Tick(time.Now(), "busy", 0)}))
	require.Len(t, rec.messages, 1)
}

func TestShoutrrrSinkReportsFailures(t *testing.T) {
	t.Parallel()

	rec := &recordingSender{errs: []error{nil, errors.New("webhook 500")}}
	err := newShoutrrrSink(rec, nil).Consume(context.Background(), sampleBatch(time.Now()))
	require.ErrorContains(t, err, "webhook 500")
}

func TestNewShoutrrrSinkValidatesURLs(t *testing.T) {
	t.Parallel()

	_, err := NewShoutrrrSink(nil, nil)
	require.Error(t, err)
	_, err = NewShoutrrrSink([]string{"notaservice://nope"}, nil)
	require.Error(t, err)
}

func TestLogSinkConsumes(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), sampleBatch(time.Now())))
	require.NoError(t, sink.Close(context.Background()))
}
