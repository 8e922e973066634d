package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogProcessorLogsFinishedSpans(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewLogProcessor(zap.New(core))))
	defer func() { require.NoError(t, tp.Shutdown(context.Background())) }()

	_, span := tp.Tracer("test").Start(context.Background(), "worker.tick")
	span.SetAttributes(attribute.String("worker.outcome", "done"))
	span.End()

	entries := logs.FilterMessage("span finished").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "worker.tick", fields["span"])
	require.Equal(t, "done", fields["worker.outcome"])
}

func TestLogProcessorSkipsAboveDebug(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewLogProcessor(zap.New(core))))
	_, span := tp.Tracer("test").Start(context.Background(), "rating.drain")
	span.End()
	require.Zero(t, logs.Len())
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestInitTracerProvider(t *testing.T) {
	t.Parallel()

	tp, err := InitTracerProvider(context.Background(), "show-catalog-crawler", nil)
	require.NoError(t, err)
	require.NoError(t, tp.Shutdown(context.Background()))
}
