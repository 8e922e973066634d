// Package telemetry sets up the OpenTelemetry tracer provider used by the
// worker tick and rating drain spans.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.uber.org/zap"
)

// InitTracerProvider installs a global tracer provider and the W3C propagators.
// Finished spans are written to logger at debug level; pointing the provider
// at a collector only requires another span processor.
func InitTracerProvider(ctx context.Context, serviceName string, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(NewLogProcessor(logger)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

// LogProcessor logs every finished span.
type LogProcessor struct {
	logger *zap.Logger
}

// NewLogProcessor returns a span processor writing to logger.
func NewLogProcessor(logger *zap.Logger) *LogProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogProcessor{logger: logger}
}

// OnStart implements sdktrace.SpanProcessor.
func (p *LogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd implements sdktrace.SpanProcessor.
func (p *LogProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	if ce := p.logger.Check(zap.DebugLevel, "span finished"); ce != nil {
		fields := []zap.Field{
			zap.String("span", span.Name()),
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.Duration("dur", span.EndTime().Sub(span.StartTime())),
			zap.String("status", span.Status().Code.String()),
		}
		for _, attr := range span.Attributes() {
			fields = append(fields, zap.String(string(attr.Key), attr.Value.Emit()))
		}
		ce.Write(fields...)
	}
}

// Shutdown implements sdktrace.SpanProcessor.
func (p *LogProcessor) Shutdown(context.Context) error { return nil }

// ForceFlush implements sdktrace.SpanProcessor.
func (p *LogProcessor) ForceFlush(context.Context) error { return nil }
