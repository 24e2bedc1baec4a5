// Package tracing sets up OpenTelemetry tracing for harvest runs.
package tracing

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

// InitTracerProvider installs the global tracer provider and the W3C propagator. Finished
// spans are written to logger at debug level, so a run's timeline shows up in the logs
// without a collector. Callers must Shutdown the returned provider.
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

// LogProcessor writes every finished span as one debug log entry.
type LogProcessor struct {
	logger *zap.Logger
}

// NewLogProcessor returns a span processor logging to logger.
func NewLogProcessor(logger *zap.Logger) *LogProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogProcessor{logger: logger.Named("trace")}
}

// OnStart is a no-op.
func (p *LogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd logs the span.
func (p *LogProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if ce := p.logger.Check(zap.DebugLevel, "span"); ce != nil {
		fields := []zap.Field{
			zap.String("name", s.Name()),
			zap.String("trace_id", s.SpanContext().TraceID().String()),
			zap.String("span_id", s.SpanContext().SpanID().String()),
			zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
			zap.String("status", s.Status().Code.String()),
		}
		if s.Parent().IsValid() {
			fields = append(fields, zap.String("parent_id", s.Parent().SpanID().String()))
		}
		for _, kv := range s.Attributes() {
			fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
		}
		ce.Write(fields...)
	}
}

// Shutdown is a no-op.
func (p *LogProcessor) Shutdown(context.Context) error { return nil }

// ForceFlush is a no-op; entries are written as spans end.
func (p *LogProcessor) ForceFlush(context.Context) error { return nil }
