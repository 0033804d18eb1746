package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartDBSpan starts a span for database operations
func StartDBSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// BusinessMetrics holds custom business metrics
type BusinessMetrics struct {
	syncSubmits     metric.Int64Counter
	syncFetches     metric.Int64Counter
	pairingAttempts metric.Int64Counter
	authAttempts    metric.Int64Counter
	storageUsed     metric.Int64UpDownCounter
	wsConnections   metric.Int64UpDownCounter
}

// NewBusinessMetrics creates business metrics instruments
func NewBusinessMetrics() (*BusinessMetrics, error) {
	meter := otel.Meter(instrumentationName)

	syncSubmits, err := meter.Int64Counter(
		"syncflow.sync.submits",
		metric.WithDescription("Total number of sync submit batches"),
		metric.WithUnit("{batches}"),
	)
	if err != nil {
		return nil, err
	}

	syncFetches, err := meter.Int64Counter(
		"syncflow.sync.fetches",
		metric.WithDescription("Total number of delta fetches"),
		metric.WithUnit("{fetches}"),
	)
	if err != nil {
		return nil, err
	}

	pairingAttempts, err := meter.Int64Counter(
		"syncflow.pairing.attempts",
		metric.WithDescription("Total number of pairing operations"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, err
	}

	authAttempts, err := meter.Int64Counter(
		"syncflow.auth.attempts",
		metric.WithDescription("Total number of authentication attempts"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, err
	}

	storageUsed, err := meter.Int64UpDownCounter(
		"syncflow.storage.bytes",
		metric.WithDescription("Stored sync payload bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	wsConnections, err := meter.Int64UpDownCounter(
		"syncflow.ws.connections",
		metric.WithDescription("Live WebSocket connections"),
		metric.WithUnit("{connections}"),
	)
	if err != nil {
		return nil, err
	}

	return &BusinessMetrics{
		syncSubmits:     syncSubmits,
		syncFetches:     syncFetches,
		pairingAttempts: pairingAttempts,
		authAttempts:    authAttempts,
		storageUsed:     storageUsed,
		wsConnections:   wsConnections,
	}, nil
}

// RecordSubmit records one applied submit batch
func (m *BusinessMetrics) RecordSubmit(ctx context.Context, entity string, synced, skipped int) {
	attrs := []attribute.KeyValue{
		attribute.String("entity", entity),
		attribute.Int("synced", synced),
		attribute.Int("skipped", skipped),
	}
	m.syncSubmits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFetch records one delta fetch
func (m *BusinessMetrics) RecordFetch(ctx context.Context, entity string, count int) {
	attrs := []attribute.KeyValue{
		attribute.String("entity", entity),
		attribute.Int("item_count", count),
	}
	m.syncFetches.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPairingAttempt records a pairing stage outcome
func (m *BusinessMetrics) RecordPairingAttempt(ctx context.Context, stage string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("stage", stage),
		attribute.Bool("success", success),
	}
	m.pairingAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAuthAttempt records an authentication attempt
func (m *BusinessMetrics) RecordAuthAttempt(ctx context.Context, method string, success bool) {
	attrs := []attribute.KeyValue{
		attribute.String("auth_method", method),
		attribute.Bool("success", success),
	}
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// AddStorageBytes tracks accepted upload bytes
func (m *BusinessMetrics) AddStorageBytes(ctx context.Context, n int64) {
	m.storageUsed.Add(ctx, n)
}

// WSConnected increments the live connection gauge
func (m *BusinessMetrics) WSConnected(ctx context.Context) {
	m.wsConnections.Add(ctx, 1)
}

// WSDisconnected decrements the live connection gauge
func (m *BusinessMetrics) WSDisconnected(ctx context.Context) {
	m.wsConnections.Add(ctx, -1)
}
