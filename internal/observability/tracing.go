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
			attribute.String("db.system", "sqlite"),
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

// SyncMetrics holds the engine's domain metrics
type SyncMetrics struct {
	cycleDuration  metric.Float64Histogram
	cycleCount     metric.Int64Counter
	opsAcked       metric.Int64Counter
	opsRejected    metric.Int64Counter
	changesPulled  metric.Int64Counter
	pagesPulled    metric.Int64Counter
	conflictCount  metric.Int64Counter
	pendingJournal metric.Int64UpDownCounter
}

// NewSyncMetrics creates the engine's metric instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	cycleDuration, err := meter.Float64Histogram(
		"sync.cycle.duration",
		metric.WithDescription("Sync cycle duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cycleCount, err := meter.Int64Counter(
		"sync.cycle.count",
		metric.WithDescription("Total number of sync cycles"),
		metric.WithUnit("{cycles}"),
	)
	if err != nil {
		return nil, err
	}

	opsAcked, err := meter.Int64Counter(
		"sync.push.acknowledged",
		metric.WithDescription("Operations acknowledged by the server"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	opsRejected, err := meter.Int64Counter(
		"sync.push.rejected",
		metric.WithDescription("Operations rejected by the server"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	changesPulled, err := meter.Int64Counter(
		"sync.pull.changes",
		metric.WithDescription("Remote changes applied locally"),
		metric.WithUnit("{changes}"),
	)
	if err != nil {
		return nil, err
	}

	pagesPulled, err := meter.Int64Counter(
		"sync.pull.pages",
		metric.WithDescription("Delta pages fetched from the server"),
		metric.WithUnit("{pages}"),
	)
	if err != nil {
		return nil, err
	}

	conflictCount, err := meter.Int64Counter(
		"sync.conflict.count",
		metric.WithDescription("Conflicts detected, by resolution outcome"),
		metric.WithUnit("{conflicts}"),
	)
	if err != nil {
		return nil, err
	}

	pendingJournal, err := meter.Int64UpDownCounter(
		"sync.journal.pending",
		metric.WithDescription("Net change in pending journal entries"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		cycleDuration:  cycleDuration,
		cycleCount:     cycleCount,
		opsAcked:       opsAcked,
		opsRejected:    opsRejected,
		changesPulled:  changesPulled,
		pagesPulled:    pagesPulled,
		conflictCount:  conflictCount,
		pendingJournal: pendingJournal,
	}, nil
}

// RecordCycle records a finished cycle
func (m *SyncMetrics) RecordCycle(ctx context.Context, durationMS int64, success bool) {
	attrs := []attribute.KeyValue{attribute.Bool("success", success)}
	m.cycleCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.cycleDuration.Record(ctx, float64(durationMS), metric.WithAttributes(attrs...))
}

// RecordPush records one settled push batch
func (m *SyncMetrics) RecordPush(ctx context.Context, acked, rejected int) {
	m.opsAcked.Add(ctx, int64(acked))
	m.opsRejected.Add(ctx, int64(rejected))
	m.pendingJournal.Add(ctx, -int64(acked))
}

// RecordPull records one completed pull pass
func (m *SyncMetrics) RecordPull(ctx context.Context, changes, pages int) {
	m.changesPulled.Add(ctx, int64(changes))
	m.pagesPulled.Add(ctx, int64(pages))
}

// RecordConflict records a resolved conflict by outcome
func (m *SyncMetrics) RecordConflict(ctx context.Context, outcome string) {
	m.conflictCount.Add(ctx, 1, metric.WithAttributes(attribute.String("conflict.outcome", outcome)))
}

// RecordEnqueue records a newly journaled local change
func (m *SyncMetrics) RecordEnqueue(ctx context.Context) {
	m.pendingJournal.Add(ctx, 1)
}
