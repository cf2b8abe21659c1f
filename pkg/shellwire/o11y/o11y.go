// Package o11y abstracts the metrics and tracing hooks used by the connection core,
// so that OpenTelemetry, Prometheus or the in-memory provider can be plugged in.
package o11y

import (
	"context"
)

// Config holds optional observability providers. A nil provider disables that signal.
type Config struct {
	MetricsProvider MetricsProvider
	TracingProvider TracingProvider
	ServiceName     string
	ServiceVersion  string
}

// MetricsProvider abstracts metrics collection
type MetricsProvider interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
	Gauge(name string) Gauge
}

// TracingProvider abstracts distributed tracing
type TracingProvider interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Counter represents a monotonically increasing metric
type Counter interface {
	Add(ctx context.Context, value int64, labels ...Label)
}

// Histogram records distribution of values
type Histogram interface {
	Record(ctx context.Context, value float64, labels ...Label)
}

// Gauge represents a value that can go up and down
type Gauge interface {
	Set(ctx context.Context, value float64, labels ...Label)
}

// Span represents a unit of work in a trace
type Span interface {
	SetAttributes(labels ...Label)
	SetStatus(code SpanStatusCode, description string)
	End()
}

// Label represents a key-value pair for metrics and tracing
type Label struct {
	Key   string
	Value string
}

// SpanStatusCode represents the status of a span
type SpanStatusCode int

const (
	SpanStatusUnset SpanStatusCode = iota
	SpanStatusOK
	SpanStatusError
)

// Instruments is the set of instruments the connection core records into. Every field
// may be nil when no metrics provider is configured; use the nil-safe helpers.
type Instruments struct {
	QueriesTotal     Counter
	QueryDuration    Histogram
	PendingRequests  Gauge
	PacketsTotal     Counter
	DispatchErrors   Counter
	BackgroundErrors Counter
}

// NewInstruments creates the standard instruments from provider, or an empty set if
// provider is nil.
func NewInstruments(provider MetricsProvider) *Instruments {
	if provider == nil {
		return &Instruments{}
	}
	return &Instruments{
		QueriesTotal:     provider.Counter("shellwire_queries_total"),
		QueryDuration:    provider.Histogram("shellwire_query_duration_seconds"),
		PendingRequests:  provider.Gauge("shellwire_pending_requests"),
		PacketsTotal:     provider.Counter("shellwire_packets_total"),
		DispatchErrors:   provider.Counter("shellwire_dispatch_errors_total"),
		BackgroundErrors: provider.Counter("shellwire_background_errors_total"),
	}
}

// Inc adds one to c if it is configured.
func Inc(ctx context.Context, c Counter, labels ...Label) {
	if c != nil {
		c.Add(ctx, 1, labels...)
	}
}

// Observe records v into h if it is configured.
func Observe(ctx context.Context, h Histogram, v float64, labels ...Label) {
	if h != nil {
		h.Record(ctx, v, labels...)
	}
}

// SetGauge sets g if it is configured.
func SetGauge(ctx context.Context, g Gauge, v float64, labels ...Label) {
	if g != nil {
		g.Set(ctx, v, labels...)
	}
}

// StartSpan starts a span if tracing is configured. The returned span is nil otherwise.
func StartSpan(ctx context.Context, provider TracingProvider, name string, labels ...Label) (context.Context, Span) {
	if provider == nil {
		return ctx, nil
	}
	ctx, span := provider.StartSpan(ctx, name)
	if len(labels) > 0 {
		span.SetAttributes(labels...)
	}
	return ctx, span
}

// EndSpan sets the status from err and ends span. It tolerates a nil span.
func EndSpan(span Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.SetStatus(SpanStatusError, err.Error())
	} else {
		span.SetStatus(SpanStatusOK, "")
	}
	span.End()
}
