package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
)

// Without an SDK installed the global providers are no-ops; the adapters must still be
// safe to drive end to end.
func TestProviderWithGlobalNoop(t *testing.T) {
	ctx := context.Background()
	p := NewProvider("shellwire-test", "0.0.0")

	var _ o11y.MetricsProvider = p
	var _ o11y.TracingProvider = p

	assert.NotPanics(t, func() {
		instruments := o11y.NewInstruments(p)
		o11y.Inc(ctx, instruments.QueriesTotal, o11y.Label{Key: "kind", Value: "close"})
		o11y.Observe(ctx, instruments.QueryDuration, 0.25)
		o11y.SetGauge(ctx, instruments.PendingRequests, 3)
		o11y.SetGauge(ctx, instruments.PendingRequests, 1)

		spanCtx, span := o11y.StartSpan(ctx, p, "shellwire.query", o11y.Label{Key: "kind", Value: "close"})
		assert.NotNil(t, spanCtx)
		o11y.EndSpan(span, errors.New("boom"))
	})
}
