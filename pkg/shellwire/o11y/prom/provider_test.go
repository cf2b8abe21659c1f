package prom

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
)

func TestPrometheusProvider(t *testing.T) {
	ctx := context.Background()
	p := NewProvider("shellwire")

	c := p.Counter("queries_total")
	c.Add(ctx, 2, o11y.Label{Key: "kind", Value: "close"}, o11y.Label{Key: "status", Value: "ok"})
	c.Add(ctx, 1, o11y.Label{Key: "status", Value: "ok"}, o11y.Label{Key: "kind", Value: "close"})

	assert.Equal(t, 3.0, testutil.ToFloat64(p.counters["queries_total"].WithLabelValues("close", "ok")))

	p.Gauge("pending_requests").Set(ctx, 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(p.gauges["pending_requests"].WithLabelValues()))

	p.Histogram("query_duration_seconds").Record(ctx, 0.1, o11y.Label{Key: "kind", Value: "close"})

	t.Run("mismatched label sets are dropped, not panicking", func(t *testing.T) {
		assert.NotPanics(t, func() {
			c.Add(ctx, 1, o11y.Label{Key: "other", Value: "x"})
		})
	})

	t.Run("handler exposes the namespace", func(t *testing.T) {
		rec := httptest.NewRecorder()
		p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "shellwire_queries_total")
		assert.Contains(t, string(body), "shellwire_pending_requests 4")
	})
}
