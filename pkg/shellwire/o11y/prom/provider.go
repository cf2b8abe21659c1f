// Package prom exposes shellwire metrics through a Prometheus registry.
package prom

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
)

// Provider implements o11y.MetricsProvider. Label names are fixed by the first use of
// each metric, which is how the connection core uses them.
type Provider struct {
	registry  *prometheus.Registry
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewProvider creates a provider with its own registry, pre-loaded with the process
// and Go runtime collectors.
func NewProvider(namespace string) *Provider {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	return &Provider{
		registry:   r,
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// Registry returns the underlying registry.
func (p *Provider) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus text format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *Provider) Counter(name string) o11y.Counter {
	return &counter{provider: p, name: name}
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	return &histogram{provider: p, name: name}
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	return &gauge{provider: p, name: name}
}

func split(labels []o11y.Label) ([]string, prometheus.Labels) {
	names := make([]string, 0, len(labels))
	values := make(prometheus.Labels, len(labels))
	for _, l := range labels {
		names = append(names, l.Key)
		values[l.Key] = l.Value
	}
	sort.Strings(names)
	return names, values
}

func (p *Provider) counterVec(name string, labelNames []string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.counters[name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: p.namespace, Name: name}, labelNames)
	p.registry.MustRegister(vec)
	p.counters[name] = vec
	return vec
}

func (p *Provider) histogramVec(name string, labelNames []string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.histograms[name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: p.namespace, Name: name, Buckets: prometheus.DefBuckets}, labelNames)
	p.registry.MustRegister(vec)
	p.histograms[name] = vec
	return vec
}

func (p *Provider) gaugeVec(name string, labelNames []string) *prometheus.GaugeVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.gauges[name]; ok {
		return vec
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: p.namespace, Name: name}, labelNames)
	p.registry.MustRegister(vec)
	p.gauges[name] = vec
	return vec
}

type counter struct {
	provider *Provider
	name     string
}

func (c *counter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	names, values := split(labels)
	metric, err := c.provider.counterVec(c.name, names).GetMetricWith(values)
	if err != nil {
		return
	}
	metric.Add(float64(value))
}

type histogram struct {
	provider *Provider
	name     string
}

func (h *histogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	names, values := split(labels)
	metric, err := h.provider.histogramVec(h.name, names).GetMetricWith(values)
	if err != nil {
		return
	}
	metric.Observe(value)
}

type gauge struct {
	provider *Provider
	name     string
}

func (g *gauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	names, values := split(labels)
	metric, err := g.provider.gaugeVec(g.name, names).GetMetricWith(values)
	if err != nil {
		return
	}
	metric.Set(value)
}
