package o11y

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot is a point-in-time copy of the in-memory metrics. Series are keyed by
// the metric name followed by its labels, e.g. `shellwire_queries_total{kind="close",status="ok"}`.
type MetricsSnapshot struct {
	Timestamp   time.Time            `json:"timestamp"`
	ServiceName string               `json:"service_name"`
	Counters    map[string]int64     `json:"counters"`
	Histograms  map[string][]float64 `json:"histograms"`
	Gauges      map[string]float64   `json:"gauges"`
}

// MemoryProvider keeps metrics in process memory. It backs the CLI's metrics dump and
// is handy in tests.
type MemoryProvider struct {
	serviceName string

	counters   sync.Map // map[string]*memoryCounter
	histograms sync.Map // map[string]*memoryHistogram
	gauges     sync.Map // map[string]*memoryGauge
}

// NewMemoryProvider creates an empty in-memory provider.
func NewMemoryProvider(serviceName string) *MemoryProvider {
	if serviceName == "" {
		serviceName = "unknown"
	}
	return &MemoryProvider{serviceName: serviceName}
}

func (m *MemoryProvider) Counter(name string) Counter {
	return &memoryCounter{name: name, provider: m}
}

func (m *MemoryProvider) Histogram(name string) Histogram {
	return &memoryHistogram{name: name, provider: m}
}

func (m *MemoryProvider) Gauge(name string) Gauge {
	return &memoryGauge{name: name, provider: m}
}

// CounterValue returns the current value of one counter series.
func (m *MemoryProvider) CounterValue(name string, labels ...Label) int64 {
	if v, ok := m.counters.Load(seriesKey(name, labels)); ok {
		return atomic.LoadInt64(v.(*int64))
	}
	return 0
}

// GaugeValue returns the current value of one gauge series.
func (m *MemoryProvider) GaugeValue(name string, labels ...Label) float64 {
	if v, ok := m.gauges.Load(seriesKey(name, labels)); ok {
		g := v.(*gaugeValue)
		g.mu.RLock()
		defer g.mu.RUnlock()
		return g.value
	}
	return 0
}

// Snapshot copies every series.
func (m *MemoryProvider) Snapshot() MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Timestamp:   time.Now(),
		ServiceName: m.serviceName,
		Counters:    make(map[string]int64),
		Histograms:  make(map[string][]float64),
		Gauges:      make(map[string]float64),
	}

	m.counters.Range(func(key, value any) bool {
		snapshot.Counters[key.(string)] = atomic.LoadInt64(value.(*int64))
		return true
	})

	m.histograms.Range(func(key, value any) bool {
		h := value.(*histogramValues)
		h.mu.RLock()
		values := make([]float64, len(h.values))
		copy(values, h.values)
		h.mu.RUnlock()
		snapshot.Histograms[key.(string)] = values
		return true
	})

	m.gauges.Range(func(key, value any) bool {
		g := value.(*gaugeValue)
		g.mu.RLock()
		snapshot.Gauges[key.(string)] = g.value
		g.mu.RUnlock()
		return true
	})

	return snapshot
}

type memoryCounter struct {
	name     string
	provider *MemoryProvider
}

func (c *memoryCounter) Add(ctx context.Context, value int64, labels ...Label) {
	actual, _ := c.provider.counters.LoadOrStore(seriesKey(c.name, labels), new(int64))
	atomic.AddInt64(actual.(*int64), value)
}

type histogramValues struct {
	mu     sync.RWMutex
	values []float64
}

type memoryHistogram struct {
	name     string
	provider *MemoryProvider
}

func (h *memoryHistogram) Record(ctx context.Context, value float64, labels ...Label) {
	actual, _ := h.provider.histograms.LoadOrStore(seriesKey(h.name, labels), &histogramValues{})
	hv := actual.(*histogramValues)
	hv.mu.Lock()
	hv.values = append(hv.values, value)
	hv.mu.Unlock()
}

type gaugeValue struct {
	mu    sync.RWMutex
	value float64
}

type memoryGauge struct {
	name     string
	provider *MemoryProvider
}

func (g *memoryGauge) Set(ctx context.Context, value float64, labels ...Label) {
	actual, _ := g.provider.gauges.LoadOrStore(seriesKey(g.name, labels), &gaugeValue{})
	gv := actual.(*gaugeValue)
	gv.mu.Lock()
	gv.value = value
	gv.mu.Unlock()
}

func seriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}
	sorted := make([]Label, len(labels))
	copy(sorted, labels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.Key)
		b.WriteString(`="`)
		b.WriteString(l.Value)
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
