// Package metrics provides a small in-process metrics collector that renders
// counters, gauges and histograms in Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Write renders every registered metric to w. Series are sorted by name so
// the output is stable between calls.
func (c *MetricsCollector) Write(w io.Writer) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP finrag_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE finrag_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "finrag_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	helpWritten := make(map[string]bool)
	for _, ctr := range sortedValues[*Counter](&c.counters) {
		if !helpWritten[ctr.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", ctr.name, ctr.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", ctr.name)
			helpWritten[ctr.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}

	helpWritten = make(map[string]bool)
	for _, g := range sortedValues[*Gauge](&c.gauges) {
		if !helpWritten[g.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", g.name, g.help)
			fmt.Fprintf(&sb, "# TYPE %s gauge\n", g.name)
			helpWritten[g.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}

	for _, h := range sortedValues[*Histogram](&c.histograms) {
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
		fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
		prefix := h.name + "_bucket{"
		if h.labels != "" {
			prefix += h.labels + ","
		}
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%sle=\"%s\"} %d\n", prefix, le, b.count)
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedValues[T any](m *sync.Map) []T {
	var keys []string
	values := make(map[string]T)
	m.Range(func(key, value any) bool {
		k := key.(string)
		keys = append(keys, k)
		values[k] = value.(T)
		return true
	})
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, values[k])
	}
	return out
}

// --- Pre-defined metrics used across the application ---

var (
	DocumentsIngested   = Collector.Counter("finrag_documents_ingested_total", "Total documents ingested", "")
	ChunksIndexed       = Collector.Counter("finrag_chunks_indexed_total", "Total chunks written to the index", "")
	EmbeddingRequests   = Collector.Counter("finrag_embedding_requests_total", "Total embedding API requests", "")
	EmbeddingFailures   = Collector.Counter("finrag_embedding_failures_total", "Total failed embedding API requests", "")
	EmbeddingCacheHits  = Collector.Counter("finrag_embedding_cache_hits_total", "Query embeddings served from cache", "")
	EmbeddingCacheMiss  = Collector.Counter("finrag_embedding_cache_misses_total", "Query embeddings not found in cache", "")
	RetrievalsTotal     = Collector.Counter("finrag_retrievals_total", "Total similarity searches", "")
	LLMRequestsTotal    = Collector.Counter("finrag_llm_requests_total", "Total LLM API requests", "")
	ToolExecutions      = Collector.Counter("finrag_tool_executions_total", "Total tool executions", "")
	ToolFailures        = Collector.Counter("finrag_tool_failures_total", "Total failed tool executions", "")
	TurnsTotal          = Collector.Counter("finrag_agent_turns_total", "Total agent turns started", "")
	IterationLimitHits  = Collector.Counter("finrag_agent_iteration_limit_total", "Turns stopped by the iteration limit", "")
	StreamEventsEmitted = Collector.Counter("finrag_stream_events_total", "Total events delivered by stream multiplexers", "")
	IndexChunks         = Collector.Gauge("finrag_index_chunks", "Chunks currently held by the open index", "")
	ActiveStreams       = Collector.Gauge("finrag_active_streams", "Streams currently being produced", "")

	LLMLatency = Collector.Histogram("finrag_llm_latency_seconds", "LLM request latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	ToolLatency = Collector.Histogram("finrag_tool_latency_seconds", "Tool execution latency in seconds", "",
		[]float64{0.1, 0.5, 1, 5, 10, 30})
	RetrievalLatency = Collector.Histogram("finrag_retrieval_latency_seconds", "Retrieval latency in seconds", "",
		[]float64{0.01, 0.05, 0.1, 0.5, 1, 5})
)
