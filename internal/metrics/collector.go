// Package metrics provides a small Prometheus-compatible metrics collector
// rendered in the text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector.
var Collector = NewCollector()

// MetricsCollector aggregates counters, gauges and histograms keyed by name
// and label set.
type MetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
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

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func metricKey(name, labels string) string {
	return name + "{" + labels + "}"
}

// Counter returns the counter for name and labels, creating it on first use.
// labels is the rendered label set, e.g. `verb="get"`.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := metricKey(name, labels)
	c.mu.RLock()
	ctr, ok := c.counters[key]
	c.mu.RUnlock()
	if ok {
		return ctr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr = &Counter{name: name, help: help, labels: labels}
	c.counters[key] = ctr
	return ctr
}

// Gauge returns the gauge for name and labels, creating it on first use.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: labels}
	c.gauges[key] = g
	return g
}

// Histogram returns the histogram for name and labels, creating it with
// bounds on first use.
func (c *MetricsCollector) Histogram(name, help, labels string, bounds []float64) *Histogram {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[key]; ok {
		return h
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{name: name, help: help, labels: labels, bounds: sorted, buckets: make([]int64, len(sorted))}
	c.histograms[key] = h
	return h
}

// Handler serves the collector in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.Render(w)
	}
}

// Render writes every metric, sorted by name and label set.
func (c *MetricsCollector) Render(w io.Writer) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP quotesbot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE quotesbot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "quotesbot_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	c.mu.RLock()
	counters := sortedValues(c.counters)
	gauges := sortedValues(c.gauges)
	histograms := sortedValues(c.histograms)
	c.mu.RUnlock()

	lastName := ""
	for _, ctr := range counters {
		if ctr.name != lastName {
			writeHeader(&sb, ctr.name, ctr.help, "counter")
			lastName = ctr.name
		}
		fmt.Fprintf(&sb, "%s %d\n", series(ctr.name, ctr.labels), ctr.Value())
	}
	for _, g := range gauges {
		if g.name != lastName {
			writeHeader(&sb, g.name, g.help, "gauge")
			lastName = g.name
		}
		fmt.Fprintf(&sb, "%s %d\n", series(g.name, g.labels), g.Value())
	}
	for _, h := range histograms {
		if h.name != lastName {
			writeHeader(&sb, h.name, h.help, "histogram")
			lastName = h.name
		}
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			labels := `le="` + bound + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", labels), h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", series(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	io.WriteString(w, sb.String())
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]T, len(keys))
	for i, k := range keys {
		values[i] = m[k]
	}
	return values
}

// --- Metrics used across the bot ---

var (
	EventsReceived  = Collector.Counter("quotesbot_events_total", "Chat events received from transports", "")
	QuotesSubmitted = Collector.Counter("quotesbot_quotes_submitted_total", "Quotes submitted to the repository", "")
	QuotesRetrieved = Collector.Counter("quotesbot_quotes_retrieved_total", "Quotes posted into rooms", "")
	HandlersActive  = Collector.Gauge("quotesbot_handlers_active", "Command handlers currently running", "")

	PipelineLatency = Collector.Histogram("quotesbot_pipeline_latency_seconds", "Submit and retrieve pipeline latency in seconds", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, math.Inf(1)})
)

// Commands returns the counter of dispatched commands for verb.
func Commands(verb string) *Counter {
	return Collector.Counter("quotesbot_commands_total", "Commands dispatched by verb", `verb="`+verb+`"`)
}

// Failures returns the counter of failed commands for an error kind.
func Failures(kind string) *Counter {
	return Collector.Counter("quotesbot_command_failures_total", "Failed commands by error kind", `kind="`+kind+`"`)
}
