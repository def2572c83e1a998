// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for relaybot. It outputs text/plain in Prometheus exposition
// format without requiring the heavy prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms. All series
// are registered once at package init; the mutex only guards registration
// and the scrape walk.
type MetricsCollector struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
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
func (c *Counter) Add(n int64)  { c.value.Add(n) }
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

// Histogram tracks the distribution of observed values across fixed buckets.
type Histogram struct {
	name   string
	help   string
	labels string

	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records a value in the histogram.
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

func seriesKey(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns or creates a counter series.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := seriesKey(name, labels)
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	c.counters[key] = ctr
	return ctr
}

// Gauge returns or creates a gauge series.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := seriesKey(name, labels)
	if g, ok := c.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: labels}
	c.gauges[key] = g
	return g
}

// Histogram returns or creates a histogram series with the given bucket
// upper bounds.
func (c *MetricsCollector) Histogram(name, help, labels string, bounds []float64) *Histogram {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := seriesKey(name, labels)
	if h, ok := c.histograms[key]; ok {
		return h
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		bounds:  sorted,
		buckets: make([]int64, len(sorted)),
	}
	c.histograms[key] = h
	return h
}

// Handler renders the registry in Prometheus text format. Series are walked
// in sorted key order so scrapes are deterministic.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP relaybot_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE relaybot_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "relaybot_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

		c.mu.Lock()
		defer c.mu.Unlock()

		helpSeen := make(map[string]bool)
		for _, key := range sortedKeys(c.counters) {
			ctr := c.counters[key]
			writeHeader(&sb, helpSeen, ctr.name, ctr.help, "counter")
			writeSample(&sb, ctr.name, ctr.labels, fmt.Sprintf("%d", ctr.Value()))
		}
		for _, key := range sortedKeys(c.gauges) {
			g := c.gauges[key]
			writeHeader(&sb, helpSeen, g.name, g.help, "gauge")
			writeSample(&sb, g.name, g.labels, fmt.Sprintf("%d", g.Value()))
		}
		for _, key := range sortedKeys(c.histograms) {
			h := c.histograms[key]
			writeHeader(&sb, helpSeen, h.name, h.help, "histogram")
			h.render(&sb)
		}

		fmt.Fprint(w, sb.String())
	}
}

func (h *Histogram) render(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, le := range h.bounds {
		bound := fmt.Sprintf("%g", le)
		if math.IsInf(le, 1) {
			bound = "+Inf"
		}
		labels := fmt.Sprintf("le=%q", bound)
		if h.labels != "" {
			labels = h.labels + "," + labels
		}
		writeSample(sb, h.name+"_bucket", labels, fmt.Sprintf("%d", h.buckets[i]))
	}
	writeSample(sb, h.name+"_count", h.labels, fmt.Sprintf("%d", h.count))
	writeSample(sb, h.name+"_sum", h.labels, fmt.Sprintf("%f", h.sum))
}

func writeHeader(sb *strings.Builder, seen map[string]bool, name, help, kind string) {
	if seen[name] {
		return
	}
	seen[name] = true
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
}

func writeSample(sb *strings.Builder, name, labels, value string) {
	if labels != "" {
		fmt.Fprintf(sb, "%s{%s} %s\n", name, labels, value)
	} else {
		fmt.Fprintf(sb, "%s %s\n", name, value)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Pre-defined metrics used across the pipeline ---

var (
	PayloadsTotal       = Collector.Counter("relaybot_webhook_payloads_total", "Total webhook payloads received", "")
	UnrecognizedTotal   = Collector.Counter("relaybot_unrecognized_total", "Inbound events with no identifiable message", "")
	DuplicatesTotal     = Collector.Counter("relaybot_duplicates_total", "Inbound messages suppressed as duplicates", "")
	GroupsFlushedTotal  = Collector.Counter("relaybot_groups_flushed_total", "Pending groups flushed to the responder", "")
	GateBlockedTotal    = Collector.Counter("relaybot_gate_blocked_total", "Turns skipped because the bot is disabled", "")
	GateDegradedTotal   = Collector.Counter("relaybot_gate_degraded_total", "Gate decisions made in fail-open degraded mode", "")
	ResponderFallbacks  = Collector.Counter("relaybot_responder_fallbacks_total", "Canned fallback replies after responder failure", "")
	SendsTotal          = Collector.Counter("relaybot_sends_total", "Delivered sends", "result=\"delivered\"")
	SendsSimulatedTotal = Collector.Counter("relaybot_sends_total", "Simulated sends (no credentials)", "result=\"simulated\"")
	SendsFailedTotal    = Collector.Counter("relaybot_sends_total", "Failed sends after retries", "result=\"failed\"")
	AlertsFiredTotal    = Collector.Counter("relaybot_alerts_fired_total", "Operator alerts dispatched", "")
	AlertsSuppressed    = Collector.Counter("relaybot_alerts_suppressed_total", "Operator alerts suppressed by the dedup cache", "")
	PendingGroups       = Collector.Gauge("relaybot_pending_groups", "Conversations with an unflushed message group", "")

	ResponderLatency = Collector.Histogram("relaybot_responder_latency_seconds", "AI responder latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60})
)
