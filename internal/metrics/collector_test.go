package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	c := NewMetricsCollector()

	ctr := c.Counter("test_events_total", "Test events", "")
	ctr.Inc()
	ctr.Add(2)
	if ctr.Value() != 3 {
		t.Errorf("expected 3, got %d", ctr.Value())
	}

	g := c.Gauge("test_pending", "Test pending", "")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Errorf("expected 1, got %d", g.Value())
	}

	// Re-registering the same series returns the same instance.
	if c.Counter("test_events_total", "Test events", "") != ctr {
		t.Error("expected same counter instance")
	}
}

func TestHistogramBuckets(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("test_latency_seconds", "Test latency", "", []float64{1, 5})

	h.Observe(0.5)
	h.Observe(3)
	h.Observe(10)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count != 3 {
		t.Errorf("expected count 3, got %d", h.count)
	}
	if h.buckets[0] != 1 || h.buckets[1] != 2 {
		t.Errorf("unexpected bucket counts: %v", h.buckets)
	}
}

func TestHandlerOutput(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("test_sends_total", "Sends", "result=\"delivered\"").Add(7)
	c.Gauge("test_pending", "Pending", "").Set(2)

	rw := httptest.NewRecorder()
	c.Handler()(rw, httptest.NewRequest("GET", "/metrics", nil))

	body := rw.Body.String()
	for _, want := range []string{
		"# TYPE test_sends_total counter",
		`test_sends_total{result="delivered"} 7`,
		"# TYPE test_pending gauge",
		"test_pending 2",
		"relaybot_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q:\n%s", want, body)
		}
	}
	if got := rw.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("unexpected content type %q", got)
	}
}
