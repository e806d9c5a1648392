package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_counter_total", "test counter")

	if c.Value() != 0 {
		t.Errorf("Expected 0, got %d", c.Value())
	}

	c.Inc()
	c.Add(4)

	if c.Value() != 5 {
		t.Errorf("Expected 5, got %d", c.Value())
	}

	out := c.prometheus()
	if !strings.Contains(out, "# TYPE test_counter_total counter") {
		t.Errorf("Missing TYPE line: %q", out)
	}
	if !strings.Contains(out, "test_counter_total 5") {
		t.Errorf("Missing value line: %q", out)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "test gauge")

	g.Set(10)
	g.Inc()
	g.Dec()
	g.Add(-3)

	if g.Value() != 7 {
		t.Errorf("Expected 7, got %d", g.Value())
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_latency_seconds", "test histogram", []float64{0.1, 1, 10})

	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)
	h.Observe(50)

	if h.Count() != 4 {
		t.Errorf("Expected count 4, got %d", h.Count())
	}
	if h.Sum() != 55.55 {
		t.Errorf("Expected sum 55.55, got %g", h.Sum())
	}

	out := h.prometheus()
	if !strings.Contains(out, `test_latency_seconds_bucket{le="0.1"} 1`) {
		t.Errorf("Wrong 0.1 bucket: %q", out)
	}
	if !strings.Contains(out, `test_latency_seconds_bucket{le="1"} 2`) {
		t.Errorf("Wrong 1 bucket: %q", out)
	}
	if !strings.Contains(out, `test_latency_seconds_bucket{le="+Inf"} 4`) {
		t.Errorf("Wrong +Inf bucket: %q", out)
	}
}

func TestHandlerExposesDefaults(t *testing.T) {
	SessionsCreated.Inc()
	PoolsTotal.Set(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "mcpool_sessions_created_total") {
		t.Error("Missing sessions created counter in exposition")
	}
	if !strings.Contains(body, "mcpool_pools_total 3") {
		t.Error("Missing pools total gauge in exposition")
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Unexpected content type %q", ct)
	}
}
