// Package metrics provides simple metrics collection for mcpool.
// Supports Prometheus exposition format for monitoring integration.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLatencyBuckets are histogram buckets suited to session acquisition
// and backend response latencies, in seconds.
var DefaultLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Counter is a monotonically increasing counter.
type Counter struct {
	value uint64
	name  string
	help  string
}

// NewCounter creates a new counter metric.
func NewCounter(name, help string) *Counter {
	c := &Counter{
		name: name,
		help: help,
	}
	defaultRegistry.register(c)
	return c
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	atomic.AddUint64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.value)
}

func (c *Counter) prometheus() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", c.name, c.help))
	sb.WriteString(fmt.Sprintf("# TYPE %s counter\n", c.name))
	sb.WriteString(fmt.Sprintf("%s %d\n", c.name, c.Value()))
	return sb.String()
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value int64
	name  string
	help  string
}

// NewGauge creates a new gauge metric.
func NewGauge(name, help string) *Gauge {
	g := &Gauge{
		name: name,
		help: help,
	}
	defaultRegistry.register(g)
	return g
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v int64) {
	atomic.AddInt64(&g.value, v)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

func (g *Gauge) prometheus() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", g.name, g.help))
	sb.WriteString(fmt.Sprintf("# TYPE %s gauge\n", g.name))
	sb.WriteString(fmt.Sprintf("%s %d\n", g.name, g.Value()))
	return sb.String()
}

// Histogram tracks the distribution of values.
type Histogram struct {
	mu      sync.Mutex
	name    string
	help    string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// NewHistogram creates a new histogram metric.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	h := &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	defaultRegistry.register(h)
	return h
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of all observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

func (h *Histogram) prometheus() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# HELP %s %s\n", h.name, h.help))
	sb.WriteString(fmt.Sprintf("# TYPE %s histogram\n", h.name))

	for i, b := range h.buckets {
		sb.WriteString(fmt.Sprintf("%s_bucket{le=\"%g\"} %d\n", h.name, b, h.counts[i]))
	}
	sb.WriteString(fmt.Sprintf("%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count))
	sb.WriteString(fmt.Sprintf("%s_sum %g\n", h.name, h.sum))
	sb.WriteString(fmt.Sprintf("%s_count %d\n", h.name, h.count))

	return sb.String()
}

// metric is the interface for all metric types.
type metric interface {
	prometheus() string
}

// Registry holds all registered metrics.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
}

// defaultRegistry is the global metric registry.
var defaultRegistry = &Registry{
	metrics: make(map[string]metric),
}

func (r *Registry) register(m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch v := m.(type) {
	case *Counter:
		r.metrics[v.name] = m
	case *Gauge:
		r.metrics[v.name] = m
	case *Histogram:
		r.metrics[v.name] = m
	}
}

// Expose returns all metrics in Prometheus exposition format.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Sort names for consistent output
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(r.metrics[name].prometheus())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Handler returns an http.Handler that exposes metrics.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(defaultRegistry.Expose()))
	})
}

// Default metrics for mcpool
var (
	// Registry-level metrics
	PoolsTotal     = NewGauge("mcpool_pools_total", "Total number of managed session pools")
	PoolsHealthy   = NewGauge("mcpool_pools_healthy", "Number of pools reporting healthy status")
	PoolsDegraded  = NewGauge("mcpool_pools_degraded", "Number of pools reporting degraded status")
	PoolsUnhealthy = NewGauge("mcpool_pools_unhealthy", "Number of pools reporting unhealthy status")

	// Session lifecycle metrics
	SessionsCreated   = NewCounter("mcpool_sessions_created_total", "Total backend sessions created")
	SessionsDestroyed = NewCounter("mcpool_sessions_destroyed_total", "Total backend sessions destroyed")
	SessionsEvicted   = NewCounter("mcpool_sessions_evicted_total", "Total sessions evicted for exceeding idle or lifetime limits")

	// Control operation metrics
	DrainOperations    = NewCounter("mcpool_drain_operations_total", "Total pool drain operations")
	ResizeOperations   = NewCounter("mcpool_resize_operations_total", "Total pool resize operations")
	ResetOperations    = NewCounter("mcpool_reset_operations_total", "Total pool reset operations")
	OptimizeOperations = NewCounter("mcpool_optimize_operations_total", "Total pool optimize operations")
	StrategySwitches   = NewCounter("mcpool_strategy_switches_total", "Total strategy changes applied by optimize or reconfiguration")

	// Auto-scaler metrics
	ScaleUpEvents   = NewCounter("mcpool_scale_up_events_total", "Total auto-scaler grow events")
	ScaleDownEvents = NewCounter("mcpool_scale_down_events_total", "Total auto-scaler shrink events")

	// Rate limiting
	RateLimitRejections = NewCounter("mcpool_ratelimit_rejections_total", "Total admin requests rejected by rate limiting")

	// Uptime
	StartTime = NewGauge("mcpool_start_time_seconds", "Unix timestamp when the daemon started")
)

// RecordStartTime records the current time as the start time.
func RecordStartTime() {
	StartTime.Set(time.Now().Unix())
}
