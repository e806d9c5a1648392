package resilience

import (
	"github.com/go-mcpgw/mcpool/lib/metrics"
)

// Circuit breaker metrics for Prometheus exposition.
var (
	// CircuitBreakerState tracks the current state of each circuit breaker.
	// 0 = closed, 1 = open, 2 = half-open
	CircuitBreakerState = metrics.NewGauge(
		"mcpool_circuit_breaker_state",
		"Current state of the circuit breaker (0=closed, 1=open, 2=half-open)",
	)

	// CircuitBreakerTrips counts the number of times circuits have opened.
	CircuitBreakerTrips = metrics.NewCounter(
		"mcpool_circuit_breaker_trips_total",
		"Total number of times circuit breakers have opened",
	)

	// CircuitBreakerRejections counts session creations rejected by open circuits.
	CircuitBreakerRejections = metrics.NewCounter(
		"mcpool_circuit_breaker_rejections_total",
		"Total session creation attempts rejected by open circuit breakers",
	)
)

// MetricsCallback creates a state change callback that updates metrics.
// Use this with SetStateChangeCallback to automatically track state transitions.
func MetricsCallback(from, to CircuitState) {
	CircuitBreakerState.Set(int64(to))
	if to == CircuitOpen {
		CircuitBreakerTrips.Inc()
	}
}

// NewMetricsCircuitBreaker creates a circuit breaker that automatically records metrics.
func NewMetricsCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := NewCircuitBreaker(name, cfg)
	cb.SetStateChangeCallback(MetricsCallback)
	return cb
}
