package pool

import (
	"time"

	"github.com/go-mcpgw/mcpool/lib/session"
	"github.com/go-mcpgw/mcpool/lib/strategy"
)

// HealthStatus classifies a pool's recent success rate.
type HealthStatus string

const (
	// Healthy means the success rate is at or above the configured threshold.
	Healthy HealthStatus = "healthy"
	// Degraded means the success rate fell below the threshold.
	Degraded HealthStatus = "degraded"
	// Unhealthy means the success rate fell below half the threshold.
	Unhealthy HealthStatus = "unhealthy"
)

// Stats is a point-in-time snapshot of pool state, recomputed on demand.
type Stats struct {
	Target             string        `json:"target"`
	TotalSessions      int           `json:"total_sessions"`
	ActiveSessions     int           `json:"active_sessions"`
	AvailableSessions  int           `json:"available_sessions"`
	DrainingSessions   int           `json:"draining_sessions"`
	TotalRequests      uint64        `json:"total_requests"`
	SuccessfulRequests uint64        `json:"successful_requests"`
	FailedRequests     uint64        `json:"failed_requests"`
	SuccessRate        float64       `json:"success_rate"`
	AvgResponseTimeMs  float64       `json:"avg_response_time_ms"`
	Utilization        float64       `json:"utilization"`
	HealthStatus       HealthStatus  `json:"health_status"`
	CurrentStrategy    strategy.Kind `json:"current_strategy"`
	Draining           bool          `json:"draining"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	var active, draining int
	for _, s := range p.sessions {
		switch s.State() {
		case session.StateActive:
			active++
		case session.StateDraining:
			draining++
		}
	}

	total := len(p.sessions)
	st := Stats{
		Target:             p.target,
		TotalSessions:      total,
		ActiveSessions:     active,
		AvailableSessions:  len(p.available),
		DrainingSessions:   draining,
		TotalRequests:      p.totalRequests,
		SuccessfulRequests: p.successfulRequests,
		FailedRequests:     p.failedRequests,
		SuccessRate:        p.successRateLocked(),
		CurrentStrategy:    p.strat.Kind(),
		Draining:           p.draining,
	}
	if p.totalRequests > 0 {
		st.AvgResponseTimeMs = float64(p.totalResponseTime.Milliseconds()) / float64(p.totalRequests)
	}
	if total > 0 {
		st.Utilization = float64(active) / float64(total)
	}
	st.HealthStatus = p.healthLocked()
	return st
}

// successRateLocked computes the cumulative success rate, 0 when no
// requests have been recorded yet.
func (p *Pool) successRateLocked() float64 {
	if p.totalRequests == 0 {
		return 0
	}
	return float64(p.successfulRequests) / float64(p.totalRequests)
}

// healthLocked classifies the pool from its success rate. A pool with no
// recorded requests is healthy; otherwise it falls to unhealthy below half
// the configured threshold.
func (p *Pool) healthLocked() HealthStatus {
	if p.totalRequests == 0 {
		return Healthy
	}
	rate := p.successRateLocked()
	switch {
	case rate < p.cfg.HealthCheckThreshold/2:
		return Unhealthy
	case rate < p.cfg.HealthCheckThreshold:
		return Degraded
	default:
		return Healthy
	}
}

// strategyMetricsLocked builds the inputs for strategy recommendation.
func (p *Pool) strategyMetricsLocked() strategy.Metrics {
	m := strategy.Metrics{}
	if p.totalRequests > 0 {
		m.FailureRate = float64(p.failedRequests) / float64(p.totalRequests)
		m.AvgResponseTime = p.totalResponseTime / time.Duration(p.totalRequests)
	}
	if p.totalAcquires > 0 {
		m.AffinityRate = float64(p.affinityAcquires) / float64(p.totalAcquires)
	}
	return m
}

// Sessions returns summaries of every live session for admin listings.
func (p *Pool) Sessions() []session.Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]session.Summary, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s.Summarize())
	}
	return out
}
