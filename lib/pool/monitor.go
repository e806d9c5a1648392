package pool

import (
	"context"
	"time"

	"github.com/go-mcpgw/mcpool/lib/metrics"
	"github.com/go-mcpgw/mcpool/lib/session"
)

// Auto-scaler watermarks: grow when utilization is above the high water
// mark, shrink when below the low water mark, at most scaleStep sessions
// per rebalance cycle.
const (
	highWaterMark = 0.8
	lowWaterMark  = 0.3
	scaleStep     = 2
)

// monitorLoop runs the periodic health check and auto-scale passes until
// the pool is closed.
func (p *Pool) monitorLoop() {
	defer close(p.monitorDone)

	healthTicker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer healthTicker.Stop()
	rebalanceTicker := time.NewTicker(p.cfg.RebalanceInterval)
	defer rebalanceTicker.Stop()

	for {
		select {
		case <-p.stopMonitor:
			return
		case <-healthTicker.C:
			p.runHealthCheck()
		case <-rebalanceTicker.C:
			p.runRebalance()
		}
	}
}

// runHealthCheck evicts idle and expired sessions and tops the pool back
// up to min size. Factory failures here are absorbed; the pool stays short
// until the next cycle.
func (p *Pool) runHealthCheck() {
	p.mu.Lock()
	if p.closed || p.draining || !p.cfg.Enabled {
		p.mu.Unlock()
		return
	}
	p.lastHealthCheck = time.Now()

	var victims []*session.Session
	kept := p.available[:0]
	for _, s := range p.available {
		if s.IdleTime() > p.cfg.MaxIdleTime {
			victims = append(victims, s)
			continue
		}
		if p.cfg.MaxLifetime > 0 && s.Age() > p.cfg.MaxLifetime {
			victims = append(victims, s)
			continue
		}
		kept = append(kept, s)
	}
	p.available = kept
	for _, s := range victims {
		s.SetState(session.StateDead)
		delete(p.sessions, s.ID())
	}

	// When auto-scale owns sizing, min-size replenishment is left to the
	// rebalance pass.
	shortfall := 0
	if !p.cfg.AutoScale && len(p.sessions)+p.creating < p.cfg.MinSize {
		shortfall = p.cfg.MinSize - len(p.sessions) - p.creating
		p.creating += shortfall
	}

	health := p.healthLocked()
	p.mu.Unlock()

	for _, s := range victims {
		p.destroyHandle(s.Handle())
		metrics.SessionsEvicted.Inc()
	}
	if len(victims) > 0 {
		log.WithField("target", p.target).
			WithField("evicted", len(victims)).
			Debug("health check evicted sessions")
	}
	if health != Healthy {
		log.WithField("target", p.target).WithField("health", string(health)).
			Debug("pool health below threshold")
	}

	if shortfall > 0 {
		p.replenish(shortfall)
	}
}

// runRebalance grows or shrinks the pool based on utilization.
func (p *Pool) runRebalance() {
	p.mu.Lock()
	if p.closed || p.draining || !p.cfg.Enabled || !p.cfg.AutoScale {
		p.mu.Unlock()
		return
	}
	p.lastRebalance = time.Now()

	total := len(p.sessions)
	active := 0
	for _, s := range p.sessions {
		if s.State() == session.StateActive {
			active++
		}
	}

	// A pool below min size always grows back regardless of utilization.
	if total+p.creating < p.cfg.MinSize {
		grow := p.cfg.MinSize - total - p.creating
		p.creating += grow
		p.mu.Unlock()
		p.replenish(grow)
		return
	}

	if total == 0 {
		p.mu.Unlock()
		return
	}
	utilization := float64(active) / float64(total)

	switch {
	case utilization > highWaterMark && total+p.creating < p.cfg.MaxSize:
		grow := min(scaleStep, p.cfg.MaxSize-total-p.creating)
		p.creating += grow
		p.mu.Unlock()

		metrics.ScaleUpEvents.Inc()
		log.WithField("target", p.target).
			WithField("utilization", utilization).
			WithField("grow", grow).
			Debug("scaling up")
		p.replenish(grow)

	case utilization < lowWaterMark && total > p.cfg.MinSize:
		shrink := min(scaleStep, total-p.cfg.MinSize)
		var victims []*session.Session
		for shrink > 0 && len(p.available) > 0 {
			s := p.available[0]
			p.available = p.available[1:]
			s.SetState(session.StateDead)
			delete(p.sessions, s.ID())
			victims = append(victims, s)
			shrink--
		}
		p.mu.Unlock()

		if len(victims) > 0 {
			metrics.ScaleDownEvents.Inc()
			log.WithField("target", p.target).
				WithField("utilization", utilization).
				WithField("shrink", len(victims)).
				Debug("scaling down")
		}
		for _, s := range victims {
			p.destroyHandle(s.Handle())
		}

	default:
		p.mu.Unlock()
	}
}

// replenish creates n sessions whose creation slots are already reserved
// in p.creating. Failures are absorbed and release the reserved slots.
func (p *Pool) replenish(n int) {
	for i := 0; i < n; i++ {
		handle, err := p.createHandle(context.Background())
		p.mu.Lock()
		p.creating--
		if err != nil {
			// Give back the remaining reserved slots and stop.
			p.creating -= n - i - 1
			p.mu.Unlock()
			log.WithError(err).WithField("target", p.target).Debug("replenish failed")
			return
		}
		if p.closed || p.draining {
			p.creating -= n - i - 1
			p.mu.Unlock()
			p.destroyHandle(handle)
			return
		}
		s := session.New(handle)
		p.sessions[s.ID()] = s
		p.available = append(p.available, s)
		p.cond.Signal()
		p.mu.Unlock()
		metrics.SessionsCreated.Inc()
	}
}
