package pool

import (
	"context"
	"fmt"

	"github.com/go-mcpgw/mcpool/lib/config"
	apperrors "github.com/go-mcpgw/mcpool/lib/errors"
	"github.com/go-mcpgw/mcpool/lib/metrics"
	"github.com/go-mcpgw/mcpool/lib/session"
	"github.com/go-mcpgw/mcpool/lib/strategy"
)

// DrainResult reports what a drain affected.
type DrainResult struct {
	// Destroyed is the number of idle sessions destroyed immediately.
	Destroyed int `json:"destroyed"`
	// Draining is the number of active sessions that will be destroyed
	// when their current callers release them.
	Draining int `json:"draining"`
}

// Drain stops the pool from accepting new work. Idle sessions are destroyed
// immediately; active sessions are marked draining and die on release.
// The flag takes effect atomically with respect to new acquires: no acquire
// started after Drain returns can complete against a live session. The pool
// stays drained until Reset or a configuration update re-enables it.
func (p *Pool) Drain() (DrainResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return DrainResult{}, apperrors.ErrPoolClosed
	}

	p.draining = true

	idle := p.available
	p.available = nil
	for _, s := range idle {
		s.SetState(session.StateDead)
		delete(p.sessions, s.ID())
	}

	var active int
	for _, s := range p.sessions {
		if s.State() == session.StateActive {
			s.SetState(session.StateDraining)
			active++
		}
	}

	// Wake waiters so they fail fast instead of timing out.
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, s := range idle {
		p.destroyHandle(s.Handle())
	}

	metrics.DrainOperations.Inc()
	log.WithField("target", p.target).
		WithField("destroyed", len(idle)).
		WithField("draining", active).
		Debug("pool draining")
	return DrainResult{Destroyed: len(idle), Draining: active}, nil
}

// Resize grows or shrinks the pool toward newSize. The size must fall
// within [min_size, max_size]; out-of-range requests are rejected without
// any state change. Shrinking marks excess idle sessions for destruction
// and never forcibly kills sessions mid-use.
func (p *Pool) Resize(ctx context.Context, newSize int) (Stats, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Stats{}, apperrors.ErrPoolClosed
	}
	if p.draining {
		p.mu.Unlock()
		return Stats{}, p.drainingError()
	}
	if newSize < p.cfg.MinSize || newSize > p.cfg.MaxSize {
		p.mu.Unlock()
		return Stats{}, apperrors.Wrap(apperrors.CodeValidation,
			fmt.Sprintf("size %d outside [%d, %d]", newSize, p.cfg.MinSize, p.cfg.MaxSize),
			apperrors.ErrResizeOutOfRange)
	}

	p.cfg.TargetSize = newSize
	current := len(p.sessions) + p.creating

	switch {
	case newSize > current:
		grow := newSize - current
		p.creating += grow
		p.mu.Unlock()

		created := 0
		var createErr error
		for i := 0; i < grow; i++ {
			handle, err := p.createHandle(ctx)
			p.mu.Lock()
			p.creating--
			if err != nil {
				// Give back the slots reserved for the attempts not made.
				p.creating -= grow - i - 1
				p.mu.Unlock()
				createErr = err
				break
			}
			// The pool may have been drained or closed while the factory
			// call was in flight; pooling the session now would leak it.
			if p.closed || p.draining {
				p.creating -= grow - i - 1
				p.mu.Unlock()
				p.destroyHandle(handle)
				metrics.ResizeOperations.Inc()
				return p.Stats(), apperrors.Wrap(apperrors.CodePoolDraining,
					fmt.Sprintf("resize interrupted after %d of %d sessions", created, grow),
					apperrors.ErrPoolDraining)
			}
			s := session.New(handle)
			p.sessions[s.ID()] = s
			p.available = append(p.available, s)
			p.cond.Signal()
			p.mu.Unlock()
			metrics.SessionsCreated.Inc()
			created++
		}

		if createErr != nil {
			metrics.ResizeOperations.Inc()
			// Report how far the grow got rather than failing silently.
			return p.Stats(), apperrors.Wrap(apperrors.CodeFactoryFailure,
				fmt.Sprintf("resize created %d of %d sessions", created, grow),
				apperrors.Join(apperrors.ErrFactory, createErr))
		}

	case newSize < current:
		excess := current - newSize
		var victims []*session.Session
		for excess > 0 && len(p.available) > 0 {
			s := p.available[0]
			p.available = p.available[1:]
			s.SetState(session.StateDead)
			delete(p.sessions, s.ID())
			victims = append(victims, s)
			excess--
		}
		// Remaining excess is active; mark it to die on release.
		if excess > 0 {
			for _, s := range p.sessions {
				if excess == 0 {
					break
				}
				if s.State() == session.StateActive {
					s.SetState(session.StateDraining)
					excess--
				}
			}
		}
		p.mu.Unlock()

		for _, s := range victims {
			p.destroyHandle(s.Handle())
		}

	default:
		p.mu.Unlock()
	}

	metrics.ResizeOperations.Inc()
	log.WithField("target", p.target).WithField("size", newSize).Debug("pool resized")
	return p.Stats(), nil
}

// Reset forcibly destroys every session regardless of state, clears all
// counters and the draining flag, then repopulates to target size. This is
// the only operation that terminates active sessions.
func (p *Pool) Reset() (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, apperrors.ErrPoolClosed
	}

	victims := make([]*session.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		s.SetState(session.StateDead)
		victims = append(victims, s)
	}
	p.sessions = make(map[string]*session.Session)
	p.available = nil
	p.draining = false

	p.totalRequests = 0
	p.successfulRequests = 0
	p.failedRequests = 0
	p.totalResponseTime = 0
	p.totalAcquires = 0
	p.affinityAcquires = 0

	p.cond.Broadcast()
	enabled := p.cfg.Enabled
	p.mu.Unlock()

	for _, s := range victims {
		p.destroyHandle(s.Handle())
	}

	if enabled {
		p.warmUp()
	}

	metrics.ResetOperations.Inc()
	log.WithField("target", p.target).WithField("destroyed", len(victims)).Debug("pool reset")
	return len(victims), nil
}

// OptimizeResult reports a strategy recommendation.
type OptimizeResult struct {
	OldStrategy strategy.Kind `json:"old_strategy"`
	NewStrategy strategy.Kind `json:"new_strategy"`
	Applied     bool          `json:"applied"`
}

// Optimize inspects recent pool behavior and switches to the recommended
// strategy when it differs from the current one. The switch affects
// subsequent acquisitions only. Disabled pools are never optimized.
func (p *Pool) Optimize() (OptimizeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return OptimizeResult{}, apperrors.ErrPoolClosed
	}

	old := p.strat.Kind()
	if old == strategy.None {
		return OptimizeResult{OldStrategy: old, NewStrategy: old}, nil
	}

	rec := strategy.Recommend(p.strategyMetricsLocked())
	res := OptimizeResult{OldStrategy: old, NewStrategy: rec}
	if rec != old {
		p.strat = strategy.New(rec, p.cfg.MaxIdleTime)
		p.cfg.Strategy = string(rec)
		res.Applied = true
		metrics.StrategySwitches.Inc()
		log.WithField("target", p.target).
			WithField("old", old).
			WithField("new", rec).
			Debug("strategy switched")
	}
	metrics.OptimizeOperations.Inc()
	return res, nil
}

// Config returns a copy of the pool's current configuration.
func (p *Pool) Config() config.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// SetConfig applies a new configuration. The caller must have validated and
// normalized it. Reconfiguration clears the draining flag and rebuilds the
// strategy when it changed; live sessions are not torn down, the background
// monitor converges the pool toward the new bounds. The monitor's tickers
// are fixed at construction, so changed health check or rebalance intervals
// only take effect for pools created afterward.
func (p *Pool) SetConfig(cfg config.Pool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return apperrors.ErrPoolClosed
	}

	if cfg.Strategy != p.cfg.Strategy || cfg.MaxIdleTime != p.cfg.MaxIdleTime {
		p.strat = strategy.New(cfg.StrategyKind(), cfg.MaxIdleTime)
	}
	p.cfg = cfg
	p.draining = false
	p.cond.Broadcast()

	log.WithField("target", p.target).Debug("pool reconfigured")
	return nil
}
