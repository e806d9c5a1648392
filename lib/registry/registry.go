// Package registry maintains the target-to-pool mapping and exposes the
// administrative operations consumed by the admin API: configuration,
// stats, session listings, drain/resize/reset/optimize, and global health.
// Pools are created on demand, one per backend target.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-mcpgw/mcpool/lib/config"
	apperrors "github.com/go-mcpgw/mcpool/lib/errors"
	"github.com/go-mcpgw/mcpool/lib/metrics"
	"github.com/go-mcpgw/mcpool/lib/pool"
	"github.com/go-mcpgw/mcpool/lib/resilience"
	"github.com/go-mcpgw/mcpool/lib/session"
)

// MetricsSink receives periodic per-pool stats snapshots. Emit is
// fire-and-forget: implementations must not block, and failures never
// reach pool operations.
type MetricsSink interface {
	Emit(target string, stats pool.Stats)
}

// LogSink emits stats snapshots to the debug log.
type LogSink struct{}

// Emit implements MetricsSink.
func (LogSink) Emit(target string, stats pool.Stats) {
	log.WithField("target", target).
		WithField("total", stats.TotalSessions).
		WithField("active", stats.ActiveSessions).
		WithField("health", string(stats.HealthStatus)).
		Debug("pool stats")
}

// Config configures a Registry.
type Config struct {
	// Factory establishes backend sessions; required.
	Factory session.Factory
	// Store persists per-target pool configuration; nil disables persistence.
	Store config.Store
	// Sink receives periodic stats snapshots; nil falls back to LogSink.
	Sink MetricsSink
	// Defaults is applied to targets with no stored configuration.
	Defaults config.Pool
	// EmitInterval is how often stats are emitted; 0 disables emission.
	EmitInterval time.Duration
	// BreakerConfig, when set, guards each pool's session creation with a
	// circuit breaker.
	BreakerConfig *resilience.CircuitBreakerConfig
}

// Registry maps backend targets to their pools.
//
// The map lock is held only during pool creation and removal; acquire and
// release traffic goes through the per-pool lock instead.
type Registry struct {
	cfg Config

	mu    sync.RWMutex
	pools map[string]*pool.Pool

	stopEmit chan struct{}
	emitDone chan struct{}
}

// New creates a registry. The defaults are validated up front.
func New(cfg Config) (*Registry, error) {
	if err := cfg.Defaults.Validate(); err != nil {
		return nil, err
	}
	cfg.Defaults.Normalize()
	if cfg.Sink == nil {
		cfg.Sink = LogSink{}
	}

	r := &Registry{
		cfg:      cfg,
		pools:    make(map[string]*pool.Pool),
		stopEmit: make(chan struct{}),
		emitDone: make(chan struct{}),
	}

	if cfg.EmitInterval > 0 {
		go r.emitLoop()
	} else {
		close(r.emitDone)
	}

	return r, nil
}

// Pool returns the pool for a target, creating it on first reference from
// stored configuration or the registry defaults.
func (r *Registry) Pool(target string) (*pool.Pool, error) {
	r.mu.RLock()
	p, ok := r.pools[target]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[target]; ok {
		return p, nil
	}

	cfg, err := r.loadConfig(target)
	if err != nil {
		return nil, err
	}

	p = pool.New(target, cfg, r.cfg.Factory, r.poolOptions(target)...)
	r.pools[target] = p
	log.WithField("target", target).Debug("pool registered")
	return p, nil
}

// loadConfig resolves a target's configuration from the store, falling
// back to the registry defaults.
func (r *Registry) loadConfig(target string) (config.Pool, error) {
	if r.cfg.Store != nil {
		stored, err := r.cfg.Store.Load(target)
		if err != nil {
			return config.Pool{}, err
		}
		if stored != nil {
			return *stored, nil
		}
	}
	return r.cfg.Defaults, nil
}

func (r *Registry) poolOptions(target string) []pool.Option {
	if r.cfg.BreakerConfig == nil {
		return nil
	}
	cb := resilience.NewMetricsCircuitBreaker(target, *r.cfg.BreakerConfig)
	return []pool.Option{pool.WithBreaker(cb)}
}

// lookup returns an existing pool without creating one.
func (r *Registry) lookup(target string) (*pool.Pool, error) {
	r.mu.RLock()
	p, ok := r.pools[target]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.Wrap(apperrors.CodeNotFound,
			"no pool for target "+target, apperrors.ErrNotFound)
	}
	return p, nil
}

// Acquire checks out a session from the target's pool, creating the pool
// on first reference.
func (r *Registry) Acquire(ctx context.Context, target, affinityKey string) (*session.Session, error) {
	p, err := r.Pool(target)
	if err != nil {
		return nil, err
	}
	return p.Acquire(ctx, affinityKey)
}

// Release returns a session to the target's pool.
func (r *Registry) Release(target string, s *session.Session, o session.Outcome) error {
	p, err := r.lookup(target)
	if err != nil {
		return err
	}
	p.Release(s, o)
	return nil
}

// GetConfig returns the configuration of an existing pool.
func (r *Registry) GetConfig(target string) (config.Pool, error) {
	p, err := r.lookup(target)
	if err != nil {
		return config.Pool{}, err
	}
	return p.Config(), nil
}

// SetConfig validates, persists, and applies a configuration for a target.
// The pool is created when it does not exist yet. Invalid configurations
// are rejected with no state change.
func (r *Registry) SetConfig(target string, cfg config.Pool) (config.Pool, error) {
	if err := cfg.Validate(); err != nil {
		return config.Pool{}, err
	}
	cfg.Normalize()

	if r.cfg.Store != nil {
		if err := r.cfg.Store.Save(target, cfg); err != nil {
			return config.Pool{}, err
		}
	}

	r.mu.Lock()
	p, ok := r.pools[target]
	if !ok {
		p = pool.New(target, cfg, r.cfg.Factory, r.poolOptions(target)...)
		r.pools[target] = p
		r.mu.Unlock()
		return cfg, nil
	}
	r.mu.Unlock()

	if err := p.SetConfig(cfg); err != nil {
		return config.Pool{}, err
	}
	return cfg, nil
}

// GetStats returns current stats for an existing pool.
func (r *Registry) GetStats(target string) (pool.Stats, error) {
	p, err := r.lookup(target)
	if err != nil {
		return pool.Stats{}, err
	}
	return p.Stats(), nil
}

// ListSessions returns session summaries for an existing pool.
func (r *Registry) ListSessions(target string) ([]session.Summary, error) {
	p, err := r.lookup(target)
	if err != nil {
		return nil, err
	}
	return p.Sessions(), nil
}

// Drain stops a pool from accepting new work.
func (r *Registry) Drain(target string) (pool.DrainResult, error) {
	p, err := r.lookup(target)
	if err != nil {
		return pool.DrainResult{}, err
	}
	return p.Drain()
}

// Resize grows or shrinks a pool toward the new size.
func (r *Registry) Resize(ctx context.Context, target string, newSize int) (pool.Stats, error) {
	p, err := r.lookup(target)
	if err != nil {
		return pool.Stats{}, err
	}
	return p.Resize(ctx, newSize)
}

// Reset forcibly tears down and repopulates a pool.
func (r *Registry) Reset(target string) (int, error) {
	p, err := r.lookup(target)
	if err != nil {
		return 0, err
	}
	return p.Reset()
}

// Optimize switches a pool to its recommended strategy.
func (r *Registry) Optimize(target string) (pool.OptimizeResult, error) {
	p, err := r.lookup(target)
	if err != nil {
		return pool.OptimizeResult{}, err
	}
	return p.Optimize()
}

// GlobalHealth summarizes every pool plus an overall status, which is the
// worst status among the pools (healthy when there are none).
type GlobalHealth struct {
	Overall pool.HealthStatus `json:"overall"`
	Pools   []pool.Stats      `json:"pools"`
}

// Health returns per-pool summaries and the overall health.
func (r *Registry) Health() GlobalHealth {
	r.mu.RLock()
	pools := make([]*pool.Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.RUnlock()

	gh := GlobalHealth{Overall: pool.Healthy}
	for _, p := range pools {
		st := p.Stats()
		gh.Pools = append(gh.Pools, st)
		if worse(st.HealthStatus, gh.Overall) {
			gh.Overall = st.HealthStatus
		}
	}
	sort.Slice(gh.Pools, func(i, j int) bool { return gh.Pools[i].Target < gh.Pools[j].Target })
	return gh
}

func worse(a, b pool.HealthStatus) bool {
	return rank(a) > rank(b)
}

func rank(h pool.HealthStatus) int {
	switch h {
	case pool.Unhealthy:
		return 2
	case pool.Degraded:
		return 1
	default:
		return 0
	}
}

// Targets lists the targets with live pools, sorted.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pools))
	for target := range r.pools {
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// Remove tears down a target's pool and forgets it. All sessions are
// destroyed first.
func (r *Registry) Remove(target string) error {
	r.mu.Lock()
	p, ok := r.pools[target]
	if ok {
		delete(r.pools, target)
	}
	r.mu.Unlock()

	if !ok {
		return apperrors.Wrap(apperrors.CodeNotFound,
			"no pool for target "+target, apperrors.ErrNotFound)
	}
	log.WithField("target", target).Debug("pool removed")
	return p.Close()
}

// Close stops stats emission and closes every pool.
func (r *Registry) Close() error {
	select {
	case <-r.stopEmit:
	default:
		close(r.stopEmit)
	}
	<-r.emitDone

	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*pool.Pool)
	r.mu.Unlock()

	var errs []error
	for _, p := range pools {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return apperrors.Join(errs...)
}

// emitLoop periodically snapshots every pool, refreshes the global health
// gauges, and forwards the snapshots to the sink.
func (r *Registry) emitLoop() {
	defer close(r.emitDone)

	ticker := time.NewTicker(r.cfg.EmitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopEmit:
			return
		case <-ticker.C:
			r.emit()
		}
	}
}

func (r *Registry) emit() {
	gh := r.Health()

	var healthy, degraded, unhealthy int64
	for _, st := range gh.Pools {
		switch st.HealthStatus {
		case pool.Unhealthy:
			unhealthy++
		case pool.Degraded:
			degraded++
		default:
			healthy++
		}
		r.cfg.Sink.Emit(st.Target, st)
	}
	metrics.PoolsHealthy.Set(healthy)
	metrics.PoolsDegraded.Set(degraded)
	metrics.PoolsUnhealthy.Set(unhealthy)
}
