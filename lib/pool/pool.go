package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-mcpgw/mcpool/lib/config"
	apperrors "github.com/go-mcpgw/mcpool/lib/errors"
	"github.com/go-mcpgw/mcpool/lib/metrics"
	"github.com/go-mcpgw/mcpool/lib/resilience"
	"github.com/go-mcpgw/mcpool/lib/session"
	"github.com/go-mcpgw/mcpool/lib/strategy"
)

// Pool is a bounded session pool for one backend target.
//
// The session collection is the principal shared resource: every structural
// change (add, remove, state transition) happens under mu. Factory teardown
// runs outside the lock. The available slice is kept in release order, so
// its head is always the least recently released session.
type Pool struct {
	target  string
	factory session.Factory
	breaker *resilience.CircuitBreaker

	mu   sync.Mutex
	cond *sync.Cond

	cfg   config.Pool
	strat strategy.Strategy

	sessions  map[string]*session.Session
	available []*session.Session
	creating  int
	draining  bool
	closed    bool

	totalRequests      uint64
	successfulRequests uint64
	failedRequests     uint64
	totalResponseTime  time.Duration
	totalAcquires      uint64
	affinityAcquires   uint64

	lastHealthCheck time.Time
	lastRebalance   time.Time

	stopMonitor chan struct{}
	monitorDone chan struct{}
}

// Option configures optional pool behavior.
type Option func(*Pool)

// WithBreaker guards backend session creation with a circuit breaker.
// While the circuit is open, creation attempts fail fast.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Pool) { p.breaker = cb }
}

// New creates a pool for the given target and warms it up to the configured
// target size. The configuration must already be validated and normalized.
// Warm-up failures are absorbed; the pool simply starts short of target.
func New(target string, cfg config.Pool, factory session.Factory, opts ...Option) *Pool {
	p := &Pool{
		target:      target,
		factory:     factory,
		cfg:         cfg,
		strat:       strategy.New(cfg.StrategyKind(), cfg.MaxIdleTime),
		sessions:    make(map[string]*session.Session),
		stopMonitor: make(chan struct{}),
		monitorDone: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	for _, opt := range opts {
		opt(p)
	}

	if cfg.Enabled {
		p.warmUp()
	}

	go p.monitorLoop()

	metrics.PoolsTotal.Inc()
	log.WithField("target", target).
		WithField("strategy", cfg.Strategy).
		WithField("target_size", cfg.TargetSize).
		Debug("pool created")
	return p
}

// Target returns the backend target this pool serves.
func (p *Pool) Target() string { return p.target }

// warmUp populates the pool to target size with available sessions.
func (p *Pool) warmUp() {
	for i := 0; i < p.cfg.TargetSize; i++ {
		handle, err := p.createHandle(context.Background())
		if err != nil {
			log.WithError(err).WithField("target", p.target).Debug("warm-up session creation failed")
			return
		}
		s := session.New(handle)
		p.mu.Lock()
		p.sessions[s.ID()] = s
		p.available = append(p.available, s)
		p.mu.Unlock()
	}
}

// createHandle establishes one backend session, routed through the circuit
// breaker when configured. Never called while holding mu.
func (p *Pool) createHandle(ctx context.Context) (session.Handle, error) {
	if p.breaker != nil {
		if !p.breaker.Allow() {
			resilience.CircuitBreakerRejections.Inc()
			return nil, apperrors.Wrap(apperrors.CodeUnavailable,
				"session creation suspended for "+p.target, apperrors.ErrCircuitOpen)
		}
		handle, err := p.factory.Create(ctx, p.target)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.breaker.RecordFailure()
			}
			return nil, err
		}
		p.breaker.RecordSuccess()
		return handle, nil
	}
	return p.factory.Create(ctx, p.target)
}

// destroyHandle tears down a backend session asynchronously.
func (p *Pool) destroyHandle(handle session.Handle) {
	go func() {
		if err := p.factory.Destroy(handle); err != nil {
			log.WithError(err).WithField("target", p.target).Debug("session teardown failed")
		}
		metrics.SessionsDestroyed.Inc()
	}()
}

// Acquire checks out a session, blocking until one is available or the
// acquire timeout elapses. When pooling is disabled the factory is invoked
// for a single-use session instead.
//
// The affinity key is consulted only by the sticky strategy; pass "" when
// the caller has no affinity.
func (p *Pool) Acquire(ctx context.Context, affinityKey string) (*session.Session, error) {
	AcquireTotal.Inc()
	start := time.Now()

	// Use configured timeout if context has no deadline
	acquireCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	p.mu.Lock()

	p.totalAcquires++
	if affinityKey != "" {
		p.affinityAcquires++
	}

	if p.strat.Kind() == strategy.None {
		closed, draining := p.closed, p.draining
		p.mu.Unlock()
		if closed {
			AcquireRejections.Inc()
			return nil, apperrors.ErrPoolClosed
		}
		if draining {
			AcquireRejections.Inc()
			return nil, p.drainingError()
		}
		return p.acquireOneShot(acquireCtx)
	}

	for {
		if p.closed {
			p.mu.Unlock()
			AcquireRejections.Inc()
			return nil, apperrors.ErrPoolClosed
		}
		if p.draining {
			p.mu.Unlock()
			AcquireRejections.Inc()
			return nil, p.drainingError()
		}

		select {
		case <-acquireCtx.Done():
			p.mu.Unlock()
			if errors.Is(acquireCtx.Err(), context.DeadlineExceeded) {
				AcquireTimeouts.Inc()
				return nil, apperrors.Wrap(apperrors.CodeTimeout,
					"no session available within "+p.cfg.AcquireTimeout.String(),
					apperrors.ErrAcquireTimeout)
			}
			return nil, acquireCtx.Err()
		default:
		}

		if s := p.strat.Pick(p.available, affinityKey); s != nil {
			p.removeAvailableLocked(s)
			s.SetState(session.StateActive)
			s.Touch()

			if p.cfg.PrePing {
				if pinger, ok := p.factory.(session.Pinger); ok {
					// Probe outside the lock; a dead session is evicted
					// and the caller retries.
					p.mu.Unlock()
					if !pinger.Ping(s.Handle()) {
						PrePingFailures.Inc()
						metrics.SessionsEvicted.Inc()
						p.mu.Lock()
						p.removeSessionLocked(s)
						p.cond.Signal()
						p.mu.Unlock()
						p.destroyHandle(s.Handle())
						p.mu.Lock()
						continue
					}
					AcquireLatency.Observe(time.Since(start).Seconds())
					return s, nil
				}
			}
			p.mu.Unlock()
			AcquireLatency.Observe(time.Since(start).Seconds())
			return s, nil
		}

		// Grow if capacity remains, counting in-flight creations so the
		// bound is never exceeded by more than the one we start here.
		if len(p.sessions)+p.creating < p.cfg.MaxSize {
			p.creating++
			p.mu.Unlock()

			handle, err := p.createHandle(acquireCtx)

			p.mu.Lock()
			p.creating--
			if err != nil {
				p.cond.Signal()
				p.mu.Unlock()
				log.WithError(err).WithField("target", p.target).Debug("session creation failed")
				return nil, p.factoryError(err)
			}
			if p.closed || p.draining {
				closed := p.closed
				p.cond.Signal()
				p.mu.Unlock()
				p.destroyHandle(handle)
				AcquireRejections.Inc()
				if closed {
					return nil, apperrors.ErrPoolClosed
				}
				return nil, p.drainingError()
			}

			s := session.New(handle)
			s.SetState(session.StateActive)
			p.sessions[s.ID()] = s
			p.mu.Unlock()

			metrics.SessionsCreated.Inc()
			AcquireLatency.Observe(time.Since(start).Seconds())
			log.WithField("target", p.target).WithField("session", s.ID()).Debug("created new session")
			return s, nil
		}

		// Wait for a release to free capacity.
		p.waitWithContext(acquireCtx)
	}
}

// acquireOneShot creates a single-use session that is never pooled.
func (p *Pool) acquireOneShot(ctx context.Context) (*session.Session, error) {
	handle, err := p.createHandle(ctx)
	if err != nil {
		return nil, p.factoryError(err)
	}
	metrics.SessionsCreated.Inc()
	return session.NewOneShot(handle), nil
}

// drainingError builds the fail-fast error returned while draining.
func (p *Pool) drainingError() error {
	return apperrors.Wrap(apperrors.CodePoolDraining,
		"pool for "+p.target+" is draining", apperrors.ErrPoolDraining)
}

// factoryError wraps a backend creation failure so callers can match it
// with errors.Is against both ErrFactory and the underlying cause.
func (p *Pool) factoryError(err error) error {
	if errors.Is(err, apperrors.ErrCircuitOpen) {
		return err
	}
	return apperrors.Wrap(apperrors.CodeFactoryFailure,
		"creating session for "+p.target+" failed",
		apperrors.Join(apperrors.ErrFactory, err))
}

// waitWithContext waits for a condition signal or context cancellation.
// Caller must hold mu; it is held again on return. A caller woken by
// cancellation re-checks the context and leaves without side effects.
func (p *Pool) waitWithContext(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()
	p.cond.Wait()
	close(done)
}

// Release returns a session to the pool with the outcome of the work
// performed on it. Draining sessions are destroyed instead of returned;
// one-shot sessions are always destroyed.
func (p *Pool) Release(s *session.Session, o session.Outcome) {
	if s == nil {
		return
	}

	p.mu.Lock()

	if s.OneShot() {
		p.recordOutcomeLocked(s, o)
		s.SetState(session.StateDead)
		p.mu.Unlock()
		p.destroyHandle(s.Handle())
		return
	}

	// A session the pool no longer owns (reset tore it down already) is
	// ignored; its handle was destroyed by the teardown.
	if _, ok := p.sessions[s.ID()]; !ok {
		p.mu.Unlock()
		return
	}

	p.recordOutcomeLocked(s, o)

	if p.closed || p.draining || s.State() == session.StateDraining {
		p.removeSessionLocked(s)
		p.cond.Signal()
		p.mu.Unlock()
		p.destroyHandle(s.Handle())
		log.WithField("target", p.target).WithField("session", s.ID()).Debug("released session destroyed")
		return
	}

	s.SetState(session.StateAvailable)
	p.available = append(p.available, s)
	p.cond.Signal()
	p.mu.Unlock()
}

// recordOutcomeLocked folds a release outcome into the pool counters.
func (p *Pool) recordOutcomeLocked(s *session.Session, o session.Outcome) {
	p.totalRequests++
	if o.Success() {
		p.successfulRequests++
	} else {
		p.failedRequests++
	}
	p.totalResponseTime += o.Duration
	s.RecordOutcome(o)
}

// removeAvailableLocked removes a session from the available slice.
func (p *Pool) removeAvailableLocked(s *session.Session) {
	for i, candidate := range p.available {
		if candidate == s {
			p.available = append(p.available[:i], p.available[i+1:]...)
			return
		}
	}
}

// removeSessionLocked removes a session from the pool entirely.
func (p *Pool) removeSessionLocked(s *session.Session) {
	s.SetState(session.StateDead)
	delete(p.sessions, s.ID())
	p.removeAvailableLocked(s)
}

// Close tears down every session and stops the background monitor.
// Waiting acquirers fail with a closed-pool error.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apperrors.ErrPoolClosed
	}
	p.closed = true
	close(p.stopMonitor)

	handles := make([]session.Handle, 0, len(p.sessions))
	for _, s := range p.sessions {
		s.SetState(session.StateDead)
		handles = append(handles, s.Handle())
	}
	p.sessions = make(map[string]*session.Session)
	p.available = nil

	p.cond.Broadcast()
	p.mu.Unlock()

	for _, h := range handles {
		p.destroyHandle(h)
	}

	<-p.monitorDone

	metrics.PoolsTotal.Dec()
	log.WithField("target", p.target).Debug("pool closed")
	return nil
}
