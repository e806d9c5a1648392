package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-mcpgw/mcpool/lib/config"
	apperrors "github.com/go-mcpgw/mcpool/lib/errors"
	"github.com/go-mcpgw/mcpool/lib/session"
	"github.com/go-mcpgw/mcpool/lib/strategy"
)

// mockFactory counts creations and teardowns.
type mockFactory struct {
	mu        sync.Mutex
	created   int
	destroyed int
	failWith  error
	pingOK    bool
	gate      chan struct{} // when set, Create blocks until the gate closes
	entered   chan struct{} // signalled when a gated Create is in flight
}

func newMockFactory() *mockFactory {
	return &mockFactory{pingOK: true}
}

func (f *mockFactory) Create(ctx context.Context, target string) (session.Handle, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.created++
	return fmt.Sprintf("%s-conn-%d", target, f.created), nil
}

func (f *mockFactory) setGate(gate, entered chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
	f.entered = entered
}

func (f *mockFactory) Destroy(handle session.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	return nil
}

func (f *mockFactory) Ping(handle session.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingOK
}

func (f *mockFactory) counts() (created, destroyed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, f.destroyed
}

func (f *mockFactory) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

// testConfig keeps the background monitor quiet so tests drive the pool
// deterministically.
func testConfig() config.Pool {
	cfg := config.DefaultPool()
	cfg.MinSize = 1
	cfg.MaxSize = 3
	cfg.TargetSize = 2
	cfg.AcquireTimeout = time.Second
	cfg.HealthCheckInterval = time.Hour
	cfg.RebalanceInterval = time.Hour
	cfg.AutoScale = false
	return cfg
}

func newTestPool(t *testing.T, cfg config.Pool, f session.Factory) *Pool {
	t.Helper()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	cfg.Normalize()
	p := New("backend-1", cfg, f)
	t.Cleanup(func() { p.Close() })
	return p
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWarmUpToTargetSize(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	st := p.Stats()
	if st.TotalSessions != 2 || st.AvailableSessions != 2 {
		t.Errorf("expected 2 available sessions after warm-up, got %+v", st)
	}
}

func TestRoundRobinRotation(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	var ids []string
	for i := 0; i < 4; i++ {
		s, err := p.Acquire(context.Background(), "")
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		ids = append(ids, s.ID())
		p.Release(s, session.Outcome{})
	}

	if ids[0] == ids[1] {
		t.Error("consecutive acquisitions should rotate between the 2 sessions")
	}
	if ids[2] != ids[0] || ids[3] != ids[1] {
		t.Errorf("expected rotation to repeat, got %v", ids)
	}
}

func TestBlockedAcquireGetsReleasedSession(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 0
	cfg.TargetSize = 1
	cfg.MaxSize = 1
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	first, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	got := make(chan *session.Session, 1)
	errCh := make(chan error, 1)
	go func() {
		s, err := p.Acquire(context.Background(), "")
		if err != nil {
			errCh <- err
			return
		}
		got <- s
	}()

	// The second acquire must block while the only session is checked out.
	select {
	case <-got:
		t.Fatal("second acquire should block at max_size=1")
	case err := <-errCh:
		t.Fatalf("second acquire failed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	p.Release(first, session.Outcome{})

	select {
	case s := <-got:
		if s.ID() != first.ID() {
			t.Error("waiter should receive the released session")
		}
		p.Release(s, session.Outcome{})
	case err := <-errCh:
		t.Fatalf("second acquire failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("waiter never got the released session")
	}
}

func TestAcquireTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 0
	cfg.TargetSize = 1
	cfg.MaxSize = 1
	cfg.AcquireTimeout = 50 * time.Millisecond
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	held, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer p.Release(held, session.Outcome{})

	start := time.Now()
	_, err = p.Acquire(context.Background(), "")
	elapsed := time.Since(start)

	if !apperrors.IsAcquireTimeout(err) {
		t.Fatalf("expected acquire timeout, got %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("timeout took %s, should be near 50ms", elapsed)
	}
}

func TestDrain(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	active, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	res, err := p.Drain()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if res.Destroyed != 1 || res.Draining != 1 {
		t.Errorf("expected 1 destroyed and 1 draining, got %+v", res)
	}

	if _, err := p.Acquire(context.Background(), ""); !apperrors.IsPoolDraining(err) {
		t.Errorf("expected pool draining error, got %v", err)
	}

	p.Release(active, session.Outcome{})
	if st := p.Stats(); st.TotalSessions != 0 {
		t.Errorf("expected empty pool after draining release, got %d sessions", st.TotalSessions)
	}
}

func TestResizeGrows(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 10
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	before, _ := f.counts()
	st, err := p.Resize(context.Background(), 5)
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	after, _ := f.counts()

	if after-before != 3 {
		t.Errorf("resize from 2 to 5 should create exactly 3 sessions, created %d", after-before)
	}
	if st.TotalSessions != 5 {
		t.Errorf("expected 5 total sessions, got %d", st.TotalSessions)
	}
}

func TestResizeAbortsWhenDrainedMidGrow(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 10
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	f.setGate(gate, entered)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Resize(context.Background(), 4)
		errCh <- err
	}()

	// Wait until the grow's first factory call is in flight, drain the
	// pool underneath it, then let the call finish.
	<-entered
	if _, err := p.Drain(); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	close(gate)

	if err := <-errCh; !apperrors.IsPoolDraining(err) {
		t.Fatalf("expected pool draining error from interrupted resize, got %v", err)
	}

	st := p.Stats()
	if st.TotalSessions != 0 || st.AvailableSessions != 0 {
		t.Errorf("drained pool must not retain resize sessions, got %+v", st)
	}
	if !st.Draining {
		t.Error("pool should still report draining")
	}

	// The 2 warm sessions plus the one created mid-drain are all torn down.
	waitFor(t, time.Second, func() bool {
		created, destroyed := f.counts()
		return created == 3 && destroyed == 3
	}, "session created during drain was never destroyed")
}

func TestDrainTwiceIsIdempotent(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	active, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer p.Release(active, session.Outcome{})

	first, err := p.Drain()
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if first.Destroyed != 1 || first.Draining != 1 {
		t.Fatalf("expected 1 destroyed and 1 draining, got %+v", first)
	}
	waitFor(t, time.Second, func() bool {
		_, destroyed := f.counts()
		return destroyed == first.Destroyed
	}, "drained idle session was never destroyed")

	second, err := p.Drain()
	if err != nil {
		t.Fatalf("second drain failed: %v", err)
	}
	if second.Destroyed != 0 || second.Draining != 0 {
		t.Errorf("second drain should affect nothing, got %+v", second)
	}
	if _, destroyed := f.counts(); destroyed != first.Destroyed {
		t.Errorf("second drain destroyed sessions: %d", destroyed)
	}
}

func TestResizeShrinksIdle(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	st, err := p.Resize(context.Background(), 1)
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	if st.TotalSessions != 1 {
		t.Errorf("expected 1 session after shrink, got %d", st.TotalSessions)
	}
	waitFor(t, time.Second, func() bool {
		_, destroyed := f.counts()
		return destroyed == 1
	}, "shrunk session was never destroyed")
}

func TestResizeOutOfRange(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	if _, err := p.Resize(context.Background(), 99); !errors.Is(err, apperrors.ErrResizeOutOfRange) {
		t.Errorf("expected resize out of range, got %v", err)
	}
	if _, err := p.Resize(context.Background(), 0); !errors.Is(err, apperrors.ErrResizeOutOfRange) {
		t.Errorf("expected resize out of range for below min, got %v", err)
	}
	if st := p.Stats(); st.TotalSessions != 2 {
		t.Errorf("rejected resize must not change the pool, got %d sessions", st.TotalSessions)
	}
}

func TestReset(t *testing.T) {
	cfg := testConfig()
	cfg.TargetSize = 3
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	active, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	p.Release(active, session.Outcome{})
	active, _ = p.Acquire(context.Background(), "")

	destroyed, err := p.Reset()
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if destroyed != 3 {
		t.Errorf("reset should destroy all 3 sessions, destroyed %d", destroyed)
	}

	st := p.Stats()
	if st.TotalSessions != 3 || st.AvailableSessions != 3 {
		t.Errorf("reset should repopulate to target size, got %+v", st)
	}
	if st.TotalRequests != 0 {
		t.Errorf("reset should clear counters, got %d requests", st.TotalRequests)
	}

	// Releasing the forcibly destroyed session must not resurrect it.
	p.Release(active, session.Outcome{})
	if st := p.Stats(); st.TotalSessions != 3 {
		t.Errorf("stale release changed the pool: %+v", st)
	}
}

func TestResetClearsDraining(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	if _, err := p.Drain(); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if _, err := p.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	s, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire after reset should succeed: %v", err)
	}
	p.Release(s, session.Outcome{})
}

func TestConcurrentAcquireUniqueSessions(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 3
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	var mu sync.Mutex
	inUse := make(map[string]bool)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := p.Acquire(context.Background(), "")
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}

			mu.Lock()
			if inUse[s.ID()] {
				t.Errorf("session %s handed to two concurrent callers", s.ID())
			}
			inUse[s.ID()] = true
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			delete(inUse, s.ID())
			mu.Unlock()
			p.Release(s, session.Outcome{})
		}()
	}
	wg.Wait()

	if st := p.Stats(); st.TotalSessions > cfg.MaxSize {
		t.Errorf("pool exceeded max size: %d > %d", st.TotalSessions, cfg.MaxSize)
	}
}

func TestAcquireCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 0
	cfg.TargetSize = 1
	cfg.MaxSize = 1
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	held, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, "")
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire never returned")
	}

	// The abandoned wait must leave no phantom reservation.
	p.Release(held, session.Outcome{})
	s, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire after cancellation failed: %v", err)
	}
	p.Release(s, session.Outcome{})
}

func TestFactoryErrorSurfaced(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 0
	cfg.TargetSize = 0
	f := newMockFactory()
	f.setFail(errors.New("backend refused connection"))
	p := newTestPool(t, cfg, f)

	_, err := p.Acquire(context.Background(), "")
	if !apperrors.IsFactory(err) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if st := p.Stats(); st.TotalSessions != 0 {
		t.Errorf("failed creation must not count as a live session, got %d", st.TotalSessions)
	}

	// Creation failures release capacity; a later acquire succeeds.
	f.setFail(nil)
	s, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire after recovery failed: %v", err)
	}
	p.Release(s, session.Outcome{})
}

func TestDisabledPoolUsesOneShotSessions(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	s, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if !s.OneShot() {
		t.Error("disabled pool should hand out one-shot sessions")
	}
	if st := p.Stats(); st.TotalSessions != 0 {
		t.Errorf("one-shot sessions must not be pooled, got %d", st.TotalSessions)
	}

	p.Release(s, session.Outcome{})
	waitFor(t, time.Second, func() bool {
		_, destroyed := f.counts()
		return destroyed == 1
	}, "one-shot session was never destroyed")
}

func TestOptimizeSwitchesOnFailureRate(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	// Record a 50% failure rate.
	for i := 0; i < 4; i++ {
		s, err := p.Acquire(context.Background(), "")
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		var outcome session.Outcome
		if i%2 == 0 {
			outcome.Err = errors.New("backend error")
		}
		p.Release(s, outcome)
	}

	res, err := p.Optimize()
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if res.OldStrategy != strategy.RoundRobin || res.NewStrategy != strategy.Weighted {
		t.Errorf("expected round_robin -> weighted, got %+v", res)
	}
	if !res.Applied {
		t.Error("differing recommendation should be applied")
	}
	if p.Stats().CurrentStrategy != strategy.Weighted {
		t.Error("pool should report the new strategy")
	}
}

func TestOptimizeNoChangeNotApplied(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	res, err := p.Optimize()
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if res.Applied || res.NewStrategy != strategy.RoundRobin {
		t.Errorf("healthy balanced pool should keep round_robin, got %+v", res)
	}
}

func TestPrePingEvictsDeadSession(t *testing.T) {
	cfg := testConfig()
	cfg.PrePing = true
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	f.mu.Lock()
	f.pingOK = false
	f.mu.Unlock()

	// Both warm sessions fail the probe; acquire falls through to creating
	// a fresh one, which is handed out without probing.
	s, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	st := p.Stats()
	if st.TotalSessions != 1 || st.ActiveSessions != 1 {
		t.Errorf("expected only the fresh session to survive, got %+v", st)
	}
	p.Release(s, session.Outcome{})
}

func TestStickyAffinityAcrossAcquires(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = string(strategy.Sticky)
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	first, err := p.Acquire(context.Background(), "client-a")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	id := first.ID()
	p.Release(first, session.Outcome{})

	for i := 0; i < 3; i++ {
		s, err := p.Acquire(context.Background(), "client-a")
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		if s.ID() != id {
			t.Errorf("affinity key should stick to session %s, got %s", id, s.ID())
		}
		p.Release(s, session.Outcome{})
	}
}

func TestHealthCheckEvictsIdleAndMaintainsMin(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIdleTime = 20 * time.Millisecond
	cfg.HealthCheckInterval = 10 * time.Millisecond
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	// Both warm sessions go idle past the limit; the monitor evicts them
	// and tops back up to min size.
	waitFor(t, 2*time.Second, func() bool {
		st := p.Stats()
		return st.TotalSessions == cfg.MinSize && st.AvailableSessions == cfg.MinSize
	}, "monitor never converged to min size")
}

func TestAutoScaleShrinksIdlePool(t *testing.T) {
	cfg := testConfig()
	cfg.AutoScale = true
	cfg.TargetSize = 3
	cfg.RebalanceInterval = 10 * time.Millisecond
	f := newMockFactory()
	p := newTestPool(t, cfg, f)

	// Utilization 0 with 3 idle sessions is below the low water mark.
	waitFor(t, 2*time.Second, func() bool {
		return p.Stats().TotalSessions == cfg.MinSize
	}, "auto-scaler never shrank the idle pool to min size")
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	f := newMockFactory()
	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	p := New("backend-1", cfg, f)

	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := p.Acquire(context.Background(), ""); !errors.Is(err, apperrors.ErrPoolClosed) {
		t.Errorf("expected pool closed, got %v", err)
	}
	if err := p.Close(); !errors.Is(err, apperrors.ErrPoolClosed) {
		t.Errorf("double close should report closed, got %v", err)
	}
}

func TestFreshPoolStats(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	st := p.Stats()
	if st.SuccessRate != 0 {
		t.Errorf("success rate with no recorded requests should be 0, got %v", st.SuccessRate)
	}
	if st.HealthStatus != Healthy {
		t.Errorf("pool with no recorded requests should be healthy, got %s", st.HealthStatus)
	}
}

func TestStatsInvariant(t *testing.T) {
	f := newMockFactory()
	p := newTestPool(t, testConfig(), f)

	s, err := p.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	st := p.Stats()
	if st.ActiveSessions+st.AvailableSessions+st.DrainingSessions != st.TotalSessions {
		t.Errorf("state counts do not sum to total: %+v", st)
	}
	if st.ActiveSessions != 1 || st.AvailableSessions != 1 {
		t.Errorf("expected 1 active and 1 available, got %+v", st)
	}
	p.Release(s, session.Outcome{})
}
