// Package pool implements a bounded session pool for one backend target.
//
// A Pool owns a collection of sessions created through a session.Factory,
// hands them out through a pluggable selection strategy, and runs two
// periodic background tasks: a health monitor that recomputes pool health
// and evicts idle or expired sessions, and an auto-scaler that grows or
// shrinks the pool toward its target based on utilization.
//
// Acquire is the only blocking operation; it is bounded by the configured
// acquire timeout or the caller's context deadline, whichever comes first.
// All structural changes to the session collection happen under a single
// per-pool mutex, and factory teardown always runs outside that lock.
//
// Basic usage:
//
//	p := pool.New("backend-1", cfg, factory)
//	defer p.Close()
//
//	s, err := p.Acquire(ctx, "")
//	if err != nil {
//		return err
//	}
//	err = doWork(s.Handle())
//	p.Release(s, session.Outcome{Err: err, Duration: elapsed})
package pool
