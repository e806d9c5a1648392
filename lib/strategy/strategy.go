// Package strategy implements the pluggable session selection policies used
// by pools. Each strategy chooses among the available subset of sessions;
// the pool maintains the available set in release order, so the head of the
// slice is always the least recently released session.
package strategy

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/go-mcpgw/mcpool/lib/errors"
	"github.com/go-mcpgw/mcpool/lib/session"
)

// Kind identifies a selection strategy.
type Kind string

const (
	// RoundRobin distributes acquisitions evenly in circular order.
	RoundRobin Kind = "round_robin"
	// LeastConnections selects the session with the fewest recorded requests.
	LeastConnections Kind = "least_connections"
	// Sticky maintains affinity between a caller key and a session.
	Sticky Kind = "sticky"
	// Weighted selects randomly in proportion to session weights.
	Weighted Kind = "weighted"
	// None bypasses pooling; every acquisition is a fresh session.
	None Kind = "none"
)

// Kinds lists all valid strategy kinds.
var Kinds = []Kind{RoundRobin, LeastConnections, Sticky, Weighted, None}

// descriptions for admin/UI surfaces.
var descriptions = map[Kind]string{
	RoundRobin:       "Distributes sessions evenly across the pool in circular order. Best for balanced workloads.",
	LeastConnections: "Routes to the session with the fewest recorded requests. Best for varying request durations.",
	Sticky:           "Maintains caller affinity to specific sessions. Best for stateful workloads.",
	Weighted:         "Routes in proportion to per-session weights. Best for heterogeneous backends.",
	None:             "No pooling, creates a fresh session per request. Use when pooling overhead exceeds benefits.",
}

// Describe returns a human-readable description of a strategy kind.
func Describe(k Kind) string {
	if d, ok := descriptions[k]; ok {
		return d
	}
	return "Unknown strategy"
}

// Parse validates a strategy name.
func Parse(s string) (Kind, error) {
	k := Kind(s)
	for _, valid := range Kinds {
		if k == valid {
			return k, nil
		}
	}
	return "", fmt.Errorf("%q: %w", s, apperrors.ErrUnknownStrategy)
}

// Strategy picks a session from the available subset. Pick returns nil when
// no session should be handed out (empty input, or the none strategy).
// Implementations must be safe for concurrent use.
type Strategy interface {
	Kind() Kind
	Pick(available []*session.Session, affinityKey string) *session.Session
}

// New constructs a strategy of the given kind. stickyTTL bounds how long an
// affinity binding survives without use; it is only consulted by Sticky.
func New(k Kind, stickyTTL time.Duration) Strategy {
	switch k {
	case LeastConnections:
		return &leastConnections{}
	case Sticky:
		return newSticky(stickyTTL)
	case Weighted:
		return &weighted{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	case None:
		return nonePolicy{}
	default:
		return &roundRobin{}
	}
}

// roundRobin takes the head of the available set. The pool appends released
// sessions at the tail, so this yields a circular rotation over the pool.
type roundRobin struct{}

func (r *roundRobin) Kind() Kind { return RoundRobin }

func (r *roundRobin) Pick(available []*session.Session, _ string) *session.Session {
	if len(available) == 0 {
		return nil
	}
	return available[0]
}

// leastConnections selects the session with the lowest cumulative request
// count, breaking ties by oldest last-used time.
type leastConnections struct{}

func (l *leastConnections) Kind() Kind { return LeastConnections }

func (l *leastConnections) Pick(available []*session.Session, _ string) *session.Session {
	var best *session.Session
	for _, s := range available {
		if best == nil {
			best = s
			continue
		}
		if s.RequestCount() < best.RequestCount() {
			best = s
		} else if s.RequestCount() == best.RequestCount() && s.LastUsedAt().Before(best.LastUsedAt()) {
			best = s
		}
	}
	return best
}

// stickyBinding maps an affinity key to a session id.
type stickyBinding struct {
	sessionID string
	boundAt   time.Time
}

// sticky maintains affinity-key bindings with a TTL, falling back to
// round-robin when a binding is missing, expired, or points at a session
// that is not currently available.
type sticky struct {
	mu       sync.Mutex
	bindings map[string]*stickyBinding
	ttl      time.Duration
	fallback roundRobin
}

func newSticky(ttl time.Duration) *sticky {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &sticky{
		bindings: make(map[string]*stickyBinding),
		ttl:      ttl,
	}
}

func (s *sticky) Kind() Kind { return Sticky }

func (s *sticky) Pick(available []*session.Session, affinityKey string) *session.Session {
	if len(available) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked()

	if affinityKey == "" {
		return s.fallback.Pick(available, "")
	}

	if b, ok := s.bindings[affinityKey]; ok {
		for _, sess := range available {
			if sess.ID() == b.sessionID {
				b.boundAt = time.Now()
				return sess
			}
		}
		// Bound session is gone or busy; rebind below.
		delete(s.bindings, affinityKey)
	}

	picked := s.fallback.Pick(available, "")
	if picked != nil {
		s.bindings[affinityKey] = &stickyBinding{
			sessionID: picked.ID(),
			boundAt:   time.Now(),
		}
	}
	return picked
}

// expireLocked removes bindings unused for longer than the TTL.
func (s *sticky) expireLocked() {
	cutoff := time.Now().Add(-s.ttl)
	for key, b := range s.bindings {
		if b.boundAt.Before(cutoff) {
			delete(s.bindings, key)
		}
	}
}

// BindingCount returns the number of live affinity bindings.
func (s *sticky) BindingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return len(s.bindings)
}

// weighted performs weighted-random selection over session weights.
type weighted struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (w *weighted) Kind() Kind { return Weighted }

func (w *weighted) Pick(available []*session.Session, _ string) *session.Session {
	if len(available) == 0 {
		return nil
	}

	total := 0
	for _, s := range available {
		total += s.Weight()
	}

	w.mu.Lock()
	n := w.rng.Intn(total)
	w.mu.Unlock()

	for _, s := range available {
		n -= s.Weight()
		if n < 0 {
			return s
		}
	}
	return available[len(available)-1]
}

// nonePolicy never picks a pooled session; the pool creates a fresh
// single-use session per acquisition instead.
type nonePolicy struct{}

func (nonePolicy) Kind() Kind { return None }

func (nonePolicy) Pick(_ []*session.Session, _ string) *session.Session { return nil }

// Metrics summarizes recent pool behavior for strategy recommendation.
type Metrics struct {
	// AvgResponseTime is the mean backend response time from release outcomes.
	AvgResponseTime time.Duration
	// FailureRate is failed requests over total requests (0.0-1.0).
	FailureRate float64
	// AffinityRate is the fraction of acquisitions carrying an affinity key.
	AffinityRate float64
}

// Recommendation thresholds.
const (
	recommendFailureRate  = 0.1
	recommendLatency      = time.Second
	recommendAffinityRate = 0.5
)

// Recommend returns the strategy best suited to the observed metrics.
// Strong per-caller affinity favors sticky; high failure rates favor
// weighted selection away from bad sessions; high latency favors
// least-connections; otherwise round-robin balances the load.
func Recommend(m Metrics) Kind {
	if m.AffinityRate > recommendAffinityRate {
		return Sticky
	}
	if m.FailureRate > recommendFailureRate {
		return Weighted
	}
	if m.AvgResponseTime > recommendLatency {
		return LeastConnections
	}
	return RoundRobin
}
