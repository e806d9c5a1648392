// Package session defines the pooled backend session and the factory
// interface used to establish and tear down sessions against downstream
// tool/resource servers. The pool manager treats backend handles opaquely;
// protocol bindings implement Factory.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Handle is an opaque backend connection handle owned exclusively by one
// Session. Its concrete type is known only to the Factory that created it.
type Handle any

// Factory creates and destroys backend sessions for a target.
// Implementations wrap a concrete protocol binding (stdio, SSE, websocket).
type Factory interface {
	// Create establishes a new backend session for the given target.
	Create(ctx context.Context, target string) (Handle, error)
	// Destroy tears down a backend session. It is called at most once
	// per handle.
	Destroy(handle Handle) error
}

// Pinger is an optional Factory capability. When implemented and pre-ping
// is enabled, the pool probes a session before handing it out.
type Pinger interface {
	Ping(handle Handle) bool
}

// FuncFactory adapts plain functions to the Factory interface.
type FuncFactory struct {
	CreateFunc  func(ctx context.Context, target string) (Handle, error)
	DestroyFunc func(handle Handle) error
	PingFunc    func(handle Handle) bool
}

// Create implements Factory.
func (f FuncFactory) Create(ctx context.Context, target string) (Handle, error) {
	return f.CreateFunc(ctx, target)
}

// Destroy implements Factory.
func (f FuncFactory) Destroy(handle Handle) error {
	if f.DestroyFunc == nil {
		return nil
	}
	return f.DestroyFunc(handle)
}

// Ping implements Pinger. A nil PingFunc reports healthy.
func (f FuncFactory) Ping(handle Handle) bool {
	if f.PingFunc == nil {
		return true
	}
	return f.PingFunc(handle)
}

// State is the lifecycle state of a pooled session.
type State int

const (
	// StateAvailable means the session is idle in the pool and acquirable.
	StateAvailable State = iota
	// StateActive means the session is checked out by exactly one caller.
	StateActive
	// StateDraining means the session will not be reused and dies when returned.
	StateDraining
	// StateDead means the session has been removed from the pool. Terminal.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Outcome reports the result of the work a caller performed with an
// acquired session. A nil Err means success.
type Outcome struct {
	Err error
	// Duration is the backend response time observed by the caller.
	Duration time.Duration
}

// Success reports whether the outcome was successful.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Session is a single pooled backend session plus its runtime state.
// All mutable fields are guarded by the owning pool's lock; a Session is
// owned by exactly one pool and, while active, by exactly one caller.
type Session struct {
	id     string
	handle Handle

	state        State
	weight       int
	oneShot      bool
	createdAt    time.Time
	lastUsed     time.Time
	requestCount uint64
	successCount uint64
	failureCount uint64
}

// New creates a session wrapping the given backend handle.
// The session starts in the available state with a generated id.
func New(handle Handle) *Session {
	now := time.Now()
	return &Session{
		id:        uuid.NewString(),
		handle:    handle,
		state:     StateAvailable,
		weight:    1,
		createdAt: now,
		lastUsed:  now,
	}
}

// NewOneShot creates a non-pooled single-use session. It is handed out
// active and destroyed on release, used when pooling is disabled.
func NewOneShot(handle Handle) *Session {
	s := New(handle)
	s.state = StateActive
	s.oneShot = true
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Handle returns the opaque backend handle.
func (s *Session) Handle() Handle { return s.handle }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// SetState transitions the session to the given state.
func (s *Session) SetState(st State) { s.state = st }

// OneShot reports whether this is a non-pooled single-use session.
func (s *Session) OneShot() bool { return s.oneShot }

// Weight returns the selection weight used by the weighted strategy.
func (s *Session) Weight() int { return s.weight }

// SetWeight sets the selection weight. Weights below 1 are clamped to 1.
func (s *Session) SetWeight(w int) {
	if w < 1 {
		w = 1
	}
	s.weight = w
}

// CreatedAt returns the creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastUsedAt returns the last acquisition or release timestamp.
func (s *Session) LastUsedAt() time.Time { return s.lastUsed }

// Touch updates the last-used timestamp.
func (s *Session) Touch() { s.lastUsed = time.Now() }

// RecordOutcome updates the session counters from a release outcome.
func (s *Session) RecordOutcome(o Outcome) {
	s.requestCount++
	if o.Success() {
		s.successCount++
	} else {
		s.failureCount++
	}
	s.lastUsed = time.Now()
}

// RequestCount returns the cumulative request count.
func (s *Session) RequestCount() uint64 { return s.requestCount }

// SuccessCount returns the cumulative success count.
func (s *Session) SuccessCount() uint64 { return s.successCount }

// FailureCount returns the cumulative failure count.
func (s *Session) FailureCount() uint64 { return s.failureCount }

// ResetCounters clears the cumulative request counters.
func (s *Session) ResetCounters() {
	s.requestCount = 0
	s.successCount = 0
	s.failureCount = 0
}

// IdleTime returns how long the session has been unused.
func (s *Session) IdleTime() time.Duration {
	return time.Since(s.lastUsed)
}

// Age returns how long ago the session was created.
func (s *Session) Age() time.Duration {
	return time.Since(s.createdAt)
}

// Summary is a point-in-time snapshot of a session for admin listings.
type Summary struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	Weight       int       `json:"weight"`
	RequestCount uint64    `json:"request_count"`
	SuccessCount uint64    `json:"success_count"`
	FailureCount uint64    `json:"failure_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// Summarize returns a snapshot of the session for admin listings.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:           s.id,
		State:        s.state.String(),
		Weight:       s.weight,
		RequestCount: s.requestCount,
		SuccessCount: s.successCount,
		FailureCount: s.failureCount,
		CreatedAt:    s.createdAt,
		LastUsedAt:   s.lastUsed,
	}
}
