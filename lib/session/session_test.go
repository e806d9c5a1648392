package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	s := New("handle-1")

	if s.ID() == "" {
		t.Error("expected generated id")
	}
	if s.State() != StateAvailable {
		t.Errorf("expected available, got %s", s.State())
	}
	if s.Weight() != 1 {
		t.Errorf("expected default weight 1, got %d", s.Weight())
	}
	if s.Handle() != "handle-1" {
		t.Errorf("unexpected handle %v", s.Handle())
	}
	if s.OneShot() {
		t.Error("pooled session should not be one-shot")
	}

	s2 := New("handle-2")
	if s.ID() == s2.ID() {
		t.Error("session ids should be unique")
	}
}

func TestNewOneShot(t *testing.T) {
	s := NewOneShot(nil)
	if !s.OneShot() {
		t.Error("expected one-shot session")
	}
	if s.State() != StateActive {
		t.Errorf("one-shot sessions start active, got %s", s.State())
	}
}

func TestRecordOutcome(t *testing.T) {
	s := New(nil)

	s.RecordOutcome(Outcome{Duration: 10 * time.Millisecond})
	s.RecordOutcome(Outcome{Err: errors.New("backend error")})
	s.RecordOutcome(Outcome{})

	if s.RequestCount() != 3 {
		t.Errorf("expected 3 requests, got %d", s.RequestCount())
	}
	if s.SuccessCount() != 2 {
		t.Errorf("expected 2 successes, got %d", s.SuccessCount())
	}
	if s.FailureCount() != 1 {
		t.Errorf("expected 1 failure, got %d", s.FailureCount())
	}

	s.ResetCounters()
	if s.RequestCount() != 0 || s.SuccessCount() != 0 || s.FailureCount() != 0 {
		t.Error("ResetCounters should zero all counters")
	}
}

func TestSetWeightClamps(t *testing.T) {
	s := New(nil)
	s.SetWeight(0)
	if s.Weight() != 1 {
		t.Errorf("weight below 1 should clamp to 1, got %d", s.Weight())
	}
	s.SetWeight(5)
	if s.Weight() != 5 {
		t.Errorf("expected weight 5, got %d", s.Weight())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateAvailable: "available",
		StateActive:    "active",
		StateDraining:  "draining",
		StateDead:      "dead",
		State(99):      "unknown",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", st, st.String(), want)
		}
	}
}

func TestSummarize(t *testing.T) {
	s := New(nil)
	s.SetState(StateActive)
	s.RecordOutcome(Outcome{})

	sum := s.Summarize()
	if sum.ID != s.ID() {
		t.Error("summary id mismatch")
	}
	if sum.State != "active" {
		t.Errorf("expected active, got %s", sum.State)
	}
	if sum.RequestCount != 1 {
		t.Errorf("expected 1 request, got %d", sum.RequestCount)
	}
}

func TestFuncFactory(t *testing.T) {
	created := 0
	destroyed := 0
	f := FuncFactory{
		CreateFunc: func(ctx context.Context, target string) (Handle, error) {
			created++
			return target, nil
		},
		DestroyFunc: func(h Handle) error {
			destroyed++
			return nil
		},
	}

	h, err := f.Create(context.Background(), "srv-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if h != "srv-1" {
		t.Errorf("unexpected handle %v", h)
	}
	if err := f.Destroy(h); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if created != 1 || destroyed != 1 {
		t.Errorf("expected 1 create and 1 destroy, got %d/%d", created, destroyed)
	}

	// Nil ping func defaults to healthy
	if !f.Ping(h) {
		t.Error("nil PingFunc should report healthy")
	}
}
