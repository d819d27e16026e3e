package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/autopilot/internal/dispatch"
)

var errUpstream = errors.New("upstream 503")

func TestSet_StartsClosed(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	if s.State("ses") != StateClosed {
		t.Fatalf("expected closed, got %s", s.State("ses"))
	}
}

func TestSet_PassesThroughResult(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())

	called := false
	if err := s.Execute("sms", func() error { called = true; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("fn should have been called")
	}

	err := s.Execute("sms", func() error { return errUpstream })
	if !errors.Is(err, errUpstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

func TestSet_OpensAfterMaxFailures(t *testing.T) {
	s := New(Config{MaxFailures: 3, RecoveryTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_ = s.Execute("listing", func() error { return errUpstream })
	}
	if s.State("listing") != StateOpen {
		t.Fatalf("expected open, got %s", s.State("listing"))
	}

	called := false
	err := s.Execute("listing", func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn should not run while open")
	}
	if dispatch.IsPermanent(err) {
		t.Error("open circuit should be a transient failure")
	}
	if !errors.Is(err, dispatch.ErrUnavailable) {
		t.Errorf("open circuit should report the provider as unavailable, got %v", err)
	}
}

func TestSet_PermanentErrorsDoNotTrip(t *testing.T) {
	s := New(Config{MaxFailures: 2, RecoveryTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 5; i++ {
		err := s.Execute("email", func() error { return dispatch.Permanent(errors.New("bad address")) })
		if !dispatch.IsPermanent(err) {
			t.Fatalf("expected permanent error to pass through, got %v", err)
		}
	}
	if s.State("email") != StateClosed {
		t.Errorf("permanent errors should not open the breaker, got %s", s.State("email"))
	}
}

func TestSet_BreakersAreIndependent(t *testing.T) {
	s := New(Config{MaxFailures: 1, RecoveryTimeout: time.Minute}, zap.NewNop())

	_ = s.Execute("sms", func() error { return errUpstream })

	if s.State("sms") != StateOpen {
		t.Fatalf("expected sms open, got %s", s.State("sms"))
	}
	if err := s.Execute("email", func() error { return nil }); err != nil {
		t.Errorf("email breaker should be unaffected, got %v", err)
	}
}

func TestSet_RecoversAfterTimeout(t *testing.T) {
	s := New(Config{MaxFailures: 1, RecoveryTimeout: 20 * time.Millisecond}, zap.NewNop())

	_ = s.Execute("social", func() error { return errUpstream })
	if s.State("social") != StateOpen {
		t.Fatalf("expected open, got %s", s.State("social"))
	}

	time.Sleep(40 * time.Millisecond)

	if s.State("social") != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", s.State("social"))
	}
	if err := s.Execute("social", func() error { return nil }); err != nil {
		t.Fatalf("probe should pass, got %v", err)
	}
	if s.State("social") != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", s.State("social"))
	}
}

func TestSet_Stats(t *testing.T) {
	s := New(DefaultConfig(), zap.NewNop())
	_ = s.Execute("sms", func() error { return nil })
	_ = s.Execute("sms", func() error { return errUpstream })

	stats := s.Stats()
	c, ok := stats["sms"]
	if !ok {
		t.Fatal("expected stats for sms")
	}
	if c.Requests != 2 || c.TotalFailures != 1 || c.ConsecutiveFailures != 1 {
		t.Errorf("unexpected counts %+v", c)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	}
	for st, want := range tests {
		if st.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", st, st.String(), want)
		}
	}
}
