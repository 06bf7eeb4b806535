package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	minterrors "github.com/bardlex/gomint/pkg/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg *Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	return newWithClock(cfg, clock.now), clock
}

var errDaemon = errors.New("connection refused")

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNew_NilConfig(t *testing.T) {
	breaker := New(nil)
	if breaker.config == nil || breaker.config.MaxFailures != 5 {
		t.Error("Expected default config when nil is passed")
	}
	if breaker.GetState() != StateClosed {
		t.Error("Expected initial state to be Closed")
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	var transitions []State
	cfg := DaemonConfig("wallet")
	cfg.OnStateChange = func(name string, _, to State) {
		if name != "wallet" {
			t.Errorf("unexpected breaker name %q", name)
		}
		transitions = append(transitions, to)
	}
	breaker, _ := newTestBreaker(cfg)
	ctx := context.Background()

	for range 3 {
		_ = breaker.Execute(ctx, func() error { return errDaemon })
	}
	if breaker.GetState() != StateOpen {
		t.Fatalf("Expected Open after 3 failures, got %s", breaker.GetState())
	}

	called := false
	err := breaker.Execute(ctx, func() error { called = true; return nil })
	if called {
		t.Error("Expected call to be rejected while open")
	}
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen, got %v", err)
	}
	if !minterrors.IsRetryable(err) {
		t.Error("Expected open-circuit error to be retryable")
	}
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("transitions = %v, want [open]", transitions)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	breaker, clock := newTestBreaker(&Config{
		MaxFailures:     1,
		SuccessRequired: 2,
		Timeout:         10 * time.Second,
		ResetTimeout:    time.Minute,
	})
	ctx := context.Background()

	_ = breaker.Execute(ctx, func() error { return errDaemon })
	clock.advance(11 * time.Second)

	if err := breaker.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if breaker.GetState() != StateHalfOpen {
		t.Fatalf("Expected HalfOpen after one probe, got %s", breaker.GetState())
	}
	_ = breaker.Execute(ctx, func() error { return nil })
	if breaker.GetState() != StateClosed {
		t.Errorf("Expected Closed after two probes, got %s", breaker.GetState())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	breaker, clock := newTestBreaker(&Config{MaxFailures: 1, SuccessRequired: 1, Timeout: time.Second, ResetTimeout: time.Minute})
	ctx := context.Background()

	_ = breaker.Execute(ctx, func() error { return errDaemon })
	clock.advance(2 * time.Second)
	_ = breaker.Execute(ctx, func() error { return errDaemon })

	if breaker.GetState() != StateOpen {
		t.Errorf("Expected Open after failed probe, got %s", breaker.GetState())
	}
}

func TestBreaker_ResetTimeoutClearsFailures(t *testing.T) {
	breaker, clock := newTestBreaker(&Config{MaxFailures: 2, SuccessRequired: 1, Timeout: time.Second, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	_ = breaker.Execute(ctx, func() error { return errDaemon })
	clock.advance(11 * time.Second)
	_ = breaker.Execute(ctx, func() error { return errDaemon })

	if breaker.GetState() != StateClosed {
		t.Errorf("Expected Closed since failures were reset, got %s", breaker.GetState())
	}
	if got := breaker.GetStats().Failures; got != 1 {
		t.Errorf("Expected 1 failure in the current window, got %d", got)
	}
}

func TestBreaker_SinceSuccess(t *testing.T) {
	breaker, clock := newTestBreaker(nil)
	ctx := context.Background()

	clock.advance(3 * time.Minute)
	if got := breaker.SinceSuccess(); got != 3*time.Minute {
		t.Errorf("SinceSuccess() = %v, want 3m", got)
	}

	_ = breaker.Execute(ctx, func() error { return nil })
	clock.advance(time.Minute)
	_ = breaker.Execute(ctx, func() error { return errDaemon })
	if got := breaker.SinceSuccess(); got != time.Minute {
		t.Errorf("SinceSuccess() = %v, want 1m", got)
	}
	if got := breaker.GetStats().LastSuccess; !got.Equal(clock.t.Add(-time.Minute)) {
		t.Errorf("GetStats().LastSuccess = %v, want a minute ago", got)
	}
}

func TestBreaker_Watch(t *testing.T) {
	breaker, clock := newTestBreaker(&Config{Name: "chain", MaxFailures: 1, SuccessRequired: 1, Timeout: time.Second, ResetTimeout: time.Minute})
	type transition struct{ from, to State }
	var got []transition
	breaker.Watch(func(name string, from, to State) {
		if name != "chain" {
			t.Errorf("unexpected breaker name %q", name)
		}
		if s := breaker.GetStats(); s.State != to {
			t.Errorf("GetStats().State = %s during the %s transition", s.State, to)
		}
		got = append(got, transition{from, to})
	})
	ctx := context.Background()

	_ = breaker.Execute(ctx, func() error { return errDaemon })
	clock.advance(2 * time.Second)
	_ = breaker.Execute(ctx, func() error { return nil })

	want := []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBreaker_CanceledContextNotCounted(t *testing.T) {
	breaker, _ := newTestBreaker(&Config{MaxFailures: 1, SuccessRequired: 1, Timeout: time.Second, ResetTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())

	err := breaker.Execute(ctx, func() error {
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if breaker.GetState() != StateClosed {
		t.Errorf("Expected cancellation to leave breaker Closed, got %s", breaker.GetState())
	}

	if err := breaker.Execute(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected pre-canceled context to short-circuit, got %v", err)
	}
}

func TestExecuteWithResult(t *testing.T) {
	breaker := New(nil)
	got, err := ExecuteWithResult(context.Background(), breaker, func() (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Errorf("ExecuteWithResult() = %q, %v", got, err)
	}
}
