package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	minterrors "github.com/bardlex/gomint/pkg/errors"
)

func fastConfig(attempts int) *Config {
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      false,
	}
}

func TestPresetConfigs(t *testing.T) {
	tests := []struct {
		name     string
		config   *Config
		attempts int
		base     time.Duration
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond},
		{"network", NetworkConfig(), 5, 50 * time.Millisecond},
		{"storage", StorageConfig(), 3, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.config.MaxAttempts != tt.attempts {
				t.Errorf("MaxAttempts = %d, want %d", tt.config.MaxAttempts, tt.attempts)
			}
			if tt.config.BaseDelay != tt.base {
				t.Errorf("BaseDelay = %v, want %v", tt.config.BaseDelay, tt.base)
			}
		})
	}
}

func TestDo_Success(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		callCount++
		if callCount == 1 {
			return minterrors.New(minterrors.ErrorTypeNetwork, "test", "retryable error")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
}

func TestDo_MaxAttemptsReached(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(2), func() error {
		callCount++
		return minterrors.New(minterrors.ErrorTypeWallet, "test", "persistent error")
	})
	if err == nil {
		t.Fatal("Expected error after max attempts")
	}
	if callCount != 2 {
		t.Errorf("Expected 2 calls, got %d", callCount)
	}
	if !minterrors.IsType(err, minterrors.ErrorTypeInternal) {
		t.Error("Expected wrapped error to be internal type")
	}
}

func TestDo_NonRetryableError(t *testing.T) {
	callCount := 0
	err := Do(context.Background(), fastConfig(5), func() error {
		callCount++
		return minterrors.New(minterrors.ErrorTypeValidation, "test", "validation error")
	})
	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry), got %d", callCount)
	}
	if !minterrors.IsType(err, minterrors.ErrorTypeValidation) {
		t.Error("Expected original validation error type")
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &Config{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	err := Do(ctx, config, func() error {
		cancel()
		return minterrors.New(minterrors.ErrorTypeNetwork, "test", "network error")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestDoWithResult(t *testing.T) {
	callCount := 0
	res, err := DoWithResult(context.Background(), fastConfig(3), func() (uint64, error) {
		callCount++
		if callCount < 3 {
			return 0, minterrors.New(minterrors.ErrorTypeChain, "test", "not yet")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if res != 42 {
		t.Errorf("Expected 42, got %d", res)
	}
}

func TestCalculateDelay(t *testing.T) {
	config := &Config{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{5, time.Second},
	}
	for _, tt := range tests {
		if got := config.calculateDelay(tt.attempt); got != tt.want {
			t.Errorf("calculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	config.Jitter = true
	for range 20 {
		got := config.calculateDelay(1)
		if got < 200*time.Millisecond || got > 220*time.Millisecond {
			t.Fatalf("jittered delay %v outside [200ms, 220ms]", got)
		}
	}
}

func TestForever_RetriesEverything(t *testing.T) {
	var seen []int
	policy := Forever{
		Delay:   time.Millisecond,
		OnError: func(attempt int, _ error) { seen = append(seen, attempt) },
	}

	callCount := 0
	err := policy.Run(context.Background(), func(context.Context) error {
		callCount++
		if callCount < 4 {
			// non-retryable by classification, still retried here
			return minterrors.New(minterrors.ErrorTypeValidation, "test", "bad")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Errorf("OnError attempts = %v, want [1 2 3]", seen)
	}
}

func TestForever_StopsOnExitError(t *testing.T) {
	callCount := 0
	err := Forever{Delay: time.Millisecond}.Run(context.Background(), func(context.Context) error {
		callCount++
		return minterrors.Exit(minterrors.ExitProfitFailsafe, "loss", nil)
	})
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
	if ee := minterrors.AsExit(err); ee == nil || ee.Status != 91 {
		t.Errorf("Expected exit error 91, got %v", err)
	}
}

func TestForever_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	callCount := 0
	_, err := ForeverWithResult(ctx, Forever{Delay: time.Hour}, func(context.Context) (int, error) {
		callCount++
		cancel()
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}
