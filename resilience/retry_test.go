package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	clock := newFakeClock()
	r := NewRetry(RetryConfig{
		Attempts: 3,
		Delay:    100 * time.Millisecond,
		Backoff:  2,
		Clock:    clock,
	})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Execute() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetry_JitterBounds(t *testing.T) {
	clock := newFakeClock()
	r := NewRetry(RetryConfig{
		Attempts: 3,
		Delay:    100 * time.Millisecond,
		Backoff:  2,
		Clock:    clock,
	})

	calls := 0
	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	// Sleeps are 100ms*j1 + 200ms*j2 with jitter in [0.5, 1.5), so the
	// total lands in [150ms, 450ms).
	slept := clock.Slept()
	if slept < 150*time.Millisecond || slept >= 450*time.Millisecond {
		t.Errorf("total sleep = %v, want within [150ms, 450ms)", slept)
	}
}

func TestRetry_ExhaustionWrapsLastError(t *testing.T) {
	clock := newFakeClock()
	r := NewRetry(RetryConfig{Attempts: 2, Delay: time.Millisecond, Clock: clock})

	cause := errors.New("still broken")
	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	})

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !errors.Is(err, ErrAttemptsExceeded) {
		t.Errorf("Execute() = %v, want ErrAttemptsExceeded", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Execute() = %v, want to unwrap to cause", err)
	}

	var ae *AttemptsExceededError
	if !errors.As(err, &ae) {
		t.Fatalf("error type = %T, want *AttemptsExceededError", err)
	}
	if ae.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", ae.Attempts)
	}
}

func TestRetry_NonRetryableSurfacesImmediately(t *testing.T) {
	clock := newFakeClock()
	fatal := errors.New("fatal")
	r := NewRetry(RetryConfig{
		Attempts: 5,
		Delay:    time.Millisecond,
		Clock:    clock,
		RetryIf:  func(err error) bool { return !errors.Is(err, fatal) },
	})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})

	if err != fatal {
		t.Errorf("Execute() = %v, want raw fatal error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_MaxDelayCapsBackoff(t *testing.T) {
	clock := newFakeClock()
	r := NewRetry(RetryConfig{
		Attempts: 4,
		Delay:    time.Second,
		Backoff:  10,
		MaxDelay: 2 * time.Second,
		Clock:    clock,
	})

	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("transient")
	})

	// Pre-jitter sleeps are 1s, 2s (capped), 2s (capped), at most 7.5s
	// after jitter.
	if slept := clock.Slept(); slept >= 7500*time.Millisecond {
		t.Errorf("total sleep = %v, want < 7.5s with MaxDelay cap", slept)
	}
}

func TestRetry_ContextCancelAbortsBackoff(t *testing.T) {
	r := NewRetry(RetryConfig{Attempts: 5, Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- r.Execute(ctx, func(ctx context.Context) error {
			calls.Add(1)
			return errors.New("transient")
		})
	}()

	// Let the first attempt land in its backoff sleep, then cancel.
	waitFor(t, func() bool { return calls.Load() == 1 })
	cancel()

	if err := <-done; err != context.Canceled {
		t.Errorf("Execute() = %v, want context.Canceled", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestRetry_OnRetryCallback(t *testing.T) {
	clock := newFakeClock()
	var attempts []int
	r := NewRetry(RetryConfig{
		Attempts: 3,
		Delay:    time.Millisecond,
		Clock:    clock,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		},
	})

	_ = r.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("transient")
	})

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestRetry_DisabledPassesThrough(t *testing.T) {
	r := NewRetry(RetryConfig{Attempts: 5, Delay: time.Millisecond})
	r.SetEnabled(false)

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})

	if calls != 1 {
		t.Errorf("calls = %d, want single pass-through attempt", calls)
	}
	if errors.Is(err, ErrAttemptsExceeded) {
		t.Errorf("Execute() = %v, want raw error", err)
	}
}
