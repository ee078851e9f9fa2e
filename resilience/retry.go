package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// Name is the operator-assigned instance name. Default: "default"
	Name string

	// Attempts is the maximum number of attempts (including the first).
	// Default: 3
	Attempts int

	// Delay is the base delay before the first retry.
	// Default: 100ms
	Delay time.Duration

	// Backoff is the exponential multiplier applied per attempt.
	// Default: 2.0
	Backoff float64

	// MaxDelay caps the pre-jitter delay between attempts.
	// Default: 30s
	MaxDelay time.Duration

	// RetryIf determines if an error should trigger a retry.
	// Default: all non-nil errors trigger retry.
	RetryIf func(err error) bool

	// OnRetry is called before each retry attempt.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Clock overrides time, for tests. Default: system clock.
	Clock Clock

	// Bus receives attempt/exhausted events. May be nil.
	Bus *observe.Bus
}

// Retry runs an operation up to Attempts times with full-jitter
// exponential backoff: between attempts k and k+1 it sleeps
// min(MaxDelay, Delay·Backoff^k) · Uniform(0.5, 1.5).
type Retry struct {
	switchState

	mu     sync.Mutex
	config RetryConfig
	clock  Clock
}

// NewRetry creates a new retry handler.
func NewRetry(config RetryConfig) *Retry {
	// Apply defaults
	if config.Name == "" {
		config.Name = "default"
	}
	if config.Attempts <= 0 {
		config.Attempts = 3
	}
	if config.Delay <= 0 {
		config.Delay = 100 * time.Millisecond
	}
	if config.Backoff < 1 {
		config.Backoff = 2.0
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.RetryIf == nil {
		config.RetryIf = func(err error) bool { return err != nil }
	}

	return &Retry{config: config, clock: orSystem(config.Clock)}
}

// Kind returns the registry kind.
func (r *Retry) Kind() registry.Kind { return registry.KindRetry }

// Name returns the instance name.
func (r *Retry) Name() string { return r.config.Name }

// Execute runs the operation with retry logic. Non-retryable errors
// surface immediately; exhaustion returns an *AttemptsExceededError
// wrapping the final cause.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	if !r.PatternEnabled() {
		return op(ctx)
	}

	cfg := r.snapshot()
	var lastErr error

	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		emit(ctx, cfg.Bus, string(registry.KindRetry), cfg.Name, "attempt")

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		// Never swallow non-retryable errors.
		if !cfg.RetryIf(err) {
			return err
		}

		if attempt >= cfg.Attempts {
			break
		}

		delay := backoffDelay(cfg, attempt-1)

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		if err := r.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}

	emit(ctx, cfg.Bus, string(registry.KindRetry), cfg.Name, "exhausted")
	return &AttemptsExceededError{Attempts: cfg.Attempts, Cause: lastErr}
}

func (r *Retry) snapshot() RetryConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}

// backoffDelay computes the post-jitter sleep after attempt index k.
func backoffDelay(cfg RetryConfig, k int) time.Duration {
	base := float64(cfg.Delay) * math.Pow(cfg.Backoff, float64(k))
	if capped := float64(cfg.MaxDelay); base > capped {
		base = capped
	}
	// Full jitter: Uniform(0.5, 1.5).
	// #nosec G404 -- jitter is non-cryptographic timing variance.
	return time.Duration(base * (0.5 + rand.Float64()))
}

// ConfigSnapshot returns the runtime-tunable fields.
func (r *Retry) ConfigSnapshot() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{
		"attempts":       r.config.Attempts,
		"delay_secs":     r.config.Delay.Seconds(),
		"backoff":        r.config.Backoff,
		"max_delay_secs": r.config.MaxDelay.Seconds(),
	}
}

// ApplyConfig updates whitelisted fields.
func (r *Retry) ApplyConfig(fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range fields {
		switch key {
		case "attempts", "delay_secs", "backoff", "max_delay_secs":
		default:
			return fmt.Errorf("%w: %q", registry.ErrUnknownField, key)
		}
	}

	if v, ok := fields["attempts"]; ok {
		n, err := asInt(v)
		if err != nil || n < 1 {
			return fmt.Errorf("resilience: invalid attempts: %v", v)
		}
		r.config.Attempts = n
	}
	if v, ok := fields["delay_secs"]; ok {
		f, err := asFloat(v)
		if err != nil || f <= 0 {
			return fmt.Errorf("resilience: invalid delay_secs: %v", v)
		}
		r.config.Delay = time.Duration(f * float64(time.Second))
	}
	if v, ok := fields["backoff"]; ok {
		f, err := asFloat(v)
		if err != nil || f < 1 {
			return fmt.Errorf("resilience: invalid backoff: %v", v)
		}
		r.config.Backoff = f
	}
	if v, ok := fields["max_delay_secs"]; ok {
		f, err := asFloat(v)
		if err != nil || f <= 0 {
			return fmt.Errorf("resilience: invalid max_delay_secs: %v", v)
		}
		r.config.MaxDelay = time.Duration(f * float64(time.Second))
	}
	return nil
}
