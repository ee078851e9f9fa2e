package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// FailFastConfig configures the fail-fast trip counter.
type FailFastConfig struct {
	// Name is the operator-assigned instance name. Default: "default"
	Name string

	// FailureThreshold is the number of consecutive failures that trips
	// the guard. Default: 5
	FailureThreshold int

	// AutoReset re-arms the guard this long after tripping. Zero means
	// the guard stays tripped until an explicit Reset.
	AutoReset time.Duration

	// Clock overrides time, for tests. Default: system clock.
	Clock Clock

	// Bus receives tripped/rejected events. May be nil.
	Bus *observe.Bus
}

// FailFast rejects every call once a consecutive-failure threshold is
// reached, until reset. Unlike the circuit breaker it has no probing
// state: the trip is final until an operator or the auto-reset period
// re-arms it.
type FailFast struct {
	switchState

	config FailFastConfig
	clock  Clock

	mu                  sync.Mutex
	tripped             bool
	trippedAt           time.Time
	consecutiveFailures int
	rejected            int64
}

// NewFailFast creates a new fail-fast guard, initially not tripped.
func NewFailFast(config FailFastConfig) *FailFast {
	// Apply defaults
	if config.Name == "" {
		config.Name = "default"
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}

	return &FailFast{config: config, clock: orSystem(config.Clock)}
}

// Kind returns the registry kind.
func (f *FailFast) Kind() registry.Kind { return registry.KindFailFast }

// Name returns the instance name.
func (f *FailFast) Name() string { return f.config.Name }

// Execute runs the operation unless the guard is tripped.
func (f *FailFast) Execute(ctx context.Context, op func(context.Context) error) error {
	if !f.PatternEnabled() {
		return op(ctx)
	}

	now := f.clock.Now()

	f.mu.Lock()
	if f.tripped {
		if f.config.AutoReset > 0 && now.Sub(f.trippedAt) >= f.config.AutoReset {
			f.tripped = false
			f.consecutiveFailures = 0
		} else {
			f.rejected++
			f.mu.Unlock()
			emit(ctx, f.config.Bus, string(registry.KindFailFast), f.config.Name, "rejected")
			return ErrFailFastOpen
		}
	}
	f.mu.Unlock()

	err := op(ctx)

	f.mu.Lock()
	if err != nil {
		f.consecutiveFailures++
		if !f.tripped && f.consecutiveFailures >= f.config.FailureThreshold {
			f.tripped = true
			f.trippedAt = f.clock.Now()
			f.mu.Unlock()
			emit(ctx, f.config.Bus, string(registry.KindFailFast), f.config.Name, "tripped")
			return err
		}
	} else {
		f.consecutiveFailures = 0
	}
	f.mu.Unlock()

	return err
}

// Tripped reports whether the guard is currently tripped.
func (f *FailFast) Tripped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tripped
}

// Reset re-arms the guard.
func (f *FailFast) Reset() {
	f.mu.Lock()
	f.tripped = false
	f.consecutiveFailures = 0
	f.mu.Unlock()
}

// ConfigSnapshot returns the runtime-tunable fields.
func (f *FailFast) ConfigSnapshot() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]any{
		"failure_threshold": f.config.FailureThreshold,
		"auto_reset_secs":   f.config.AutoReset.Seconds(),
	}
}

// ApplyConfig updates whitelisted fields.
func (f *FailFast) ApplyConfig(fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key := range fields {
		switch key {
		case "failure_threshold", "auto_reset_secs":
		default:
			return fmt.Errorf("%w: %q", registry.ErrUnknownField, key)
		}
	}

	if v, ok := fields["failure_threshold"]; ok {
		n, err := asInt(v)
		if err != nil || n < 1 {
			return fmt.Errorf("resilience: invalid failure_threshold: %v", v)
		}
		f.config.FailureThreshold = n
	}
	if v, ok := fields["auto_reset_secs"]; ok {
		sec, err := asFloat(v)
		if err != nil || sec < 0 {
			return fmt.Errorf("resilience: invalid auto_reset_secs: %v", v)
		}
		f.config.AutoReset = time.Duration(sec * float64(time.Second))
	}
	return nil
}

// MetricsSnapshot returns current counters.
func (f *FailFast) MetricsSnapshot() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return map[string]any{
		"tripped":              f.tripped,
		"consecutive_failures": f.consecutiveFailures,
		"rejected":             f.rejected,
	}
}

// ResetMetrics zeroes the counters. Trip state is untouched.
func (f *FailFast) ResetMetrics() {
	f.mu.Lock()
	f.rejected = 0
	f.mu.Unlock()
}
