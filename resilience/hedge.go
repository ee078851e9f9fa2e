package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// HedgeConfig configures the hedge racer.
type HedgeConfig struct {
	// Name is the operator-assigned instance name. Default: "default"
	Name string

	// Attempts is the maximum number of racing copies. Default: 2
	Attempts int

	// Delay is the stagger between launches. A failed attempt frees the
	// stagger budget and launches the next copy immediately.
	// Default: 100ms
	Delay time.Duration

	// Timeout is the total wall budget for the race.
	// Default: 30 seconds
	Timeout time.Duration

	// Clock overrides time, for tests. Default: system clock.
	Clock Clock

	// Bus receives launched/won/timeout events. May be nil.
	Bus *observe.Bus
}

// Hedge launches staggered parallel copies of an operation and returns the
// first success, cancelling the rest. Intended for idempotent reads.
type Hedge struct {
	switchState

	config HedgeConfig
	clock  Clock
}

// NewHedge creates a new hedge racer.
func NewHedge(config HedgeConfig) *Hedge {
	// Apply defaults
	if config.Name == "" {
		config.Name = "default"
	}
	if config.Attempts < 2 {
		config.Attempts = 2
	}
	if config.Delay < 0 {
		config.Delay = 0
	} else if config.Delay == 0 {
		config.Delay = 100 * time.Millisecond
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Hedge{config: config, clock: orSystem(config.Clock)}
}

// Kind returns the registry kind.
func (h *Hedge) Kind() registry.Kind { return registry.KindHedge }

// Name returns the instance name.
func (h *Hedge) Name() string { return h.config.Name }

// Execute races up to Attempts copies of op. The first success wins and
// cancels its siblings. When every launched copy fails, the most recent
// error surfaces; when the wall budget expires with nothing back,
// ErrHedgeTimeout does.
func (h *Hedge) Execute(ctx context.Context, op func(context.Context) error) error {
	if !h.PatternEnabled() {
		return op(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	results := make(chan error, h.config.Attempts)
	launched := 0

	launch := func() {
		launched++
		emit(ctx, h.config.Bus, string(registry.KindHedge), h.config.Name, "launched")
		go func() {
			results <- op(ctx)
		}()
	}

	launch()

	var lastErr error
	completed := 0

	for {
		var stagger <-chan time.Time
		if launched < h.config.Attempts {
			stagger = h.clock.After(h.config.Delay)
		}

		select {
		case err := <-results:
			completed++
			if err == nil {
				emit(ctx, h.config.Bus, string(registry.KindHedge), h.config.Name, "won")
				return nil
			}
			// Context-derived errors are budget expiry, not attempt
			// failures; they must not mask ErrHedgeTimeout.
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				lastErr = err
			}
			if ctx.Err() != nil {
				return h.finish(lastErr)
			}
			if launched < h.config.Attempts {
				// A failure frees the stagger budget immediately.
				launch()
			} else if completed == launched {
				return h.finish(lastErr)
			}

		case <-stagger:
			launch()

		case <-ctx.Done():
			return h.finish(lastErr)
		}
	}
}

// finish resolves the race's terminal error.
func (h *Hedge) finish(lastErr error) error {
	if lastErr != nil {
		return lastErr
	}
	emit(context.Background(), h.config.Bus, string(registry.KindHedge), h.config.Name, "timeout")
	return ErrHedgeTimeout
}

// ConfigSnapshot returns the current settings. Hedge has no ApplyConfig,
// so it is not a registry.Configurable and these fields are fixed at
// construction.
func (h *Hedge) ConfigSnapshot() map[string]any {
	return map[string]any{
		"attempts":     h.config.Attempts,
		"delay_secs":   h.config.Delay.Seconds(),
		"timeout_secs": h.config.Timeout.Seconds(),
	}
}
