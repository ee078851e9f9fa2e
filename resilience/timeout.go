package resilience

import (
	"context"
	"time"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Name is the operator-assigned instance name. Default: "default"
	Name string

	// Timeout is the maximum duration for the operation.
	// Default: 30 seconds
	Timeout time.Duration

	// Bus receives timeout events. May be nil.
	Bus *observe.Bus
}

// Timeout bounds operations to a deadline. The guarded operation must be
// cooperatively cancellable; one that ignores its context may outlive the
// deadline, but the caller still observes ErrTimeout at the deadline.
type Timeout struct {
	switchState

	config TimeoutConfig
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	// Apply defaults
	if config.Name == "" {
		config.Name = "default"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Timeout{config: config}
}

// Kind returns the registry kind.
func (t *Timeout) Kind() registry.Kind { return registry.KindTimeout }

// Name returns the instance name.
func (t *Timeout) Name() string { return t.config.Name }

// Execute runs the operation with a timeout.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	if !t.PatternEnabled() {
		return op(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- op(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			emit(ctx, t.config.Bus, string(registry.KindTimeout), t.config.Name, "timeout")
			return ErrTimeout
		}
		return ctx.Err()
	}
}

// ConfigSnapshot returns the current settings. Timeout has no ApplyConfig,
// so it is not a registry.Configurable and the timeout is fixed at
// construction.
func (t *Timeout) ConfigSnapshot() map[string]any {
	return map[string]any{
		"timeout_secs": t.config.Timeout.Seconds(),
	}
}

// ExecuteWithTimeout is a convenience function to run an operation with timeout.
func ExecuteWithTimeout(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	t := NewTimeout(TimeoutConfig{Timeout: timeout})
	return t.Execute(ctx, op)
}
