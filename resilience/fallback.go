package resilience

import (
	"context"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// FallbackConfig configures the fallback guard.
type FallbackConfig struct {
	// Name is the operator-assigned instance name. Default: "default"
	Name string

	// Bus receives invoked events. May be nil.
	Bus *observe.Bus
}

// Fallback routes any failure of the primary operation to an alternate
// path. The alternate receives the primary's error.
type Fallback struct {
	switchState

	config FallbackConfig
}

// NewFallback creates a new fallback guard.
func NewFallback(config FallbackConfig) *Fallback {
	if config.Name == "" {
		config.Name = "default"
	}
	return &Fallback{config: config}
}

// Kind returns the registry kind.
func (f *Fallback) Kind() registry.Kind { return registry.KindFallback }

// Name returns the instance name.
func (f *Fallback) Name() string { return f.config.Name }

// Execute runs the primary operation and, on any error, the alternate.
func (f *Fallback) Execute(ctx context.Context, op func(context.Context) error, alt func(context.Context, error) error) error {
	err := op(ctx)
	if err == nil || !f.PatternEnabled() || alt == nil {
		return err
	}

	emit(ctx, f.config.Bus, string(registry.KindFallback), f.config.Name, "invoked")
	return alt(ctx, err)
}
