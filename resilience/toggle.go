package resilience

import (
	"context"
	"sync/atomic"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// FeatureToggleConfig configures the feature toggle guard.
type FeatureToggleConfig struct {
	// Name is the operator-assigned instance name. Default: "default"
	Name string

	// InitiallyOff starts the feature disabled. The default is on: a
	// freshly constructed toggle passes calls through.
	InitiallyOff bool

	// Bus receives disabled_call events. May be nil.
	Bus *observe.Bus
}

// FeatureToggle gates an operation behind a runtime boolean. A disabled
// feature fails with ErrFeatureDisabled, or routes to an alternate path
// when one is supplied.
//
// Note the two distinct booleans: the feature bit (On/Off) is the guarded
// product behavior; the pattern gate (SetEnabled) bypasses the guard
// entirely, as for every pattern.
type FeatureToggle struct {
	switchState

	config FeatureToggleConfig
	on     atomic.Bool
}

// NewFeatureToggle creates a new feature toggle.
func NewFeatureToggle(config FeatureToggleConfig) *FeatureToggle {
	if config.Name == "" {
		config.Name = "default"
	}
	t := &FeatureToggle{config: config}
	t.on.Store(!config.InitiallyOff)
	return t
}

// Kind returns the registry kind.
func (t *FeatureToggle) Kind() registry.Kind { return registry.KindFeatureToggle }

// Name returns the instance name.
func (t *FeatureToggle) Name() string { return t.config.Name }

// On turns the feature on.
func (t *FeatureToggle) On() { t.on.Store(true) }

// Off turns the feature off.
func (t *FeatureToggle) Off() { t.on.Store(false) }

// IsOn reports the feature bit.
func (t *FeatureToggle) IsOn() bool { return t.on.Load() }

// Execute runs the operation when the feature is on. alt may be nil.
func (t *FeatureToggle) Execute(ctx context.Context, op func(context.Context) error, alt func(context.Context) error) error {
	if !t.PatternEnabled() || t.on.Load() {
		return op(ctx)
	}

	emit(ctx, t.config.Bus, string(registry.KindFeatureToggle), t.config.Name, "disabled_call")
	if alt != nil {
		return alt(ctx)
	}
	return ErrFeatureDisabled
}

// ConfigSnapshot returns the current toggle state. FeatureToggle has no
// ApplyConfig, so it is not a registry.Configurable; the state changes
// only through its own methods.
func (t *FeatureToggle) ConfigSnapshot() map[string]any {
	return map[string]any{
		"on": t.on.Load(),
	}
}
