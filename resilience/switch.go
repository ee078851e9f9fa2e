package resilience

import (
	"context"
	"sync/atomic"

	"github.com/sasasavic82/failsafe-go/observe"
)

// switchState is the enable/disable gate every pattern embeds. A disabled
// pattern passes calls straight through: no protection, no error.
//
// The zero value is enabled.
type switchState struct {
	disabled atomic.Bool
}

// SetEnabled flips the gate.
func (s *switchState) SetEnabled(enabled bool) {
	s.disabled.Store(!enabled)
}

// PatternEnabled reports the gate state.
func (s *switchState) PatternEnabled() bool {
	return !s.disabled.Load()
}

// emit publishes a single counter event; bus may be nil.
func emit(ctx context.Context, bus *observe.Bus, kind, name, metric string) {
	bus.Publish(ctx, observe.Event{Kind: kind, Name: name, Metric: metric})
}

// emitAttrs publishes a counter event with extra dimensions; bus may be nil.
func emitAttrs(ctx context.Context, bus *observe.Bus, kind, name, metric string, attrs map[string]string) {
	bus.Publish(ctx, observe.Event{Kind: kind, Name: name, Metric: metric, Attrs: attrs})
}
