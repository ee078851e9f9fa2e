package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind identifies a pattern family.
type Kind string

// Pattern kinds known to the registry.
const (
	KindRateLimit      Kind = "ratelimit"
	KindCircuitBreaker Kind = "circuitbreaker"
	KindBulkhead       Kind = "bulkhead"
	KindRetry          Kind = "retry"
	KindTimeout        Kind = "timeout"
	KindHedge          Kind = "hedge"
	KindFallback       Kind = "fallback"
	KindFailFast       Kind = "failfast"
	KindFeatureToggle  Kind = "featuretoggle"
	KindCache          Kind = "cache"
)

var knownKinds = map[Kind]bool{
	KindRateLimit:      true,
	KindCircuitBreaker: true,
	KindBulkhead:       true,
	KindRetry:          true,
	KindTimeout:        true,
	KindHedge:          true,
	KindFallback:       true,
	KindFailFast:       true,
	KindFeatureToggle:  true,
	KindCache:          true,
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !knownKinds[k] {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Sentinel errors for registry operations.
var (
	// ErrDuplicate is returned when a (kind, name) pair is already registered.
	ErrDuplicate = errors.New("registry: component already registered")

	// ErrNotFound is returned when a (kind, name) pair is not registered.
	ErrNotFound = errors.New("registry: component not found")

	// ErrUnknownKind is returned for a kind outside the known set.
	ErrUnknownKind = errors.New("registry: unknown kind")

	// ErrUnknownField is returned when a config update names a field
	// outside the pattern's whitelist.
	ErrUnknownField = errors.New("registry: unknown config field")
)

// Switchable is the enable/disable gate every pattern carries.
// A disabled pattern passes calls through with no protection and no error.
type Switchable interface {
	SetEnabled(enabled bool)
	PatternEnabled() bool
}

// Configurable exposes a pattern's runtime-tunable parameters.
//
// Contract:
// - ConfigSnapshot returns the current values of whitelisted fields.
// - ApplyConfig accepts a subset of those fields; an unknown key must
//   return an error wrapping ErrUnknownField and apply nothing.
type Configurable interface {
	ConfigSnapshot() map[string]any
	ApplyConfig(fields map[string]any) error
}

// MetricsReporter exposes a pattern's counters and gauges.
type MetricsReporter interface {
	MetricsSnapshot() map[string]any
}

// Resettable clears a pattern's accumulated metrics.
type Resettable interface {
	ResetMetrics()
}

// Key identifies one registered component.
type Key struct {
	Kind Kind
	Name string
}

// Entry describes a registered component.
type Entry struct {
	Kind    Kind
	Name    string
	Enabled bool
}

// Registry is the process-wide component index.
type Registry struct {
	mu         sync.RWMutex
	components map[Key]any
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{components: make(map[Key]any)}
}

var defaultRegistry = New()

// Default returns the process-wide registry.
//
// Prefer injecting a registry explicitly; Default exists for the common
// single-registry process and for config file application.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a component under (kind, name). The pair must be unique
// within the registry.
func (r *Registry) Register(kind Kind, name string, pattern any) error {
	if !knownKinds[kind] {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	name = strings.TrimSpace(name)
	if name == "" || pattern == nil {
		return errors.New("registry: invalid component registration")
	}

	key := Key{Kind: kind, Name: name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.components[key]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicate, kind, name)
	}
	r.components[key] = pattern
	return nil
}

// Deregister removes a component. Idempotent.
func (r *Registry) Deregister(kind Kind, name string) {
	r.mu.Lock()
	delete(r.components, Key{Kind: kind, Name: name})
	r.mu.Unlock()
}

// Get returns the component registered under (kind, name).
func (r *Registry) Get(kind Kind, name string) (any, error) {
	r.mu.RLock()
	p, ok := r.components[Key{Kind: kind, Name: name}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}
	return p, nil
}

// List returns every registered component, sorted by kind then name.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.components))
	for key, p := range r.components {
		e := Entry{Kind: key.Kind, Name: key.Name, Enabled: true}
		if sw, ok := p.(Switchable); ok {
			e.Enabled = sw.PatternEnabled()
		}
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// Enable turns a component's gate on.
func (r *Registry) Enable(kind Kind, name string) error {
	return r.setEnabled(kind, name, true)
}

// Disable turns a component's gate off; the pattern becomes a pass-through.
func (r *Registry) Disable(kind Kind, name string) error {
	return r.setEnabled(kind, name, false)
}

func (r *Registry) setEnabled(kind Kind, name string, enabled bool) error {
	p, err := r.Get(kind, name)
	if err != nil {
		return err
	}
	sw, ok := p.(Switchable)
	if !ok {
		return fmt.Errorf("registry: %s/%s is not switchable", kind, name)
	}
	sw.SetEnabled(enabled)
	return nil
}

// Enabled reports a component's gate state.
func (r *Registry) Enabled(kind Kind, name string) (bool, error) {
	p, err := r.Get(kind, name)
	if err != nil {
		return false, err
	}
	if sw, ok := p.(Switchable); ok {
		return sw.PatternEnabled(), nil
	}
	return true, nil
}

// Config returns the component's whitelisted config snapshot.
func (r *Registry) Config(kind Kind, name string) (map[string]any, error) {
	p, err := r.Get(kind, name)
	if err != nil {
		return nil, err
	}
	if c, ok := p.(Configurable); ok {
		return c.ConfigSnapshot(), nil
	}
	return map[string]any{}, nil
}

// UpdateConfig applies a whitelisted field subset to the component.
func (r *Registry) UpdateConfig(kind Kind, name string, fields map[string]any) error {
	p, err := r.Get(kind, name)
	if err != nil {
		return err
	}
	c, ok := p.(Configurable)
	if !ok {
		return fmt.Errorf("registry: %s/%s is not configurable", kind, name)
	}
	return c.ApplyConfig(fields)
}

// MetricsSnapshot returns the component's current metrics.
func (r *Registry) MetricsSnapshot(kind Kind, name string) (map[string]any, error) {
	p, err := r.Get(kind, name)
	if err != nil {
		return nil, err
	}
	if m, ok := p.(MetricsReporter); ok {
		return m.MetricsSnapshot(), nil
	}
	return map[string]any{}, nil
}

// ResetMetrics clears the component's accumulated metrics.
func (r *Registry) ResetMetrics(kind Kind, name string) error {
	p, err := r.Get(kind, name)
	if err != nil {
		return err
	}
	if m, ok := p.(Resettable); ok {
		m.ResetMetrics()
	}
	return nil
}
