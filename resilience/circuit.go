package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// State represents the circuit breaker state.
type State int

const (
	// StateWorking means the circuit is operating normally (closed).
	StateWorking State = iota
	// StateFailing means the circuit is blocking all requests (open).
	StateFailing
	// StateRecovering means the circuit is probing for recovery (half-open).
	StateRecovering
)

// String returns the conventional name of the state.
func (s State) String() string {
	switch s {
	case StateWorking:
		return "closed"
	case StateFailing:
		return "open"
	case StateRecovering:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// Name is the operator-assigned instance name. Default: "default"
	Name string

	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before probing.
	// Default: 30 seconds
	RecoveryTimeout time.Duration

	// HalfOpenRequests is how many probe requests are admitted while
	// recovering, and how many must succeed to close the circuit.
	// Default: 1
	HalfOpenRequests int

	// IsFailure determines if an error should count as a failure.
	// Default: all non-nil errors are failures.
	IsFailure func(err error) bool

	// OnStateChange is called after every state transition.
	OnStateChange func(from, to State)

	// Clock overrides time, for tests. Default: system clock.
	Clock Clock

	// Bus receives transition and outcome events. May be nil.
	Bus *observe.Bus
}

// CircuitBreaker is the consecutive-failures circuit breaker.
//
// Calls flow through Gate, then the operation, then RecordSuccess or
// RecordFailure; Execute composes the three. Transitions are serialized
// by the breaker's lock, which is never held across the guarded operation.
type CircuitBreaker struct {
	switchState

	config CircuitBreakerConfig
	clock  Clock

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenPermits     int
	halfOpenSuccesses   int

	rejected    int64
	transitions int64
}

// NewCircuitBreaker creates a new circuit breaker in the Working state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.Name == "" {
		config.Name = "default"
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		config: config,
		clock:  orSystem(config.Clock),
		state:  StateWorking,
	}
}

// Kind returns the registry kind.
func (cb *CircuitBreaker) Kind() registry.Kind { return registry.KindCircuitBreaker }

// Name returns the instance name.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// Gate asks for a permit. A nil return admits the call; the caller must
// then report the outcome via RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Gate() error {
	if !cb.PatternEnabled() {
		return nil
	}

	now := cb.clock.Now()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateWorking:
		return nil

	case StateFailing:
		if now.Sub(cb.openedAt) < cb.config.RecoveryTimeout {
			cb.rejected++
			cb.emitLocked("rejected")
			return ErrCircuitOpen
		}
		// Cooldown elapsed: start probing, this caller takes the first permit.
		cb.transitionLocked(StateRecovering)
		cb.halfOpenPermits = 1
		cb.halfOpenSuccesses = 0
		return nil

	default: // StateRecovering
		if cb.halfOpenPermits < cb.config.HalfOpenRequests {
			cb.halfOpenPermits++
			return nil
		}
		// Probe budget spent, waiting for outcomes.
		cb.rejected++
		cb.emitLocked("rejected")
		return ErrCircuitOpen
	}
}

// RecordSuccess reports a successful outcome for a permitted call.
func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.PatternEnabled() {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.emitLocked("success")

	switch cb.state {
	case StateWorking:
		cb.consecutiveFailures = 0

	case StateRecovering:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.config.HalfOpenRequests {
			cb.transitionLocked(StateWorking)
			cb.consecutiveFailures = 0
			cb.halfOpenPermits = 0
			cb.halfOpenSuccesses = 0
		}
	}
}

// RecordFailure reports a failed outcome for a permitted call.
func (cb *CircuitBreaker) RecordFailure() {
	if !cb.PatternEnabled() {
		return
	}

	now := cb.clock.Now()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.emitLocked("failure")

	switch cb.state {
	case StateWorking:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionLocked(StateFailing)
			cb.openedAt = now
			cb.consecutiveFailures = 0
		}

	case StateRecovering:
		// Any failure while probing re-opens the circuit.
		cb.transitionLocked(StateFailing)
		cb.openedAt = now
		cb.consecutiveFailures = 0
		cb.halfOpenPermits = 0
		cb.halfOpenSuccesses = 0
	}
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !cb.PatternEnabled() {
		return op(ctx)
	}

	if err := cb.Gate(); err != nil {
		return err
	}

	err := op(ctx)
	if cb.config.IsFailure(err) {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to Working and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateWorking {
		cb.transitionLocked(StateWorking)
	}
	cb.consecutiveFailures = 0
	cb.halfOpenPermits = 0
	cb.halfOpenSuccesses = 0
}

func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	cb.state = to
	cb.transitions++

	if cb.config.Bus != nil {
		emitAttrs(context.Background(), cb.config.Bus,
			string(registry.KindCircuitBreaker), cb.config.Name, "state_change",
			map[string]string{"from": from.String(), "to": to.String()})
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

func (cb *CircuitBreaker) emitLocked(metric string) {
	emit(context.Background(), cb.config.Bus,
		string(registry.KindCircuitBreaker), cb.config.Name, metric)
}

// ConfigSnapshot returns the runtime-tunable fields.
func (cb *CircuitBreaker) ConfigSnapshot() map[string]any {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]any{
		"failure_threshold":     cb.config.FailureThreshold,
		"recovery_timeout_secs": cb.config.RecoveryTimeout.Seconds(),
		"half_open_requests":    cb.config.HalfOpenRequests,
	}
}

// ApplyConfig updates whitelisted fields.
func (cb *CircuitBreaker) ApplyConfig(fields map[string]any) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for key := range fields {
		switch key {
		case "failure_threshold", "recovery_timeout_secs", "half_open_requests":
		default:
			return fmt.Errorf("%w: %q", registry.ErrUnknownField, key)
		}
	}

	if v, ok := fields["failure_threshold"]; ok {
		n, err := asInt(v)
		if err != nil || n < 1 {
			return fmt.Errorf("resilience: invalid failure_threshold: %v", v)
		}
		cb.config.FailureThreshold = n
	}
	if v, ok := fields["recovery_timeout_secs"]; ok {
		f, err := asFloat(v)
		if err != nil || f <= 0 {
			return fmt.Errorf("resilience: invalid recovery_timeout_secs: %v", v)
		}
		cb.config.RecoveryTimeout = time.Duration(f * float64(time.Second))
	}
	if v, ok := fields["half_open_requests"]; ok {
		n, err := asInt(v)
		if err != nil || n < 1 {
			return fmt.Errorf("resilience: invalid half_open_requests: %v", v)
		}
		cb.config.HalfOpenRequests = n
	}
	return nil
}

// MetricsSnapshot returns current counters and the state.
func (cb *CircuitBreaker) MetricsSnapshot() map[string]any {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]any{
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"rejected":             cb.rejected,
		"transitions":          cb.transitions,
	}
}

// ResetMetrics zeroes the counters. State is untouched.
func (cb *CircuitBreaker) ResetMetrics() {
	cb.mu.Lock()
	cb.rejected = 0
	cb.transitions = 0
	cb.mu.Unlock()
}
