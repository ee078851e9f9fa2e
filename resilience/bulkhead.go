package resilience

import (
	"context"
	"fmt"
	"sync"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// BulkheadConfig configures the bulkhead.
type BulkheadConfig struct {
	// Name is the operator-assigned instance name. Default: "default"
	Name string

	// MaxConcurrent is the maximum number of in-flight operations.
	// Default: 10
	MaxConcurrent int

	// MaxQueued is the maximum number of callers suspended waiting for a
	// slot. Zero means no queue: the bulkhead rejects once full.
	MaxQueued int

	// Bus receives acquired/queued/rejected events. May be nil.
	Bus *observe.Bus
}

// waiter is one suspended caller. The channel is closed by the releaser
// handing its slot over.
type waiter struct {
	ready chan struct{}
}

// Bulkhead bounds concurrency with a bounded FIFO wait queue.
//
// A released slot is handed directly to the queue head, so in-flight never
// dips during a handoff and wakeups preserve arrival order. A cancelled
// waiter is removed from the queue atomically and consumes no slot.
type Bulkhead struct {
	switchState

	config BulkheadConfig

	mu       sync.Mutex
	inFlight int
	queue    []*waiter

	maxInFlight int
	rejected    int64
}

// NewBulkhead creates a new bulkhead.
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	// Apply defaults
	if config.Name == "" {
		config.Name = "default"
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}
	if config.MaxQueued < 0 {
		config.MaxQueued = 0
	}

	return &Bulkhead{config: config}
}

// Kind returns the registry kind.
func (b *Bulkhead) Kind() registry.Kind { return registry.KindBulkhead }

// Name returns the instance name.
func (b *Bulkhead) Name() string { return b.config.Name }

// Acquire takes a slot, suspending in FIFO order when none is free.
// Returns ErrBulkheadFull when the queue is also at capacity, or ctx.Err()
// when cancelled while queued.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	if !b.PatternEnabled() {
		return nil
	}

	b.mu.Lock()

	if b.inFlight < b.config.MaxConcurrent {
		b.inFlight++
		if b.inFlight > b.maxInFlight {
			b.maxInFlight = b.inFlight
		}
		b.mu.Unlock()
		emit(ctx, b.config.Bus, string(registry.KindBulkhead), b.config.Name, "acquired")
		return nil
	}

	if len(b.queue) >= b.config.MaxQueued {
		b.rejected++
		b.mu.Unlock()
		emit(ctx, b.config.Bus, string(registry.KindBulkhead), b.config.Name, "rejected")
		return ErrBulkheadFull
	}

	w := &waiter{ready: make(chan struct{})}
	b.queue = append(b.queue, w)
	b.mu.Unlock()

	emit(ctx, b.config.Bus, string(registry.KindBulkhead), b.config.Name, "queued")

	select {
	case <-w.ready:
		// The releaser handed its slot over; inFlight already accounts
		// for this caller.
		emit(ctx, b.config.Bus, string(registry.KindBulkhead), b.config.Name, "acquired")
		return nil

	case <-ctx.Done():
		b.mu.Lock()
		for i, qw := range b.queue {
			if qw == w {
				b.queue = append(b.queue[:i], b.queue[i+1:]...)
				b.mu.Unlock()
				return ctx.Err()
			}
		}
		// Lost the race: a handoff already granted this waiter the slot.
		// Pass it along rather than leaking it.
		b.releaseLocked()
		b.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns a slot, waking the queue head if any.
func (b *Bulkhead) Release() {
	if !b.PatternEnabled() {
		return
	}
	b.mu.Lock()
	b.releaseLocked()
	b.mu.Unlock()
}

// releaseLocked hands the slot to the first waiter, keeping inFlight
// constant across the handoff; with no waiters it decrements inFlight.
func (b *Bulkhead) releaseLocked() {
	if len(b.queue) > 0 {
		w := b.queue[0]
		b.queue = b.queue[1:]
		close(w.ready)
		return
	}
	if b.inFlight > 0 {
		b.inFlight--
	}
}

// Execute runs the operation within the bulkhead. The slot is released on
// every exit path.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

// InFlight returns the number of operations currently holding a slot.
func (b *Bulkhead) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// Queued returns the number of suspended callers.
func (b *Bulkhead) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// ConfigSnapshot returns the runtime-tunable fields.
func (b *Bulkhead) ConfigSnapshot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]any{
		"max_concurrent": b.config.MaxConcurrent,
		"max_queued":     b.config.MaxQueued,
	}
}

// ApplyConfig updates whitelisted fields. Shrinking MaxConcurrent takes
// effect as in-flight operations drain.
func (b *Bulkhead) ApplyConfig(fields map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key := range fields {
		switch key {
		case "max_concurrent", "max_queued":
		default:
			return fmt.Errorf("%w: %q", registry.ErrUnknownField, key)
		}
	}

	if v, ok := fields["max_concurrent"]; ok {
		n, err := asInt(v)
		if err != nil || n < 1 {
			return fmt.Errorf("resilience: invalid max_concurrent: %v", v)
		}
		b.config.MaxConcurrent = n
	}
	if v, ok := fields["max_queued"]; ok {
		n, err := asInt(v)
		if err != nil || n < 0 {
			return fmt.Errorf("resilience: invalid max_queued: %v", v)
		}
		b.config.MaxQueued = n
	}
	return nil
}

// MetricsSnapshot returns current counters and gauges.
func (b *Bulkhead) MetricsSnapshot() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]any{
		"in_flight":     b.inFlight,
		"queued":        len(b.queue),
		"max_in_flight": b.maxInFlight,
		"rejected":      b.rejected,
	}
}

// ResetMetrics zeroes the counters. Occupancy is untouched.
func (b *Bulkhead) ResetMetrics() {
	b.mu.Lock()
	b.maxInFlight = b.inFlight
	b.rejected = 0
	b.mu.Unlock()
}
