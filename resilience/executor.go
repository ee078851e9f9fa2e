package resilience

import (
	"context"
	"sync"
)

// Executor composes multiple resilience patterns around one operation.
type Executor struct {
	toggle         *FeatureToggle
	fallback       *Fallback
	fallbackFn     func(context.Context, error) error
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	circuitBreaker *CircuitBreaker
	failFast       *FailFast
	retry          *Retry
	hedge          *Hedge
	timeout        *Timeout
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithFeatureToggle gates the whole stack behind a feature bit.
func WithFeatureToggle(t *FeatureToggle) ExecutorOption {
	return func(e *Executor) {
		e.toggle = t
	}
}

// WithFallback routes any failure of the stack to the alternate path.
func WithFallback(f *Fallback, alt func(context.Context, error) error) ExecutorOption {
	return func(e *Executor) {
		e.fallback = f
		e.fallbackFn = alt
	}
}

// WithRateLimiter adds rate limiting to the executor.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.rateLimiter = rl
	}
}

// WithBulkhead adds bulkhead isolation to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) {
		e.bulkhead = b
	}
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.circuitBreaker = cb
	}
}

// WithFailFast adds a fail-fast trip counter to the executor.
func WithFailFast(f *FailFast) ExecutorOption {
	return func(e *Executor) {
		e.failFast = f
	}
}

// WithRetry adds retry logic to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) {
		e.retry = r
	}
}

// WithHedge adds hedged racing to the executor.
func WithHedge(h *Hedge) ExecutorOption {
	return func(e *Executor) {
		e.hedge = h
	}
}

// WithTimeout adds a timeout to the executor.
func WithTimeout(t *Timeout) ExecutorOption {
	return func(e *Executor) {
		e.timeout = t
	}
}

// Execute runs the operation through all configured resilience patterns.
//
// The execution order is (outermost first):
//
//  1. Feature toggle - gates the whole stack
//  2. Fallback - catches any failure below
//  3. Rate limiter - limits request rate
//  4. Bulkhead - limits concurrency
//  5. Circuit breaker - prevents cascading failures
//  6. Fail-fast - hard trip counter
//  7. Retry - retries on failure
//  8. Hedge - races staggered copies
//  9. Timeout - limits execution time
//
// Each pattern consults its enable gate; a disabled pattern is a
// transparent pass-through.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	// Build the execution chain from inside out
	execute := op

	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.timeout.Execute(ctx, inner)
		}
	}

	if e.hedge != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.hedge.Execute(ctx, inner)
		}
	}

	if e.retry != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.retry.Execute(ctx, inner)
		}
	}

	if e.failFast != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.failFast.Execute(ctx, inner)
		}
	}

	if e.circuitBreaker != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.circuitBreaker.Execute(ctx, inner)
		}
	}

	if e.bulkhead != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.bulkhead.Execute(ctx, inner)
		}
	}

	if e.rateLimiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.rateLimiter.Execute(ctx, inner)
		}
	}

	if e.fallback != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.fallback.Execute(ctx, inner, e.fallbackFn)
		}
	}

	if e.toggle != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.toggle.Execute(ctx, inner, nil)
		}
	}

	return execute(ctx)
}

// Do runs a value-returning operation through the executor. Hedged copies
// may complete concurrently, so the captured result is written under a
// lock and only the first successful copy's value is kept; later
// successes do not overwrite it.
func Do[T any](ctx context.Context, e *Executor, fn func(context.Context) (T, error)) (T, error) {
	var (
		mu  sync.Mutex
		out T
		set bool
	)

	err := e.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		if !set {
			out = v
			set = true
		}
		mu.Unlock()
		return nil
	})

	mu.Lock()
	defer mu.Unlock()
	return out, err
}
