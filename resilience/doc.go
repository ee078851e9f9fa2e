// Package resilience provides composable protective guards for network
// service operations.
//
// Each pattern is a named, long-lived object wrapping an operation with a
// protective behavior. Patterns compose by stacking: the outermost guard
// sees every call, inner guards only the calls that passed the outer ones.
//
// # Patterns
//
//   - [RateLimiter]: adaptive token bucket with a latency-driven
//     backpressure score, pluggable Retry-After strategies, and optional
//     per-client sub-buckets. Drives client cooperation via Retry-After
//     and X-Backpressure headers.
//
//   - [CircuitBreaker]: consecutive-failures breaker. Transitions through
//     Working, Failing, and Recovering, probing with a configurable number
//     of half-open requests.
//
//   - [Bulkhead]: bounded concurrency with a bounded FIFO wait queue.
//
//   - [Retry]: attempt loop with full-jitter exponential backoff.
//
//   - [Timeout]: deadline-bounded execution.
//
//   - [Hedge]: stagger-launched racing copies for tail-latency control.
//
//   - [Fallback], [FailFast], [FeatureToggle]: small single-purpose guards.
//
// # Quick Start
//
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	    Name:          "orders",
//	    MaxExecutions: 100,
//	    PerTime:       time.Second,
//	    Strategy:      resilience.RetryAfterBackpressure,
//	})
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//	    Name:             "orders",
//	    FailureThreshold: 5,
//	    RecoveryTimeout:  30 * time.Second,
//	})
//
//	executor := resilience.NewExecutor(
//	    resilience.WithRateLimiter(rl),
//	    resilience.WithCircuitBreaker(cb),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{Attempts: 3})),
//	    resilience.WithTimeout(resilience.NewTimeout(resilience.TimeoutConfig{Timeout: 5 * time.Second})),
//	)
//
//	err := executor.Execute(ctx, func(ctx context.Context) error {
//	    return callDownstream(ctx)
//	})
//
// # Error Handling
//
// Each pattern returns a specific sentinel error (use errors.Is):
// [ErrRateLimitExceeded], [ErrCircuitOpen], [ErrBulkheadFull],
// [ErrAttemptsExceeded], [ErrTimeout], [ErrHedgeTimeout],
// [ErrFailFastOpen], [ErrFeatureDisabled]. Rate-limit rejections carry a
// structured [RateLimitError] with the advised backoff and response
// headers; retry exhaustion carries an [AttemptsExceededError] wrapping
// the final cause.
//
// # Observability and Control
//
// Patterns publish counter events to an observe.Bus and register with a
// registry.Registry via [Register] for runtime introspection, whitelisted
// config updates, and the enable/disable gate. A disabled pattern passes
// calls through untouched.
//
// # Thread Safety
//
// All exported types are safe for concurrent use after construction. Each
// pattern guards only its own state with its own mutex; no lock is held
// across the guarded operation or any suspension point.
package resilience
