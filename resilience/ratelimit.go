package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// HTTP header names of the rate-limit cooperation protocol.
const (
	HeaderRateLimitLimit     = "RateLimit-Limit"
	HeaderRateLimitRemaining = "RateLimit-Remaining"
	HeaderBackpressure       = "X-Backpressure"
	HeaderRetryAfter         = "Retry-After"
	HeaderRetryAfterMs       = "X-RateLimit-Retry-After-Ms"
	HeaderClientID           = "X-Client-Id"
)

// RetryAfterStrategy selects how a rejection's Retry-After is computed.
type RetryAfterStrategy string

const (
	// RetryAfterFixed advises the time until the next full token.
	RetryAfterFixed RetryAfterStrategy = "fixed"

	// RetryAfterUtilization scales the advice with bucket utilization.
	RetryAfterUtilization RetryAfterStrategy = "utilization"

	// RetryAfterBackpressure adds a latency-driven penalty and jitter on
	// top of the token-refill estimate.
	RetryAfterBackpressure RetryAfterStrategy = "backpressure"
)

// DefaultMaxClients caps the per-client sub-bucket map. An unbounded
// client map is a memory DoS; least-recently-seen clients are evicted at
// the cap and start from a fresh sub-bucket on return.
const DefaultMaxClients = 10000

// RateLimiterConfig configures the token-bucket rate limiter.
type RateLimiterConfig struct {
	// Name is the operator-assigned instance name. Default: "default"
	Name string

	// MaxExecutions is the number of operations allowed per PerTime.
	// Default: 100
	MaxExecutions int

	// PerTime is the refill period MaxExecutions is spread over.
	// Default: 1 second
	PerTime time.Duration

	// BucketSize is the maximum burst capacity in tokens.
	// Default: MaxExecutions
	BucketSize int

	// Strategy selects the Retry-After computation.
	// Default: RetryAfterFixed
	Strategy RetryAfterStrategy

	// PerClient enables per-client sub-buckets. Both the global bucket
	// and the caller's sub-bucket must admit a call.
	PerClient bool

	// MaxClients bounds the sub-bucket map, LRU-evicted.
	// Default: DefaultMaxClients
	MaxClients int

	// WindowSize is the latency window capacity.
	// Default: DefaultWindowSize
	WindowSize int

	// Backpressure parameterizes the stress score and the backpressure
	// Retry-After strategy.
	Backpressure BackpressureConfig

	// Clock overrides time, for tests. Default: system clock.
	Clock Clock

	// Bus receives allowed/rejected events. May be nil.
	Bus *observe.Bus
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	// Allowed reports whether a token was debited.
	Allowed bool

	// RetryAfter is the advised backoff on rejection, zero on admission.
	RetryAfter time.Duration

	// Backpressure is the stress score at decision time.
	Backpressure float64

	// Remaining is the whole tokens left after admission. Under
	// per-client tracking this is the minimum of the global and
	// per-client remainders.
	Remaining int

	// Headers are the HTTP response headers for this decision.
	Headers map[string]string
}

// tokenBucket is the refillable token store. Refill is lazy and
// idempotent: any number of refills between two instants produce the same
// state as one.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

func (b *tokenBucket) refill(now time.Time, rate, size float64) {
	delta := now.Sub(b.lastRefill).Seconds()
	if delta > 0 {
		b.tokens = math.Min(size, b.tokens+delta*rate)
		b.lastRefill = now
	}
}

// RateLimiter is an adaptive token-bucket rate limiter with latency-driven
// backpressure and optional per-client tracking.
type RateLimiter struct {
	switchState

	clock    Clock
	bus      *observe.Bus
	window   *Window
	pressure *Backpressure

	mu       sync.Mutex
	name     string
	maxExec  int
	perTime  time.Duration
	size     float64
	rate     float64
	strategy RetryAfterStrategy
	global   tokenBucket
	clients  *lru.Cache[string, *tokenBucket]

	allowed  int64
	rejected int64
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	// Apply defaults
	if config.Name == "" {
		config.Name = "default"
	}
	if config.MaxExecutions <= 0 {
		config.MaxExecutions = 100
	}
	if config.PerTime <= 0 {
		config.PerTime = time.Second
	}
	if config.BucketSize <= 0 {
		config.BucketSize = config.MaxExecutions
	}
	if config.Strategy == "" {
		config.Strategy = RetryAfterFixed
	}
	if config.MaxClients <= 0 {
		config.MaxClients = DefaultMaxClients
	}

	clock := orSystem(config.Clock)

	rl := &RateLimiter{
		clock:    clock,
		bus:      config.Bus,
		window:   NewWindow(config.WindowSize),
		pressure: NewBackpressure(config.Backpressure),
		name:     config.Name,
		maxExec:  config.MaxExecutions,
		perTime:  config.PerTime,
		size:     float64(config.BucketSize),
		strategy: config.Strategy,
		global: tokenBucket{
			tokens:     float64(config.BucketSize),
			lastRefill: clock.Now(),
		},
	}
	rl.rate = float64(rl.maxExec) / rl.perTime.Seconds()

	if config.PerClient {
		// Size is validated above, New cannot fail.
		rl.clients, _ = lru.New[string, *tokenBucket](config.MaxClients)
	}

	return rl
}

// Kind returns the registry kind.
func (rl *RateLimiter) Kind() registry.Kind { return registry.KindRateLimit }

// Name returns the instance name.
func (rl *RateLimiter) Name() string {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.name
}

// TryAcquire attempts to debit one token, per client when tracking is
// enabled. clientID may be empty; unknown clients get a fresh sub-bucket.
// Rejection is a normal return, not an error.
func (rl *RateLimiter) TryAcquire(ctx context.Context, clientID string) Decision {
	if !rl.PatternEnabled() {
		return Decision{Allowed: true, Headers: map[string]string{}}
	}

	now := rl.clock.Now()
	score := rl.pressure.Score(rl.window)

	rl.mu.Lock()

	rl.global.refill(now, rl.rate, rl.size)

	var sub *tokenBucket
	if rl.clients != nil && clientID != "" {
		var ok bool
		sub, ok = rl.clients.Get(clientID)
		if !ok {
			sub = &tokenBucket{tokens: rl.size, lastRefill: now}
			rl.clients.Add(clientID, sub)
		}
		sub.refill(now, rl.rate, rl.size)
	}

	// Both buckets must admit; nothing is debited on rejection.
	if rl.global.tokens >= 1 && (sub == nil || sub.tokens >= 1) {
		rl.global.tokens--
		remaining := rl.global.tokens
		if sub != nil {
			sub.tokens--
			remaining = math.Min(remaining, sub.tokens)
		}
		rl.allowed++
		limit := rl.maxExec
		rl.mu.Unlock()

		emit(ctx, rl.bus, string(registry.KindRateLimit), rl.name, "allowed")
		return Decision{
			Allowed:      true,
			Backpressure: score,
			Remaining:    int(remaining),
			Headers: map[string]string{
				HeaderRateLimitLimit:     strconv.Itoa(limit),
				HeaderRateLimitRemaining: strconv.Itoa(int(remaining)),
				HeaderBackpressure:       fmt.Sprintf("%.2f", score),
			},
		}
	}

	// Retry-After is computed from the more constrained bucket.
	scarce := rl.global.tokens
	if sub != nil && sub.tokens < scarce {
		scarce = sub.tokens
	}
	retryAfter := rl.retryAfterLocked(scarce, score)
	rl.rejected++
	rl.mu.Unlock()

	emit(ctx, rl.bus, string(registry.KindRateLimit), rl.name, "rejected")

	seconds := retryAfter.Seconds()
	return Decision{
		Allowed:      false,
		RetryAfter:   retryAfter,
		Backpressure: score,
		Headers: map[string]string{
			HeaderRetryAfter:   strconv.Itoa(int(math.Ceil(seconds))),
			HeaderRetryAfterMs: strconv.FormatInt(int64(math.Round(seconds*1000)), 10),
			HeaderBackpressure: fmt.Sprintf("%.2f", score),
		},
	}
}

func (rl *RateLimiter) retryAfterLocked(tokens, score float64) time.Duration {
	var seconds float64

	switch rl.strategy {
	case RetryAfterUtilization:
		seconds = rl.pressure.MinRetryDelay() +
			rl.pressure.MaxRetryPenalty()*(1-tokens/rl.size)

	case RetryAfterBackpressure:
		base := (1 - tokens) / rl.rate
		penalty := rl.pressure.MaxRetryPenalty() * score
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		jitter := 0.8 + 0.4*rand.Float64()
		seconds = math.Max(rl.pressure.MinRetryDelay(), base+penalty) * jitter

	default: // RetryAfterFixed: time until the next full token
		seconds = (1 - tokens) / rl.rate
	}

	return time.Duration(seconds * float64(time.Second))
}

// RecordLatency feeds one completed-operation latency into the window and
// advances the baseline adaptation cycle.
func (rl *RateLimiter) RecordLatency(seconds float64) {
	rl.window.Record(seconds)
	rl.pressure.Observe(rl.window)
}

// Backpressure returns the current stress score.
func (rl *RateLimiter) Backpressure() float64 {
	return rl.pressure.Score(rl.window)
}

// Tokens returns the current global token count after a refill.
func (rl *RateLimiter) Tokens() float64 {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.global.refill(now, rl.rate, rl.size)
	return rl.global.tokens
}

// Execute admits, runs, and records the operation. Rejection surfaces as a
// *RateLimitError. The limiter's lock is never held across op.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	d := rl.TryAcquire(ctx, "")
	if !d.Allowed {
		return &RateLimitError{
			RetryAfter:   d.RetryAfter,
			Backpressure: d.Backpressure,
			Headers:      d.Headers,
		}
	}

	start := rl.clock.Now()
	err := op(ctx)
	rl.RecordLatency(rl.clock.Now().Sub(start).Seconds())
	return err
}

// ConfigSnapshot returns the runtime-tunable fields.
func (rl *RateLimiter) ConfigSnapshot() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]any{
		"max_executions": rl.maxExec,
		"per_time_secs":  rl.perTime.Seconds(),
		"bucket_size":    int(rl.size),
		"strategy":       string(rl.strategy),
	}
}

// ApplyConfig updates whitelisted fields. Unknown fields reject the whole
// update.
func (rl *RateLimiter) ApplyConfig(fields map[string]any) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key := range fields {
		switch key {
		case "max_executions", "per_time_secs", "bucket_size", "strategy":
		default:
			return fmt.Errorf("%w: %q", registry.ErrUnknownField, key)
		}
	}

	if v, ok := fields["max_executions"]; ok {
		n, err := asInt(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("resilience: invalid max_executions: %v", v)
		}
		rl.maxExec = n
	}
	if v, ok := fields["per_time_secs"]; ok {
		f, err := asFloat(v)
		if err != nil || f <= 0 {
			return fmt.Errorf("resilience: invalid per_time_secs: %v", v)
		}
		rl.perTime = time.Duration(f * float64(time.Second))
	}
	if v, ok := fields["bucket_size"]; ok {
		n, err := asInt(v)
		if err != nil || n < 1 {
			return fmt.Errorf("resilience: invalid bucket_size: %v", v)
		}
		rl.size = float64(n)
	}
	if v, ok := fields["strategy"]; ok {
		s, _ := v.(string)
		switch RetryAfterStrategy(s) {
		case RetryAfterFixed, RetryAfterUtilization, RetryAfterBackpressure:
			rl.strategy = RetryAfterStrategy(s)
		default:
			return fmt.Errorf("resilience: invalid strategy: %v", v)
		}
	}

	rl.rate = float64(rl.maxExec) / rl.perTime.Seconds()
	return nil
}

// MetricsSnapshot returns current counters and gauges.
func (rl *RateLimiter) MetricsSnapshot() map[string]any {
	score := rl.pressure.Score(rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	m := map[string]any{
		"allowed":      rl.allowed,
		"rejected":     rl.rejected,
		"tokens":       rl.global.tokens,
		"backpressure": score,
	}
	if rl.clients != nil {
		m["tracked_clients"] = rl.clients.Len()
	}
	return m
}

// ResetMetrics zeroes the counters. Token state is untouched.
func (rl *RateLimiter) ResetMetrics() {
	rl.mu.Lock()
	rl.allowed = 0
	rl.rejected = 0
	rl.mu.Unlock()
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
