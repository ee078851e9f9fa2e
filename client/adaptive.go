package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/resilience"
)

// Sentinel errors for adaptive client operations.
var (
	// ErrRateLimited is returned when the reject strategy refuses a send.
	ErrRateLimited = errors.New("client: rate limited")

	// ErrMaxRetries is returned when the queue strategy exhausts its
	// retry budget.
	ErrMaxRetries = errors.New("client: max retries exceeded")
)

// RateLimitedError reports a refusal with the server's advice attached.
// It matches ErrRateLimited under errors.Is.
type RateLimitedError struct {
	// RetryAfter is the server-advised backoff.
	RetryAfter time.Duration

	// Backpressure is the server's last-reported stress score.
	Backpressure float64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("client: rate limited, retry after %s (backpressure %.2f)", e.RetryAfter, e.Backpressure)
}

// Is reports a match against ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Strategy selects the behavior when the server pushes back.
type Strategy string

const (
	// StrategyQueue waits out the advised backoff and retries.
	StrategyQueue Strategy = "queue"

	// StrategyReject surfaces a RateLimitedError immediately.
	StrategyReject Strategy = "reject"
)

// Doer abstracts the underlying HTTP transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the adaptive client.
type Config struct {
	// HTTPClient is the underlying transport.
	// Default: http.DefaultClient
	HTTPClient Doer

	// Strategy selects queue-and-retry or immediate rejection.
	// Default: StrategyQueue
	Strategy Strategy

	// MaxRetries bounds 429 retries under the queue strategy.
	// Default: 3
	MaxRetries int

	// BackoffMultiplier scales each successive wait.
	// Default: 2.0
	BackoffMultiplier float64

	// RespectBackpressure paces sends proportionally to the last-seen
	// backpressure score.
	RespectBackpressure bool

	// BackpressureThreshold is the score at which pacing starts.
	// Default: 0.7
	BackpressureThreshold float64

	// MaxWait caps a single pacing sleep. Default: 5 seconds
	MaxWait time.Duration

	// Clock overrides time, for tests. Default: system clock.
	Clock resilience.Clock

	// Logger records waits and retries. Default: discard.
	Logger observe.Logger
}

// AdaptiveClient wraps an HTTP transport with server-cooperative rate
// regulation.
type AdaptiveClient struct {
	config Config
	clock  resilience.Clock
	log    observe.Logger

	mu              sync.Mutex
	rateLimited     bool
	retryDeadline   time.Time
	backpressure    float64
	remainingTokens int
}

// New creates a new adaptive client.
func New(config Config) *AdaptiveClient {
	// Apply defaults
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Strategy == "" {
		config.Strategy = StrategyQueue
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = 2.0
	}
	if config.BackpressureThreshold <= 0 {
		config.BackpressureThreshold = 0.7
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 5 * time.Second
	}

	c := &AdaptiveClient{
		config:          config,
		clock:           config.Clock,
		log:             config.Logger,
		remainingTokens: -1,
	}
	if c.clock == nil {
		c.clock = resilience.SystemClock()
	}
	if c.log == nil {
		c.log = observe.NopLogger()
	}
	return c
}

// Do sends the request, honoring any pending Retry-After deadline and the
// server's backpressure signal. Under the queue strategy a 429 response is
// retried up to MaxRetries times with waits scaled by BackoffMultiplier;
// under the reject strategy it surfaces a *RateLimitedError.
//
// Requests with a body must carry GetBody (as requests built by
// http.NewRequest do) to be replayable across retries.
func (c *AdaptiveClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := c.gate(ctx); err != nil {
			return nil, err
		}

		resp, err := c.send(ctx, req, attempt)
		if err != nil {
			return nil, err
		}

		c.recordHeaders(resp)

		if resp.StatusCode != http.StatusTooManyRequests {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				c.clearRateLimited()
			}
			return resp, nil
		}

		retryAfter := retryAfterFrom(resp)
		resp.Body.Close()

		bp := c.Backpressure()

		c.mu.Lock()
		c.rateLimited = true
		c.retryDeadline = c.clock.Now().Add(retryAfter)
		c.mu.Unlock()

		if c.config.Strategy == StrategyReject {
			return nil, &RateLimitedError{RetryAfter: retryAfter, Backpressure: bp}
		}

		if attempt >= c.config.MaxRetries {
			return nil, fmt.Errorf("%w after %d attempts", ErrMaxRetries, attempt+1)
		}

		wait := scaleWait(retryAfter, c.config.BackoffMultiplier, attempt)
		c.log.Debug(ctx, "rate limited, queuing retry",
			observe.Field{Key: "wait", Value: wait.String()},
			observe.Field{Key: "attempt", Value: attempt + 1},
			observe.Field{Key: "backpressure", Value: bp},
		)
		if err := c.clock.Sleep(ctx, wait); err != nil {
			return nil, err
		}
		c.clearRateLimited()
	}
}

// gate enforces the pre-send checks: a pending Retry-After deadline and
// backpressure pacing.
func (c *AdaptiveClient) gate(ctx context.Context) error {
	c.mu.Lock()
	limited := c.rateLimited
	deadline := c.retryDeadline
	bp := c.backpressure
	c.mu.Unlock()

	now := c.clock.Now()

	if limited && now.Before(deadline) {
		if c.config.Strategy == StrategyReject {
			return &RateLimitedError{RetryAfter: deadline.Sub(now), Backpressure: bp}
		}
		if err := c.clock.Sleep(ctx, deadline.Sub(now)); err != nil {
			return err
		}
		c.clearRateLimited()
	}

	if c.config.RespectBackpressure && bp >= c.config.BackpressureThreshold {
		pace := time.Duration(bp * float64(c.config.MaxWait))
		if pace > c.config.MaxWait {
			pace = c.config.MaxWait
		}
		c.log.Debug(ctx, "pacing for backpressure",
			observe.Field{Key: "backpressure", Value: bp},
			observe.Field{Key: "pace", Value: pace.String()},
		)
		if err := c.clock.Sleep(ctx, pace); err != nil {
			return err
		}
	}

	return nil
}

func (c *AdaptiveClient) send(ctx context.Context, req *http.Request, attempt int) (*http.Response, error) {
	out := req.Clone(ctx)
	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		out.Body = body
	}
	return c.config.HTTPClient.Do(out)
}

// recordHeaders captures the server's cooperation signals.
func (c *AdaptiveClient) recordHeaders(resp *http.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := resp.Header.Get(resilience.HeaderBackpressure); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.backpressure = f
		}
	}
	if v := resp.Header.Get(resilience.HeaderRateLimitRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.remainingTokens = n
		}
	}
}

func (c *AdaptiveClient) clearRateLimited() {
	c.mu.Lock()
	c.rateLimited = false
	c.mu.Unlock()
}

// Backpressure returns the last-seen server stress score.
func (c *AdaptiveClient) Backpressure() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backpressure
}

// RemainingTokens returns the last-seen RateLimit-Remaining value, -1
// before any response carried one.
func (c *AdaptiveClient) RemainingTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingTokens
}

// RateLimited reports whether a Retry-After deadline is pending.
func (c *AdaptiveClient) RateLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimited && c.clock.Now().Before(c.retryDeadline)
}

// retryAfterFrom extracts the advised backoff from a 429 response,
// preferring the millisecond header over the RFC 7231 integer seconds.
func retryAfterFrom(resp *http.Response) time.Duration {
	if v := resp.Header.Get(resilience.HeaderRetryAfterMs); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if v := resp.Header.Get(resilience.HeaderRetryAfter); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return time.Second
}

// scaleWait multiplies the advised wait for each successive retry.
func scaleWait(base time.Duration, multiplier float64, attempt int) time.Duration {
	wait := float64(base)
	for i := 0; i < attempt; i++ {
		wait *= multiplier
	}
	return time.Duration(wait)
}
