// Package client provides an HTTP client that cooperates with server-side
// rate limiting.
//
// The adaptive client reads the backpressure headers a guarded server
// emits (Retry-After, X-RateLimit-Retry-After-Ms, X-Backpressure,
// RateLimit-Remaining) and regulates its own call rate: it defers sends
// while a Retry-After deadline is pending, paces itself proportionally to
// the last-seen backpressure score, and either queues or rejects on 429
// depending on its strategy.
//
//	c := client.New(client.Config{
//	    Strategy:   client.StrategyQueue,
//	    MaxRetries: 3,
//	})
//	resp, err := c.Do(ctx, req)
package client
