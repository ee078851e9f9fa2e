// Package cache provides a bounded, TTL-expiring, least-recently-used
// result cache for guarded operations.
//
// Lookups within an entry's TTL return the cached value and refresh its
// recency; expired or absent entries miss. Concurrent misses for the same
// key collapse into a single in-flight computation; every waiter receives
// the one result, guaranteeing at most one build per key per TTL window.
// Errors are never cached.
//
//	c := cache.New(cache.Config{Name: "quotes", MaxSize: 1024, TTL: time.Minute})
//
//	v, err := c.Do(ctx, key, 0, func(ctx context.Context) (any, error) {
//	    return fetchQuote(ctx, symbol)
//	})
//
// Keys are produced by a [Keyer]: a deterministic SHA-256 over the
// operation id and its canonicalized arguments.
package cache
