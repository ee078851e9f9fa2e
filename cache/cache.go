package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/sasasavic82/failsafe-go/observe"
	"github.com/sasasavic82/failsafe-go/registry"
)

// MaxKeyLength is the maximum allowed length for a cache key.
const MaxKeyLength = 512

// Sentinel errors for cache operations.
var (
	ErrInvalidKey = errors.New("cache: key is invalid")
	ErrKeyTooLong = errors.New("cache: key exceeds max length")
)

// ValidateKey checks if a key is valid for caching.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	// Reject keys with newlines or carriage returns
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}

// Config configures a ResultCache.
type Config struct {
	// Name is the operator-assigned instance name. Default: "default"
	Name string

	// MaxSize bounds the number of entries; the least-recently-used
	// entry is evicted at the cap. Default: 1024
	MaxSize int

	// TTL is the default time-to-live for entries. Default: 1 minute
	TTL time.Duration

	// Bus receives hit/miss/eviction events. May be nil.
	Bus *observe.Bus
}

type entry struct {
	value      any
	insertedAt time.Time
	ttl        time.Duration
}

// ResultCache is a TTL + capacity-bounded LRU cache with single-flight
// miss collapsing.
type ResultCache struct {
	disabled atomic.Bool

	config Config
	group  singleflight.Group

	mu      sync.Mutex
	entries *lru.Cache[string, *entry]

	hits   int64
	misses int64
}

// New creates a new result cache.
func New(config Config) *ResultCache {
	// Apply defaults
	if config.Name == "" {
		config.Name = "default"
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 1024
	}
	if config.TTL <= 0 {
		config.TTL = time.Minute
	}

	c := &ResultCache{config: config}
	c.entries, _ = lru.NewWithEvict[string, *entry](config.MaxSize, func(key string, _ *entry) {
		c.config.Bus.Publish(context.Background(), observe.Event{
			Kind: string(registry.KindCache), Name: c.config.Name, Metric: "eviction", Value: 1,
		})
	})
	return c
}

// Kind returns the registry kind.
func (c *ResultCache) Kind() registry.Kind { return registry.KindCache }

// Name returns the instance name.
func (c *ResultCache) Name() string { return c.config.Name }

// SetEnabled flips the pattern gate. A disabled cache misses every lookup
// and stores nothing.
func (c *ResultCache) SetEnabled(enabled bool) { c.disabled.Store(!enabled) }

// PatternEnabled reports the gate state.
func (c *ResultCache) PatternEnabled() bool { return !c.disabled.Load() }

// Get retrieves a cached value. Returns (nil, false) on miss or expiry;
// a hit refreshes the entry's recency.
func (c *ResultCache) Get(ctx context.Context, key string) (any, bool) {
	if !c.PatternEnabled() {
		return nil, false
	}

	c.mu.Lock()
	e, ok := c.entries.Get(key)
	if ok && time.Since(e.insertedAt) >= e.ttl {
		// Expired - clean up lazily
		c.entries.Remove(key)
		ok = false
	}
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()

	if !ok {
		emit(ctx, c.config.Bus, c.config.Name, "miss")
		return nil, false
	}
	emit(ctx, c.config.Bus, c.config.Name, "hit")
	return e.value, true
}

// Set stores a value. ttl <= 0 uses the configured default.
func (c *ResultCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if !c.PatternEnabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = c.config.TTL
	}

	c.mu.Lock()
	c.entries.Add(key, &entry{value: value, insertedAt: time.Now(), ttl: ttl})
	c.mu.Unlock()
	return nil
}

// Delete removes a cached value. Idempotent - no error on miss.
func (c *ResultCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	c.entries.Remove(key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of live entries, expired ones included until
// their lazy cleanup.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Purge drops every entry.
func (c *ResultCache) Purge() {
	c.mu.Lock()
	c.entries.Purge()
	c.mu.Unlock()
}

// Do returns the cached value for key, or computes it exactly once.
// Concurrent misses for the same key share one in-flight fn call and all
// receive its result. fn errors are returned to every waiter and are not
// cached. ttl <= 0 uses the configured default.
func (c *ResultCache) Do(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) (any, error)) (any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if !c.PatternEnabled() {
		return fn(ctx)
	}

	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another flight may have populated the key while this caller
		// was queued behind it.
		if v, ok := c.Get(ctx, key); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, v, ttl); err != nil {
			return nil, err
		}
		return v, nil
	})
	return v, err
}

// ConfigSnapshot returns the runtime-tunable fields.
func (c *ResultCache) ConfigSnapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"max_size": c.config.MaxSize,
		"ttl_secs": c.config.TTL.Seconds(),
	}
}

// MetricsSnapshot returns current counters and gauges.
func (c *ResultCache) MetricsSnapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"hits":    c.hits,
		"misses":  c.misses,
		"entries": c.entries.Len(),
	}
}

// ResetMetrics zeroes the counters. Entries are untouched.
func (c *ResultCache) ResetMetrics() {
	c.mu.Lock()
	c.hits = 0
	c.misses = 0
	c.mu.Unlock()
}

func emit(ctx context.Context, bus *observe.Bus, name, metric string) {
	bus.Publish(ctx, observe.Event{Kind: string(registry.KindCache), Name: name, Metric: metric})
}
