package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sasasavic82/failsafe-go/observe"
)

func TestResultCache_SetGet(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: time.Minute})
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set() = %v", err)
	}

	got, ok := c.Get(ctx, "k")
	if !ok || got != "v" {
		t.Errorf("Get() = %v, %v, want v, true", got, ok)
	}
}

func TestResultCache_MissOnAbsent(t *testing.T) {
	c := New(Config{})

	if _, ok := c.Get(context.Background(), "ghost"); ok {
		t.Error("Get() = hit, want miss")
	}
}

func TestResultCache_TTLExpiry(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, "k", "v", 10*time.Millisecond)

	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() before expiry = miss, want hit")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Get() after expiry = hit, want miss")
	}
}

func TestResultCache_SameValueWithinTTL(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, "k", 42, 0)

	a, _ := c.Get(ctx, "k")
	b, _ := c.Get(ctx, "k")
	if a != b {
		t.Errorf("two lookups within TTL = %v, %v, want the same value", a, b)
	}
}

func TestResultCache_EvictsLRU(t *testing.T) {
	c := New(Config{MaxSize: 2, TTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, "a", 1, 0)
	c.Set(ctx, "b", 2, 0)

	// Touch "a" so "b" is the least recently used.
	c.Get(ctx, "a")

	c.Set(ctx, "c", 3, 0)

	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("b survived, want LRU eviction")
	}
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Error("a evicted, want it kept as MRU")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want capped 2", c.Len())
	}
}

func TestResultCache_EvictionEvent(t *testing.T) {
	bus := observe.NewBus()
	counts := observe.NewCountingListener()
	bus.Subscribe(counts)

	c := New(Config{Name: "quotes", MaxSize: 1, TTL: time.Minute, Bus: bus})
	ctx := context.Background()

	c.Set(ctx, "a", 1, 0)
	c.Set(ctx, "b", 2, 0)

	if got := counts.Count("cache", "quotes", "eviction"); got != 1 {
		t.Errorf("eviction count = %d, want 1", got)
	}
}

func TestResultCache_DoComputesOnce(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: time.Minute})
	ctx := context.Background()

	var builds atomic.Int32
	build := func(ctx context.Context) (any, error) {
		builds.Add(1)
		return "built", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.Do(ctx, "k", 0, build)
		if err != nil || v != "built" {
			t.Fatalf("Do() = %v, %v", v, err)
		}
	}

	if builds.Load() != 1 {
		t.Errorf("builds = %d, want 1", builds.Load())
	}
}

func TestResultCache_SingleFlight(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: time.Minute})
	ctx := context.Background()

	var builds atomic.Int32
	gate := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Do(ctx, "k", 0, func(ctx context.Context) (any, error) {
				builds.Add(1)
				<-gate
				return "winner", nil
			})
			if err != nil {
				t.Errorf("Do() = %v", err)
				return
			}
			results[i] = v
		}()
	}

	// Give the flights time to converge on the leader, then release it.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if builds.Load() != 1 {
		t.Errorf("builds = %d, want single flight", builds.Load())
	}
	for i, v := range results {
		if v != "winner" {
			t.Errorf("waiter %d observed %v, want the winner's value", i, v)
		}
	}
}

func TestResultCache_DoErrorNotCached(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: time.Minute})
	ctx := context.Background()

	boom := errors.New("boom")
	calls := 0
	fn := func(ctx context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return "ok", nil
	}

	if _, err := c.Do(ctx, "k", 0, fn); err != boom {
		t.Fatalf("first Do() = %v, want boom", err)
	}
	v, err := c.Do(ctx, "k", 0, fn)
	if err != nil || v != "ok" {
		t.Errorf("second Do() = %v, %v, want ok", v, err)
	}
}

func TestResultCache_DisabledBypasses(t *testing.T) {
	c := New(Config{MaxSize: 10, TTL: time.Minute})
	ctx := context.Background()

	c.Set(ctx, "k", "v", 0)
	c.SetEnabled(false)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("disabled Get() = hit, want miss")
	}

	calls := 0
	v, err := c.Do(ctx, "k", 0, func(ctx context.Context) (any, error) {
		calls++
		return "fresh", nil
	})
	if err != nil || v != "fresh" || calls != 1 {
		t.Errorf("disabled Do() = %v, %v with %d calls", v, err, calls)
	}

	// Entries survive the disable window.
	c.SetEnabled(true)
	if v, ok := c.Get(ctx, "k"); !ok || v != "v" {
		t.Errorf("Get() after re-enable = %v, %v, want v, true", v, ok)
	}
}

func TestValidateKey(t *testing.T) {
	if err := ValidateKey("ok"); err != nil {
		t.Errorf("ValidateKey(ok) = %v", err)
	}
	if err := ValidateKey(""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ValidateKey(empty) = %v, want ErrInvalidKey", err)
	}
	if err := ValidateKey("a\nb"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("ValidateKey(newline) = %v, want ErrInvalidKey", err)
	}
	long := make([]byte, MaxKeyLength+1)
	for i := range long {
		long[i] = 'x'
	}
	if err := ValidateKey(string(long)); !errors.Is(err, ErrKeyTooLong) {
		t.Errorf("ValidateKey(long) = %v, want ErrKeyTooLong", err)
	}
}
