package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBulkhead_AcquireRelease(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2})

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() = %v", err)
	}
	if b.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", b.InFlight())
	}

	b.Release()
	if b.InFlight() != 0 {
		t.Errorf("InFlight() after Release = %d, want 0", b.InFlight())
	}
}

func TestBulkhead_RejectsWhenQueueFull(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxQueued: 0})

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire() = %v", err)
	}

	err := b.Acquire(context.Background())
	if !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("second Acquire() = %v, want ErrBulkheadFull", err)
	}
}

func TestBulkhead_FourConcurrentCalls(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2, MaxQueued: 1})

	release := make(chan struct{})
	var started, rejected, completed atomic.Int32
	var wg sync.WaitGroup

	slow := func(ctx context.Context) error {
		started.Add(1)
		<-release
		return nil
	}

	// Calls 1 and 2 proceed, call 3 queues.
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Execute(context.Background(), slow); err == nil {
				completed.Add(1)
			}
		}()
	}

	waitFor(t, func() bool { return started.Load() == 2 && b.Queued() == 1 })

	if got := b.InFlight(); got != 2 {
		t.Errorf("InFlight() = %d, want 2", got)
	}

	// Call 4 finds both slots and the queue occupied.
	if err := b.Execute(context.Background(), slow); !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("fourth call = %v, want ErrBulkheadFull", err)
	} else {
		rejected.Add(1)
	}

	close(release)
	wg.Wait()

	if completed.Load() != 3 {
		t.Errorf("completed = %d, want 3", completed.Load())
	}
	if rejected.Load() != 1 {
		t.Errorf("rejected = %d, want 1", rejected.Load())
	}
	if b.InFlight() != 0 {
		t.Errorf("InFlight() after drain = %d, want 0", b.InFlight())
	}
}

func TestBulkhead_WakeupsPreserveFIFO(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxQueued: 3})

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() = %v", err)
	}

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 1; i <= 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.Acquire(context.Background()); err != nil {
				t.Errorf("waiter %d: Acquire() = %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			b.Release()
		}()
		// Serialize enqueue order.
		waitFor(t, func() bool { return b.Queued() == i })
	}

	b.Release()
	wg.Wait()

	for i, got := range order {
		if got != i+1 {
			t.Fatalf("wakeup order = %v, want [1 2 3]", order)
		}
	}
}

func TestBulkhead_CancelledWaiterLeavesQueue(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxQueued: 2})

	if err := b.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- b.Acquire(ctx)
	}()
	waitFor(t, func() bool { return b.Queued() == 1 })

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("cancelled Acquire() = %v, want context.Canceled", err)
	}
	if b.Queued() != 0 {
		t.Errorf("Queued() = %d, want 0 after cancellation", b.Queued())
	}

	// The held slot is unaffected; releasing it frees the bulkhead.
	b.Release()
	if b.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", b.InFlight())
	}
	if err := b.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire() after drain = %v", err)
	}
}

func TestBulkhead_InvariantUnderLoad(t *testing.T) {
	const maxConcurrent = 4
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: maxConcurrent, MaxQueued: 8})

	var peak atomic.Int32
	var active atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func(ctx context.Context) error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
			if err != nil && !errors.Is(err, ErrBulkheadFull) {
				t.Errorf("Execute() = %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > maxConcurrent {
		t.Errorf("peak concurrency = %d, want <= %d", peak.Load(), maxConcurrent)
	}
}

func TestBulkhead_DisabledPassesThrough(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxQueued: 0})
	b.SetEnabled(false)

	for i := 0; i < 5; i++ {
		if err := b.Acquire(context.Background()); err != nil {
			t.Fatalf("disabled Acquire() = %v", err)
		}
	}
}

// waitFor polls until the condition holds or the test deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
