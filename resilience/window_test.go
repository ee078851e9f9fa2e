package resilience

import (
	"math"
	"testing"
)

func TestWindow_Empty(t *testing.T) {
	w := NewWindow(10)

	if w.Len() != 0 {
		t.Errorf("Len() = %d, want 0", w.Len())
	}
	if w.Mean() != 0 {
		t.Errorf("Mean() = %f, want 0", w.Mean())
	}
	if w.Max() != 0 {
		t.Errorf("Max() = %f, want 0", w.Max())
	}
	if w.Quantile(0.95) != 0 {
		t.Errorf("Quantile(0.95) = %f, want 0", w.Quantile(0.95))
	}
}

func TestWindow_RecordAndStats(t *testing.T) {
	w := NewWindow(10)
	for _, l := range []float64{0.1, 0.2, 0.3} {
		w.Record(l)
	}

	if w.Len() != 3 {
		t.Errorf("Len() = %d, want 3", w.Len())
	}
	if mean := w.Mean(); math.Abs(mean-0.2) > 1e-9 {
		t.Errorf("Mean() = %f, want 0.2", mean)
	}
	if max := w.Max(); max != 0.3 {
		t.Errorf("Max() = %f, want 0.3", max)
	}
	if over := w.Over(0.15); over != 2 {
		t.Errorf("Over(0.15) = %d, want 2", over)
	}
}

func TestWindow_IgnoresNonPositive(t *testing.T) {
	w := NewWindow(10)
	w.Record(0)
	w.Record(-1)

	if w.Len() != 0 {
		t.Errorf("Len() = %d, want 0", w.Len())
	}
}

func TestWindow_WrapsAtCapacity(t *testing.T) {
	w := NewWindow(3)
	for _, l := range []float64{1, 2, 3, 4} {
		w.Record(l)
	}

	if !w.Full() {
		t.Error("Full() = false, want true")
	}
	if w.Len() != 3 {
		t.Errorf("Len() = %d, want 3", w.Len())
	}
	// Oldest sample (1) is overwritten: max stays 4, min contribution gone.
	if max := w.Max(); max != 4 {
		t.Errorf("Max() = %f, want 4", max)
	}
	if over := w.Over(1.5); over != 3 {
		t.Errorf("Over(1.5) = %d, want 3", over)
	}
}

func TestWindow_Quantile(t *testing.T) {
	w := NewWindow(100)
	for i := 1; i <= 100; i++ {
		w.Record(float64(i) / 100)
	}

	if p95 := w.Quantile(0.95); math.Abs(p95-0.95) > 0.011 {
		t.Errorf("Quantile(0.95) = %f, want ~0.95", p95)
	}
	if p0 := w.Quantile(0); p0 != 0.01 {
		t.Errorf("Quantile(0) = %f, want 0.01", p0)
	}
	if p1 := w.Quantile(1); p1 != 1.0 {
		t.Errorf("Quantile(1) = %f, want 1.0", p1)
	}
}
