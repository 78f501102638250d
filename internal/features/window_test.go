package features

import "testing"

func TestTickWindowFIFOEviction(t *testing.T) {
	w := NewTickWindow(3)
	for i := 1; i <= 4; i++ {
		w.Push(Tick{Mid: float64(i)})
	}
	if w.Len() != 3 {
		t.Fatalf("window length = %d, want 3", w.Len())
	}
	// The first tick (mid=1) must be the evicted one.
	if got := w.At(0).Mid; got != 2 {
		t.Fatalf("oldest mid = %v, want 2", got)
	}
	last, ok := w.Last()
	if !ok || last.Mid != 4 {
		t.Fatalf("newest mid = %v ok=%v", last.Mid, ok)
	}
}

func TestTickWindowNeverExceedsCapacity(t *testing.T) {
	w := NewTickWindow(16)
	for i := 0; i < 1000; i++ {
		w.Push(Tick{Mid: float64(i)})
		if w.Len() > 16 {
			t.Fatalf("window grew past capacity: %d", w.Len())
		}
	}
}

func TestMidVolatilityConstantSeries(t *testing.T) {
	w := NewTickWindow(10)
	for i := 0; i < 10; i++ {
		w.Push(Tick{Mid: 100})
	}
	if got := w.MidVolatility(); got != 0 {
		t.Fatalf("constant-mid volatility = %v", got)
	}
}

func TestMaxAbs(t *testing.T) {
	w := NewTickWindow(5)
	w.Push(Tick{VOI: -7})
	w.Push(Tick{VOI: 3})
	if got := w.MaxAbs(func(t Tick) float64 { return t.VOI }); got != 7 {
		t.Fatalf("max abs = %v, want 7", got)
	}
	empty := NewTickWindow(5)
	if got := empty.MaxAbs(func(t Tick) float64 { return t.VOI }); got != 0 {
		t.Fatalf("empty max abs = %v", got)
	}
}
