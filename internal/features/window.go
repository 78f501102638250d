package features

import "math"

// Tick is the per-update row recorded into the rolling history.
type Tick struct {
	Mid           float64
	Imbalance     float64
	DeepImbalance float64
	OFI           float64
	DeepOFI       float64
	VOI           float64
	AvgTradePrice float64
}

// TickWindow is a fixed-capacity FIFO of per-tick statistics. Pushing
// into a full window evicts exactly the oldest entry.
type TickWindow struct {
	capacity int
	ticks    []Tick
}

// NewTickWindow returns a window holding at most capacity ticks.
func NewTickWindow(capacity int) *TickWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &TickWindow{capacity: capacity, ticks: make([]Tick, 0, capacity)}
}

// Push appends t, evicting the oldest tick when full.
func (w *TickWindow) Push(t Tick) {
	if len(w.ticks) == w.capacity {
		copy(w.ticks, w.ticks[1:])
		w.ticks = w.ticks[:len(w.ticks)-1]
	}
	w.ticks = append(w.ticks, t)
}

// Len returns the number of recorded ticks.
func (w *TickWindow) Len() int { return len(w.ticks) }

// Capacity returns the configured bound.
func (w *TickWindow) Capacity() int { return w.capacity }

// At returns the i-th oldest tick.
func (w *TickWindow) At(i int) Tick { return w.ticks[i] }

// Last returns the newest tick and whether one exists.
func (w *TickWindow) Last() (Tick, bool) {
	if len(w.ticks) == 0 {
		return Tick{}, false
	}
	return w.ticks[len(w.ticks)-1], true
}

// MeanMid is the average mid price over the window, 0 when empty.
func (w *TickWindow) MeanMid() float64 {
	if len(w.ticks) == 0 {
		return 0
	}
	var sum float64
	for _, t := range w.ticks {
		sum += t.Mid
	}
	return sum / float64(len(w.ticks))
}

// MidVolatility is the standard deviation of mid-price log returns over
// the window, 0 with fewer than three ticks.
func (w *TickWindow) MidVolatility() float64 {
	if len(w.ticks) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(w.ticks)-1)
	for i := 1; i < len(w.ticks); i++ {
		prev, curr := w.ticks[i-1].Mid, w.ticks[i].Mid
		if prev <= 0 || curr <= 0 {
			continue
		}
		rets = append(rets, math.Log(curr/prev))
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(rets)-1))
}

// MaxAbs returns the largest absolute value of f over the window.
func (w *TickWindow) MaxAbs(f func(Tick) float64) float64 {
	var m float64
	for _, t := range w.ticks {
		if v := math.Abs(f(t)); v > m {
			m = v
		}
	}
	return m
}
