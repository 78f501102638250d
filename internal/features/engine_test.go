package features

import (
	"math"
	"testing"

	"gridflow/internal/models"
)

func TestEngineAnomalyDegradesToNeutral(t *testing.T) {
	e := NewEngine("BTCUSDT", 10, []int{5, 50}, false, nil)
	prev := book(t, []models.BookLevel{lvl(100, 1)}, []models.BookLevel{lvl(101, 1)}, 1)

	snap, anom := e.Update(nil, prev, nil, nil, 99.5)
	if anom == nil {
		t.Fatal("nil book must report an anomaly")
	}
	if snap.Skew != 0 || snap.Imbalance != 0 {
		t.Fatalf("anomaly snapshot not neutral: %+v", snap)
	}
	if snap.AvgTradePrice != 99.5 {
		t.Fatalf("anomaly must carry forward avg trade price, got %v", snap.AvgTradePrice)
	}

	empty := models.NewOrderBook("bybit", "BTCUSDT")
	if _, anom := e.Update(empty, prev, nil, nil, 0); anom == nil {
		t.Fatal("empty book side must report an anomaly")
	}

	crossed := book(t, []models.BookLevel{lvl(102, 1)}, []models.BookLevel{lvl(101, 1)}, 2)
	if _, anom := e.Update(crossed, prev, nil, nil, 0); anom == nil {
		t.Fatal("crossed book must report an anomaly")
	}
	if e.Window().Len() != 0 {
		t.Fatalf("anomalous ticks must not enter the history, len=%d", e.Window().Len())
	}
}

func TestEngineSkewStaysBounded(t *testing.T) {
	e := NewEngine("BTCUSDT", 8, []int{2, 4}, false, nil)
	prev := book(t, []models.BookLevel{lvl(100, 5), lvl(99, 5)}, []models.BookLevel{lvl(101, 5), lvl(102, 5)}, 0)

	// Violent one-sided updates; the composite must stay in [-1, 1].
	for i := 1; i <= 50; i++ {
		bidQty := float64(1 + (i*37)%200)
		askQty := float64(1 + (i*13)%20)
		curr := book(t,
			[]models.BookLevel{lvl(100+float64(i)*0.5, bidQty), lvl(99+float64(i)*0.5, bidQty)},
			[]models.BookLevel{lvl(101+float64(i)*0.5, askQty), lvl(102+float64(i)*0.5, askQty)},
			int64(i))
		trades := []models.TradeEvent{{Side: models.SideBuy, Price: curr.MidPrice(), Size: float64(i)}}

		snap, anom := e.Update(curr, prev, trades, nil, e.Last.AvgTradePrice)
		if anom != nil {
			t.Fatalf("unexpected anomaly at tick %d: %v", i, anom)
		}
		if snap.Skew < -1 || snap.Skew > 1 || math.IsNaN(snap.Skew) {
			t.Fatalf("skew out of range at tick %d: %v", i, snap.Skew)
		}
		prev = curr
	}
	if e.Window().Len() > 8 {
		t.Fatalf("history exceeded window capacity: %d", e.Window().Len())
	}
}

func TestEngineWeightedMid(t *testing.T) {
	curr := book(t, []models.BookLevel{lvl(100, 9)}, []models.BookLevel{lvl(102, 1)}, 2)
	prev := book(t, []models.BookLevel{lvl(100, 9)}, []models.BookLevel{lvl(102, 1)}, 1)

	plain := NewEngine("BTCUSDT", 10, nil, false, nil)
	wmid := NewEngine("BTCUSDT", 10, nil, true, nil)

	ps, _ := plain.Update(curr, prev, nil, nil, 0)
	ws, _ := wmid.Update(curr, prev, nil, nil, 0)
	if ps.MidPrice != 101 {
		t.Fatalf("plain mid = %v, want 101", ps.MidPrice)
	}
	if ws.MidPrice <= ps.MidPrice {
		t.Fatalf("weighted mid = %v, should lean toward the heavy bid side above %v", ws.MidPrice, ps.MidPrice)
	}
}

type fixedPredictor struct{ v float64 }

func (p fixedPredictor) Predict(*TickWindow) float64 { return p.v }

func TestEnginePredictionContribution(t *testing.T) {
	// Identical book sequences with opposite predictions: the bullish
	// predictor must end up with the higher skew, both bounded.
	bull := NewEngine("BTCUSDT", 10, []int{1, 1}, false, fixedPredictor{v: 1e9})
	bear := NewEngine("BTCUSDT", 10, []int{1, 1}, false, fixedPredictor{v: -1e9})

	run := func(e *Engine) FeatureSnapshot {
		prev := book(t, []models.BookLevel{lvl(100, 5)}, []models.BookLevel{lvl(101, 5)}, 0)
		var snap FeatureSnapshot
		for i := 1; i <= 5; i++ {
			curr := book(t, []models.BookLevel{lvl(100+float64(i)*0.01, 5)}, []models.BookLevel{lvl(101+float64(i)*0.01, 5)}, int64(i))
			snap, _ = e.Update(curr, prev, nil, nil, snap.AvgTradePrice)
			prev = curr
		}
		return snap
	}

	bullSnap, bearSnap := run(bull), run(bear)
	if bullSnap.Skew <= bearSnap.Skew {
		t.Fatalf("bullish skew %v not above bearish skew %v", bullSnap.Skew, bearSnap.Skew)
	}
	for _, s := range []FeatureSnapshot{bullSnap, bearSnap} {
		if s.Skew < -1 || s.Skew > 1 {
			t.Fatalf("skew out of range: %v", s.Skew)
		}
	}
}
