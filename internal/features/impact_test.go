package features

import (
	"math"
	"testing"

	"gridflow/internal/models"
)

func TestExpectedValueWeighting(t *testing.T) {
	trades := []models.TradeEvent{
		{Price: 101, Size: 3},
		{Price: 99, Size: 1},
	}
	got := ExpectedValue(100, trades)
	want := (3*1.0 + 1*(-1.0)) / 4.0
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected value = %v, want %v", got, want)
	}
	if got := ExpectedValue(0, trades); got != 0 {
		t.Fatalf("no reference mid should be neutral, got %v", got)
	}
	if got := ExpectedValue(100, nil); got != 0 {
		t.Fatalf("no trades should be neutral, got %v", got)
	}
}

func TestImprovedExpectedValueFavorsRecent(t *testing.T) {
	// Older trade above mid, newer trade below: recency weighting must
	// pull the estimate below the plain size-weighted value.
	trades := []models.TradeEvent{
		{Price: 102, Size: 1},
		{Price: 98, Size: 1},
	}
	plain := ExpectedValue(100, trades)
	improved := ImprovedExpectedValue(100, trades)
	if plain != 0 {
		t.Fatalf("plain expected value = %v, want 0", plain)
	}
	if improved >= 0 {
		t.Fatalf("improved expected value = %v, want < 0", improved)
	}
}

func TestMidPriceBasis(t *testing.T) {
	if got := MidPriceBasis(100, 102, 100.5); got != 100.5-101 {
		t.Fatalf("basis = %v", got)
	}
	if got := MidPriceBasis(100, 102, 0); got != 0 {
		t.Fatalf("basis without trades = %v", got)
	}
}

func TestPriceFluctuationBps(t *testing.T) {
	got := PriceFluctuation(100, 101)
	want := 1.0 * 10000 / 101
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("fluctuation = %v, want %v", got, want)
	}
}

func TestAvgTradePrice(t *testing.T) {
	prev := []models.TradeEvent{{Price: 100, Size: 2, Timestamp: 1}}
	curr := []models.TradeEvent{{Price: 100, Size: 2, Timestamp: 1}, {Price: 104, Size: 2, Timestamp: 2}}

	// First observation seeds directly from the new-trade VWAP.
	got := AvgTradePrice(102, prev, curr, 0, 10)
	if got != 104 {
		t.Fatalf("seed avg = %v, want 104", got)
	}

	// Subsequent observations move 1/tickWindow of the way.
	got = AvgTradePrice(102, prev, curr, 100, 10)
	want := 100 + (104.0-100.0)/10.0
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("avg = %v, want %v", got, want)
	}

	// Unchanged window keeps the previous average.
	if got := AvgTradePrice(102, curr, curr, 103, 10); got != 103 {
		t.Fatalf("stale trades avg = %v, want 103", got)
	}

	// No trades at all falls back to the mid.
	if got := AvgTradePrice(102, nil, nil, 0, 10); got != 102 {
		t.Fatalf("no-trade avg = %v, want 102", got)
	}
}

func TestAvgTradePriceSurvivesTrimmedHistory(t *testing.T) {
	// The bounded trade window dropped one of the old 100s between
	// observations; only the print at ts 3 is genuinely new.
	prev := []models.TradeEvent{
		{Price: 100, Size: 5, Timestamp: 1},
		{Price: 100, Size: 5, Timestamp: 2},
	}
	curr := []models.TradeEvent{
		{Price: 100, Size: 5, Timestamp: 2},
		{Price: 1000, Size: 4, Timestamp: 3},
	}

	got := AvgTradePrice(100, prev, curr, 100, 10)
	want := 100 + (1000.0-100.0)/10.0
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("avg = %v, want %v", got, want)
	}
	if got < 100 || got > 1000 {
		t.Fatalf("avg %v left the traded price range [100, 1000]", got)
	}
}

func TestPriceImpactDepthAggregation(t *testing.T) {
	prev := book(t, []models.BookLevel{lvl(100, 10), lvl(99, 5)}, []models.BookLevel{lvl(101, 5), lvl(102, 5)}, 1)
	curr := book(t, []models.BookLevel{lvl(100, 12), lvl(99, 5)}, []models.BookLevel{lvl(101, 4), lvl(102, 5)}, 2)
	got := PriceImpact(curr, prev, 2)
	want := (17.0 - 15.0) - (9.0 - 10.0)
	if got != want {
		t.Fatalf("price impact = %v, want %v", got, want)
	}
}
