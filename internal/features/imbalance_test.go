package features

import (
	"math"
	"testing"

	"gridflow/internal/models"
)

func book(t *testing.T, bids, asks []models.BookLevel, ts int64) *models.OrderBook {
	t.Helper()
	b := models.NewOrderBook("bybit", "BTCUSDT")
	b.ApplySnapshot(bids, asks, ts, ts)
	return b
}

func lvl(p, q float64) models.BookLevel { return models.BookLevel{Price: p, Quantity: q} }

func TestImbalanceRatioBestLevel(t *testing.T) {
	b := book(t, []models.BookLevel{lvl(100, 10)}, []models.BookLevel{lvl(101, 5)}, 1)
	got := ImbalanceRatio(b, 1)
	want := (10.0 - 5.0) / 15.0
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("imbalance = %v, want %v", got, want)
	}
}

func TestImbalanceRatioBalanced(t *testing.T) {
	b := book(t, []models.BookLevel{lvl(100, 7)}, []models.BookLevel{lvl(101, 7)}, 1)
	if got := ImbalanceRatio(b, 1); got != 0 {
		t.Fatalf("balanced book imbalance = %v", got)
	}
}

func TestImbalanceRatioZeroVolume(t *testing.T) {
	b := models.NewOrderBook("bybit", "BTCUSDT")
	if got := ImbalanceRatio(b, 5); got != 0 {
		t.Fatalf("empty book imbalance = %v", got)
	}
	if got := ImbalanceRatio(nil, 5); got != 0 {
		t.Fatalf("nil book imbalance = %v", got)
	}
}

func TestOFIBidAddition(t *testing.T) {
	prev := book(t, []models.BookLevel{lvl(100, 10)}, []models.BookLevel{lvl(101, 5)}, 1)
	curr := book(t, []models.BookLevel{lvl(100, 14)}, []models.BookLevel{lvl(101, 5)}, 2)
	if got := OFI(curr, prev, 1); got != 4 {
		t.Fatalf("bid addition OFI = %v, want 4", got)
	}
}

func TestOFIBidCancelAskAddition(t *testing.T) {
	prev := book(t, []models.BookLevel{lvl(100, 10)}, []models.BookLevel{lvl(101, 5)}, 1)
	// Bid retreats a level, ask volume grows: both push OFI negative.
	curr := book(t, []models.BookLevel{lvl(99, 8)}, []models.BookLevel{lvl(101, 9)}, 2)
	got := OFI(curr, prev, 1)
	want := -10.0 - 4.0
	if got != want {
		t.Fatalf("OFI = %v, want %v", got, want)
	}
}

func TestOFIImprovedPrices(t *testing.T) {
	prev := book(t, []models.BookLevel{lvl(100, 10)}, []models.BookLevel{lvl(101, 5)}, 1)
	// Bid improves, ask improves (tighter book on both sides).
	curr := book(t, []models.BookLevel{lvl(100.5, 3)}, []models.BookLevel{lvl(100.9, 2)}, 2)
	got := OFI(curr, prev, 1)
	want := 3.0 - 2.0
	if got != want {
		t.Fatalf("OFI = %v, want %v", got, want)
	}
}

func TestVOICases(t *testing.T) {
	prev := book(t, []models.BookLevel{lvl(100, 10)}, []models.BookLevel{lvl(101, 5)}, 1)

	// Same best prices: deltas on both sides.
	curr := book(t, []models.BookLevel{lvl(100, 12)}, []models.BookLevel{lvl(101, 4)}, 2)
	if got := VOI(curr, prev); got != 2-(-1) {
		t.Fatalf("same-price VOI = %v, want 3", got)
	}

	// Bid improved, ask retreated: full bid qty counts, ask contributes 0.
	curr = book(t, []models.BookLevel{lvl(100.5, 6)}, []models.BookLevel{lvl(101.5, 9)}, 3)
	if got := VOI(curr, prev); got != 6 {
		t.Fatalf("shifted VOI = %v, want 6", got)
	}
}

func TestTradeImbalance(t *testing.T) {
	trades := []models.TradeEvent{
		{Side: models.SideBuy, Size: 6},
		{Side: models.SideSell, Size: 2},
	}
	got := TradeImbalance(trades)
	want := (6.0 - 2.0) / 8.0
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("trade imbalance = %v, want %v", got, want)
	}
	if got := TradeImbalance(nil); got != 0 {
		t.Fatalf("empty trade imbalance = %v", got)
	}
}
