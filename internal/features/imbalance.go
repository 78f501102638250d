package features

import (
	"gridflow/internal/models"
)

// ImbalanceRatio is (bidVolume - askVolume) / (bidVolume + askVolume)
// summed over the top depth levels. Returns 0 when both volumes are zero.
func ImbalanceRatio(book *models.OrderBook, depth int) float64 {
	if book == nil {
		return 0
	}
	bid := book.BidVolume(depth)
	ask := book.AskVolume(depth)
	sum := bid + ask
	if sum == 0 {
		return 0
	}
	return (bid - ask) / sum
}

// OFI is the order flow imbalance between two consecutive books: the
// signed change in resting volume at the best levels, crediting bid-side
// additions and debiting ask-side additions. depth <= 1 uses the best
// level only; larger depths aggregate the top levels while the price
// comparison stays on the best level.
func OFI(curr, prev *models.OrderBook, depth int) float64 {
	if curr == nil || prev == nil {
		return 0
	}
	currBid, prevBid := curr.BestBid(), prev.BestBid()
	currAsk, prevAsk := curr.BestAsk(), prev.BestAsk()
	if currBid.Price == 0 || prevBid.Price == 0 || currAsk.Price == 0 || prevAsk.Price == 0 {
		return 0
	}

	currBidVol, prevBidVol := currBid.Quantity, prevBid.Quantity
	currAskVol, prevAskVol := currAsk.Quantity, prevAsk.Quantity
	if depth > 1 {
		currBidVol, prevBidVol = curr.BidVolume(depth), prev.BidVolume(depth)
		currAskVol, prevAskVol = curr.AskVolume(depth), prev.AskVolume(depth)
	}

	var bidFlow float64
	switch {
	case currBid.Price > prevBid.Price:
		bidFlow = currBidVol
	case currBid.Price == prevBid.Price:
		bidFlow = currBidVol - prevBidVol
	default:
		bidFlow = -prevBidVol
	}

	var askFlow float64
	switch {
	case currAsk.Price < prevAsk.Price:
		askFlow = currAskVol
	case currAsk.Price == prevAsk.Price:
		askFlow = currAskVol - prevAskVol
	default:
		askFlow = -prevAskVol
	}

	return bidFlow - askFlow
}

// VOI is the volume imbalance attributable to best-price shifts: volume
// that appeared behind an improving best price counts in full, volume at
// an unchanged best price counts as its delta, and a retreating best
// price contributes nothing.
func VOI(curr, prev *models.OrderBook) float64 {
	if curr == nil || prev == nil {
		return 0
	}
	currBid, prevBid := curr.BestBid(), prev.BestBid()
	currAsk, prevAsk := curr.BestAsk(), prev.BestAsk()
	if currBid.Price == 0 || prevBid.Price == 0 || currAsk.Price == 0 || prevAsk.Price == 0 {
		return 0
	}

	var bidV float64
	switch {
	case currBid.Price < prevBid.Price:
		bidV = 0
	case currBid.Price == prevBid.Price:
		bidV = currBid.Quantity - prevBid.Quantity
	default:
		bidV = currBid.Quantity
	}

	var askV float64
	switch {
	case currAsk.Price > prevAsk.Price:
		askV = 0
	case currAsk.Price == prevAsk.Price:
		askV = currAsk.Quantity - prevAsk.Quantity
	default:
		askV = currAsk.Quantity
	}

	return bidV - askV
}

// TradeImbalance is the net signed taker volume over trades, normalized
// by total volume to [-1, 1]. Returns 0 for an empty window.
func TradeImbalance(trades []models.TradeEvent) float64 {
	var buy, total float64
	for _, t := range trades {
		total += t.Size
		if t.Side == models.SideBuy {
			buy += t.Size
		}
	}
	if total == 0 {
		return 0
	}
	return (2*buy - total) / total
}
