package features

import (
	"math"

	"gridflow/internal/models"
)

// PriceImpact is the net change in resting volume over the top depth
// levels between two consecutive books. Positive values mean liquidity
// built up faster on the bid side.
func PriceImpact(curr, prev *models.OrderBook, depth int) float64 {
	if curr == nil || prev == nil {
		return 0
	}
	bidImpact := curr.BidVolume(depth) - prev.BidVolume(depth)
	askImpact := curr.AskVolume(depth) - prev.AskVolume(depth)
	return bidImpact - askImpact
}

// ExpectedValue is the trade-size-weighted price displacement of the
// current trades versus the previous mid price. Returns 0 when there are
// no trades or no reference mid.
func ExpectedValue(prevMid float64, trades []models.TradeEvent) float64 {
	if prevMid <= 0 || len(trades) == 0 {
		return 0
	}
	var weighted, volume float64
	for _, t := range trades {
		weighted += t.Size * (t.Price - prevMid)
		volume += t.Size
	}
	if volume == 0 {
		return 0
	}
	return weighted / volume
}

// recencyDecay controls how quickly older trades lose weight in the
// improved expected value.
const recencyDecay = 0.15

// ImprovedExpectedValue additionally weights each trade by recency: the
// newest trade carries full weight and weights decay exponentially with
// distance from the end of the window.
func ImprovedExpectedValue(prevMid float64, trades []models.TradeEvent) float64 {
	if prevMid <= 0 || len(trades) == 0 {
		return 0
	}
	n := len(trades)
	var weighted, weightSum float64
	for i, t := range trades {
		w := t.Size * math.Exp(-recencyDecay*float64(n-1-i))
		weighted += w * (t.Price - prevMid)
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return weighted / weightSum
}

// MidPriceAvg is the average of two consecutive mids.
func MidPriceAvg(prevMid, currMid float64) float64 {
	return (prevMid + currMid) / 2
}

// MidPriceBasis is the average trade price relative to the local mid.
// It reverts to zero: a negative basis means recent trades printed near
// the bid and the mid tends to follow them down.
func MidPriceBasis(prevMid, currMid, avgTradePrice float64) float64 {
	if avgTradePrice == 0 {
		return 0
	}
	return avgTradePrice - MidPriceAvg(prevMid, currMid)
}

// PriceFluctuation is the absolute mid move in basis points.
func PriceFluctuation(prevMid, currMid float64) float64 {
	if currMid == 0 {
		return 0
	}
	return math.Abs(currMid-prevMid) * 10000 / currMid
}

// AvgTradePrice maintains an exponential average of the traded VWAP with
// smoothing 1/tickWindow. When the trade window did not advance it
// returns the previous average; before any trades it seeds from the mid.
//
// The trade history is a bounded window, so old prints fall off the
// front between observations and aggregate turnover differencing would
// leave the price domain. Only trades stamped after the previous
// window's newest print count as new.
func AvgTradePrice(currMid float64, prevTrades, currTrades []models.TradeEvent, prevAvg float64, tickWindow int) float64 {
	if tickWindow < 1 {
		tickWindow = 1
	}
	cutoff := int64(-1)
	for _, t := range prevTrades {
		if t.Timestamp > cutoff {
			cutoff = t.Timestamp
		}
	}

	var vol, turnover float64
	for _, t := range currTrades {
		if t.Timestamp <= cutoff {
			continue
		}
		vol += t.Size
		turnover += t.Size * t.Price
	}
	if vol == 0 {
		if prevAvg != 0 {
			return prevAvg
		}
		return currMid
	}

	vwap := turnover / vol
	if prevAvg == 0 {
		return vwap
	}
	return prevAvg + (vwap-prevAvg)/float64(tickWindow)
}
