package models

import "time"

// Side of a trade or order.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeEvent is a single public trade.
type TradeEvent struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Side      Side    `json:"side"` // taker side
	Timestamp int64   `json:"timestamp"`
}

// Kline is one candle of a fixed interval.
type Kline struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Start    int64   `json:"start"`
	End      int64   `json:"end"`
	Closed   bool    `json:"closed"`
}

// Ticker carries the latest top-of-book and reference prices.
type Ticker struct {
	Symbol      string  `json:"symbol"`
	BidPrice    float64 `json:"bid_price"`
	AskPrice    float64 `json:"ask_price"`
	LastPrice   float64 `json:"last_price"`
	MarkPrice   float64 `json:"mark_price"`
	IndexPrice  float64 `json:"index_price"`
	Volume24h   float64 `json:"volume_24h"`
	FundingRate float64 `json:"funding_rate"`
	Timestamp   int64   `json:"timestamp"`
}

// Liquidation is a forced closure reported by the exchange.
type Liquidation struct {
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Timestamp int64   `json:"timestamp"`
}

// MarketSnapshot is the latest committed public state for one symbol on
// one exchange. Instances handed to readers are deep copies; a snapshot
// is never mutated after it leaves the ingestion writer.
type MarketSnapshot struct {
	Exchange     string        `json:"exchange"`
	Symbol       string        `json:"symbol"`
	Book         *OrderBook    `json:"book"`
	Trades       []TradeEvent  `json:"trades"`
	Klines       []Kline       `json:"klines"`
	Ticker       Ticker        `json:"ticker"`
	Liquidations []Liquidation `json:"liquidations"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to a reader.
func (m *MarketSnapshot) Clone() *MarketSnapshot {
	cp := *m
	if m.Book != nil {
		cp.Book = m.Book.Clone()
	}
	cp.Trades = append([]TradeEvent(nil), m.Trades...)
	cp.Klines = append([]Kline(nil), m.Klines...)
	cp.Liquidations = append([]Liquidation(nil), m.Liquidations...)
	return &cp
}
