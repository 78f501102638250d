package models

import "sort"

// BookLevel is a single price level of an order book side.
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook is the local view of one symbol's order book. Bids are kept
// sorted descending, asks ascending; levels with zero quantity are pruned.
// Updates carrying a timestamp older than LastUpdate are ignored.
type OrderBook struct {
	Exchange   string      `json:"exchange"`
	Symbol     string      `json:"symbol"`
	Bids       []BookLevel `json:"bids"`
	Asks       []BookLevel `json:"asks"`
	LastUpdate int64       `json:"last_update"` // epoch millis
	Sequence   int64       `json:"sequence"`
}

// NewOrderBook returns an empty book tagged with exchange and symbol.
func NewOrderBook(exchange, symbol string) *OrderBook {
	return &OrderBook{Exchange: exchange, Symbol: symbol}
}

// ApplySnapshot replaces both sides of the book.
func (b *OrderBook) ApplySnapshot(bids, asks []BookLevel, timestamp, sequence int64) {
	if timestamp <= b.LastUpdate {
		return
	}
	b.Bids = b.Bids[:0]
	b.Asks = b.Asks[:0]
	for _, l := range bids {
		if l.Quantity > 0 {
			b.Bids = append(b.Bids, l)
		}
	}
	for _, l := range asks {
		if l.Quantity > 0 {
			b.Asks = append(b.Asks, l)
		}
	}
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
	b.LastUpdate = timestamp
	b.Sequence = sequence
}

// ApplyDelta upserts individual levels. A zero quantity removes the level.
func (b *OrderBook) ApplyDelta(bids, asks []BookLevel, timestamp, sequence int64) {
	if timestamp <= b.LastUpdate {
		return
	}
	for _, l := range bids {
		b.Bids = upsertLevel(b.Bids, l, true)
	}
	for _, l := range asks {
		b.Asks = upsertLevel(b.Asks, l, false)
	}
	b.LastUpdate = timestamp
	b.Sequence = sequence
}

func upsertLevel(side []BookLevel, l BookLevel, descending bool) []BookLevel {
	i := sort.Search(len(side), func(i int) bool {
		if descending {
			return side[i].Price <= l.Price
		}
		return side[i].Price >= l.Price
	})
	if i < len(side) && side[i].Price == l.Price {
		if l.Quantity == 0 {
			return append(side[:i], side[i+1:]...)
		}
		side[i].Quantity = l.Quantity
		return side
	}
	if l.Quantity == 0 {
		return side
	}
	side = append(side, BookLevel{})
	copy(side[i+1:], side[i:])
	side[i] = l
	return side
}

// BestBid returns the highest bid, or a zero level when the side is empty.
func (b *OrderBook) BestBid() BookLevel {
	if len(b.Bids) == 0 {
		return BookLevel{}
	}
	return b.Bids[0]
}

// BestAsk returns the lowest ask, or a zero level when the side is empty.
func (b *OrderBook) BestAsk() BookLevel {
	if len(b.Asks) == 0 {
		return BookLevel{}
	}
	return b.Asks[0]
}

// MidPrice is the midpoint of the best bid and ask, 0 when either side is empty.
func (b *OrderBook) MidPrice() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	return (b.Bids[0].Price + b.Asks[0].Price) / 2
}

// WeightedMidPrice weights the midpoint by top-of-book quantities.
func (b *OrderBook) WeightedMidPrice() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	bid, ask := b.Bids[0], b.Asks[0]
	total := bid.Quantity + ask.Quantity
	if total == 0 {
		return b.MidPrice()
	}
	imb := bid.Quantity / total
	return bid.Price*(1-imb) + ask.Price*imb
}

// Spread is best ask minus best bid, 0 when either side is empty.
func (b *OrderBook) Spread() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price - b.Bids[0].Price
}

// BidVolume sums bid quantities over the top depth levels.
func (b *OrderBook) BidVolume(depth int) float64 {
	return sideVolume(b.Bids, depth)
}

// AskVolume sums ask quantities over the top depth levels.
func (b *OrderBook) AskVolume(depth int) float64 {
	return sideVolume(b.Asks, depth)
}

func sideVolume(side []BookLevel, depth int) float64 {
	if depth <= 0 || depth > len(side) {
		depth = len(side)
	}
	var v float64
	for _, l := range side[:depth] {
		v += l.Quantity
	}
	return v
}

// Crossed reports a book whose best bid is at or above the best ask.
func (b *OrderBook) Crossed() bool {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return false
	}
	return b.Bids[0].Price >= b.Asks[0].Price
}

// Clone returns a deep copy safe for concurrent readers.
func (b *OrderBook) Clone() *OrderBook {
	cp := *b
	cp.Bids = append([]BookLevel(nil), b.Bids...)
	cp.Asks = append([]BookLevel(nil), b.Asks...)
	return &cp
}
