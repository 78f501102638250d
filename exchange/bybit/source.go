package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"gridflow/internal/models"
	"gridflow/internal/state"
	symbolmap "gridflow/internal/symbols"
	"gridflow/logger"
)

const (
	mainnetWS        = "wss://stream.bybit.com/v5/public/linear"
	mainnetPrivateWS = "wss://stream.bybit.com/v5/private"

	bookDepth = 50
)

// Source streams Bybit v5 linear public and private data into the
// ingestion layer. One instance serves every tracked symbol.
type Source struct {
	log       *logger.Entry
	wsURL     string
	privateWS string

	mu      sync.Mutex
	books   map[string]*models.OrderBook
	running bool
}

// NewSource returns a source against the production endpoints.
func NewSource() *Source {
	return &Source{
		log:       logger.GetLogger().WithComponent("bybit_source"),
		wsURL:     mainnetWS,
		privateWS: mainnetPrivateWS,
		books:     make(map[string]*models.OrderBook),
	}
}

func (s *Source) Exchange() string { return state.ExchangeBybit }

// SubscribeMarket opens one public websocket covering the order book,
// trade, ticker, kline and liquidation topics for every symbol. The
// SDK owns the connection; a watchdog reconnects on silence.
func (s *Source) SubscribeMarket(ctx context.Context, symbols []string, events chan<- state.MarketEvent) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("bybit source already running")
	}
	s.running = true
	s.mu.Unlock()

	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}

	var topics []string
	for _, sym := range symbols {
		native := symbolmap.ToExchange(state.ExchangeBybit, sym)
		topics = append(topics,
			fmt.Sprintf("orderbook.%d.%s", bookDepth, native),
			fmt.Sprintf("publicTrade.%s", native),
			fmt.Sprintf("tickers.%s", native),
			fmt.Sprintf("kline.1.%s", native),
			fmt.Sprintf("allLiquidation.%s", native),
		)
	}

	handler := func(message string) error {
		if ev, ok := s.parsePublic(message); ok {
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	go s.runPublic(ctx, topics, handler)
	s.log.WithFields(logger.Fields{"symbols": symbols}).Info("bybit market subscription started")
	return nil
}

// runPublic keeps the SDK websocket alive with exponential backoff and
// a silence watchdog.
func (s *Source) runPublic(ctx context.Context, topics []string, handler func(string) error) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	// Written from the SDK's read goroutine, read by the watchdog.
	var lastMsg atomic.Int64
	wrapped := func(message string) error {
		lastMsg.Store(time.Now().UnixMilli())
		return handler(message)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		lastMsg.Store(time.Now().UnixMilli())
		ws := bybit.NewBybitPublicWebSocket(s.wsURL, wrapped)
		ws.Connect().SendSubscription(topics)

		watch := time.NewTicker(15 * time.Second)
	alive:
		for {
			select {
			case <-ctx.Done():
				watch.Stop()
				ws.Disconnect()
				return
			case <-watch.C:
				if time.Since(time.UnixMilli(lastMsg.Load())) > 45*time.Second {
					s.log.Warn("bybit stream silent, reconnecting")
					break alive
				}
			}
		}
		watch.Stop()
		ws.Disconnect()

		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

type publicEnvelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

func (s *Source) parsePublic(message string) (state.MarketEvent, bool) {
	var env publicEnvelope
	if err := json.Unmarshal([]byte(message), &env); err != nil || env.Topic == "" {
		return state.MarketEvent{}, false
	}
	parts := strings.Split(env.Topic, ".")
	symbol := symbolmap.Normalize(state.ExchangeBybit, parts[len(parts)-1])
	ev := state.MarketEvent{Exchange: state.ExchangeBybit, Symbol: symbol}

	switch {
	case strings.HasPrefix(env.Topic, "orderbook."):
		book, ok := s.applyBook(symbol, env)
		if !ok {
			return state.MarketEvent{}, false
		}
		ev.Book = book
	case strings.HasPrefix(env.Topic, "publicTrade."):
		trades, ok := parseTrades(symbol, env.Data)
		if !ok {
			return state.MarketEvent{}, false
		}
		ev.Trades = trades
	case strings.HasPrefix(env.Topic, "tickers."):
		ticker, ok := parseTicker(symbol, env)
		if !ok {
			return state.MarketEvent{}, false
		}
		ev.Ticker = ticker
	case strings.HasPrefix(env.Topic, "kline."):
		kline, ok := parseKline(symbol, env.Data)
		if !ok {
			return state.MarketEvent{}, false
		}
		ev.Kline = kline
	case strings.HasPrefix(env.Topic, "allLiquidation."), strings.HasPrefix(env.Topic, "liquidation."):
		liq, ok := parseLiquidation(symbol, env.Data)
		if !ok {
			return state.MarketEvent{}, false
		}
		ev.Liquidation = liq
	default:
		return state.MarketEvent{}, false
	}
	return ev, true
}

type bookPayload struct {
	Symbol string     `json:"s"`
	Bids   [][]string `json:"b"`
	Asks   [][]string `json:"a"`
	Seq    int64      `json:"seq"`
}

// applyBook maintains the local book and hands out a fresh copy per
// update, so downstream consumers never share level slices.
func (s *Source) applyBook(symbol string, env publicEnvelope) (*models.OrderBook, bool) {
	var p bookPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, false
	}
	bids := parseLevels(p.Bids)
	asks := parseLevels(p.Asks)

	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[symbol]
	if !ok {
		book = models.NewOrderBook(state.ExchangeBybit, symbol)
		s.books[symbol] = book
	}
	if env.Type == "snapshot" {
		book.ApplySnapshot(bids, asks, env.TS, p.Seq)
	} else {
		book.ApplyDelta(bids, asks, env.TS, p.Seq)
	}
	return book.Clone(), true
}

func parseLevels(raw [][]string) []models.BookLevel {
	levels := make([]models.BookLevel, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(l[0], 64)
		qty, err2 := strconv.ParseFloat(l[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, models.BookLevel{Price: price, Quantity: qty})
	}
	return levels
}

type tradePayload struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
	ID     string `json:"i"`
}

func parseTrades(symbol string, data json.RawMessage) ([]models.TradeEvent, bool) {
	var raw []tradePayload
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) == 0 {
		return nil, false
	}
	trades := make([]models.TradeEvent, 0, len(raw))
	for _, t := range raw {
		price, _ := strconv.ParseFloat(t.Price, 64)
		size, _ := strconv.ParseFloat(t.Size, 64)
		trades = append(trades, models.TradeEvent{
			Symbol:    symbol,
			Price:     price,
			Size:      size,
			Side:      models.Side(t.Side),
			Timestamp: t.Time,
		})
	}
	return trades, true
}

type tickerPayload struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	Bid1Price string `json:"bid1Price"`
	Ask1Price string `json:"ask1Price"`
	Volume24h string `json:"volume24h"`
	FundingRt string `json:"fundingRate"`
}

func parseTicker(symbol string, env publicEnvelope) (*models.Ticker, bool) {
	var p tickerPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return nil, false
	}
	last, _ := strconv.ParseFloat(p.LastPrice, 64)
	bid, _ := strconv.ParseFloat(p.Bid1Price, 64)
	ask, _ := strconv.ParseFloat(p.Ask1Price, 64)
	vol, _ := strconv.ParseFloat(p.Volume24h, 64)
	funding, _ := strconv.ParseFloat(p.FundingRt, 64)
	return &models.Ticker{
		Symbol:      symbol,
		LastPrice:   last,
		BidPrice:    bid,
		AskPrice:    ask,
		Volume24h:   vol,
		FundingRate: funding,
		Timestamp:   env.TS,
	}, true
}

type klinePayload struct {
	Start   int64  `json:"start"`
	Open    string `json:"open"`
	High    string `json:"high"`
	Low     string `json:"low"`
	Close   string `json:"close"`
	Volume  string `json:"volume"`
	Confirm bool   `json:"confirm"`
}

func parseKline(symbol string, data json.RawMessage) (*models.Kline, bool) {
	var raw []klinePayload
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) == 0 {
		return nil, false
	}
	k := raw[len(raw)-1]
	open, _ := strconv.ParseFloat(k.Open, 64)
	high, _ := strconv.ParseFloat(k.High, 64)
	low, _ := strconv.ParseFloat(k.Low, 64)
	cls, _ := strconv.ParseFloat(k.Close, 64)
	vol, _ := strconv.ParseFloat(k.Volume, 64)
	return &models.Kline{
		Symbol:   symbol,
		Interval: "1",
		Start:    k.Start,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    cls,
		Volume:   vol,
		Closed:   k.Confirm,
	}, true
}

type liquidationPayload struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"`
	Size   string `json:"v"`
	Price  string `json:"p"`
}

func parseLiquidation(symbol string, data json.RawMessage) (*models.Liquidation, bool) {
	// allLiquidation delivers an array, the legacy topic a single object.
	var raw []liquidationPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		var one liquidationPayload
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, false
		}
		raw = []liquidationPayload{one}
	}
	if len(raw) == 0 {
		return nil, false
	}
	l := raw[len(raw)-1]
	price, _ := strconv.ParseFloat(l.Price, 64)
	size, _ := strconv.ParseFloat(l.Size, 64)
	return &models.Liquidation{
		Symbol:    symbol,
		Side:      models.Side(l.Side),
		Price:     price,
		Size:      size,
		Timestamp: l.Time,
	}, true
}
