package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gridflow/internal/models"
	"gridflow/logger"
)

// Supported exchange modes.
const (
	ExchangeBybit   = "bybit"
	ExchangeBinance = "binance"
	ExchangeBoth    = "both"
)

// ErrExchangeRequired is returned by AddClients when the state tracks
// both exchanges and the credential does not say which one it is for.
var ErrExchangeRequired = errors.New("exchange tag required when tracking both exchanges")

// Credential is one authenticated key/secret pair bound to a symbol on
// one exchange.
type Credential struct {
	Key      string
	Secret   string
	Symbol   string
	Exchange string
}

// SharedState owns the latest market and private snapshots per
// exchange and symbol. The ingestion loop started by Load is the sole
// writer; readers always get a deep copy of the last committed
// snapshot and never observe a partial update.
type SharedState struct {
	exchange string
	log      *logger.Entry

	mu      sync.RWMutex
	market  map[string]*models.MarketSnapshot
	private map[string]*models.PrivateSnapshot

	symbols []string
	clients []Credential
	sources map[string]StreamSource
}

// New creates empty state tagged to "bybit", "binance" or "both".
func New(exchange string) (*SharedState, error) {
	switch exchange {
	case ExchangeBybit, ExchangeBinance, ExchangeBoth:
	default:
		return nil, fmt.Errorf("invalid exchange %q", exchange)
	}
	return &SharedState{
		exchange: exchange,
		log: logger.GetLogger().WithComponent("state").WithFields(logger.Fields{
			"exchange": exchange,
		}),
		market:  make(map[string]*models.MarketSnapshot),
		private: make(map[string]*models.PrivateSnapshot),
		sources: make(map[string]StreamSource),
	}, nil
}

// Exchange returns the configured exchange mode.
func (s *SharedState) Exchange() string { return s.exchange }

// Exchanges lists the concrete exchanges in play.
func (s *SharedState) Exchanges() []string {
	if s.exchange == ExchangeBoth {
		return []string{ExchangeBybit, ExchangeBinance}
	}
	return []string{s.exchange}
}

// AddSymbols appends to the tracked set; duplicates are ignored.
func (s *SharedState) AddSymbols(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		if sym == "" || containsString(s.symbols, sym) {
			continue
		}
		s.symbols = append(s.symbols, sym)
	}
}

// Symbols returns a copy of the tracked symbol set.
func (s *SharedState) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.symbols...)
}

// AddClients registers a credential tuple. In single-exchange mode the
// exchange argument is ignored; in "both" mode it is mandatory.
func (s *SharedState) AddClients(key, secret, symbol, exchange string) error {
	target := s.exchange
	if s.exchange == ExchangeBoth {
		switch exchange {
		case ExchangeBybit, ExchangeBinance:
			target = exchange
		case "":
			return ErrExchangeRequired
		default:
			return fmt.Errorf("invalid exchange %q for client %s", exchange, symbol)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients = append(s.clients, Credential{Key: key, Secret: secret, Symbol: symbol, Exchange: target})
	return nil
}

// Clients returns the registered credentials, optionally filtered by
// exchange.
func (s *SharedState) Clients(exchange string) []Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Credential
	for _, c := range s.clients {
		if exchange == "" || c.Exchange == exchange {
			out = append(out, c)
		}
	}
	return out
}

// MarketData returns a copy of the latest committed market snapshot,
// nil when nothing arrived yet.
func (s *SharedState) MarketData(exchange, symbol string) *models.MarketSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap, ok := s.market[snapKey(exchange, symbol)]; ok {
		return snap.Clone()
	}
	return nil
}

// PrivateData returns a copy of the latest committed private snapshot,
// nil when nothing arrived yet.
func (s *SharedState) PrivateData(exchange, symbol string) *models.PrivateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if snap, ok := s.private[snapKey(exchange, symbol)]; ok {
		return snap.Clone()
	}
	return nil
}

// maxTradeHistory bounds the per-symbol trade window kept on the
// market snapshot.
const maxTradeHistory = 2000

func (s *SharedState) applyMarket(ev MarketEvent, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snapKey(ev.Exchange, ev.Symbol)
	snap, ok := s.market[key]
	if !ok {
		snap = &models.MarketSnapshot{Exchange: ev.Exchange, Symbol: ev.Symbol}
		s.market[key] = snap
	}
	if ev.Book != nil {
		snap.Book = ev.Book
	}
	if len(ev.Trades) > 0 {
		snap.Trades = append(snap.Trades, ev.Trades...)
		if len(snap.Trades) > maxTradeHistory {
			snap.Trades = append([]models.TradeEvent(nil), snap.Trades[len(snap.Trades)-maxTradeHistory:]...)
		}
	}
	if ev.Kline != nil {
		snap.Klines = append(snap.Klines, *ev.Kline)
		if len(snap.Klines) > maxTradeHistory {
			snap.Klines = snap.Klines[len(snap.Klines)-maxTradeHistory:]
		}
	}
	if ev.Ticker != nil {
		snap.Ticker = *ev.Ticker
	}
	if ev.Liquidation != nil {
		snap.Liquidations = append(snap.Liquidations, *ev.Liquidation)
		if len(snap.Liquidations) > 100 {
			snap.Liquidations = snap.Liquidations[len(snap.Liquidations)-100:]
		}
	}
	snap.UpdatedAt = now
}

func (s *SharedState) applyPrivate(ev PrivateEvent, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snapKey(ev.Exchange, ev.Symbol)
	snap, ok := s.private[key]
	if !ok {
		snap = &models.PrivateSnapshot{Exchange: ev.Exchange, Symbol: ev.Symbol}
		s.private[key] = snap
	}
	if len(ev.Wallets) > 0 {
		snap.Wallets = ev.Wallets
	}
	if len(ev.Positions) > 0 {
		snap.Positions = mergePositions(snap.Positions, ev.Positions)
	}
	if len(ev.Orders) > 0 {
		snap.Orders = mergeOrders(snap.Orders, ev.Orders)
	}
	if len(ev.Executions) > 0 {
		snap.Executions = append(snap.Executions, ev.Executions...)
		if len(snap.Executions) > maxTradeHistory {
			snap.Executions = append([]models.Execution(nil), snap.Executions[len(snap.Executions)-maxTradeHistory:]...)
		}
	}
	snap.UpdatedAt = now
}

// mergePositions replaces entries for symbols present in the update
// and keeps the rest.
func mergePositions(have, update []models.Position) []models.Position {
	out := make([]models.Position, 0, len(have)+len(update))
	for _, p := range have {
		replaced := false
		for _, u := range update {
			if u.Symbol == p.Symbol {
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, p)
		}
	}
	return append(out, update...)
}

// mergeOrders upserts by order id, dropping terminal orders once the
// update window has moved past them.
func mergeOrders(have, update []models.OrderUpdate) []models.OrderUpdate {
	byID := make(map[string]models.OrderUpdate, len(have)+len(update))
	order := make([]string, 0, len(have)+len(update))
	for _, o := range have {
		if _, ok := byID[o.OrderID]; !ok {
			order = append(order, o.OrderID)
		}
		byID[o.OrderID] = o
	}
	for _, o := range update {
		if _, ok := byID[o.OrderID]; !ok {
			order = append(order, o.OrderID)
		}
		byID[o.OrderID] = o
	}
	out := make([]models.OrderUpdate, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func snapKey(exchange, symbol string) string { return exchange + ":" + symbol }

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
