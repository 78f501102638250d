package state

import (
	"context"
	"fmt"
	"time"

	"gridflow/internal/channel"
	"gridflow/internal/models"
	"gridflow/logger"
)

// MarketEvent is one coherent public update from a stream source. Only
// the fields that changed are set; the book, when present, is already
// fully applied and owned by the receiver.
type MarketEvent struct {
	Exchange    string
	Symbol      string
	Book        *models.OrderBook
	Trades      []models.TradeEvent
	Kline       *models.Kline
	Ticker      *models.Ticker
	Liquidation *models.Liquidation
}

// PrivateEvent is one authenticated update from a stream source.
type PrivateEvent struct {
	Exchange   string
	Symbol     string
	Wallets    []models.Wallet
	Positions  []models.Position
	Orders     []models.OrderUpdate
	Executions []models.Execution
}

// StreamSource is the exchange capability the ingestion loop consumes.
// Implementations own their transport, reconnects and backoff; on a
// gap the state simply keeps serving the last committed snapshot.
type StreamSource interface {
	Exchange() string
	SubscribeMarket(ctx context.Context, symbols []string, events chan<- MarketEvent) error
	SubscribePrivate(ctx context.Context, cred Credential, events chan<- PrivateEvent) error
}

// RegisterSource attaches a stream source for one exchange. Must be
// called before Load.
func (s *SharedState) RegisterSource(src StreamSource) {
	s.sources[src.Exchange()] = src
}

// Load runs the ingestion loop until ctx is cancelled: it subscribes
// every tracked symbol on every configured exchange, applies events as
// the single writer, and pushes one notification per committed update
// onto queue in arrival order. Callers typically run it in its own
// goroutine.
func (s *SharedState) Load(ctx context.Context, queue *channel.Unbounded) error {
	marketEvents := make(chan MarketEvent, 256)
	privateEvents := make(chan PrivateEvent, 256)
	symbols := s.Symbols()

	for _, exchange := range s.Exchanges() {
		src, ok := s.sources[exchange]
		if !ok {
			return fmt.Errorf("no stream source registered for %s", exchange)
		}
		if err := src.SubscribeMarket(ctx, symbols, marketEvents); err != nil {
			return fmt.Errorf("market subscribe on %s: %w", exchange, err)
		}
		creds := s.Clients(exchange)
		if len(creds) == 0 {
			s.log.Warn("no clients registered for ", exchange)
		}
		for _, cred := range creds {
			if err := src.SubscribePrivate(ctx, cred, privateEvents); err != nil {
				return fmt.Errorf("private subscribe %s on %s: %w", cred.Symbol, exchange, err)
			}
		}
	}

	s.log.WithFields(logger.Fields{"symbols": symbols}).Info("ingestion started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-marketEvents:
			s.applyMarket(ev, time.Now())
			logger.IncrementMarketTick(1)
			queue.Push(channel.Notification{
				Exchange: ev.Exchange,
				Symbol:   ev.Symbol,
				Kind:     channel.KindMarket,
				At:       time.Now(),
			})
		case ev := <-privateEvents:
			s.applyPrivate(ev, time.Now())
			logger.IncrementPrivateUpdate(1)
			queue.Push(channel.Notification{
				Exchange: ev.Exchange,
				Symbol:   ev.Symbol,
				Kind:     channel.KindPrivate,
				At:       time.Now(),
			})
		}
	}
}
