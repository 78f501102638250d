package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	"gridflow/internal/models"
	"gridflow/internal/state"
	symbolmap "gridflow/internal/symbols"
	"gridflow/logger"
)

const bookLevels = 20

// Source streams Binance USD-M futures public and private data into the
// ingestion layer.
type Source struct {
	log *logger.Log

	mu      sync.Mutex
	running bool
}

func NewSource() *Source {
	return &Source{log: logger.GetLogger()}
}

func (s *Source) Exchange() string { return state.ExchangeBinance }

// SubscribeMarket opens one stream per symbol and topic. The SDK owns
// reconnection of individual streams; a stream that terminates is
// reopened after a short delay.
func (s *Source) SubscribeMarket(ctx context.Context, symbols []string, events chan<- state.MarketEvent) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("binance source already running")
	}
	s.running = true
	s.mu.Unlock()

	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}

	log := s.log.WithComponent("binance_source")
	for _, symbol := range symbols {
		symbol := symbol
		// Streams subscribe with the native contract name; handlers emit
		// the canonical one.
		native := symbolmap.ToExchange(state.ExchangeBinance, symbol)
		streams := []struct {
			name string
			open func() (chan struct{}, chan struct{}, error)
		}{
			{"depth", func() (chan struct{}, chan struct{}, error) {
				return futures.WsPartialDepthServe(native, bookLevels, s.depthHandler(ctx, symbol, events), s.errHandler(symbol))
			}},
			{"aggTrade", func() (chan struct{}, chan struct{}, error) {
				return futures.WsAggTradeServe(native, s.tradeHandler(ctx, symbol, events), s.errHandler(symbol))
			}},
			{"kline", func() (chan struct{}, chan struct{}, error) {
				return futures.WsKlineServe(native, "1m", s.klineHandler(ctx, symbol, events), s.errHandler(symbol))
			}},
			{"bookTicker", func() (chan struct{}, chan struct{}, error) {
				return futures.WsBookTickerServe(native, s.tickerHandler(ctx, symbol, events), s.errHandler(symbol))
			}},
			{"forceOrder", func() (chan struct{}, chan struct{}, error) {
				return futures.WsLiquidationOrderServe(native, s.liquidationHandler(ctx, symbol, events), s.errHandler(symbol))
			}},
		}
		for _, stream := range streams {
			go s.keepStream(ctx, symbol, stream.name, stream.open)
		}
	}
	log.WithFields(logger.Fields{"symbols": symbols}).Info("binance market subscription started")
	return nil
}

// keepStream reopens a websocket stream whenever it ends.
func (s *Source) keepStream(ctx context.Context, symbol, name string, open func() (chan struct{}, chan struct{}, error)) {
	log := s.log.WithComponent("binance_source").WithFields(logger.Fields{"symbol": symbol, "stream": name})
	for {
		if ctx.Err() != nil {
			return
		}
		doneC, stopC, err := open()
		if err != nil {
			log.WithError(err).Warn("stream subscribe failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
			log.Warn("stream ended, reopening")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (s *Source) errHandler(symbol string) futures.ErrHandler {
	log := s.log.WithComponent("binance_source").WithFields(logger.Fields{"symbol": symbol})
	return func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}
}

func (s *Source) emit(ctx context.Context, events chan<- state.MarketEvent, ev state.MarketEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// depthHandler converts partial depth snapshots into full book events.
// Partial depth is already a consistent top-N view, so no local delta
// bookkeeping is needed.
func (s *Source) depthHandler(ctx context.Context, symbol string, events chan<- state.MarketEvent) futures.WsDepthHandler {
	return func(event *futures.WsDepthEvent) {
		book := models.NewOrderBook(state.ExchangeBinance, symbol)
		bids := make([]models.BookLevel, 0, len(event.Bids))
		for _, b := range event.Bids {
			price, _ := strconv.ParseFloat(b.Price, 64)
			qty, _ := strconv.ParseFloat(b.Quantity, 64)
			bids = append(bids, models.BookLevel{Price: price, Quantity: qty})
		}
		asks := make([]models.BookLevel, 0, len(event.Asks))
		for _, a := range event.Asks {
			price, _ := strconv.ParseFloat(a.Price, 64)
			qty, _ := strconv.ParseFloat(a.Quantity, 64)
			asks = append(asks, models.BookLevel{Price: price, Quantity: qty})
		}
		book.ApplySnapshot(bids, asks, event.Time, event.LastUpdateID)
		s.emit(ctx, events, state.MarketEvent{
			Exchange: state.ExchangeBinance,
			Symbol:   symbol,
			Book:     book,
		})
	}
}

func (s *Source) tradeHandler(ctx context.Context, symbol string, events chan<- state.MarketEvent) futures.WsAggTradeHandler {
	return func(event *futures.WsAggTradeEvent) {
		price, _ := strconv.ParseFloat(event.Price, 64)
		qty, _ := strconv.ParseFloat(event.Quantity, 64)
		// Maker flag true means the buyer was the maker, i.e. an
		// aggressive sell.
		side := models.SideBuy
		if event.Maker {
			side = models.SideSell
		}
		s.emit(ctx, events, state.MarketEvent{
			Exchange: state.ExchangeBinance,
			Symbol:   symbol,
			Trades: []models.TradeEvent{{
				Symbol:    symbol,
				Price:     price,
				Size:      qty,
				Side:      side,
				Timestamp: event.Time,
			}},
		})
	}
}

func (s *Source) klineHandler(ctx context.Context, symbol string, events chan<- state.MarketEvent) futures.WsKlineHandler {
	return func(event *futures.WsKlineEvent) {
		k := event.Kline
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		cls, _ := strconv.ParseFloat(k.Close, 64)
		vol, _ := strconv.ParseFloat(k.Volume, 64)
		s.emit(ctx, events, state.MarketEvent{
			Exchange: state.ExchangeBinance,
			Symbol:   symbol,
			Kline: &models.Kline{
				Symbol:   symbol,
				Interval: "1m",
				Start:    k.StartTime,
				End:      k.EndTime,
				Open:     open,
				High:     high,
				Low:      low,
				Close:    cls,
				Volume:   vol,
				Closed:   k.IsFinal,
			},
		})
	}
}

func (s *Source) tickerHandler(ctx context.Context, symbol string, events chan<- state.MarketEvent) futures.WsBookTickerHandler {
	return func(event *futures.WsBookTickerEvent) {
		bid, _ := strconv.ParseFloat(event.BestBidPrice, 64)
		ask, _ := strconv.ParseFloat(event.BestAskPrice, 64)
		s.emit(ctx, events, state.MarketEvent{
			Exchange: state.ExchangeBinance,
			Symbol:   symbol,
			Ticker: &models.Ticker{
				Symbol:    symbol,
				LastPrice: (bid + ask) / 2,
				BidPrice:  bid,
				AskPrice:  ask,
				Timestamp: time.Now().UnixMilli(),
			},
		})
	}
}

func (s *Source) liquidationHandler(ctx context.Context, symbol string, events chan<- state.MarketEvent) futures.WsLiquidationOrderHandler {
	return func(event *futures.WsLiquidationOrderEvent) {
		o := event.LiquidationOrder
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		s.emit(ctx, events, state.MarketEvent{
			Exchange: state.ExchangeBinance,
			Symbol:   symbol,
			Liquidation: &models.Liquidation{
				Symbol:    symbol,
				Side:      fromBinanceSide(string(o.Side)),
				Price:     price,
				Size:      qty,
				Timestamp: o.TradeTime,
			},
		})
	}
}

func fromBinanceSide(side string) models.Side {
	if side == "SELL" {
		return models.SideSell
	}
	return models.SideBuy
}
