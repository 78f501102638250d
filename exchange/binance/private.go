package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	futures "github.com/adshao/go-binance/v2/futures"

	"gridflow/internal/models"
	"gridflow/internal/state"
	symbolmap "gridflow/internal/symbols"
	"gridflow/logger"
)

// SubscribePrivate opens the user data stream for one credential. The
// listen key is refreshed on the exchange's keepalive schedule and the
// stream reopened when it terminates.
func (s *Source) SubscribePrivate(ctx context.Context, cred state.Credential, events chan<- state.PrivateEvent) error {
	if cred.Key == "" || cred.Secret == "" {
		return fmt.Errorf("missing credentials for %s", cred.Symbol)
	}
	client := futures.NewClient(cred.Key, cred.Secret)
	log := s.log.WithComponent("binance_source").WithFields(logger.Fields{"symbol": cred.Symbol, "stream": "userData"})
	go s.runUserData(ctx, client, cred, events, log)
	return nil
}

func (s *Source) runUserData(ctx context.Context, client *futures.Client, cred state.Credential, events chan<- state.PrivateEvent, log *logger.Entry) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.userDataSession(ctx, client, cred, events, log); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("user data stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (s *Source) userDataSession(ctx context.Context, client *futures.Client, cred state.Credential, events chan<- state.PrivateEvent, log *logger.Entry) error {
	listenKey, err := client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return fmt.Errorf("start user stream: %w", err)
	}

	handler := func(event *futures.WsUserDataEvent) {
		ev, ok := convertUserData(cred, event)
		if !ok {
			return
		}
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("user data websocket error")
		}
	}

	doneC, stopC, err := futures.WsUserDataServe(listenKey, handler, errHandler)
	if err != nil {
		return fmt.Errorf("serve user data: %w", err)
	}
	log.Info("user data stream connected")

	// Binance expires listen keys after 60 minutes without keepalive.
	keepalive := time.NewTicker(30 * time.Minute)
	defer keepalive.Stop()
	for {
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return nil
		case <-doneC:
			return fmt.Errorf("stream closed")
		case <-keepalive.C:
			if err := client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
				log.WithError(err).Warn("listen key keepalive failed")
			}
		}
	}
}

// convertUserData maps order and account events onto the normalized
// private event. Events for other symbols are dropped; each credential
// trades exactly one symbol.
func convertUserData(cred state.Credential, event *futures.WsUserDataEvent) (state.PrivateEvent, bool) {
	ev := state.PrivateEvent{Exchange: state.ExchangeBinance, Symbol: cred.Symbol}
	native := symbolmap.ToExchange(state.ExchangeBinance, cred.Symbol)

	switch event.Event {
	case futures.UserDataEventTypeOrderTradeUpdate:
		u := event.OrderTradeUpdate
		if u.Symbol != native {
			return state.PrivateEvent{}, false
		}
		price, _ := strconv.ParseFloat(u.OriginalPrice, 64)
		qty, _ := strconv.ParseFloat(u.OriginalQty, 64)
		filled, _ := strconv.ParseFloat(u.AccumulatedFilledQty, 64)
		ev.Orders = []models.OrderUpdate{{
			Symbol:      cred.Symbol,
			OrderID:     strconv.FormatInt(u.ID, 10),
			OrderLinkID: u.ClientOrderID,
			Side:        fromBinanceSide(string(u.Side)),
			Price:       price,
			Quantity:    qty,
			FilledQty:   filled,
			Status:      normalizeStatus(string(u.Status)),
			UpdatedAt:   event.Time,
		}}
		lastQty, _ := strconv.ParseFloat(u.LastFilledQty, 64)
		if lastQty > 0 {
			lastPrice, _ := strconv.ParseFloat(u.LastFilledPrice, 64)
			fee, _ := strconv.ParseFloat(u.Commission, 64)
			ev.Executions = []models.Execution{{
				Symbol:      cred.Symbol,
				ExecID:      strconv.FormatInt(u.TradeID, 10),
				OrderID:     strconv.FormatInt(u.ID, 10),
				OrderLinkID: u.ClientOrderID,
				Side:        fromBinanceSide(string(u.Side)),
				Price:       lastPrice,
				Quantity:    lastQty,
				Fee:         fee,
				IsMaker:     u.IsMaker,
				Timestamp:   event.Time,
			}}
		}
		return ev, true

	case futures.UserDataEventTypeAccountUpdate:
		acc := event.AccountUpdate
		for _, p := range acc.Positions {
			if p.Symbol != native {
				continue
			}
			size, _ := strconv.ParseFloat(p.Amount, 64)
			entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
			pnl, _ := strconv.ParseFloat(p.UnrealizedPnL, 64)
			ev.Positions = append(ev.Positions, models.Position{
				Symbol:        cred.Symbol,
				Size:          size,
				EntryPrice:    entry,
				UnrealizedPnl: pnl,
				UpdatedAt:     event.Time,
			})
		}
		for _, b := range acc.Balances {
			equity, _ := strconv.ParseFloat(b.Balance, 64)
			avail, _ := strconv.ParseFloat(b.CrossWalletBalance, 64)
			ev.Wallets = append(ev.Wallets, models.Wallet{
				Coin:      b.Asset,
				Equity:    equity,
				Available: avail,
				UpdatedAt: event.Time,
			})
		}
		if len(ev.Positions) == 0 && len(ev.Wallets) == 0 {
			return state.PrivateEvent{}, false
		}
		return ev, true
	}
	return state.PrivateEvent{}, false
}

// normalizeStatus maps Binance order states onto the shared vocabulary.
func normalizeStatus(status string) string {
	switch status {
	case "NEW":
		return models.OrderStatusNew
	case "PARTIALLY_FILLED":
		return models.OrderStatusPartiallyFilled
	case "FILLED":
		return models.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		return models.OrderStatusCancelled
	case "REJECTED":
		return models.OrderStatusRejected
	}
	return status
}
