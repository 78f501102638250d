package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"gridflow/internal/models"
	"gridflow/internal/state"
	symbolmap "gridflow/internal/symbols"
	"gridflow/logger"
)

// SubscribePrivate authenticates one websocket per credential and
// relays order, execution, position and wallet updates.
func (s *Source) SubscribePrivate(ctx context.Context, cred state.Credential, events chan<- state.PrivateEvent) error {
	if cred.Key == "" || cred.Secret == "" {
		return fmt.Errorf("missing credentials for %s", cred.Symbol)
	}
	log := s.log.WithFields(logger.Fields{"symbol": cred.Symbol, "stream": "private"})
	go s.runPrivate(ctx, cred, events, log)
	return nil
}

func (s *Source) runPrivate(ctx context.Context, cred state.Credential, events chan<- state.PrivateEvent, log *logger.Entry) {
	reconnectDelay := 5 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.privateSession(ctx, cred, events, log); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("private stream dropped, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// privateSession dials, authenticates and reads until the connection
// fails or ctx is cancelled.
func (s *Source) privateSession(ctx context.Context, cred state.Credential, events chan<- state.PrivateEvent, log *logger.Entry) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.privateWS, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := authenticate(conn, cred.Key, cred.Secret); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"order", "execution", "position", "wallet"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info("private stream connected")

	go pingLoop(ctx, conn)

	for {
		if ctx.Err() != nil {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		ev, ok := parsePrivate(cred, raw)
		if !ok {
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

// authenticate sends the v5 auth op: HMAC-SHA256 of "GET/realtime" plus
// an expiry timestamp, signed with the API secret.
func authenticate(conn *websocket.Conn, key, secret string) error {
	expires := time.Now().Add(10 * time.Second).UnixMilli()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "GET/realtime%d", expires)
	sig := hex.EncodeToString(mac.Sum(nil))

	return conn.WriteJSON(map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{key, expires, sig},
	})
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

type privateEnvelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func parsePrivate(cred state.Credential, raw []byte) (state.PrivateEvent, bool) {
	var env privateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Topic == "" {
		return state.PrivateEvent{}, false
	}
	ev := state.PrivateEvent{Exchange: state.ExchangeBybit, Symbol: cred.Symbol}

	switch env.Topic {
	case "order":
		orders := parseOrderUpdates(env.Data)
		if len(orders) == 0 {
			return state.PrivateEvent{}, false
		}
		ev.Orders = orders
	case "execution":
		execs := parseExecutions(env.Data)
		if len(execs) == 0 {
			return state.PrivateEvent{}, false
		}
		ev.Executions = execs
	case "position":
		positions := parsePositions(env.Data)
		if len(positions) == 0 {
			return state.PrivateEvent{}, false
		}
		ev.Positions = positions
	case "wallet":
		wallets := parseWallets(env.Data)
		if len(wallets) == 0 {
			return state.PrivateEvent{}, false
		}
		ev.Wallets = wallets
	default:
		return state.PrivateEvent{}, false
	}
	return ev, true
}

type orderPayload struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	OrderStatus string `json:"orderStatus"`
	UpdatedTime string `json:"updatedTime"`
}

func parseOrderUpdates(data json.RawMessage) []models.OrderUpdate {
	var raw []orderPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	orders := make([]models.OrderUpdate, 0, len(raw))
	for _, o := range raw {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.Qty, 64)
		filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
		updated, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)
		orders = append(orders, models.OrderUpdate{
			Symbol:      symbolmap.Normalize(state.ExchangeBybit, o.Symbol),
			OrderID:     o.OrderID,
			OrderLinkID: o.OrderLinkID,
			Side:        models.Side(o.Side),
			Price:       price,
			Quantity:    qty,
			FilledQty:   filled,
			Status:      o.OrderStatus,
			UpdatedAt:   updated,
		})
	}
	return orders
}

type executionPayload struct {
	Symbol      string `json:"symbol"`
	ExecID      string `json:"execId"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecFee     string `json:"execFee"`
	IsMaker     bool   `json:"isMaker"`
	ExecTime    string `json:"execTime"`
}

func parseExecutions(data json.RawMessage) []models.Execution {
	var raw []executionPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	execs := make([]models.Execution, 0, len(raw))
	for _, e := range raw {
		price, _ := strconv.ParseFloat(e.ExecPrice, 64)
		qty, _ := strconv.ParseFloat(e.ExecQty, 64)
		fee, _ := strconv.ParseFloat(e.ExecFee, 64)
		ts, _ := strconv.ParseInt(e.ExecTime, 10, 64)
		execs = append(execs, models.Execution{
			Symbol:      symbolmap.Normalize(state.ExchangeBybit, e.Symbol),
			ExecID:      e.ExecID,
			OrderID:     e.OrderID,
			OrderLinkID: e.OrderLinkID,
			Side:        models.Side(e.Side),
			Price:       price,
			Quantity:    qty,
			Fee:         fee,
			IsMaker:     e.IsMaker,
			Timestamp:   ts,
		})
	}
	return execs
}

type positionPayload struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	EntryPrice    string `json:"entryPrice"`
	Leverage      string `json:"leverage"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	UpdatedTime   string `json:"updatedTime"`
}

// parsePositions converts Bybit's unsigned size plus side into the
// signed convention used internally.
func parsePositions(data json.RawMessage) []models.Position {
	var raw []positionPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	positions := make([]models.Position, 0, len(raw))
	for _, p := range raw {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if p.Side == "Sell" {
			size = -size
		}
		entry, _ := strconv.ParseFloat(p.EntryPrice, 64)
		lev, _ := strconv.ParseFloat(p.Leverage, 64)
		pnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		updated, _ := strconv.ParseInt(p.UpdatedTime, 10, 64)
		positions = append(positions, models.Position{
			Symbol:        symbolmap.Normalize(state.ExchangeBybit, p.Symbol),
			Size:          size,
			EntryPrice:    entry,
			Leverage:      lev,
			UnrealizedPnl: pnl,
			UpdatedAt:     updated,
		})
	}
	return positions
}

type walletPayload struct {
	Coin []struct {
		Coin                string `json:"coin"`
		Equity              string `json:"equity"`
		AvailableToWithdraw string `json:"availableToWithdraw"`
		UnrealisedPnl       string `json:"unrealisedPnl"`
	} `json:"coin"`
}

func parseWallets(data json.RawMessage) []models.Wallet {
	var raw []walletPayload
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	now := time.Now().UnixMilli()
	var wallets []models.Wallet
	for _, w := range raw {
		for _, c := range w.Coin {
			equity, _ := strconv.ParseFloat(c.Equity, 64)
			avail, _ := strconv.ParseFloat(c.AvailableToWithdraw, 64)
			pnl, _ := strconv.ParseFloat(c.UnrealisedPnl, 64)
			wallets = append(wallets, models.Wallet{
				Coin:          c.Coin,
				Equity:        equity,
				Available:     avail,
				UnrealizedPnl: pnl,
				UpdatedAt:     now,
			})
		}
	}
	return wallets
}
