package binance

import (
	"testing"

	futures "github.com/adshao/go-binance/v2/futures"

	"gridflow/internal/models"
	"gridflow/internal/state"
)

func TestConvertUserDataOrderWithFill(t *testing.T) {
	cred := state.Credential{Symbol: "BTCUSDT", Exchange: state.ExchangeBinance}
	event := &futures.WsUserDataEvent{
		Event: futures.UserDataEventTypeOrderTradeUpdate,
		Time:  555,
		// OrderTradeUpdate is a promoted field; composite literals must
		// name the embedded struct.
		WsUserDataOrderTradeUpdate: futures.WsUserDataOrderTradeUpdate{
			OrderTradeUpdate: futures.WsOrderTradeUpdate{
				Symbol:               "BTCUSDT",
				ID:                   42,
				ClientOrderID:        "grid-1",
				Side:                 futures.SideTypeBuy,
				OriginalPrice:        "100.5",
				OriginalQty:          "2",
				AccumulatedFilledQty: "0.5",
				LastFilledQty:        "0.5",
				LastFilledPrice:      "100.4",
				Commission:           "0.02",
				Status:               futures.OrderStatusType("PARTIALLY_FILLED"),
				IsMaker:              true,
			},
		},
	}

	ev, ok := convertUserData(cred, event)
	if !ok {
		t.Fatal("order update rejected")
	}
	if len(ev.Orders) != 1 || len(ev.Executions) != 1 {
		t.Fatalf("orders=%d executions=%d, want 1/1", len(ev.Orders), len(ev.Executions))
	}
	o := ev.Orders[0]
	if o.OrderID != "42" || o.Status != models.OrderStatusPartiallyFilled || o.FilledQty != 0.5 {
		t.Errorf("unexpected order: %+v", o)
	}
	e := ev.Executions[0]
	if e.Price != 100.4 || e.Quantity != 0.5 || !e.IsMaker {
		t.Errorf("unexpected execution: %+v", e)
	}
}

func TestConvertUserDataDropsOtherSymbols(t *testing.T) {
	cred := state.Credential{Symbol: "BTCUSDT", Exchange: state.ExchangeBinance}
	event := &futures.WsUserDataEvent{
		Event: futures.UserDataEventTypeOrderTradeUpdate,
		WsUserDataOrderTradeUpdate: futures.WsUserDataOrderTradeUpdate{
			OrderTradeUpdate: futures.WsOrderTradeUpdate{
				Symbol: "ETHUSDT",
				ID:     7,
			},
		},
	}
	if _, ok := convertUserData(cred, event); ok {
		t.Fatal("foreign symbol accepted")
	}
}

func TestConvertUserDataAccountUpdate(t *testing.T) {
	cred := state.Credential{Symbol: "BTCUSDT", Exchange: state.ExchangeBinance}
	event := &futures.WsUserDataEvent{
		Event: futures.UserDataEventTypeAccountUpdate,
		Time:  600,
		WsUserDataAccountUpdate: futures.WsUserDataAccountUpdate{
			AccountUpdate: futures.WsAccountUpdate{
				Positions: []futures.WsPosition{
					{Symbol: "BTCUSDT", Amount: "-0.25", EntryPrice: "101", UnrealizedPnL: "1.5"},
					{Symbol: "ETHUSDT", Amount: "3"},
				},
				Balances: []futures.WsBalance{
					{Asset: "USDT", Balance: "5000", CrossWalletBalance: "4800"},
				},
			},
		},
	}

	ev, ok := convertUserData(cred, event)
	if !ok {
		t.Fatal("account update rejected")
	}
	if len(ev.Positions) != 1 {
		t.Fatalf("positions = %d, want only the credential's symbol", len(ev.Positions))
	}
	if ev.Positions[0].Size != -0.25 {
		t.Errorf("position size = %v, want -0.25", ev.Positions[0].Size)
	}
	if len(ev.Wallets) != 1 || ev.Wallets[0].Equity != 5000 {
		t.Errorf("unexpected wallets: %+v", ev.Wallets)
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]string{
		"NEW":              models.OrderStatusNew,
		"PARTIALLY_FILLED": models.OrderStatusPartiallyFilled,
		"FILLED":           models.OrderStatusFilled,
		"CANCELED":         models.OrderStatusCancelled,
		"EXPIRED":          models.OrderStatusCancelled,
		"REJECTED":         models.OrderStatusRejected,
	}
	for in, want := range cases {
		if got := normalizeStatus(in); got != want {
			t.Errorf("normalizeStatus(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestChunkOrders(t *testing.T) {
	orders := make([]models.BatchOrder, 12)
	chunks := chunkOrders(orders, 5)
	if len(chunks) != 3 || len(chunks[0]) != 5 || len(chunks[2]) != 2 {
		t.Fatalf("unexpected chunking: %d chunks", len(chunks))
	}
	if chunkOrders(nil, 5) != nil {
		t.Error("empty input should produce no chunks")
	}
}
