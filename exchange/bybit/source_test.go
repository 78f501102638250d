package bybit

import (
	"testing"

	"gridflow/internal/models"
	"gridflow/internal/state"
)

func TestParsePublicOrderBookSnapshotAndDelta(t *testing.T) {
	s := NewSource()

	snapshot := `{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1000,
		"data":{"s":"BTCUSDT","b":[["100.5","2"],["100.4","1"]],"a":[["100.6","3"]],"seq":7}}`
	ev, ok := s.parsePublic(snapshot)
	if !ok {
		t.Fatal("snapshot rejected")
	}
	if ev.Symbol != "BTCUSDT" || ev.Book == nil {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if got := ev.Book.BestBid().Price; got != 100.5 {
		t.Errorf("best bid = %v, want 100.5", got)
	}

	// Delta removes the top bid and adds a deeper ask.
	delta := `{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1001,
		"data":{"s":"BTCUSDT","b":[["100.5","0"]],"a":[["100.7","4"]],"seq":8}}`
	ev, ok = s.parsePublic(delta)
	if !ok {
		t.Fatal("delta rejected")
	}
	if got := ev.Book.BestBid().Price; got != 100.4 {
		t.Errorf("best bid after delta = %v, want 100.4", got)
	}
	if got := len(ev.Book.Asks); got != 2 {
		t.Errorf("ask levels = %d, want 2", got)
	}

	// Each event must carry an independent copy.
	ev.Book.Bids[0].Quantity = 999
	again, _ := s.parsePublic(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1002,
		"data":{"s":"BTCUSDT","b":[],"a":[],"seq":9}}`)
	if again.Book.Bids[0].Quantity == 999 {
		t.Error("book copy shares level storage with the local book")
	}
}

func TestParsePublicTrades(t *testing.T) {
	s := NewSource()
	msg := `{"topic":"publicTrade.ETHUSDT","type":"snapshot","ts":2000,
		"data":[{"T":1999,"s":"ETHUSDT","S":"Sell","v":"0.5","p":"3000.25","i":"t1"}]}`
	ev, ok := s.parsePublic(msg)
	if !ok {
		t.Fatal("trade message rejected")
	}
	if len(ev.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(ev.Trades))
	}
	tr := ev.Trades[0]
	if tr.Price != 3000.25 || tr.Size != 0.5 || tr.Side != models.SideSell {
		t.Errorf("unexpected trade: %+v", tr)
	}
}

func TestParsePublicLiquidationArray(t *testing.T) {
	s := NewSource()
	msg := `{"topic":"allLiquidation.BTCUSDT","type":"snapshot","ts":3000,
		"data":[{"T":2999,"s":"BTCUSDT","S":"Buy","v":"1.2","p":"99000"}]}`
	ev, ok := s.parsePublic(msg)
	if !ok {
		t.Fatal("liquidation message rejected")
	}
	if ev.Liquidation == nil || ev.Liquidation.Price != 99000 {
		t.Fatalf("unexpected liquidation: %+v", ev.Liquidation)
	}
}

func TestParsePublicIgnoresNoise(t *testing.T) {
	s := NewSource()
	for _, msg := range []string{
		`{"op":"pong"}`,
		`{"success":true,"op":"subscribe"}`,
		`not json`,
		`{"topic":"unknown.BTCUSDT","data":{}}`,
	} {
		if _, ok := s.parsePublic(msg); ok {
			t.Errorf("noise accepted: %s", msg)
		}
	}
}

func TestParsePrivateOrderAndExecution(t *testing.T) {
	cred := state.Credential{Symbol: "BTCUSDT", Exchange: state.ExchangeBybit}

	ev, ok := parsePrivate(cred, []byte(`{"topic":"order","data":[
		{"symbol":"BTCUSDT","orderId":"o1","orderLinkId":"l1","side":"Buy",
		 "price":"100","qty":"2","cumExecQty":"0.5","orderStatus":"PartiallyFilled","updatedTime":"123"}]}`))
	if !ok || len(ev.Orders) != 1 {
		t.Fatalf("order update rejected: %+v", ev)
	}
	o := ev.Orders[0]
	if o.OrderID != "o1" || o.FilledQty != 0.5 || o.Status != models.OrderStatusPartiallyFilled {
		t.Errorf("unexpected order: %+v", o)
	}

	ev, ok = parsePrivate(cred, []byte(`{"topic":"execution","data":[
		{"symbol":"BTCUSDT","orderId":"o1","side":"Buy","execPrice":"100.1",
		 "execQty":"0.5","execFee":"0.01","isMaker":true,"execTime":"124"}]}`))
	if !ok || len(ev.Executions) != 1 {
		t.Fatalf("execution rejected: %+v", ev)
	}
	if !ev.Executions[0].IsMaker || ev.Executions[0].Quantity != 0.5 {
		t.Errorf("unexpected execution: %+v", ev.Executions[0])
	}
}

func TestParsePrivatePositionSignsShorts(t *testing.T) {
	cred := state.Credential{Symbol: "BTCUSDT", Exchange: state.ExchangeBybit}
	ev, ok := parsePrivate(cred, []byte(`{"topic":"position","data":[
		{"symbol":"BTCUSDT","side":"Sell","size":"0.75","entryPrice":"101",
		 "leverage":"2","unrealisedPnl":"-3","updatedTime":"200"}]}`))
	if !ok || len(ev.Positions) != 1 {
		t.Fatalf("position rejected: %+v", ev)
	}
	if got := ev.Positions[0].Size; got != -0.75 {
		t.Errorf("short size = %v, want -0.75", got)
	}
}
