package models

import "time"

// Wallet is the account balance for one settlement coin.
type Wallet struct {
	Coin          string  `json:"coin"`
	Equity        float64 `json:"equity"`
	Available     float64 `json:"available"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	UpdatedAt     int64   `json:"updated_at"`
}

// Position is the net position for one symbol. Size is signed: positive
// long, negative short.
type Position struct {
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	Leverage      float64 `json:"leverage"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	UpdatedAt     int64   `json:"updated_at"`
}

// NotionalUSD is the absolute position value at the given mark price.
func (p Position) NotionalUSD(mark float64) float64 {
	v := p.Size * mark
	if v < 0 {
		return -v
	}
	return v
}

// Order statuses normalized across exchanges.
const (
	OrderStatusNew             = "New"
	OrderStatusPartiallyFilled = "PartiallyFilled"
	OrderStatusFilled          = "Filled"
	OrderStatusCancelled       = "Cancelled"
	OrderStatusRejected        = "Rejected"
)

// OrderUpdate is a private order-stream event.
type OrderUpdate struct {
	Symbol        string  `json:"symbol"`
	OrderID       string  `json:"order_id"`
	OrderLinkID   string  `json:"order_link_id"`
	Side          Side    `json:"side"`
	Price         float64 `json:"price"`
	Quantity      float64 `json:"quantity"`
	FilledQty     float64 `json:"filled_qty"`
	Status        string  `json:"status"`
	UpdatedAt     int64   `json:"updated_at"`
}

// Execution is a private fill event.
type Execution struct {
	Symbol      string  `json:"symbol"`
	ExecID      string  `json:"exec_id"`
	OrderID     string  `json:"order_id"`
	OrderLinkID string  `json:"order_link_id"`
	Side        Side    `json:"side"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Fee         float64 `json:"fee"`
	IsMaker     bool    `json:"is_maker"`
	Timestamp   int64   `json:"timestamp"`
}

// PrivateSnapshot is the latest committed authenticated state for one
// symbol on one exchange: balances, net position, open orders and the
// recent execution window.
type PrivateSnapshot struct {
	Exchange   string        `json:"exchange"`
	Symbol     string        `json:"symbol"`
	Wallets    []Wallet      `json:"wallets"`
	Positions  []Position    `json:"positions"`
	Orders     []OrderUpdate `json:"orders"`
	Executions []Execution   `json:"executions"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to a reader.
func (p *PrivateSnapshot) Clone() *PrivateSnapshot {
	cp := *p
	cp.Wallets = append([]Wallet(nil), p.Wallets...)
	cp.Positions = append([]Position(nil), p.Positions...)
	cp.Orders = append([]OrderUpdate(nil), p.Orders...)
	cp.Executions = append([]Execution(nil), p.Executions...)
	return &cp
}

// NetPosition returns the signed size for symbol, 0 when absent.
func (p *PrivateSnapshot) NetPosition(symbol string) float64 {
	for _, pos := range p.Positions {
		if pos.Symbol == symbol {
			return pos.Size
		}
	}
	return 0
}
