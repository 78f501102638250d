package models

// LiveOrder is a resting order acknowledged by the exchange.
type LiveOrder struct {
	OrderID     string  `json:"order_id"`
	OrderLinkID string  `json:"order_link_id"`
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	CreatedAt   int64   `json:"created_at"`
}

// Batch operation kinds.
type BatchOp string

const (
	BatchOpPlace  BatchOp = "place"
	BatchOpAmend  BatchOp = "amend"
	BatchOpCancel BatchOp = "cancel"
)

// BatchOrder is a transient place/amend/cancel intent produced by one
// reconciliation cycle. OrderID is set for amend and cancel.
type BatchOrder struct {
	Op          BatchOp `json:"op"`
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	OrderID     string  `json:"order_id,omitempty"`
	OrderLinkID string  `json:"order_link_id,omitempty"`
}
