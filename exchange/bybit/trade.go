package bybit

import (
	"context"
	"fmt"
	"strconv"

	bybit "github.com/bybit-exchange/bybit.go.api"
	bybitmodels "github.com/bybit-exchange/bybit.go.api/models"

	"gridflow/internal/models"
	symbolmap "gridflow/internal/symbols"
	"gridflow/logger"
)

const restBaseURL = "https://api.bybit.com"

// OrderManager executes grid actions against the Bybit v5 unified
// trading account, linear category.
type OrderManager struct {
	log    *logger.Entry
	client *bybit.Client
}

// NewOrderManager builds a REST trading client for one credential pair.
func NewOrderManager(key, secret string) *OrderManager {
	return &OrderManager{
		log:    logger.GetLogger().WithComponent("bybit_trade"),
		client: bybit.NewBybitHttpClient(key, secret, bybit.WithBaseURL(restBaseURL)),
	}
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// checkResponse normalizes the SDK's retCode convention into an error.
func checkResponse(res *bybit.ServerResponse, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res != nil && res.RetCode != 0 {
		return fmt.Errorf("%s: retCode %d: %s", op, res.RetCode, res.RetMsg)
	}
	return nil
}

// checkBatchResponse does the same for the typed batch endpoints, which
// return their own response struct.
func checkBatchResponse(res *bybitmodels.BatchOrderServerResponse, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res != nil && res.RetCode != 0 {
		return fmt.Errorf("%s: retCode %d: %s", op, res.RetCode, res.RetMsg)
	}
	return nil
}

func (m *OrderManager) PlaceLimit(ctx context.Context, o models.BatchOrder) (models.LiveOrder, error) {
	params := map[string]interface{}{
		"category":    "linear",
		"symbol":      symbolmap.ToExchange("bybit", o.Symbol),
		"side":        string(o.Side),
		"orderType":   "Limit",
		"timeInForce": "PostOnly",
		"price":       fmtFloat(o.Price),
		"qty":         fmtFloat(o.Quantity),
		"orderLinkId": o.OrderLinkID,
	}
	res, err := m.client.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	if err := checkResponse(res, err, "place order"); err != nil {
		return models.LiveOrder{}, err
	}
	live := models.LiveOrder{
		OrderLinkID: o.OrderLinkID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Price:       o.Price,
		Quantity:    o.Quantity,
	}
	if result, ok := res.Result.(map[string]interface{}); ok {
		if id, ok := result["orderId"].(string); ok {
			live.OrderID = id
		}
	}
	return live, nil
}

func (m *OrderManager) MarketOrder(ctx context.Context, symbol string, side models.Side, qty float64) error {
	params := map[string]interface{}{
		"category":  "linear",
		"symbol":    symbolmap.ToExchange("bybit", symbol),
		"side":      string(side),
		"orderType": "Market",
		"qty":       fmtFloat(qty),
	}
	res, err := m.client.NewUtaBybitServiceWithParams(params).PlaceOrder(ctx)
	return checkResponse(res, err, "market order")
}

func (m *OrderManager) Amend(ctx context.Context, o models.BatchOrder) error {
	params := map[string]interface{}{
		"category": "linear",
		"symbol":   symbolmap.ToExchange("bybit", o.Symbol),
		"orderId":  o.OrderID,
		"price":    fmtFloat(o.Price),
		"qty":      fmtFloat(o.Quantity),
	}
	res, err := m.client.NewUtaBybitServiceWithParams(params).AmendOrder(ctx)
	return checkResponse(res, err, "amend order")
}

func (m *OrderManager) Cancel(ctx context.Context, o models.BatchOrder) error {
	params := map[string]interface{}{
		"category": "linear",
		"symbol":   symbolmap.ToExchange("bybit", o.Symbol),
		"orderId":  o.OrderID,
	}
	res, err := m.client.NewUtaBybitServiceWithParams(params).CancelOrder(ctx)
	return checkResponse(res, err, "cancel order")
}

func (m *OrderManager) CancelAll(ctx context.Context, symbol string) error {
	params := map[string]interface{}{
		"category": "linear",
		"symbol":   symbolmap.ToExchange("bybit", symbol),
	}
	res, err := m.client.NewUtaBybitServiceWithParams(params).CancelAllOrders(ctx)
	return checkResponse(res, err, "cancel all")
}

// BatchPlace submits up to ten orders per request, the v5 batch cap.
func (m *OrderManager) BatchPlace(ctx context.Context, orders []models.BatchOrder) ([]models.LiveOrder, error) {
	var acked []models.LiveOrder
	for _, chunk := range chunkOrders(orders, 10) {
		request := make([]map[string]interface{}, 0, len(chunk))
		for _, o := range chunk {
			request = append(request, map[string]interface{}{
				"symbol":      symbolmap.ToExchange("bybit", o.Symbol),
				"side":        string(o.Side),
				"orderType":   "Limit",
				"timeInForce": "PostOnly",
				"price":       fmtFloat(o.Price),
				"qty":         fmtFloat(o.Quantity),
				"orderLinkId": o.OrderLinkID,
			})
		}
		params := map[string]interface{}{"category": "linear", "request": request}
		res, err := m.client.NewUtaBybitServiceWithParams(params).PlaceBatchOrder(ctx)
		if err := checkBatchResponse(res, err, "batch place"); err != nil {
			return acked, err
		}
		ids := batchOrderIDs(res)
		for i, o := range chunk {
			live := models.LiveOrder{
				OrderLinkID: o.OrderLinkID,
				Symbol:      o.Symbol,
				Side:        o.Side,
				Price:       o.Price,
				Quantity:    o.Quantity,
			}
			if i < len(ids) {
				live.OrderID = ids[i]
			}
			acked = append(acked, live)
		}
	}
	return acked, nil
}

func (m *OrderManager) BatchAmend(ctx context.Context, orders []models.BatchOrder) error {
	for _, chunk := range chunkOrders(orders, 10) {
		request := make([]map[string]interface{}, 0, len(chunk))
		for _, o := range chunk {
			request = append(request, map[string]interface{}{
				"symbol":  symbolmap.ToExchange("bybit", o.Symbol),
				"orderId": o.OrderID,
				"price":   fmtFloat(o.Price),
				"qty":     fmtFloat(o.Quantity),
			})
		}
		params := map[string]interface{}{"category": "linear", "request": request}
		res, err := m.client.NewUtaBybitServiceWithParams(params).AmendBatchOrder(ctx)
		if err := checkBatchResponse(res, err, "batch amend"); err != nil {
			return err
		}
	}
	return nil
}

func (m *OrderManager) BatchCancel(ctx context.Context, orders []models.BatchOrder) error {
	for _, chunk := range chunkOrders(orders, 10) {
		request := make([]map[string]interface{}, 0, len(chunk))
		for _, o := range chunk {
			request = append(request, map[string]interface{}{
				"symbol":  symbolmap.ToExchange("bybit", o.Symbol),
				"orderId": o.OrderID,
			})
		}
		params := map[string]interface{}{"category": "linear", "request": request}
		res, err := m.client.NewUtaBybitServiceWithParams(params).CancelBatchOrder(ctx)
		if err := checkBatchResponse(res, err, "batch cancel"); err != nil {
			return err
		}
	}
	return nil
}

// SetLeverage applies the same leverage to both directions, as required
// by one-way position mode.
func (m *OrderManager) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	params := map[string]interface{}{
		"category":     "linear",
		"symbol":       symbolmap.ToExchange("bybit", symbol),
		"buyLeverage":  fmtFloat(leverage),
		"sellLeverage": fmtFloat(leverage),
	}
	res, err := m.client.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
	if err := checkResponse(res, err, "set leverage"); err != nil {
		// 110043 means the leverage already matches; not a failure.
		if res != nil && res.RetCode == 110043 {
			m.log.WithFields(logger.Fields{"symbol": symbol}).Debug("leverage unchanged")
			return nil
		}
		return err
	}
	return nil
}

func chunkOrders(orders []models.BatchOrder, size int) [][]models.BatchOrder {
	var chunks [][]models.BatchOrder
	for len(orders) > size {
		chunks = append(chunks, orders[:size])
		orders = orders[size:]
	}
	if len(orders) > 0 {
		chunks = append(chunks, orders)
	}
	return chunks
}

// batchOrderIDs pulls acknowledged order ids out of the batch response,
// in list order.
func batchOrderIDs(res *bybitmodels.BatchOrderServerResponse) []string {
	if res == nil {
		return nil
	}
	ids := make([]string, 0, len(res.Result.List))
	for _, entry := range res.Result.List {
		ids = append(ids, entry.OrderId)
	}
	return ids
}
