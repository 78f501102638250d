package binance

import (
	"context"
	"fmt"
	"math"
	"strconv"

	futures "github.com/adshao/go-binance/v2/futures"

	"gridflow/internal/models"
	"gridflow/internal/state"
	symbolmap "gridflow/internal/symbols"
	"gridflow/logger"
)

// OrderManager executes grid actions against Binance USD-M futures.
type OrderManager struct {
	log    *logger.Entry
	client *futures.Client
}

func NewOrderManager(key, secret string) *OrderManager {
	return &OrderManager{
		log:    logger.GetLogger().WithComponent("binance_trade"),
		client: futures.NewClient(key, secret),
	}
}

func fmtFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func toBinanceSide(side models.Side) futures.SideType {
	if side == models.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func parseOrderID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("order id %q is not numeric: %w", id, err)
	}
	return n, nil
}

func (m *OrderManager) PlaceLimit(ctx context.Context, o models.BatchOrder) (models.LiveOrder, error) {
	// GTX rejects any order that would cross, keeping the grid maker-only.
	res, err := m.client.NewCreateOrderService().
		Symbol(symbolmap.ToExchange(state.ExchangeBinance, o.Symbol)).
		Side(toBinanceSide(o.Side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTX).
		Price(fmtFloat(o.Price)).
		Quantity(fmtFloat(o.Quantity)).
		NewClientOrderID(o.OrderLinkID).
		Do(ctx)
	if err != nil {
		return models.LiveOrder{}, fmt.Errorf("place order: %w", err)
	}
	return models.LiveOrder{
		OrderID:     strconv.FormatInt(res.OrderID, 10),
		OrderLinkID: o.OrderLinkID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Price:       o.Price,
		Quantity:    o.Quantity,
	}, nil
}

func (m *OrderManager) MarketOrder(ctx context.Context, symbol string, side models.Side, qty float64) error {
	_, err := m.client.NewCreateOrderService().
		Symbol(symbolmap.ToExchange(state.ExchangeBinance, symbol)).
		Side(toBinanceSide(side)).
		Type(futures.OrderTypeMarket).
		Quantity(fmtFloat(qty)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("market order: %w", err)
	}
	return nil
}

// Amend uses the in-place modify endpoint, which requires the original
// side alongside the new price and quantity.
func (m *OrderManager) Amend(ctx context.Context, o models.BatchOrder) error {
	id, err := parseOrderID(o.OrderID)
	if err != nil {
		return err
	}
	_, err = m.client.NewModifyOrderService().
		Symbol(symbolmap.ToExchange(state.ExchangeBinance, o.Symbol)).
		OrderID(id).
		Side(toBinanceSide(o.Side)).
		Price(fmtFloat(o.Price)).
		Quantity(fmtFloat(o.Quantity)).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("amend order: %w", err)
	}
	return nil
}

func (m *OrderManager) Cancel(ctx context.Context, o models.BatchOrder) error {
	id, err := parseOrderID(o.OrderID)
	if err != nil {
		return err
	}
	_, err = m.client.NewCancelOrderService().Symbol(symbolmap.ToExchange(state.ExchangeBinance, o.Symbol)).OrderID(id).Do(ctx)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

func (m *OrderManager) CancelAll(ctx context.Context, symbol string) error {
	if err := m.client.NewCancelAllOpenOrdersService().Symbol(symbolmap.ToExchange(state.ExchangeBinance, symbol)).Do(ctx); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	return nil
}

// BatchPlace submits orders in chunks of five, the futures batch cap.
func (m *OrderManager) BatchPlace(ctx context.Context, orders []models.BatchOrder) ([]models.LiveOrder, error) {
	var acked []models.LiveOrder
	for _, chunk := range chunkOrders(orders, 5) {
		services := make([]*futures.CreateOrderService, 0, len(chunk))
		for _, o := range chunk {
			services = append(services, m.client.NewCreateOrderService().
				Symbol(symbolmap.ToExchange(state.ExchangeBinance, o.Symbol)).
				Side(toBinanceSide(o.Side)).
				Type(futures.OrderTypeLimit).
				TimeInForce(futures.TimeInForceTypeGTX).
				Price(fmtFloat(o.Price)).
				Quantity(fmtFloat(o.Quantity)).
				NewClientOrderID(o.OrderLinkID))
		}
		res, err := m.client.NewCreateBatchOrdersService().OrderList(services).Do(ctx)
		if err != nil {
			return acked, fmt.Errorf("batch place: %w", err)
		}
		for i, o := range chunk {
			live := models.LiveOrder{
				OrderLinkID: o.OrderLinkID,
				Symbol:      o.Symbol,
				Side:        o.Side,
				Price:       o.Price,
				Quantity:    o.Quantity,
			}
			if i < len(res.Orders) && res.Orders[i] != nil {
				live.OrderID = strconv.FormatInt(res.Orders[i].OrderID, 10)
			}
			acked = append(acked, live)
		}
	}
	return acked, nil
}

// BatchAmend has no batch endpoint; amendments run sequentially.
func (m *OrderManager) BatchAmend(ctx context.Context, orders []models.BatchOrder) error {
	for _, o := range orders {
		if err := m.Amend(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (m *OrderManager) BatchCancel(ctx context.Context, orders []models.BatchOrder) error {
	for _, o := range orders {
		if err := m.Cancel(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

func (m *OrderManager) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	lev := int(math.Round(leverage))
	if lev < 1 {
		lev = 1
	}
	_, err := m.client.NewChangeLeverageService().Symbol(symbolmap.ToExchange(state.ExchangeBinance, symbol)).Leverage(lev).Do(ctx)
	if err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	m.log.WithFields(logger.Fields{"symbol": symbol, "leverage": lev}).Debug("leverage applied")
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
