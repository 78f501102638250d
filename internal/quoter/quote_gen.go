package quoter

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"gridflow/internal/metrics"
	"gridflow/internal/models"
	"gridflow/logger"
)

// OrderManager is the exchange capability the generator is written
// against. Concrete implementations live under exchange/.
type OrderManager interface {
	PlaceLimit(ctx context.Context, order models.BatchOrder) (models.LiveOrder, error)
	MarketOrder(ctx context.Context, symbol string, side models.Side, quantity float64) error
	Amend(ctx context.Context, order models.BatchOrder) error
	Cancel(ctx context.Context, order models.BatchOrder) error
	CancelAll(ctx context.Context, symbol string) error
	BatchPlace(ctx context.Context, orders []models.BatchOrder) ([]models.LiveOrder, error)
	BatchAmend(ctx context.Context, orders []models.BatchOrder) error
	BatchCancel(ctx context.Context, orders []models.BatchOrder) error
}

// Inventory policies for the skew adjustment.
type Policy string

const (
	PolicyTrendFollow Policy = "trend_follow"
	PolicyMeanRevert  Policy = "mean_revert"
)

const defaultMeanRevertStrength = 0.63

// priceBias scales how far the adjusted skew shifts level prices toward
// or away from the mid.
const priceBias = 0.3

// GeneratorConfig is the per-symbol quoting configuration.
type GeneratorConfig struct {
	Symbol             string
	MaxPositionUSD     float64
	MinSpreadBps       float64
	OrdersPerSide      int
	FinalOrderDistance float64
	Policy             Policy
	MeanRevertStrength float64
	RebalanceRatio     float64

	RateLimit   int           // actions per window
	CancelLimit int           // cancels per window
	TimeLimit   time.Duration // window length
}

// Quote is one target grid level.
type Quote struct {
	Side     models.Side
	Price    float64
	Quantity float64
}

// QuoteGenerator owns the resting order grid for one symbol. It is
// driven by exactly one loop; nothing here is safe for concurrent use.
type QuoteGenerator struct {
	log    *logger.Entry
	client OrderManager
	cfg    GeneratorConfig
	budget *ActionBudget

	position       float64
	inventoryDelta float64
	adjustedSpread float64

	// Ordered closest-to-mid first.
	liveBuys  []models.LiveOrder
	liveSells []models.LiveOrder

	cancelCount int
	lastExecAt  int64
	// Exec ids already applied at lastExecAt; several fills can share
	// one millisecond.
	lastExecIDs map[string]struct{}

	now func() time.Time
}

// NewQuoteGenerator wires a generator to an order manager.
func NewQuoteGenerator(client OrderManager, cfg GeneratorConfig) *QuoteGenerator {
	if cfg.OrdersPerSide < 1 {
		cfg.OrdersPerSide = 1
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyMeanRevert
	}
	if cfg.MeanRevertStrength <= 0 {
		cfg.MeanRevertStrength = defaultMeanRevertStrength
	}
	return &QuoteGenerator{
		log: logger.GetLogger().WithComponent("quoter").WithFields(logger.Fields{
			"symbol": cfg.Symbol,
		}),
		client:         client,
		cfg:            cfg,
		budget:         NewActionBudget(cfg.RateLimit, cfg.CancelLimit, cfg.TimeLimit),
		adjustedSpread: cfg.MinSpreadBps,
		now:            time.Now,
	}
}

// SetSpreadBps replaces the minimum spread for this symbol.
func (g *QuoteGenerator) SetSpreadBps(bps float64) {
	if bps > 0 {
		g.cfg.MinSpreadBps = bps
	}
}

// Position returns the signed position size last seen.
func (g *QuoteGenerator) Position() float64 { return g.position }

// InventoryDelta returns the position normalized by the maximum
// position, clipped to [-1, 1].
func (g *QuoteGenerator) InventoryDelta() float64 { return g.inventoryDelta }

// PendingActions reports actions waiting on rate-limit budget.
func (g *QuoteGenerator) PendingActions() int { return g.budget.Pending() }

// AdjustedSkew folds inventory into the raw skew under the configured
// policy. Trend-following amplifies skew aligned with the position;
// mean-reverting damps skew and pushes against the position.
func (g *QuoteGenerator) AdjustedSkew(skew float64) float64 {
	inventoryFactor := math.Copysign(math.Sqrt(math.Abs(g.inventoryDelta)), g.inventoryDelta)

	var skewFactor, adjustment float64
	switch g.cfg.Policy {
	case PolicyTrendFollow:
		alignment := inventoryFactor * skew
		skewFactor = skew * (1 + math.Abs(alignment))
		if alignment > 0 {
			adjustment = 0.5 * inventoryFactor
		} else {
			adjustment = -0.5 * inventoryFactor
		}
	default:
		skewFactor = skew * (1 - math.Abs(inventoryFactor))
		adjustment = -g.cfg.MeanRevertStrength * inventoryFactor
	}
	return clip(skewFactor+adjustment, -1, 1)
}

// GenerateQuotes builds the target grid for the given adjusted skew and
// mid price. Buys and sells come back ordered closest-to-mid first.
// Positive skew places larger, closer buys and smaller, farther sells.
func (g *QuoteGenerator) GenerateQuotes(skew, mid float64) (buys, sells []Quote) {
	if mid <= 0 {
		return nil, nil
	}
	return g.buildGrid(skew, mid)
}

// buildGrid handles both skew signs: the multipliers and per-side
// notional tilts are symmetric around zero.
func (g *QuoteGenerator) buildGrid(skew, mid float64) ([]Quote, []Quote) {
	n := g.cfg.OrdersPerSide
	offsets := levelOffsets(g.adjustedSpread/2, g.cfg.FinalOrderDistance*25, n)

	bidMult := clip(1-priceBias*skew, 0.25, 1.75)
	askMult := clip(1+priceBias*skew, 0.25, 1.75)

	// Per-side notional shrinks on the side the position already leans
	// toward, then tilts with skew between 1/3 and all of the remainder.
	buyCap := math.Max(0, g.cfg.MaxPositionUSD-g.position*mid)
	sellCap := math.Max(0, g.cfg.MaxPositionUSD+g.position*mid)
	buyTotal := buyCap * (2 + skew) / 3
	sellTotal := sellCap * (2 - skew) / 3

	buys := make([]Quote, 0, n)
	sells := make([]Quote, 0, n)
	for _, off := range offsets {
		bidPx := mid * (1 - off*bidMult/10000)
		askPx := mid * (1 + off*askMult/10000)
		var buyQty, sellQty float64
		if bidPx > 0 {
			buyQty = buyTotal / float64(n) / bidPx
		}
		if askPx > 0 {
			sellQty = sellTotal / float64(n) / askPx
		}
		buys = append(buys, Quote{Side: models.SideBuy, Price: bidPx, Quantity: buyQty})
		sells = append(sells, Quote{Side: models.SideSell, Price: askPx, Quantity: sellQty})
	}
	return buys, sells
}

// levelOffsets spaces n levels geometrically from base to outer basis
// points away from mid, strictly increasing.
func levelOffsets(base, outer float64, n int) []float64 {
	if base <= 0 {
		base = 1
	}
	if n == 1 {
		return []float64{base}
	}
	if outer <= base {
		outer = base * (1 + 0.25*float64(n-1))
	}
	ratio := math.Pow(outer/base, 1/float64(n-1))
	offsets := make([]float64, n)
	for i := range offsets {
		offsets[i] = base * math.Pow(ratio, float64(i))
	}
	return offsets
}

// OutOfBounds reports whether the live grid drifted from the target:
// a count or side mismatch, or any matched level further than half the
// minimum spread from its target price.
func (g *QuoteGenerator) OutOfBounds(buys, sells []Quote, mid float64) bool {
	if len(g.liveBuys) != len(buys) || len(g.liveSells) != len(sells) {
		return true
	}
	tolerance := mid * (g.cfg.MinSpreadBps / 2) / 10000
	for i, q := range buys {
		if math.Abs(g.liveBuys[i].Price-q.Price) > tolerance {
			return true
		}
	}
	for i, q := range sells {
		if math.Abs(g.liveSells[i].Price-q.Price) > tolerance {
			return true
		}
	}
	return false
}

// UpdateGrid runs one reconciliation cycle: refresh inventory from the
// private snapshot, rebuild the target grid, and when the live grid is
// out of bounds issue the minimal batch of corrective actions under the
// rate budget. A stable market is a no-op apart from draining deferred
// actions.
func (g *QuoteGenerator) UpdateGrid(ctx context.Context, private *models.PrivateSnapshot, skew float64, book *models.OrderBook) error {
	if book == nil {
		return nil
	}
	mid := book.MidPrice()
	if mid <= 0 {
		return nil
	}

	g.CheckForFills(private)
	g.refreshInventory(private, mid)
	g.refreshSpread(book, mid)

	if err := g.rebalance(ctx); err != nil {
		g.log.WithError(err).Error("inventory rebalance failed")
	}

	adjusted := g.AdjustedSkew(skew)
	buys, sells := g.GenerateQuotes(adjusted, mid)

	if !g.OutOfBounds(buys, sells, mid) {
		return g.issue(ctx, nil)
	}
	return g.issue(ctx, g.reconcile(buys, sells))
}

func (g *QuoteGenerator) refreshInventory(private *models.PrivateSnapshot, mid float64) {
	if private != nil {
		g.position = private.NetPosition(g.cfg.Symbol)
	}
	if g.cfg.MaxPositionUSD > 0 {
		g.inventoryDelta = clip(g.position*mid/g.cfg.MaxPositionUSD, -1, 1)
	} else {
		g.inventoryDelta = 0
	}
}

// refreshSpread keeps quotes no tighter than the live market.
func (g *QuoteGenerator) refreshSpread(book *models.OrderBook, mid float64) {
	marketBps := book.Spread() / mid * 10000
	g.adjustedSpread = math.Max(g.cfg.MinSpreadBps, marketBps)
}

// rebalance market-reduces half the position when inventory breaches
// the configured ratio.
func (g *QuoteGenerator) rebalance(ctx context.Context) error {
	if g.cfg.RebalanceRatio <= 0 || math.Abs(g.inventoryDelta) <= g.cfg.RebalanceRatio {
		return nil
	}
	side := models.SideSell
	if g.position < 0 {
		side = models.SideBuy
	}
	quantity := math.Abs(g.position) / 2
	if quantity == 0 {
		return nil
	}
	g.log.WithFields(logger.Fields{
		"inventory_delta": g.inventoryDelta,
		"side":            side,
		"quantity":        quantity,
	}).Warn("inventory breach, market rebalancing")
	metrics.ObserveOrder(g.cfg.Symbol, "market")
	return g.client.MarketOrder(ctx, g.cfg.Symbol, side, quantity)
}

// reconcile diffs the live grid against the target, matching levels by
// rank from the mid. Price moves on an existing order become amends;
// surplus live orders are cancelled and missing levels placed.
func (g *QuoteGenerator) reconcile(buys, sells []Quote) []models.BatchOrder {
	var ops []models.BatchOrder
	ops = append(ops, g.reconcileSide(g.liveBuys, buys)...)
	ops = append(ops, g.reconcileSide(g.liveSells, sells)...)
	return ops
}

func (g *QuoteGenerator) reconcileSide(live []models.LiveOrder, targets []Quote) []models.BatchOrder {
	var ops []models.BatchOrder
	n := len(live)
	if len(targets) > n {
		n = len(targets)
	}
	for i := 0; i < n; i++ {
		switch {
		case i < len(live) && i < len(targets):
			if live[i].Price == targets[i].Price && live[i].Quantity == targets[i].Quantity {
				continue
			}
			ops = append(ops, models.BatchOrder{
				Op:          models.BatchOpAmend,
				Symbol:      g.cfg.Symbol,
				Side:        targets[i].Side,
				Price:       targets[i].Price,
				Quantity:    targets[i].Quantity,
				OrderID:     live[i].OrderID,
				OrderLinkID: live[i].OrderLinkID,
			})
		case i < len(live):
			ops = append(ops, models.BatchOrder{
				Op:          models.BatchOpCancel,
				Symbol:      g.cfg.Symbol,
				Side:        live[i].Side,
				OrderID:     live[i].OrderID,
				OrderLinkID: live[i].OrderLinkID,
			})
		default:
			ops = append(ops, models.BatchOrder{
				Op:          models.BatchOpPlace,
				Symbol:      g.cfg.Symbol,
				Side:        targets[i].Side,
				Price:       targets[i].Price,
				Quantity:    targets[i].Quantity,
				OrderLinkID: uuid.NewString(),
			})
		}
	}
	return ops
}

// issue sends whatever the budget releases now, grouped per operation.
// Failed batches are logged and left for the next cycle to re-verify;
// the live deques only change on confirmed responses.
func (g *QuoteGenerator) issue(ctx context.Context, ops []models.BatchOrder) error {
	if len(ops) > 0 {
		// A fresh reconciliation supersedes any deferred quote intents.
		g.budget.Replace()
	}
	ready := g.budget.Submit(g.now(), ops)
	if len(ready) == 0 {
		if pending := g.budget.Pending(); pending > 0 {
			g.log.WithFields(logger.Fields{"deferred": pending}).Debug("rate budget exhausted, actions deferred")
		}
		return nil
	}

	var places, amends, cancels []models.BatchOrder
	for _, op := range ready {
		switch op.Op {
		case models.BatchOpPlace:
			places = append(places, op)
		case models.BatchOpAmend:
			amends = append(amends, op)
		case models.BatchOpCancel:
			cancels = append(cancels, op)
		}
	}

	if len(cancels) > 0 {
		if err := g.client.BatchCancel(ctx, cancels); err != nil {
			g.log.WithError(err).Error("batch cancel rejected")
		} else {
			g.cancelCount += len(cancels)
			for _, op := range cancels {
				g.removeLive(op.OrderID)
				metrics.ObserveOrder(g.cfg.Symbol, "cancel")
			}
		}
	}
	if len(amends) > 0 {
		if err := g.client.BatchAmend(ctx, amends); err != nil {
			g.log.WithError(err).Error("batch amend rejected")
		} else {
			for _, op := range amends {
				g.amendLive(op)
				metrics.ObserveOrder(g.cfg.Symbol, "amend")
			}
		}
	}
	if len(places) > 0 {
		placed, err := g.client.BatchPlace(ctx, places)
		if err != nil {
			g.log.WithError(err).Error("batch place rejected")
		} else {
			for _, o := range placed {
				g.addLive(o)
				metrics.ObserveOrder(g.cfg.Symbol, "place")
			}
		}
	}
	return nil
}

// CheckForFills prunes live orders the private stream reports as
// terminal and applies recent executions, then trusts the snapshot for
// the position itself.
func (g *QuoteGenerator) CheckForFills(private *models.PrivateSnapshot) {
	if private == nil {
		return
	}
	for _, o := range private.Orders {
		if o.Symbol != g.cfg.Symbol {
			continue
		}
		switch o.Status {
		case models.OrderStatusFilled, models.OrderStatusCancelled, models.OrderStatusRejected:
			g.removeLive(o.OrderID)
		}
	}
	for _, e := range private.Executions {
		if e.Symbol != g.cfg.Symbol || g.execSeen(e) {
			continue
		}
		g.markExec(e)
		g.log.WithFields(logger.Fields{
			"order_id": e.OrderID,
			"side":     e.Side,
			"price":    e.Price,
			"quantity": e.Quantity,
		}).Info("execution")
		g.reduceLive(e.OrderID, e.Quantity)
		metrics.ObserveFill(g.cfg.Symbol)
	}
	g.position = private.NetPosition(g.cfg.Symbol)
	metrics.SetPosition(g.cfg.Symbol, g.position)
}

// execSeen reports whether an execution was already applied. Timestamps
// alone cannot dedup: distinct fills routinely share a millisecond, so
// ties are broken by exec id.
func (g *QuoteGenerator) execSeen(e models.Execution) bool {
	if e.Timestamp < g.lastExecAt {
		return true
	}
	if e.Timestamp > g.lastExecAt {
		return false
	}
	_, ok := g.lastExecIDs[e.ExecID]
	return ok
}

func (g *QuoteGenerator) markExec(e models.Execution) {
	if e.Timestamp > g.lastExecAt {
		g.lastExecAt = e.Timestamp
		g.lastExecIDs = make(map[string]struct{})
	}
	if g.lastExecIDs == nil {
		g.lastExecIDs = make(map[string]struct{})
	}
	g.lastExecIDs[e.ExecID] = struct{}{}
}

// CancelAll flattens the grid, typically at shutdown.
func (g *QuoteGenerator) CancelAll(ctx context.Context) error {
	g.liveBuys = nil
	g.liveSells = nil
	return g.client.CancelAll(ctx, g.cfg.Symbol)
}

func (g *QuoteGenerator) addLive(o models.LiveOrder) {
	if o.Side == models.SideBuy {
		g.liveBuys = append(g.liveBuys, o)
		// Closest to mid first: highest bid leads.
		sort.SliceStable(g.liveBuys, func(i, j int) bool { return g.liveBuys[i].Price > g.liveBuys[j].Price })
		return
	}
	g.liveSells = append(g.liveSells, o)
	sort.SliceStable(g.liveSells, func(i, j int) bool { return g.liveSells[i].Price < g.liveSells[j].Price })
}

func (g *QuoteGenerator) amendLive(op models.BatchOrder) {
	for _, orders := range [][]models.LiveOrder{g.liveBuys, g.liveSells} {
		for i := range orders {
			if orders[i].OrderID == op.OrderID {
				orders[i].Price = op.Price
				orders[i].Quantity = op.Quantity
			}
		}
	}
	sort.SliceStable(g.liveBuys, func(i, j int) bool { return g.liveBuys[i].Price > g.liveBuys[j].Price })
	sort.SliceStable(g.liveSells, func(i, j int) bool { return g.liveSells[i].Price < g.liveSells[j].Price })
}

func (g *QuoteGenerator) removeLive(orderID string) {
	g.liveBuys = removeByID(g.liveBuys, orderID)
	g.liveSells = removeByID(g.liveSells, orderID)
}

func (g *QuoteGenerator) reduceLive(orderID string, filled float64) {
	for _, orders := range [][]models.LiveOrder{g.liveBuys, g.liveSells} {
		for i := range orders {
			if orders[i].OrderID == orderID {
				orders[i].Quantity -= filled
				if orders[i].Quantity <= 1e-12 {
					g.removeLive(orderID)
				}
				return
			}
		}
	}
}

func removeByID(orders []models.LiveOrder, orderID string) []models.LiveOrder {
	out := orders[:0]
	for _, o := range orders {
		if o.OrderID != orderID {
			out = append(out, o)
		}
	}
	return out
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
