package features

import (
	"fmt"
	"math"

	"gridflow/internal/models"
)

// Anomaly reports a malformed tick the engine degraded to neutral values.
type Anomaly struct {
	Symbol string
	Reason string
}

func (a *Anomaly) Error() string {
	return fmt.Sprintf("data anomaly on %s: %s", a.Symbol, a.Reason)
}

// Skew weights. They sum to 1; each component is normalized to [-1, 1]
// before weighting.
const (
	weightImbalance     = 0.25
	weightDeepImbalance = 0.10
	weightVOI           = 0.10
	weightOFI           = 0.20
	weightDeepOFI       = 0.10
	weightPrediction    = 0.25
)

// FeatureSnapshot is the output of one engine update.
type FeatureSnapshot struct {
	Symbol                string  `json:"symbol"`
	MidPrice              float64 `json:"mid_price"`
	Imbalance             float64 `json:"imbalance"`
	DeepImbalance         float64 `json:"deep_imbalance"`
	OFI                   float64 `json:"ofi"`
	DeepOFI               float64 `json:"deep_ofi"`
	VOI                   float64 `json:"voi"`
	TradeImbalance        float64 `json:"trade_imbalance"`
	PriceImpact           float64 `json:"price_impact"`
	ExpectedValue         float64 `json:"expected_value"`
	ImprovedExpectedValue float64 `json:"improved_expected_value"`
	MidPriceBasis         float64 `json:"mid_price_basis"`
	Volatility            float64 `json:"volatility"`
	AvgTradePrice         float64 `json:"avg_trade_price"`
	PredictedReturn       float64 `json:"predicted_return"`
	Skew                  float64 `json:"skew"`
	Timestamp             int64   `json:"timestamp"`
}

// Engine derives microstructure features from consecutive market
// snapshots for one symbol. It is not safe for concurrent use; each
// symbol owns its own instance.
type Engine struct {
	symbol    string
	window    *TickWindow
	predictor Predictor
	useWmid   bool

	shallowDepth int
	deepDepth    int

	// Latest computed values, exposed for the orchestrator.
	Last FeatureSnapshot
}

// NewEngine allocates an engine with a fixed-capacity rolling history.
// depths carries the shallow and deep book depths for the imbalance and
// OFI calculations; a single entry is used for both.
func NewEngine(symbol string, tickWindow int, depths []int, useWmid bool, predictor Predictor) *Engine {
	shallow, deep := 5, 50
	if len(depths) > 0 {
		shallow = depths[0]
		deep = depths[len(depths)-1]
	}
	if predictor == nil {
		predictor = NewOLSPredictor(2)
	}
	return &Engine{
		symbol:       symbol,
		window:       NewTickWindow(tickWindow),
		predictor:    predictor,
		useWmid:      useWmid,
		shallowDepth: shallow,
		deepDepth:    deep,
	}
}

// Window exposes the rolling history, mainly for tests.
func (e *Engine) Window() *TickWindow { return e.window }

// Update computes a FeatureSnapshot from consecutive books and trade
// windows and records one tick into the rolling history. Malformed input
// degrades to neutral values and is reported through the returned
// anomaly; the engine never halts the loop on one bad tick.
func (e *Engine) Update(curr, prev *models.OrderBook, currTrades, prevTrades []models.TradeEvent, prevAvgTradePrice float64) (FeatureSnapshot, *Anomaly) {
	snap := FeatureSnapshot{Symbol: e.symbol}
	var anomaly *Anomaly

	switch {
	case curr == nil || prev == nil:
		anomaly = &Anomaly{Symbol: e.symbol, Reason: "missing order book"}
	case len(curr.Bids) == 0 || len(curr.Asks) == 0:
		anomaly = &Anomaly{Symbol: e.symbol, Reason: "empty book side"}
	case curr.Crossed():
		anomaly = &Anomaly{Symbol: e.symbol, Reason: "crossed book"}
	}
	if anomaly != nil {
		snap.AvgTradePrice = prevAvgTradePrice
		e.Last = snap
		return snap, anomaly
	}

	mid := curr.MidPrice()
	if e.useWmid {
		mid = curr.WeightedMidPrice()
	}
	prevMid := prev.MidPrice()

	snap.MidPrice = mid
	snap.Timestamp = curr.LastUpdate
	snap.Imbalance = ImbalanceRatio(curr, e.shallowDepth)
	snap.DeepImbalance = ImbalanceRatio(curr, e.deepDepth)
	snap.OFI = OFI(curr, prev, 1)
	snap.DeepOFI = OFI(curr, prev, e.deepDepth)
	snap.VOI = VOI(curr, prev)
	snap.TradeImbalance = TradeImbalance(currTrades)
	snap.PriceImpact = PriceImpact(curr, prev, e.shallowDepth)
	snap.ExpectedValue = ExpectedValue(prevMid, currTrades)
	snap.ImprovedExpectedValue = ImprovedExpectedValue(prevMid, currTrades)
	snap.AvgTradePrice = AvgTradePrice(mid, prevTrades, currTrades, prevAvgTradePrice, e.window.Capacity())
	snap.MidPriceBasis = MidPriceBasis(prevMid, mid, snap.AvgTradePrice)

	e.window.Push(Tick{
		Mid:           mid,
		Imbalance:     snap.Imbalance,
		DeepImbalance: snap.DeepImbalance,
		OFI:           snap.OFI,
		DeepOFI:       snap.DeepOFI,
		VOI:           snap.VOI,
		AvgTradePrice: snap.AvgTradePrice,
	})

	snap.Volatility = e.window.MidVolatility()
	snap.PredictedReturn = e.predictor.Predict(e.window)
	snap.Skew = e.composeSkew(snap)

	e.Last = snap
	return snap, nil
}

// composeSkew blends the normalized components into the directional
// signal. Each unbounded component is scaled by its rolling maximum
// absolute value so no single regime change saturates the composite.
func (e *Engine) composeSkew(snap FeatureSnapshot) float64 {
	ofiN := normalizeByWindow(snap.OFI, e.window.MaxAbs(func(t Tick) float64 { return t.OFI }))
	deepOfiN := normalizeByWindow(snap.DeepOFI, e.window.MaxAbs(func(t Tick) float64 { return t.DeepOFI }))
	voiN := normalizeByWindow(snap.VOI, e.window.MaxAbs(func(t Tick) float64 { return t.VOI }))

	predN := 0.0
	if vol := snap.Volatility * snap.MidPrice; vol > 0 {
		predN = math.Tanh(snap.PredictedReturn / vol)
	}

	skew := weightImbalance*clamp(snap.Imbalance) +
		weightDeepImbalance*clamp(snap.DeepImbalance) +
		weightVOI*voiN +
		weightOFI*ofiN +
		weightDeepOFI*deepOfiN +
		weightPrediction*predN

	return clamp(skew)
}

func normalizeByWindow(v, maxAbs float64) float64 {
	if maxAbs == 0 {
		return 0
	}
	return clamp(v / maxAbs)
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	if math.IsNaN(v) {
		return 0
	}
	return v
}
