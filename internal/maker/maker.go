package maker

import (
	"context"
	"time"

	"gridflow/internal/channel"
	"gridflow/internal/features"
	"gridflow/internal/metrics"
	"gridflow/internal/models"
	"gridflow/internal/quoter"
	"gridflow/internal/state"
	"gridflow/logger"
)

// Config is the orchestrator-level configuration applied uniformly
// across symbols.
type Config struct {
	Balances           map[string]float64 // quote currency per symbol
	Leverage           float64
	OrdersPerSide      int
	FinalOrderDistance float64
	Depths             []int
	TickWindow         int
	UseWmid            bool

	Policy             quoter.Policy
	MeanRevertStrength float64
	RebalanceRatio     float64

	RateLimit   int
	CancelLimit int
	TimeLimit   time.Duration

	SpreadBps map[string]float64
}

// LeverageSetter is implemented by order managers that can configure
// account leverage per symbol.
type LeverageSetter interface {
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
}

// FeatureRecorder receives every computed feature snapshot, e.g. for
// archival. Record must not block the trading loop.
type FeatureRecorder interface {
	Record(snap features.FeatureSnapshot)
}

// MarketMaker owns one feature engine per exchange/symbol and one
// quote generator per traded symbol, and drives both from the shared
// state's notification queue.
type MarketMaker struct {
	log   *logger.Entry
	state *state.SharedState
	cfg   Config

	engines    map[string]*features.Engine
	generators map[string]*quoter.QuoteGenerator
	genEx      map[string]string // symbol -> exchange its generator trades on

	prevBooks  map[string]*models.OrderBook
	prevTrades map[string][]models.TradeEvent
	prevAvg    map[string]float64
	warmup     map[string]int

	recorder FeatureRecorder
}

// New builds engines for every tracked exchange/symbol pair and a
// generator for every symbol with an order manager. Leverage is set
// up front where the manager supports it.
func New(ctx context.Context, st *state.SharedState, cfg Config, clients map[string]quoter.OrderManager) *MarketMaker {
	m := &MarketMaker{
		log:        logger.GetLogger().WithComponent("maker"),
		state:      st,
		cfg:        cfg,
		engines:    make(map[string]*features.Engine),
		generators: make(map[string]*quoter.QuoteGenerator),
		genEx:      make(map[string]string),
		prevBooks:  make(map[string]*models.OrderBook),
		prevTrades: make(map[string][]models.TradeEvent),
		prevAvg:    make(map[string]float64),
		warmup:     make(map[string]int),
	}
	m.buildFeatures()
	m.buildGenerators(ctx, clients)
	return m
}

// SetRecorder attaches an optional feature snapshot sink.
func (m *MarketMaker) SetRecorder(r FeatureRecorder) { m.recorder = r }

func (m *MarketMaker) buildFeatures() {
	for _, exchange := range m.state.Exchanges() {
		for _, symbol := range m.state.Symbols() {
			key := pairKey(exchange, symbol)
			m.engines[key] = features.NewEngine(symbol, m.cfg.TickWindow, m.cfg.Depths, m.cfg.UseWmid, nil)
		}
	}
}

func (m *MarketMaker) buildGenerators(ctx context.Context, clients map[string]quoter.OrderManager) {
	for _, cred := range m.state.Clients("") {
		client, ok := clients[cred.Symbol]
		if !ok {
			m.log.Warn("no order manager for ", cred.Symbol, ", symbol runs feature-only")
			continue
		}
		if ls, ok := client.(LeverageSetter); ok {
			if err := ls.SetLeverage(ctx, cred.Symbol, m.cfg.Leverage); err != nil {
				m.log.WithError(err).Warn("failed to set leverage for ", cred.Symbol)
			} else {
				m.log.WithFields(logger.Fields{
					"symbol":   cred.Symbol,
					"leverage": m.cfg.Leverage,
				}).Info("leverage set")
			}
		}
		m.generators[cred.Symbol] = quoter.NewQuoteGenerator(client, quoter.GeneratorConfig{
			Symbol:             cred.Symbol,
			MaxPositionUSD:     m.cfg.Balances[cred.Symbol] * m.cfg.Leverage,
			MinSpreadBps:       m.cfg.SpreadBps[cred.Symbol],
			OrdersPerSide:      m.cfg.OrdersPerSide,
			FinalOrderDistance: m.cfg.FinalOrderDistance,
			Policy:             m.cfg.Policy,
			MeanRevertStrength: m.cfg.MeanRevertStrength,
			RebalanceRatio:     m.cfg.RebalanceRatio,
			RateLimit:          m.cfg.RateLimit,
			CancelLimit:        m.cfg.CancelLimit,
			TimeLimit:          m.cfg.TimeLimit,
		})
		m.genEx[cred.Symbol] = cred.Exchange
	}
}

// SetSpreadBps applies per-symbol spreads in tracked-symbol order,
// typically straight from configuration.
func (m *MarketMaker) SetSpreadBps(bps []float64) {
	symbols := m.state.Symbols()
	for i, symbol := range symbols {
		if i >= len(bps) {
			break
		}
		m.SetSymbolSpread(symbol, bps[i])
	}
}

// SetSymbolSpread sets the minimum spread for one symbol, whatever
// provider produced the value.
func (m *MarketMaker) SetSymbolSpread(symbol string, bps float64) {
	if g, ok := m.generators[symbol]; ok {
		g.SetSpreadBps(bps)
	}
}

// Run consumes the notification queue until it is closed or ctx is
// cancelled. Per-symbol failures are contained; one symbol never
// halts the others.
func (m *MarketMaker) Run(ctx context.Context, queue *channel.Unbounded) error {
	m.log.WithFields(logger.Fields{
		"symbols":     m.state.Symbols(),
		"tick_window": m.cfg.TickWindow,
	}).Info("market maker loop started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, ok := queue.Pop()
		if !ok {
			m.log.Info("notification queue closed, loop stopping")
			return nil
		}
		m.handle(ctx, n)
	}
}

// Shutdown cancels every live grid.
func (m *MarketMaker) Shutdown(ctx context.Context) {
	for symbol, g := range m.generators {
		if err := g.CancelAll(ctx); err != nil {
			m.log.WithError(err).Error("cancel all failed for ", symbol)
		}
	}
}

func (m *MarketMaker) handle(ctx context.Context, n channel.Notification) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logger.Fields{
				"exchange": n.Exchange,
				"symbol":   n.Symbol,
				"panic":    r,
			}).Error("symbol cycle panicked, other symbols unaffected")
		}
	}()

	switch n.Kind {
	case channel.KindMarket:
		m.onMarket(ctx, n)
	case channel.KindPrivate:
		m.onPrivate(n)
	}
}

func (m *MarketMaker) onMarket(ctx context.Context, n channel.Notification) {
	snap := m.state.MarketData(n.Exchange, n.Symbol)
	if snap == nil || snap.Book == nil {
		return
	}
	key := pairKey(n.Exchange, n.Symbol)
	engine, ok := m.engines[key]
	if !ok {
		return
	}

	metrics.ObserveTick(n.Exchange, n.Symbol)
	feat, anomaly := m.updateFeatures(engine, key, snap)
	if anomaly != nil {
		m.log.WithError(anomaly).Warn("feature update degraded to neutral")
	}
	if m.recorder != nil {
		m.recorder.Record(feat)
	}

	// Quote only after the rolling history has filled once, the way a
	// cold regression start would otherwise chase noise.
	if m.warmup[key] <= m.cfg.TickWindow {
		m.warmup[key]++
		return
	}
	if m.genEx[n.Symbol] != n.Exchange {
		return
	}
	if g, ok := m.generators[n.Symbol]; ok {
		private := m.state.PrivateData(n.Exchange, n.Symbol)
		metrics.SetSkew(n.Symbol, g.AdjustedSkew(feat.Skew))
		if err := g.UpdateGrid(ctx, private, feat.Skew, snap.Book); err != nil {
			m.log.WithError(err).Error("grid update failed for ", n.Symbol)
		}
	}
}

func (m *MarketMaker) updateFeatures(engine *features.Engine, key string, snap *models.MarketSnapshot) (features.FeatureSnapshot, *features.Anomaly) {
	feat, anomaly := engine.Update(
		snap.Book,
		m.prevBooks[key],
		snap.Trades,
		m.prevTrades[key],
		m.prevAvg[key],
	)
	m.prevBooks[key] = snap.Book
	m.prevTrades[key] = snap.Trades
	m.prevAvg[key] = feat.AvgTradePrice
	return feat, anomaly
}

func (m *MarketMaker) onPrivate(n channel.Notification) {
	if m.genEx[n.Symbol] != n.Exchange {
		return
	}
	if g, ok := m.generators[n.Symbol]; ok {
		g.CheckForFills(m.state.PrivateData(n.Exchange, n.Symbol))
	}
}

func pairKey(exchange, symbol string) string { return exchange + ":" + symbol }
