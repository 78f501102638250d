// Registers:
//
//	#gridflow_ticks_total
//	#gridflow_orders_total
//	#gridflow_fills_total
//	#go_* and process_* system metrics
//
// Exposes them on :2112/metrics using Prometheus HTTP handler
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once       sync.Once
	ticksTotal *prometheus.CounterVec
	orders     *prometheus.CounterVec
	fills      *prometheus.CounterVec
	skewGauge  *prometheus.GaugeVec
	position   *prometheus.GaugeVec
)

func Init() {
	once.Do(func() {
		ticksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridflow_ticks_total",
				Help: "Number of market updates processed per exchange and symbol",
			},
			[]string{"exchange", "symbol"},
		)

		orders = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridflow_orders_total",
				Help: "Number of order actions issued, by symbol and action",
			},
			[]string{"symbol", "action"},
		)

		fills = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridflow_fills_total",
				Help: "Number of executions applied to the live grid",
			},
			[]string{"symbol"},
		)

		skewGauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridflow_skew",
				Help: "Latest inventory-adjusted quote skew per symbol",
			},
			[]string{"symbol"},
		)

		position = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridflow_position",
				Help: "Latest signed base position per symbol",
			},
			[]string{"symbol"},
		)

		_ = prometheus.Register(ticksTotal)
		_ = prometheus.Register(orders)
		_ = prometheus.Register(fills)
		_ = prometheus.Register(skewGauge)
		_ = prometheus.Register(position)
		_ = prometheus.Register(collectors.NewGoCollector())
		_ = prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe("0.0.0.0:2112", nil); err != nil {
				panic("metrics server failed: " + err.Error())
			}
		}()
	})
}

// ObserveTick counts one processed market update.
func ObserveTick(exchange, symbol string) {
	if ticksTotal != nil {
		ticksTotal.WithLabelValues(exchange, symbol).Inc()
	}
}

// ObserveOrder counts one issued order action (place, amend, cancel, market).
func ObserveOrder(symbol, action string) {
	if orders != nil {
		orders.WithLabelValues(symbol, action).Inc()
	}
}

// ObserveFill counts one execution applied to the grid.
func ObserveFill(symbol string) {
	if fills != nil {
		fills.WithLabelValues(symbol).Inc()
	}
}

// SetSkew records the latest adjusted skew for a symbol.
func SetSkew(symbol string, skew float64) {
	if skewGauge != nil {
		skewGauge.WithLabelValues(symbol).Set(skew)
	}
}

// SetPosition records the latest signed position for a symbol.
func SetPosition(symbol string, size float64) {
	if position != nil {
		position.WithLabelValues(symbol).Set(size)
	}
}
