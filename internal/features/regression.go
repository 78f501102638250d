package features

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Predictor forecasts the near-term mid-price change from the rolling
// history. Implementations must return 0 (neutral) rather than fail when
// the history is too short.
type Predictor interface {
	Predict(w *TickWindow) float64
}

// OLSPredictor fits an ordinary least squares model of the next-tick mid
// change on lagged and instantaneous (imbalance, VOI, OFI) triples, then
// evaluates it at the newest tick. The model is refit on every call over
// the current window.
type OLSPredictor struct {
	Lags int // number of lagged triples in addition to lag 0
}

// NewOLSPredictor returns a predictor with the given lag depth.
func NewOLSPredictor(lags int) *OLSPredictor {
	if lags < 0 {
		lags = 0
	}
	return &OLSPredictor{Lags: lags}
}

// minObservations is the smallest usable training set; below it the
// prediction is neutral.
const minObservations = 8

// Predict returns the forecast mid change for the next tick, 0 when the
// window holds fewer ticks than the minimum lag requires.
func (p *OLSPredictor) Predict(w *TickWindow) float64 {
	nFeatures := 3 * (p.Lags + 1)
	// Rows are ticks t in [Lags, n-2]; the target is mid[t+1]-mid[t].
	first := p.Lags
	last := w.Len() - 2
	rows := last - first + 1
	if rows < minObservations || rows <= nFeatures+1 {
		return 0
	}

	x := mat.NewDense(rows, nFeatures+1, nil)
	y := mat.NewDense(rows, 1, nil)
	for r := 0; r < rows; r++ {
		t := first + r
		x.Set(r, 0, 1) // intercept
		for lag := 0; lag <= p.Lags; lag++ {
			tick := w.At(t - lag)
			x.Set(r, 1+3*lag, tick.Imbalance)
			x.Set(r, 2+3*lag, tick.VOI)
			x.Set(r, 3+3*lag, tick.OFI)
		}
		y.Set(r, 0, w.At(t+1).Mid-w.At(t).Mid)
	}

	var qr mat.QR
	qr.Factorize(x)
	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, y); err != nil {
		return 0
	}

	// Evaluate at the newest tick.
	n := w.Len() - 1
	pred := beta.At(0, 0)
	for lag := 0; lag <= p.Lags; lag++ {
		tick := w.At(n - lag)
		pred += beta.At(1+3*lag, 0) * tick.Imbalance
		pred += beta.At(2+3*lag, 0) * tick.VOI
		pred += beta.At(3+3*lag, 0) * tick.OFI
	}
	if math.IsNaN(pred) || math.IsInf(pred, 0) {
		return 0
	}
	return pred
}
