package temporal

import (
	"errors"
	"math"
)

// Forecasting model names.
const (
	HoltWinters       = "holt_winters"
	SimpleExponential = "simple_exponential_smoothing"
)

// Forecast is a fitted model and its projected points.
type Forecast struct {
	Model  string             `json:"model"`
	Params map[string]float64 `json:"params"`
	// SSE is the in-sample one-step-ahead squared error of the chosen parameters.
	SSE    float64 `json:"sse"`
	Points []Point `json:"points"`
}

var smoothingGrid = []float64{0.1, 0.2, 0.3, 0.5, 0.7, 0.9}

// holtWinters fits additive level, trend and seasonal smoothing by grid
// search over in-sample SSE and projects h steps.
func holtWinters(x []float64, m, h int) ([]float64, map[string]float64, float64, error) {
	n := len(x)
	if m < 2 || n < 2*m {
		return nil, nil, 0, errors.New("holt-winters needs two full seasonal cycles")
	}
	bestSSE := math.Inf(1)
	var best [3]float64
	for _, a := range smoothingGrid {
		for _, b := range smoothingGrid {
			for _, g := range smoothingGrid {
				sse, _, _, _ := hwPass(x, m, a, b, g)
				if sse < bestSSE {
					bestSSE, best = sse, [3]float64{a, b, g}
				}
			}
		}
	}
	if math.IsInf(bestSSE, 0) || math.IsNaN(bestSSE) {
		return nil, nil, 0, errors.New("holt-winters did not converge")
	}
	_, level, trend, season := hwPass(x, m, best[0], best[1], best[2])
	out := make([]float64, h)
	for k := 1; k <= h; k++ {
		out[k-1] = level + float64(k)*trend + season[(n+k-1)%m]
		if math.IsNaN(out[k-1]) || math.IsInf(out[k-1], 0) {
			return nil, nil, 0, errors.New("holt-winters produced a non-finite forecast")
		}
	}
	params := map[string]float64{"alpha": best[0], "beta": best[1], "gamma": best[2]}
	return out, params, bestSSE, nil
}

// hwPass runs one smoothing pass. Initial trend comes from the first two
// cycles; the initial level sits at the end of the first cycle and the initial
// seasonals are the detrended first cycle. Error accumulates after it.
func hwPass(x []float64, m int, alpha, beta, gamma float64) (sse, level, trend float64, season []float64) {
	var first, second float64
	for i := 0; i < m; i++ {
		first += x[i]
		second += x[m+i]
	}
	first /= float64(m)
	second /= float64(m)
	trend = (second - first) / float64(m)
	mid := float64(m-1) / 2
	level = first + trend*mid
	season = make([]float64, m)
	for i := 0; i < m; i++ {
		season[i] = x[i] - (first + trend*(float64(i)-mid))
	}
	for t := m; t < len(x); t++ {
		s := season[t%m]
		pred := level + trend + s
		e := x[t] - pred
		sse += e * e
		prev := level
		level = alpha*(x[t]-s) + (1-alpha)*(level+trend)
		trend = beta*(level-prev) + (1-beta)*trend
		season[t%m] = gamma*(x[t]-level) + (1-gamma)*s
	}
	return sse, level, trend, season
}

// simpleSmoothing is the flat exponential smoothing fallback.
func simpleSmoothing(x []float64, h int) ([]float64, map[string]float64, float64, error) {
	if len(x) < 2 {
		return nil, nil, 0, errors.New("exponential smoothing needs at least 2 points")
	}
	bestSSE, bestAlpha, bestLevel := math.Inf(1), 0.0, 0.0
	for _, a := range smoothingGrid {
		level, sse := x[0], 0.0
		for _, v := range x[1:] {
			e := v - level
			sse += e * e
			level += a * e
		}
		if sse < bestSSE {
			bestSSE, bestAlpha, bestLevel = sse, a, level
		}
	}
	if math.IsInf(bestSSE, 0) || math.IsNaN(bestSSE) || math.IsNaN(bestLevel) || math.IsInf(bestLevel, 0) {
		return nil, nil, 0, errors.New("exponential smoothing did not converge")
	}
	out := make([]float64, h)
	for i := range out {
		out[i] = bestLevel
	}
	return out, map[string]float64{"alpha": bestAlpha}, bestSSE, nil
}
