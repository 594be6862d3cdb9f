package temporal

import (
	"encoding/json"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Series is a component vector. Positions a moving average cannot cover are
// NaN and encode as JSON null.
type Series []float64

func (s Series) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 2+len(s)*8)
	buf = append(buf, '[')
	for i, v := range s {
		if i > 0 {
			buf = append(buf, ',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf = append(buf, "null"...)
			continue
		}
		buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
	}
	return append(buf, ']'), nil
}

func (s *Series) UnmarshalJSON(b []byte) error {
	var raw []*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = make(Series, len(raw))
	for i, p := range raw {
		if p == nil {
			(*s)[i] = math.NaN()
		} else {
			(*s)[i] = *p
		}
	}
	return nil
}

// Decomposition is a classical additive split: value = trend + seasonal + residual.
type Decomposition struct {
	Period   int    `json:"period"`
	Trend    Series `json:"trend"`
	Seasonal Series `json:"seasonal"`
	Residual Series `json:"residual"`
}

// decompose uses a centered moving average for the trend (2×period for even
// periods) and per-phase means of the detrended series, centered to zero, for
// the seasonal component.
func decompose(x []float64, period int) *Decomposition {
	n := len(x)
	trend := movingAverage(x, period)
	phaseSum := make([]float64, period)
	phaseCount := make([]float64, period)
	for i := range x {
		if !math.IsNaN(trend[i]) {
			phaseSum[i%period] += x[i] - trend[i]
			phaseCount[i%period]++
		}
	}
	phase := make([]float64, period)
	for p := range phase {
		if phaseCount[p] > 0 {
			phase[p] = phaseSum[p] / phaseCount[p]
		}
	}
	floats.AddConst(-stat.Mean(phase, nil), phase)
	seasonal := make(Series, n)
	resid := make(Series, n)
	for i := range x {
		seasonal[i] = phase[i%period]
		resid[i] = x[i] - trend[i] - seasonal[i]
	}
	return &Decomposition{Period: period, Trend: trend, Seasonal: seasonal, Residual: resid}
}

func movingAverage(x []float64, period int) Series {
	n := len(x)
	weights := make([]float64, period+1-period%2)
	for i := range weights {
		weights[i] = 1 / float64(period)
	}
	if period%2 == 0 {
		weights[0] /= 2
		weights[period] /= 2
	}
	half := len(weights) / 2
	out := make(Series, n)
	for i := range out {
		if i < half || i+half >= n {
			out[i] = math.NaN()
			continue
		}
		var s float64
		for k, w := range weights {
			s += w * x[i-half+k]
		}
		out[i] = s
	}
	return out
}

// TrendSummary is the least-squares line through the defined trend values
// against bucket index.
type TrendSummary struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	Direction string  `json:"direction"`
}

func summarizeTrend(trend Series) *TrendSummary {
	var xs, ys []float64
	for i, v := range trend {
		if !math.IsNaN(v) {
			xs = append(xs, float64(i))
			ys = append(ys, v)
		}
	}
	if len(xs) < 2 {
		return nil
	}
	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	ts := &TrendSummary{Slope: beta, Intercept: alpha, Direction: "stable"}
	scale := math.Max(math.Abs(stat.Mean(ys, nil)), 1e-9)
	switch {
	case beta > 1e-3*scale:
		ts.Direction = "increasing"
	case beta < -1e-3*scale:
		ts.Direction = "decreasing"
	}
	return ts
}
