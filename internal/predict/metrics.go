package predict

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// RegressionMetrics are computed on the held-out rows.
type RegressionMetrics struct {
	R2   float64 `json:"r2"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
}

// ClassificationMetrics hold held-out accuracy and cross-validated accuracy.
type ClassificationMetrics struct {
	Accuracy float64 `json:"accuracy"`
	CVMean   float64 `json:"cv_mean"`
	CVStd    float64 `json:"cv_std"`
	Folds    int     `json:"folds"`
}

// regressionMetrics scores predictions against truth. R² is reported as 0
// when the held-out targets are constant.
func regressionMetrics(pred, truth []float64) (RegressionMetrics, bool) {
	var se, ae float64
	for i := range pred {
		d := pred[i] - truth[i]
		se += d * d
		ae += math.Abs(d)
	}
	n := float64(len(pred))
	out := RegressionMetrics{RMSE: math.Sqrt(se / n), MAE: ae / n}
	if stat.Variance(truth, nil) > 0 {
		out.R2 = stat.RSquaredFrom(pred, truth, nil)
	}
	ok := finite(out.R2) && finite(out.RMSE) && finite(out.MAE)
	return out, ok
}

func accuracy(pred, truth []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	hit := 0
	for i := range pred {
		if pred[i] == truth[i] {
			hit++
		}
	}
	return float64(hit) / float64(len(pred))
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
