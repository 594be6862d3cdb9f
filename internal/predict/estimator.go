package predict

import (
	"context"
	"errors"
	"math"
)

// Estimator is one trainable model. For classification, y holds class codes
// 0..classes-1 and Predict returns codes.
type Estimator interface {
	Fit(ctx context.Context, X [][]float64, y []float64) error
	Predict(X [][]float64) ([]float64, error)
}

// Importancer is implemented by estimators that expose per-feature weights:
// coefficient magnitudes for linear models, impurity decrease for trees.
type Importancer interface {
	Importances() []float64
}

var errNotFitted = errors.New("estimator is not fitted")

// factory builds a fresh estimator for one fit. classes is 0 for regression.
type factory func(seed uint64, classes int) Estimator

type recipe struct {
	name  string
	build factory
}

func regressionBattery() []recipe {
	return []recipe{
		{"linear_regression", func(uint64, int) Estimator { return &ols{} }},
		{"ridge", func(uint64, int) Estimator { return &ridge{lambda: 1} }},
		{"lasso", func(uint64, int) Estimator { return &lasso{alpha: 0.1, maxIter: 1000, tol: 1e-6} }},
		{"random_forest", func(seed uint64, _ int) Estimator {
			return &forest{trees: 100, seed: seed, cfg: treeConfig{minLeaf: 1, featureFrac: 1.0 / 3}}
		}},
		{"gradient_boosting", func(uint64, int) Estimator {
			return &boosting{stages: 100, rate: 0.1, cfg: treeConfig{maxDepth: 3, minLeaf: 1}}
		}},
		{"kernel_ridge", func(uint64, int) Estimator { return &kernelRidge{lambda: 1, maxRows: 2000} }},
	}
}

func classificationBattery() []recipe {
	return []recipe{
		{"logistic_regression", func(_ uint64, classes int) Estimator {
			return &logistic{classes: classes, rate: 0.1, epochs: 500, l2: 1e-3}
		}},
		{"random_forest", func(seed uint64, classes int) Estimator {
			return &forest{trees: 100, seed: seed, cfg: treeConfig{minLeaf: 1, classes: classes, sqrtFeatures: true}}
		}},
		{"decision_tree", func(_ uint64, classes int) Estimator {
			return &decisionTree{cfg: treeConfig{minLeaf: 1, classes: classes}}
		}},
		{"gaussian_nb", func(_ uint64, classes int) Estimator { return &gaussianNB{classes: classes} }},
		{"knn", func(_ uint64, classes int) Estimator { return &knn{k: 5, classes: classes} }},
		{"kernel_ridge", func(_ uint64, classes int) Estimator {
			return &kernelRidge{lambda: 1, classes: classes, maxRows: 2000}
		}},
	}
}

func normalize(w []float64) []float64 {
	out := make([]float64, len(w))
	var total float64
	for i, v := range w {
		out[i] = math.Abs(v)
		total += out[i]
	}
	if total == 0 {
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func checkInput(X [][]float64, y []float64) error {
	if len(X) == 0 || len(X) != len(y) {
		return errors.New("empty or misaligned training data")
	}
	if len(X[0]) == 0 {
		return errors.New("no feature columns")
	}
	return nil
}
