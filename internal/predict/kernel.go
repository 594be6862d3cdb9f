package predict

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// kernelRidge is RBF kernel ridge regression. For classification it fits one
// ±1 target per class and predicts the class with the highest response.
type kernelRidge struct {
	lambda  float64
	classes int
	maxRows int
	gamma   float64
	train   [][]float64
	alpha   *mat.Dense
	offset  []float64
}

func (m *kernelRidge) rbf(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return math.Exp(-m.gamma * d * d)
}

func (m *kernelRidge) Fit(ctx context.Context, X [][]float64, y []float64) error {
	if err := checkInput(X, y); err != nil {
		return err
	}
	n := len(X)
	if m.maxRows > 0 && n > m.maxRows {
		return fmt.Errorf("kernel ridge supports at most %d training rows, got %d", m.maxRows, n)
	}
	m.gamma = 1 / float64(len(X[0]))
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if i%200 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		for j := i; j < n; j++ {
			v := m.rbf(X[i], X[j])
			if i == j {
				v += m.lambda
			}
			K.SetSym(i, j, v)
		}
	}
	outputs := 1
	if m.classes > 0 {
		outputs = m.classes
	}
	T := mat.NewDense(n, outputs, nil)
	m.offset = make([]float64, outputs)
	for c := 0; c < outputs; c++ {
		col := make([]float64, n)
		for i := range col {
			switch {
			case m.classes == 0:
				col[i] = y[i]
			case int(y[i]) == c:
				col[i] = 1
			default:
				col[i] = -1
			}
		}
		m.offset[c] = stat.Mean(col, nil)
		floats.AddConst(-m.offset[c], col)
		T.SetCol(c, col)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(K); !ok {
		return fmt.Errorf("kernel ridge: kernel matrix is not positive definite")
	}
	m.alpha = new(mat.Dense)
	if err := chol.SolveTo(m.alpha, T); err != nil {
		return fmt.Errorf("kernel ridge: %w", err)
	}
	m.train = X
	return nil
}

func (m *kernelRidge) Predict(X [][]float64) ([]float64, error) {
	if m.alpha == nil {
		return nil, errNotFitted
	}
	_, outputs := m.alpha.Dims()
	out := make([]float64, len(X))
	k := make([]float64, len(m.train))
	resp := make([]float64, outputs)
	for i, x := range X {
		for j, t := range m.train {
			k[j] = m.rbf(x, t)
		}
		for c := 0; c < outputs; c++ {
			resp[c] = floats.Dot(k, mat.Col(nil, c, m.alpha)) + m.offset[c]
		}
		if m.classes == 0 {
			out[i] = resp[0]
		} else {
			out[i] = float64(argmax(resp))
		}
	}
	return out, nil
}
