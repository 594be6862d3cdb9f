package predict

import (
	"context"
	"fmt"
	"math"

	"github.com/sajari/regression"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ols is ordinary least squares backed by sajari/regression.
type ols struct {
	r    *regression.Regression
	coef []float64
}

func (m *ols) Fit(_ context.Context, X [][]float64, y []float64) error {
	if err := checkInput(X, y); err != nil {
		return err
	}
	r := new(regression.Regression)
	r.SetObserved("target")
	for j := range X[0] {
		r.SetVar(j, fmt.Sprintf("x%d", j))
	}
	for i := range X {
		r.Train(regression.DataPoint(y[i], X[i]))
	}
	if err := r.Run(); err != nil {
		return fmt.Errorf("least squares: %w", err)
	}
	m.coef = make([]float64, len(X[0]))
	for j := range m.coef {
		m.coef[j] = r.Coeff(j + 1)
		if math.IsNaN(m.coef[j]) || math.IsInf(m.coef[j], 0) {
			return fmt.Errorf("least squares: non-finite coefficient for x%d", j)
		}
	}
	m.r = r
	return nil
}

func (m *ols) Predict(X [][]float64) ([]float64, error) {
	if m.r == nil {
		return nil, errNotFitted
	}
	out := make([]float64, len(X))
	for i, x := range X {
		v, err := m.r.Predict(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *ols) Importances() []float64 { return normalize(m.coef) }

// center returns column means of X and the mean of y.
func center(X [][]float64, y []float64) ([]float64, float64) {
	d := len(X[0])
	means := make([]float64, d)
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		means[j] = stat.Mean(col, nil)
	}
	return means, stat.Mean(y, nil)
}

// ridge solves (XcᵀXc + λI)β = Xcᵀyc on centered data with a Cholesky factorization.
type ridge struct {
	lambda    float64
	coef      []float64
	intercept float64
}

func (m *ridge) Fit(_ context.Context, X [][]float64, y []float64) error {
	if err := checkInput(X, y); err != nil {
		return err
	}
	n, d := len(X), len(X[0])
	xm, ym := center(X, y)
	A := mat.NewDense(n, d, nil)
	b := mat.NewVecDense(n, nil)
	for i := range X {
		for j := 0; j < d; j++ {
			A.Set(i, j, X[i][j]-xm[j])
		}
		b.SetVec(i, y[i]-ym)
	}
	gram := mat.NewSymDense(d, nil)
	gram.SymOuterK(1, A.T())
	for j := 0; j < d; j++ {
		gram.SetSym(j, j, gram.At(j, j)+m.lambda)
	}
	var rhs mat.VecDense
	rhs.MulVec(A.T(), b)
	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return fmt.Errorf("ridge: normal equations are not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return fmt.Errorf("ridge: %w", err)
	}
	m.coef = mat.Col(nil, 0, &beta)
	m.intercept = ym - floats.Dot(xm, m.coef)
	return nil
}

func (m *ridge) Predict(X [][]float64) ([]float64, error) {
	if m.coef == nil {
		return nil, errNotFitted
	}
	return linearPredict(X, m.coef, m.intercept), nil
}

func (m *ridge) Importances() []float64 { return normalize(m.coef) }

func linearPredict(X [][]float64, coef []float64, intercept float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = floats.Dot(x, coef) + intercept
	}
	return out
}

// lasso minimizes (1/2n)||y - Xβ||² + α||β||₁ by cyclic coordinate descent.
type lasso struct {
	alpha     float64
	maxIter   int
	tol       float64
	coef      []float64
	intercept float64
}

func (m *lasso) Fit(ctx context.Context, X [][]float64, y []float64) error {
	if err := checkInput(X, y); err != nil {
		return err
	}
	n, d := len(X), len(X[0])
	xm, ym := center(X, y)
	cols := make([][]float64, d)
	norms := make([]float64, d)
	for j := 0; j < d; j++ {
		cols[j] = make([]float64, n)
		for i := range X {
			cols[j][i] = X[i][j] - xm[j]
		}
		norms[j] = floats.Dot(cols[j], cols[j]) / float64(n)
	}
	resid := make([]float64, n)
	for i := range y {
		resid[i] = y[i] - ym
	}
	beta := make([]float64, d)
	for iter := 0; iter < m.maxIter; iter++ {
		if iter%50 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		maxDelta := 0.0
		for j := 0; j < d; j++ {
			if norms[j] == 0 {
				continue
			}
			rho := floats.Dot(cols[j], resid)/float64(n) + norms[j]*beta[j]
			next := softThreshold(rho, m.alpha) / norms[j]
			if delta := next - beta[j]; delta != 0 {
				floats.AddScaled(resid, -delta, cols[j])
				maxDelta = math.Max(maxDelta, math.Abs(delta))
				beta[j] = next
			}
		}
		if maxDelta < m.tol {
			break
		}
	}
	m.coef = beta
	m.intercept = ym - floats.Dot(xm, beta)
	return nil
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	default:
		return 0
	}
}

func (m *lasso) Predict(X [][]float64) ([]float64, error) {
	if m.coef == nil {
		return nil, errNotFitted
	}
	return linearPredict(X, m.coef, m.intercept), nil
}

func (m *lasso) Importances() []float64 { return normalize(m.coef) }

// logistic is multinomial softmax regression trained by full-batch gradient descent.
type logistic struct {
	classes int
	rate    float64
	epochs  int
	l2      float64
	w       [][]float64
	b       []float64
}

func (m *logistic) Fit(ctx context.Context, X [][]float64, y []float64) error {
	if err := checkInput(X, y); err != nil {
		return err
	}
	if m.classes < 2 {
		return fmt.Errorf("logistic regression needs at least 2 classes, got %d", m.classes)
	}
	n, d, k := len(X), len(X[0]), m.classes
	m.w = make([][]float64, k)
	for c := range m.w {
		m.w[c] = make([]float64, d)
	}
	m.b = make([]float64, k)
	probs := make([]float64, k)
	for epoch := 0; epoch < m.epochs; epoch++ {
		if epoch%50 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		gw := make([][]float64, k)
		for c := range gw {
			gw[c] = make([]float64, d)
		}
		gb := make([]float64, k)
		for i, x := range X {
			m.softmax(x, probs)
			for c := 0; c < k; c++ {
				g := probs[c]
				if int(y[i]) == c {
					g--
				}
				floats.AddScaled(gw[c], g, x)
				gb[c] += g
			}
		}
		for c := 0; c < k; c++ {
			for j := 0; j < d; j++ {
				m.w[c][j] -= m.rate * (gw[c][j]/float64(n) + m.l2*m.w[c][j])
			}
			m.b[c] -= m.rate * gb[c] / float64(n)
		}
	}
	for c := range m.w {
		for _, v := range m.w[c] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("logistic regression diverged")
			}
		}
	}
	return nil
}

func (m *logistic) softmax(x []float64, out []float64) {
	for c := range out {
		out[c] = floats.Dot(m.w[c], x) + m.b[c]
	}
	top := floats.Max(out)
	var sum float64
	for c := range out {
		out[c] = math.Exp(out[c] - top)
		sum += out[c]
	}
	floats.Scale(1/sum, out)
}

func (m *logistic) Predict(X [][]float64) ([]float64, error) {
	if m.w == nil {
		return nil, errNotFitted
	}
	out := make([]float64, len(X))
	probs := make([]float64, m.classes)
	for i, x := range X {
		m.softmax(x, probs)
		out[i] = float64(argmax(probs))
	}
	return out, nil
}

func (m *logistic) Importances() []float64 {
	if m.w == nil {
		return nil
	}
	agg := make([]float64, len(m.w[0]))
	for c := range m.w {
		for j, v := range m.w[c] {
			agg[j] += math.Abs(v)
		}
	}
	return normalize(agg)
}
