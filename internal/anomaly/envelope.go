package anomaly

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

func errTooFewRows(rows, need int) error {
	return fmt.Errorf("need at least %d rows, got %d", need, rows)
}

// gaussianFit holds a location and the Cholesky factor of a scatter matrix.
type gaussianFit struct {
	mean *mat.VecDense
	chol mat.Cholesky
}

func fitGaussian(X [][]float64, rows []int) (*gaussianFit, error) {
	d := len(X[0])
	data := mat.NewDense(len(rows), d, nil)
	for r, i := range rows {
		data.SetRow(r, X[i])
	}
	g := &gaussianFit{mean: mat.NewVecDense(d, nil)}
	for j := 0; j < d; j++ {
		g.mean.SetVec(j, stat.Mean(mat.Col(nil, j, data), nil))
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)
	if ok := g.chol.Factorize(&cov); !ok {
		return nil, errors.New("covariance matrix is singular")
	}
	return g, nil
}

func (g *gaussianFit) distances(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = stat.Mahalanobis(mat.NewVecDense(len(x), x), g.mean, &g.chol)
	}
	return out
}

// envelopeScores fits a Gaussian boundary and scores rows by Mahalanobis
// distance. Two concentration steps refit on the rows inside the boundary so
// the outliers being searched for do not inflate the covariance.
func envelopeScores(X [][]float64, opt Options) ([]float64, error) {
	n, d := len(X), len(X[0])
	if n <= d+1 {
		return nil, errTooFewRows(n, d+2)
	}
	g, err := fitGaussian(X, allRows(n))
	if err != nil {
		return nil, err
	}
	dist := g.distances(X)
	keep := max(d+2, n-int(math.Ceil(opt.Contamination*float64(n))))
	for step := 0; step < 2 && keep < n; step++ {
		inner := closest(dist, keep)
		next, err := fitGaussian(X, inner)
		if err != nil {
			break
		}
		g = next
		dist = g.distances(X)
	}
	return dist, nil
}

func allRows(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// closest returns the k row indices with the smallest distances.
func closest(dist []float64, k int) []int {
	flags := topFlags(negate(dist), k)
	out := make([]int, 0, k)
	for i, f := range flags {
		if f {
			out = append(out, i)
		}
	}
	return out
}

func negate(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}
