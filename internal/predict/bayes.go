package predict

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// gaussianNB models every feature as an independent normal per class.
type gaussianNB struct {
	classes int
	prior   []float64
	dists   [][]distuv.Normal
}

func (m *gaussianNB) Fit(_ context.Context, X [][]float64, y []float64) error {
	if err := checkInput(X, y); err != nil {
		return err
	}
	d := len(X[0])
	byClass := make([][][]float64, m.classes)
	for i, x := range X {
		c := int(y[i])
		byClass[c] = append(byClass[c], x)
	}
	// variance floor relative to the widest feature keeps constant columns finite
	var widest float64
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		widest = math.Max(widest, stat.Variance(col, nil))
	}
	floor := 1e-9 * math.Max(widest, 1)

	m.prior = make([]float64, m.classes)
	m.dists = make([][]distuv.Normal, m.classes)
	for c, rows := range byClass {
		if len(rows) == 0 {
			m.prior[c] = math.Inf(-1)
			continue
		}
		m.prior[c] = math.Log(float64(len(rows)) / float64(len(X)))
		m.dists[c] = make([]distuv.Normal, d)
		vals := make([]float64, len(rows))
		for j := 0; j < d; j++ {
			for i, r := range rows {
				vals[i] = r[j]
			}
			mu, variance := stat.PopMeanVariance(vals, nil)
			m.dists[c][j] = distuv.Normal{Mu: mu, Sigma: math.Sqrt(variance + floor)}
		}
	}
	return nil
}

func (m *gaussianNB) Predict(X [][]float64) ([]float64, error) {
	if m.dists == nil {
		return nil, errNotFitted
	}
	out := make([]float64, len(X))
	score := make([]float64, m.classes)
	for i, x := range X {
		for c := range score {
			score[c] = m.prior[c]
			if m.dists[c] == nil {
				continue
			}
			for j, dist := range m.dists[c] {
				score[c] += dist.LogProb(x[j])
			}
		}
		out[i] = float64(argmax(score))
	}
	return out, nil
}

// knn votes among the k nearest training rows. Tied votes go to the class
// whose nearest member is closest.
type knn struct {
	k       int
	classes int
	X       [][]float64
	y       []float64
}

func (m *knn) Fit(_ context.Context, X [][]float64, y []float64) error {
	if err := checkInput(X, y); err != nil {
		return err
	}
	m.X, m.y = X, y
	return nil
}

func (m *knn) Predict(X [][]float64) ([]float64, error) {
	if m.X == nil {
		return nil, errNotFitted
	}
	k := min(m.k, len(m.X))
	out := make([]float64, len(X))
	order := make([]int, len(m.X))
	dist := make([]float64, len(m.X))
	for i, x := range X {
		for j, t := range m.X {
			order[j] = j
			dist[j] = floats.Distance(x, t, 2)
		}
		sort.SliceStable(order, func(a, b int) bool { return dist[order[a]] < dist[order[b]] })
		votes := make([]int, m.classes)
		first := make([]int, m.classes)
		for c := range first {
			first[c] = math.MaxInt
		}
		for rank, j := range order[:k] {
			c := int(m.y[j])
			votes[c]++
			first[c] = min(first[c], rank)
		}
		best := 0
		for c := 1; c < m.classes; c++ {
			if votes[c] > votes[best] || (votes[c] == votes[best] && first[c] < first[best]) {
				best = c
			}
		}
		out[i] = float64(best)
	}
	return out, nil
}
