package anomaly

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

type neighbor struct {
	idx  int
	dist float64
}

// nearest returns the k nearest other rows of each row, closest first.
func nearest(X [][]float64, k int) [][]neighbor {
	out := make([][]neighbor, len(X))
	buf := make([]neighbor, 0, len(X)-1)
	for i := range X {
		buf = buf[:0]
		for j := range X {
			if j != i {
				buf = append(buf, neighbor{j, floats.Distance(X[i], X[j], 2)})
			}
		}
		sort.SliceStable(buf, func(a, b int) bool { return buf[a].dist < buf[b].dist })
		out[i] = append([]neighbor(nil), buf[:k]...)
	}
	return out
}

// lofScores returns the local outlier factor: the mean local reachability
// density of a row's neighbors divided by its own.
func lofScores(X [][]float64, opt Options) ([]float64, error) {
	n, k := len(X), opt.Neighbors
	if n <= k {
		return nil, fmt.Errorf("local outlier factor with %d neighbors needs more than %d rows, got %d", k, k, n)
	}
	nn := nearest(X, k)
	kdist := make([]float64, n)
	for i := range nn {
		kdist[i] = nn[i][k-1].dist
	}
	lrd := make([]float64, n)
	for i := range nn {
		var reach float64
		for _, o := range nn[i] {
			reach += max(kdist[o.idx], o.dist)
		}
		// duplicates give zero reach distance
		lrd[i] = 1 / (reach/float64(k) + 1e-10)
	}
	scores := make([]float64, n)
	for i := range nn {
		var sum float64
		for _, o := range nn[i] {
			sum += lrd[o.idx]
		}
		scores[i] = sum / float64(k) / lrd[i]
	}
	return scores, nil
}
