package cluster

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Silhouette returns the mean silhouette coefficient over non-noise points,
// or -1 when fewer than two groups exist or every point is its own group.
// Points alone in their group score 0.
func Silhouette(X [][]float64, labels []int) float64 {
	idx := make([]int, 0, len(labels))
	count := map[int]int{}
	for i, l := range labels {
		if l == Noise {
			continue
		}
		idx = append(idx, i)
		count[l]++
	}
	if len(count) < 2 || len(count) >= len(idx) {
		return -1
	}
	var total float64
	for _, i := range idx {
		li := labels[i]
		if count[li] == 1 {
			continue
		}
		sums := map[int]float64{}
		for _, j := range idx {
			if j == i {
				continue
			}
			sums[labels[j]] += floats.Distance(X[i], X[j], 2)
		}
		a := sums[li] / float64(count[li]-1)
		b := math.Inf(1)
		for l, s := range sums {
			if l == li {
				continue
			}
			b = math.Min(b, s/float64(count[l]))
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	s := total / float64(len(idx))
	return math.Max(-1, math.Min(1, s))
}
