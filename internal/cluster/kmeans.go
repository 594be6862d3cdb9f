package cluster

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// kmeans runs Lloyd's algorithm from several k-means++ starts and keeps the
// lowest-inertia labeling. All randomness comes from one seeded PCG stream.
// split reports whether the kept labeling had to move a point sitting on its
// center into an empty cluster, which separates identical points.
func kmeans(X [][]float64, k int, seed uint64, restarts, maxIter int) (labels []int, inertia float64, split bool) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	inertia = math.Inf(1)
	for r := 0; r < restarts; r++ {
		centers := seedPlusPlus(X, k, rng)
		l, in, sp := lloyd(X, centers, maxIter)
		if in < inertia {
			labels, inertia, split = l, in, sp
		}
	}
	return labels, inertia, split
}

func sqDist(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func seedPlusPlus(X [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(X)
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), X[rng.IntN(n)]...))
	d2 := make([]float64, n)
	for i := range X {
		d2[i] = sqDist(X[i], centers[0])
	}
	for len(centers) < k {
		total := floats.Sum(d2)
		idx := rng.IntN(n)
		if total > 0 {
			target := rng.Float64() * total
			acc := 0.0
			for i, w := range d2 {
				acc += w
				if acc >= target {
					idx = i
					break
				}
			}
		}
		c := append([]float64(nil), X[idx]...)
		centers = append(centers, c)
		for i := range X {
			d2[i] = math.Min(d2[i], sqDist(X[i], c))
		}
	}
	return centers
}

func nearest(x []float64, centers [][]float64) (int, float64) {
	best, bestD := 0, math.Inf(1)
	for c, ctr := range centers {
		if d := sqDist(x, ctr); d < bestD {
			best, bestD = c, d
		}
	}
	return best, bestD
}

func lloyd(X [][]float64, centers [][]float64, maxIter int) ([]int, float64, bool) {
	n, k := len(X), len(centers)
	dim := len(X[0])
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	var inertia float64
	split := false
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		inertia = 0
		for i, x := range X {
			c, d := nearest(x, centers)
			if labels[i] != c {
				labels[i] = c
				changed = true
			}
			inertia += d
		}
		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, x := range X {
			counts[labels[i]]++
			floats.Add(sums[labels[i]], x)
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// re-seed an empty cluster with the point farthest from its center
				far, farD := -1, -1.0
				for i, x := range X {
					if counts[labels[i]] <= 1 {
						continue
					}
					if d := sqDist(x, centers[labels[i]]); d > farD {
						far, farD = i, d
					}
				}
				if far < 0 {
					continue
				}
				if farD == 0 {
					split = true
				}
				counts[labels[far]]--
				floats.Sub(sums[labels[far]], X[far])
				labels[far] = c
				counts[c] = 1
				copy(sums[c], X[far])
				changed = true
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] > 0 {
				floats.ScaleTo(centers[c], 1/float64(counts[c]), sums[c])
			}
		}
		if !changed {
			break
		}
	}
	inertia = 0
	for i, x := range X {
		inertia += sqDist(x, centers[labels[i]])
	}
	return labels, inertia, split
}
