package anomaly

import (
	"math"
	"math/rand/v2"
)

const eulerGamma = 0.5772156649015329

// avgPath is the expected path length of an unsuccessful search in a binary
// search tree of n points.
func avgPath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	f := float64(n)
	return 2*(math.Log(f-1)+eulerGamma) - 2*(f-1)/f
}

type isoNode struct {
	feature   int
	threshold float64
	left      *isoNode
	right     *isoNode
	size      int
}

func growIso(X [][]float64, idx []int, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(idx) <= 1 {
		return &isoNode{feature: -1, size: len(idx)}
	}
	d := len(X[0])
	// pick a random feature that still varies inside the node
	for _, f := range rng.Perm(d) {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			lo, hi = math.Min(lo, X[i][f]), math.Max(hi, X[i][f])
		}
		if hi <= lo {
			continue
		}
		thr := lo + rng.Float64()*(hi-lo)
		var left, right []int
		for _, i := range idx {
			if X[i][f] < thr {
				left = append(left, i)
			} else {
				right = append(right, i)
			}
		}
		return &isoNode{
			feature:   f,
			threshold: thr,
			left:      growIso(X, left, depth+1, limit, rng),
			right:     growIso(X, right, depth+1, limit, rng),
		}
	}
	return &isoNode{feature: -1, size: len(idx)}
}

func pathLength(n *isoNode, x []float64, depth int) float64 {
	for n.feature >= 0 {
		if x[n.feature] < n.threshold {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + avgPath(n.size)
}

// isolationScores returns 2^(-E[h(x)]/c(ψ)), close to 1 for easily isolated rows.
func isolationScores(X [][]float64, opt Options) ([]float64, error) {
	n := len(X)
	psi := min(opt.SampleSize, n)
	if psi < 2 {
		return nil, errTooFewRows(n, 2)
	}
	limit := int(math.Ceil(math.Log2(float64(psi))))
	rng := rand.New(rand.NewPCG(opt.Seed, opt.Seed+uint64(n)))
	trees := make([]*isoNode, opt.Trees)
	for t := range trees {
		sample := rng.Perm(n)[:psi]
		trees[t] = growIso(X, sample, 0, limit, rng)
	}
	norm := avgPath(psi)
	scores := make([]float64, n)
	for i, x := range X {
		var sum float64
		for _, t := range trees {
			sum += pathLength(t, x, 0)
		}
		scores[i] = math.Pow(2, -(sum/float64(len(trees)))/norm)
	}
	return scores, nil
}
