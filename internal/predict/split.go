package predict

import (
	"math"
	"math/rand/v2"
	"sort"
)

// splitSeed derives the split seed from the base seed and input size, so the
// same seed over the same number of usable rows always holds out the same rows.
func splitSeed(seed uint64, n int) uint64 { return seed + uint64(n) }

// trainTestSplit returns sorted positions for training and held-out rows.
// The held-out share is round(frac·n), at least 1 and at most n-1.
func trainTestSplit(n int, frac float64, seed uint64) (train, test []int) {
	s := splitSeed(seed, n)
	perm := rand.New(rand.NewPCG(s, s)).Perm(n)
	k := int(math.Round(frac * float64(n)))
	k = max(1, min(k, n-1))
	test = append([]int(nil), perm[:k]...)
	train = append([]int(nil), perm[k:]...)
	sort.Ints(test)
	sort.Ints(train)
	return train, test
}

// kFolds deals a seeded permutation of n positions into k folds round-robin.
func kFolds(n, k int, seed uint64) [][]int {
	k = max(2, min(k, n))
	s := splitSeed(seed, n)
	perm := rand.New(rand.NewPCG(s, s+1)).Perm(n)
	folds := make([][]int, k)
	for i, p := range perm {
		folds[i%k] = append(folds[i%k], p)
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds
}

// complement returns positions in [0,n) not present in the sorted fold.
func complement(n int, fold []int) []int {
	out := make([]int, 0, n-len(fold))
	j := 0
	for i := 0; i < n; i++ {
		if j < len(fold) && fold[j] == i {
			j++
			continue
		}
		out = append(out, i)
	}
	return out
}

func take(X [][]float64, y []float64, pos []int) ([][]float64, []float64) {
	xs := make([][]float64, len(pos))
	ys := make([]float64, len(pos))
	for i, p := range pos {
		xs[i], ys[i] = X[p], y[p]
	}
	return xs, ys
}
