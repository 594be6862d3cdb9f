package predict

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
)

// treeConfig controls CART growth. classes is 0 for regression trees.
type treeConfig struct {
	maxDepth     int
	minLeaf      int
	classes      int
	sqrtFeatures bool
	featureFrac  float64
}

type treeNode struct {
	feature   int
	threshold float64
	left      int
	right     int
	value     float64
}

// cart is a binary regression or classification tree. Regression splits
// minimize squared error, classification splits minimize Gini impurity.
type cart struct {
	cfg        treeConfig
	nodes      []treeNode
	importance []float64
}

func (t *cart) grow(X [][]float64, y []float64, idx []int, rng *rand.Rand) {
	t.nodes = t.nodes[:0]
	t.importance = make([]float64, len(X[0]))
	if t.cfg.minLeaf < 1 {
		t.cfg.minLeaf = 1
	}
	t.build(X, y, idx, 0, rng)
}

func (t *cart) build(X [][]float64, y []float64, idx []int, depth int, rng *rand.Rand) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, treeNode{feature: -1, value: t.leafValue(y, idx)})
	if len(idx) < 2*t.cfg.minLeaf || (t.cfg.maxDepth > 0 && depth >= t.cfg.maxDepth) || pure(y, idx) {
		return id
	}
	feat, thr, gain, ok := t.bestSplit(X, y, idx, rng)
	if !ok {
		return id
	}
	var left, right []int
	for _, i := range idx {
		if X[i][feat] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	t.importance[feat] += gain
	l := t.build(X, y, left, depth+1, rng)
	r := t.build(X, y, right, depth+1, rng)
	t.nodes[id].feature = feat
	t.nodes[id].threshold = thr
	t.nodes[id].left = l
	t.nodes[id].right = r
	return id
}

func pure(y []float64, idx []int) bool {
	for _, i := range idx[1:] {
		if y[i] != y[idx[0]] {
			return false
		}
	}
	return true
}

func (t *cart) leafValue(y []float64, idx []int) float64 {
	if t.cfg.classes == 0 {
		var s float64
		for _, i := range idx {
			s += y[i]
		}
		return s / float64(len(idx))
	}
	counts := make([]float64, t.cfg.classes)
	for _, i := range idx {
		counts[int(y[i])]++
	}
	return float64(argmax(counts))
}

func (t *cart) candidateFeatures(d int, rng *rand.Rand) []int {
	m := d
	switch {
	case t.cfg.sqrtFeatures:
		m = max(1, int(math.Sqrt(float64(d))))
	case t.cfg.featureFrac > 0:
		m = max(1, int(float64(d)*t.cfg.featureFrac))
	}
	if rng == nil || m >= d {
		all := make([]int, d)
		for j := range all {
			all[j] = j
		}
		return all
	}
	return rng.Perm(d)[:m]
}

// bestSplit scans every candidate feature in sorted order and returns the
// threshold with the largest impurity decrease.
func (t *cart) bestSplit(X [][]float64, y []float64, idx []int, rng *rand.Rand) (int, float64, float64, bool) {
	n := len(idx)
	parent := t.impurity(y, idx)
	bestGain, bestFeat, bestThr := 1e-12, -1, 0.0
	sorted := make([]int, n)
	for _, f := range t.candidateFeatures(len(X[0]), rng) {
		copy(sorted, idx)
		sort.SliceStable(sorted, func(a, b int) bool { return X[sorted[a]][f] < X[sorted[b]][f] })
		sweep := t.newSweep(y, sorted)
		for p := 1; p < n; p++ {
			sweep.move(y[sorted[p-1]])
			if p < t.cfg.minLeaf || n-p < t.cfg.minLeaf {
				continue
			}
			lo, hi := X[sorted[p-1]][f], X[sorted[p]][f]
			if lo == hi {
				continue
			}
			if gain := parent - sweep.cost(); gain > bestGain {
				bestGain, bestFeat, bestThr = gain, f, lo+(hi-lo)/2
			}
		}
	}
	return bestFeat, bestThr, bestGain, bestFeat >= 0
}

// impurity is the count-weighted node cost: SSE for regression, n·Gini for classification.
func (t *cart) impurity(y []float64, idx []int) float64 {
	return t.newSweep(y, idx).rightCost(true)
}

// sweep tracks left/right statistics as rows move across a split point.
type sweep struct {
	classes    int
	nl, nr     float64
	sumL, sumR float64
	sqL, sqR   float64
	cntL, cntR []float64
}

func (t *cart) newSweep(y []float64, idx []int) *sweep {
	s := &sweep{classes: t.cfg.classes, nr: float64(len(idx))}
	if s.classes > 0 {
		s.cntL = make([]float64, s.classes)
		s.cntR = make([]float64, s.classes)
	}
	for _, i := range idx {
		if s.classes > 0 {
			s.cntR[int(y[i])]++
		} else {
			s.sumR += y[i]
			s.sqR += y[i] * y[i]
		}
	}
	return s
}

func (s *sweep) move(v float64) {
	s.nl++
	s.nr--
	if s.classes > 0 {
		s.cntL[int(v)]++
		s.cntR[int(v)]--
		return
	}
	s.sumL += v
	s.sumR -= v
	s.sqL += v * v
	s.sqR -= v * v
}

func (s *sweep) cost() float64 { return s.rightCost(false) + s.rightCost(true) }

// rightCost returns the cost of one side; left when right is false.
func (s *sweep) rightCost(right bool) float64 {
	n, sum, sq, cnt := s.nl, s.sumL, s.sqL, s.cntL
	if right {
		n, sum, sq, cnt = s.nr, s.sumR, s.sqR, s.cntR
	}
	if n == 0 {
		return 0
	}
	if s.classes == 0 {
		return math.Max(0, sq-sum*sum/n)
	}
	var acc float64
	for _, c := range cnt {
		acc += c * c
	}
	return n - acc/n
}

func (t *cart) predictOne(x []float64) float64 {
	id := 0
	for t.nodes[id].feature >= 0 {
		nd := t.nodes[id]
		if x[nd.feature] <= nd.threshold {
			id = nd.left
		} else {
			id = nd.right
		}
	}
	return t.nodes[id].value
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

type decisionTree struct {
	cfg  treeConfig
	tree *cart
}

func (m *decisionTree) Fit(_ context.Context, X [][]float64, y []float64) error {
	if err := checkInput(X, y); err != nil {
		return err
	}
	m.tree = &cart{cfg: m.cfg}
	m.tree.grow(X, y, allRows(len(X)), nil)
	return nil
}

func (m *decisionTree) Predict(X [][]float64) ([]float64, error) {
	if m.tree == nil {
		return nil, errNotFitted
	}
	out := make([]float64, len(X))
	for i, x := range X {
		out[i] = m.tree.predictOne(x)
	}
	return out, nil
}

func (m *decisionTree) Importances() []float64 {
	if m.tree == nil {
		return nil
	}
	return normalize(m.tree.importance)
}

// forest is a bagged ensemble of randomized trees. Regression averages,
// classification takes the majority vote with ties going to the lower code.
type forest struct {
	trees int
	seed  uint64
	cfg   treeConfig
	fit   []*cart
}

func (m *forest) Fit(ctx context.Context, X [][]float64, y []float64) error {
	if err := checkInput(X, y); err != nil {
		return err
	}
	n := len(X)
	rng := rand.New(rand.NewPCG(m.seed, m.seed^0x5bd1e995))
	m.fit = make([]*cart, 0, m.trees)
	for b := 0; b < m.trees; b++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		boot := make([]int, n)
		for i := range boot {
			boot[i] = rng.IntN(n)
		}
		t := &cart{cfg: m.cfg}
		t.grow(X, y, boot, rng)
		m.fit = append(m.fit, t)
	}
	return nil
}

func (m *forest) Predict(X [][]float64) ([]float64, error) {
	if len(m.fit) == 0 {
		return nil, errNotFitted
	}
	out := make([]float64, len(X))
	for i, x := range X {
		if m.cfg.classes == 0 {
			var s float64
			for _, t := range m.fit {
				s += t.predictOne(x)
			}
			out[i] = s / float64(len(m.fit))
			continue
		}
		votes := make([]float64, m.cfg.classes)
		for _, t := range m.fit {
			votes[int(t.predictOne(x))]++
		}
		out[i] = float64(argmax(votes))
	}
	return out, nil
}

func (m *forest) Importances() []float64 {
	if len(m.fit) == 0 {
		return nil
	}
	agg := make([]float64, len(m.fit[0].importance))
	for _, t := range m.fit {
		for j, v := range normalize(t.importance) {
			agg[j] += v
		}
	}
	return normalize(agg)
}

// boosting is least-squares gradient boosting over shallow regression trees.
type boosting struct {
	stages int
	rate   float64
	cfg    treeConfig
	init   float64
	fit    []*cart
}

func (m *boosting) Fit(ctx context.Context, X [][]float64, y []float64) error {
	if err := checkInput(X, y); err != nil {
		return err
	}
	n := len(X)
	for _, v := range y {
		m.init += v
	}
	m.init /= float64(n)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = m.init
	}
	resid := make([]float64, n)
	idx := allRows(n)
	m.fit = make([]*cart, 0, m.stages)
	for s := 0; s < m.stages; s++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range resid {
			resid[i] = y[i] - pred[i]
		}
		t := &cart{cfg: m.cfg}
		t.grow(X, resid, idx, nil)
		for i, x := range X {
			pred[i] += m.rate * t.predictOne(x)
		}
		m.fit = append(m.fit, t)
	}
	return nil
}

func (m *boosting) Predict(X [][]float64) ([]float64, error) {
	if m.fit == nil {
		return nil, errNotFitted
	}
	out := make([]float64, len(X))
	for i, x := range X {
		v := m.init
		for _, t := range m.fit {
			v += m.rate * t.predictOne(x)
		}
		out[i] = v
	}
	return out, nil
}

func (m *boosting) Importances() []float64 {
	if len(m.fit) == 0 {
		return nil
	}
	agg := make([]float64, len(m.fit[0].importance))
	for _, t := range m.fit {
		for j, v := range t.importance {
			agg[j] += v
		}
	}
	return normalize(agg)
}
