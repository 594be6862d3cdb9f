package cluster

import (
	"math"
	"sort"
)

type merge struct {
	a, b int
	dist float64
}

// ward builds a Ward-linkage dendrogram with the nearest-neighbor chain
// algorithm, then cuts it into k groups. Labels are numbered by first
// appearance so output is stable across calls.
func ward(X [][]float64, k int) []int {
	n := len(X)
	if k >= n {
		labels := make([]int, n)
		for i := range labels {
			labels[i] = i
		}
		return labels
	}
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := sqDist(X[i], X[j])
			d[i][j], d[j][i] = v, v
		}
	}
	size := make([]int, n)
	active := make([]bool, n)
	for i := range size {
		size[i] = 1
		active[i] = true
	}

	merges := make([]merge, 0, n-1)
	chain := make([]int, 0, n)
	remaining := n
	for remaining > 1 {
		if len(chain) == 0 {
			for i := 0; i < n; i++ {
				if active[i] {
					chain = append(chain, i)
					break
				}
			}
		}
		a := chain[len(chain)-1]
		prev := -1
		if len(chain) >= 2 {
			prev = chain[len(chain)-2]
		}
		b, bd := -1, math.Inf(1)
		if prev >= 0 {
			b, bd = prev, d[a][prev]
		}
		for j := 0; j < n; j++ {
			if !active[j] || j == a {
				continue
			}
			if d[a][j] < bd {
				b, bd = j, d[a][j]
			}
		}
		if b != prev {
			chain = append(chain, b)
			continue
		}
		chain = chain[:len(chain)-2]
		if b < a {
			a, b = b, a
		}
		merges = append(merges, merge{a: a, b: b, dist: bd})
		// Lance-Williams update for Ward on squared distances; a absorbs b.
		na, nb := float64(size[a]), float64(size[b])
		for j := 0; j < n; j++ {
			if !active[j] || j == a || j == b {
				continue
			}
			nj := float64(size[j])
			v := ((na+nj)*d[a][j] + (nb+nj)*d[b][j] - nj*d[a][b]) / (na + nb + nj)
			d[a][j], d[j][a] = v, v
		}
		size[a] += size[b]
		active[b] = false
		remaining--
	}

	sort.SliceStable(merges, func(i, j int) bool { return merges[i].dist < merges[j].dist })
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, m := range merges[:n-k] {
		ra, rb := find(m.a), find(m.b)
		if ra != rb {
			parent[rb] = ra
		}
	}
	labels := make([]int, n)
	ids := map[int]int{}
	for i := 0; i < n; i++ {
		r := find(i)
		id, ok := ids[r]
		if !ok {
			id = len(ids)
			ids[r] = id
		}
		labels[i] = id
	}
	return labels
}
