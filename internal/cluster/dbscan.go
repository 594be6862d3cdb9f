package cluster

// dbscan labels density-connected regions; points reachable from no core
// point are Noise. A point counts itself toward minSamples.
func dbscan(X [][]float64, eps float64, minSamples int) []int {
	n := len(X)
	eps2 := eps * eps
	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if sqDist(X[i], X[j]) <= eps2 {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	visited := make([]bool, n)
	next := 0
	for i := 0; i < n; i++ {
		if visited[i] || len(neighbors[i]) < minSamples {
			continue
		}
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			labels[p] = next
			if len(neighbors[p]) < minSamples {
				continue
			}
			for _, q := range neighbors[p] {
				if !visited[q] {
					visited[q] = true
					queue = append(queue, q)
				}
			}
		}
		next++
	}
	return labels
}
