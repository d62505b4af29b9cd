package optimization

import (
	"math"
)

// clusterNode is a dendrogram node over asset indexes.
type clusterNode struct {
	left    *clusterNode
	right   *clusterNode
	leaves  []int
	minLeaf int
}

// hierarchicalWeights allocates by hierarchical risk parity: single-linkage
// clustering on the correlation distance sqrt(2(1-rho)), quasi-diagonal
// leaf order, then recursive bisection with inverse-variance cluster risk.
// Weights are strictly positive for assets with positive variance, which
// makes them a good seed for the risk parity fixed point.
func hierarchicalWeights(est *Estimate) []float64 {
	n := est.N()
	if n == 1 {
		return []float64{1}
	}

	corr := est.Correlation()
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			rho := math.Max(-1, math.Min(1, corr.At(i, j)))
			dist[i][j] = math.Sqrt(2 * (1 - rho))
		}
	}

	order := leafOrder(buildDendrogram(dist))

	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
	}
	bisect(weights, est, order)

	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		for i := range weights {
			weights[i] = 1 / float64(n)
		}
		return weights
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

func buildDendrogram(dist [][]float64) *clusterNode {
	n := len(dist)
	clusters := make([]*clusterNode, 0, n)
	for i := 0; i < n; i++ {
		clusters = append(clusters, &clusterNode{leaves: []int{i}, minLeaf: i})
	}

	for len(clusters) > 1 {
		bestI, bestJ := 0, 1
		bestD := linkageDistance(dist, clusters[0], clusters[1])

		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				d := linkageDistance(dist, clusters[i], clusters[j])
				if d < bestD || (d == bestD && pairLess(clusters[i], clusters[j], clusters[bestI], clusters[bestJ])) {
					bestD, bestI, bestJ = d, i, j
				}
			}
		}

		left, right := clusters[bestI], clusters[bestJ]
		if right.minLeaf < left.minLeaf {
			left, right = right, left
		}
		merged := &clusterNode{
			left:    left,
			right:   right,
			leaves:  append(append([]int{}, left.leaves...), right.leaves...),
			minLeaf: left.minLeaf,
		}

		next := make([]*clusterNode, 0, len(clusters)-1)
		for k, cl := range clusters {
			if k != bestI && k != bestJ {
				next = append(next, cl)
			}
		}
		clusters = append(next, merged)
	}

	return clusters[0]
}

// pairLess breaks distance ties by the smallest leaf of each pair so the
// dendrogram does not depend on map or slice ordering.
func pairLess(a1, b1, a2, b2 *clusterNode) bool {
	x1, y1 := a1.minLeaf, b1.minLeaf
	if y1 < x1 {
		x1, y1 = y1, x1
	}
	x2, y2 := a2.minLeaf, b2.minLeaf
	if y2 < x2 {
		x2, y2 = y2, x2
	}
	if x1 != x2 {
		return x1 < x2
	}
	return y1 < y2
}

// linkageDistance is the single-linkage (nearest pair) distance.
func linkageDistance(dist [][]float64, a, b *clusterNode) float64 {
	best := math.Inf(1)
	for _, i := range a.leaves {
		for _, j := range b.leaves {
			best = math.Min(best, dist[i][j])
		}
	}
	return best
}

func leafOrder(node *clusterNode) []int {
	if node.left == nil && node.right == nil {
		return []int{node.leaves[0]}
	}
	return append(leafOrder(node.left), leafOrder(node.right)...)
}

func bisect(weights []float64, est *Estimate, order []int) {
	if len(order) <= 1 {
		return
	}
	split := len(order) / 2
	left, right := order[:split], order[split:]

	vLeft := clusterVariance(est, left)
	vRight := clusterVariance(est, right)

	alpha := 0.5
	if vLeft+vRight > 0 {
		alpha = 1 - vLeft/(vLeft+vRight)
	}
	alpha = clamp(alpha, 0, 1)

	for _, i := range left {
		weights[i] *= alpha
	}
	for _, i := range right {
		weights[i] *= 1 - alpha
	}

	bisect(weights, est, left)
	bisect(weights, est, right)
}

// clusterVariance is the variance of the inverse-variance portfolio of idx.
func clusterVariance(est *Estimate, idx []int) float64 {
	if len(idx) == 1 {
		return math.Max(est.Cov.At(idx[0], idx[0]), 0)
	}

	inv := make([]float64, len(idx))
	sum := 0.0
	for k, i := range idx {
		inv[k] = 1 / math.Max(est.Cov.At(i, i), 1e-12)
		sum += inv[k]
	}

	variance := 0.0
	for a, i := range idx {
		for b, j := range idx {
			variance += inv[a] / sum * est.Cov.At(i, j) * inv[b] / sum
		}
	}
	return math.Max(variance, 0)
}
