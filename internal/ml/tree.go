package ml

import (
	"math/rand"
	"sort"
)

// Node is one element of a flattened binary regression tree.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Leaf      bool
	Value     float64
}

// Tree is a CART regression tree stored as a node slice rooted at index 0.
type Tree struct {
	Nodes []Node
}

func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

type treeParams struct {
	maxDepth    int
	minLeaf     int
	maxFeatures int
	rng         *rand.Rand
}

// leafFunc computes a leaf's output from the rows that reached it.
type leafFunc func(rows []int) float64

type treeBuilder struct {
	X      [][]float64
	target []float64
	p      treeParams
	leaf   leafFunc
	nodes  []Node
}

// buildTree grows a variance-reducing tree over rows. For 0/1 targets the
// variance criterion ranks splits the same way as Gini impurity.
func buildTree(X [][]float64, target []float64, rows []int, p treeParams, leaf leafFunc) *Tree {
	if p.minLeaf < 1 {
		p.minLeaf = 1
	}
	b := &treeBuilder{X: X, target: target, p: p, leaf: leaf}
	b.grow(rows, 0)
	return &Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{})

	if (b.p.maxDepth > 0 && depth >= b.p.maxDepth) || len(rows) < 2*b.p.minLeaf {
		b.nodes[idx] = Node{Leaf: true, Value: b.leaf(rows)}
		return idx
	}

	feature, threshold, ok := b.bestSplit(rows)
	if !ok {
		b.nodes[idx] = Node{Leaf: true, Value: b.leaf(rows)}
		return idx
	}

	var left, right []int
	for _, r := range rows {
		if b.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[idx] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return idx
}

func (b *treeBuilder) candidateFeatures() []int {
	width := len(b.X[0])
	all := make([]int, width)
	for i := range all {
		all[i] = i
	}
	if b.p.maxFeatures <= 0 || b.p.maxFeatures >= width || b.p.rng == nil {
		return all
	}
	b.p.rng.Shuffle(width, func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:b.p.maxFeatures]
}

func (b *treeBuilder) bestSplit(rows []int) (int, float64, bool) {
	n := float64(len(rows))
	var sum, sumSq float64
	for _, r := range rows {
		sum += b.target[r]
		sumSq += b.target[r] * b.target[r]
	}
	parent := sumSq - sum*sum/n

	bestGain := 1e-12
	bestFeature, bestThreshold, found := 0, 0.0, false

	sorted := make([]int, len(rows))
	for _, f := range b.candidateFeatures() {
		copy(sorted, rows)
		sort.Slice(sorted, func(i, j int) bool { return b.X[sorted[i]][f] < b.X[sorted[j]][f] })

		var ls, lsq float64
		for i := 0; i < len(sorted)-1; i++ {
			t := b.target[sorted[i]]
			ls += t
			lsq += t * t

			nl := float64(i + 1)
			if i+1 < b.p.minLeaf || len(sorted)-(i+1) < b.p.minLeaf {
				continue
			}
			cur, next := b.X[sorted[i]][f], b.X[sorted[i+1]][f]
			if cur == next {
				continue
			}
			nr := n - nl
			rs, rsq := sum-ls, sumSq-lsq
			sse := (lsq - ls*ls/nl) + (rsq - rs*rs/nr)
			if gain := parent - sse; gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}
