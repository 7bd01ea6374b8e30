package model

import (
	"math/rand"
	"sort"
)

// treeNode is one node of a regression tree, stored in a flattened array
// with every parent preceding its children. Child indices are relative to
// the tree's node slice.
type treeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	Value      float64 `json:"value"`
	IsLeaf     bool    `json:"is_leaf"`
}

type regTree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t *regTree) predict(vec []float64) float64 {
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.IsLeaf {
			return node.Value
		}
		if vec[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
}

// treeConfig bounds tree growth. featureSample is the number of candidate
// features evaluated per split; leafLambda is the L2 regularization applied
// to leaf values (zero for bagged trees).
type treeConfig struct {
	maxDepth      int
	minLeaf       int
	featureSample int
	leafLambda    float64
}

// growTree fits one regression tree on the rows selected by idx. Split gains
// (sum-of-squares reduction) are accumulated per feature into importance.
func growTree(vectors [][]float64, targets []float64, idx []int, cfg treeConfig, rng *rand.Rand, importance []float64) *regTree {
	return &regTree{Nodes: buildNodes(vectors, targets, idx, 0, cfg, rng, importance)}
}

func buildNodes(vectors [][]float64, targets []float64, idx []int, depth int, cfg treeConfig, rng *rand.Rand, importance []float64) []treeNode {
	leaf := func() []treeNode {
		return []treeNode{{
			FeatureIdx: -1,
			LeftChild:  -1,
			RightChild: -1,
			Value:      leafValue(targets, idx, cfg.leafLambda),
			IsLeaf:     true,
		}}
	}

	if depth >= cfg.maxDepth || len(idx) < 2*cfg.minLeaf {
		return leaf()
	}

	feature, threshold, gain, ok := bestSplit(vectors, targets, idx, cfg, rng)
	if !ok {
		return leaf()
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if vectors[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < cfg.minLeaf || len(right) < cfg.minLeaf {
		return leaf()
	}

	if importance != nil {
		importance[feature] += gain
	}

	leftNodes := buildNodes(vectors, targets, left, depth+1, cfg, rng, importance)
	rightNodes := buildNodes(vectors, targets, right, depth+1, cfg, rng, importance)

	root := treeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
		IsLeaf:     false,
	}

	nodes := make([]treeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, leftNodes...)
	nodes = append(nodes, rightNodes...)
	return nodes
}

// bestSplit scans a random subset of features at quartile thresholds and
// returns the split with the largest sum-of-squares reduction.
func bestSplit(vectors [][]float64, targets []float64, idx []int, cfg treeConfig, rng *rand.Rand) (int, float64, float64, bool) {
	width := len(vectors[idx[0]])
	parentSSE := sumSquaredError(targets, idx)

	candidates := featureCandidates(width, cfg.featureSample, rng)

	bestFeature := -1
	bestThreshold := 0.0
	bestGain := 0.0

	values := make([]float64, len(idx))
	for _, feature := range candidates {
		for i, row := range idx {
			values[i] = vectors[row][feature]
		}
		for _, threshold := range quartiles(values) {
			leftSSE, leftN, rightSSE, rightN := splitSSE(vectors, targets, idx, feature, threshold)
			if leftN == 0 || rightN == 0 {
				continue
			}
			gain := parentSSE - leftSSE - rightSSE
			if gain > bestGain {
				bestGain = gain
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}

	if bestFeature < 0 || bestGain <= 0 {
		return -1, 0, 0, false
	}
	return bestFeature, bestThreshold, bestGain, true
}

func featureCandidates(width, sample int, rng *rand.Rand) []int {
	if sample <= 0 || sample >= width {
		all := make([]int, width)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return rng.Perm(width)[:sample]
}

func splitSSE(vectors [][]float64, targets []float64, idx []int, feature int, threshold float64) (leftSSE float64, leftN int, rightSSE float64, rightN int) {
	var leftSum, rightSum float64
	for _, i := range idx {
		if vectors[i][feature] <= threshold {
			leftSum += targets[i]
			leftN++
		} else {
			rightSum += targets[i]
			rightN++
		}
	}
	if leftN == 0 || rightN == 0 {
		return 0, leftN, 0, rightN
	}
	leftMean := leftSum / float64(leftN)
	rightMean := rightSum / float64(rightN)
	for _, i := range idx {
		if vectors[i][feature] <= threshold {
			diff := targets[i] - leftMean
			leftSSE += diff * diff
		} else {
			diff := targets[i] - rightMean
			rightSSE += diff * diff
		}
	}
	return leftSSE, leftN, rightSSE, rightN
}

func sumSquaredError(targets []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	mean := 0.0
	for _, i := range idx {
		mean += targets[i]
	}
	mean /= float64(len(idx))
	sse := 0.0
	for _, i := range idx {
		diff := targets[i] - mean
		sse += diff * diff
	}
	return sse
}

// leafValue is the regularized mean of the targets reaching the leaf.
func leafValue(targets []float64, idx []int, lambda float64) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += targets[i]
	}
	return sum / (float64(len(idx)) + lambda)
}

func quartiles(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return nil
	}
	candidates := []float64{sorted[n/4], sorted[n/2], sorted[3*n/4]}
	unique := candidates[:0]
	var last float64
	for i, c := range candidates {
		if i == 0 || c != last {
			unique = append(unique, c)
			last = c
		}
	}
	return unique
}
