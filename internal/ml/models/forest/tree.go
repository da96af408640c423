package forest

import (
	"math/rand"
	"sort"
)

// node is one decision tree node. Leaves carry the weighted up-probability
// of the samples that reached them. The short JSON keys keep serialized
// forests compact.
type node struct {
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Left      *node   `json:"l,omitempty"`
	Right     *node   `json:"r,omitempty"`
	Prob      float64 `json:"p"`
	Leaf      bool    `json:"x,omitempty"`
}

func (n *node) predict(row []float64) float64 {
	for !n.Leaf {
		if row[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Prob
}

type growConfig struct {
	maxDepth         int
	minSamplesSplit  int
	minSamplesLeaf   int
	maxFeatures      int
	randomThresholds bool
	weights          []float64
}

func growTree(X [][]float64, y []int, idx []int, depth int, cfg growConfig, rng *rand.Rand) *node {
	prob, pure := leafStats(y, idx, cfg.weights)
	if pure || depth >= cfg.maxDepth || len(idx) < cfg.minSamplesSplit {
		return &node{Leaf: true, Prob: prob}
	}

	bestGain := 0.0
	bestFeature := -1
	bestThreshold := 0.0
	for _, f := range sampleFeatures(len(X[0]), cfg.maxFeatures, rng) {
		var thr, gain float64
		var ok bool
		if cfg.randomThresholds {
			thr, gain, ok = randomSplit(X, y, idx, f, cfg, rng)
		} else {
			thr, gain, ok = bestSplit(X, y, idx, f, cfg)
		}
		if ok && gain > bestGain {
			bestGain, bestFeature, bestThreshold = gain, f, thr
		}
	}
	if bestFeature < 0 {
		return &node{Leaf: true, Prob: prob}
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if X[i][bestFeature] <= bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < cfg.minSamplesLeaf || len(right) < cfg.minSamplesLeaf {
		return &node{Leaf: true, Prob: prob}
	}
	return &node{
		Feature:   bestFeature,
		Threshold: bestThreshold,
		Prob:      prob,
		Left:      growTree(X, y, left, depth+1, cfg, rng),
		Right:     growTree(X, y, right, depth+1, cfg, rng),
	}
}

// leafStats returns the weighted up share and whether the node is pure.
func leafStats(y []int, idx []int, weights []float64) (float64, bool) {
	var wUp, wTotal float64
	var ones int
	for _, i := range idx {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		wTotal += w
		if y[i] == 1 {
			wUp += w
			ones++
		}
	}
	if wTotal == 0 {
		return 0.5, true
	}
	return wUp / wTotal, ones == 0 || ones == len(idx)
}

func sampleFeatures(nFeat, k int, rng *rand.Rand) []int {
	if k >= nFeat {
		out := make([]int, nFeat)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return rng.Perm(nFeat)[:k]
}

// bestSplit sweeps sorted feature values and evaluates every midpoint by
// weighted Gini gain.
func bestSplit(X [][]float64, y []int, idx []int, f int, cfg growConfig) (float64, float64, bool) {
	order := make([]int, len(idx))
	copy(order, idx)
	sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

	var totalW, totalUp float64
	for _, i := range order {
		w := sampleWeight(cfg.weights, i)
		totalW += w
		if y[i] == 1 {
			totalUp += w
		}
	}
	if totalW == 0 {
		return 0, 0, false
	}
	parent := gini(totalUp, totalW)

	var leftW, leftUp float64
	bestGain, bestThr := 0.0, 0.0
	found := false
	for pos := 0; pos < len(order)-1; pos++ {
		i := order[pos]
		w := sampleWeight(cfg.weights, i)
		leftW += w
		if y[i] == 1 {
			leftUp += w
		}
		cur, next := X[i][f], X[order[pos+1]][f]
		if cur == next {
			continue
		}
		if pos+1 < cfg.minSamplesLeaf || len(order)-pos-1 < cfg.minSamplesLeaf {
			continue
		}
		rightW := totalW - leftW
		if leftW == 0 || rightW == 0 {
			continue
		}
		gain := parent - (leftW/totalW)*gini(leftUp, leftW) - (rightW/totalW)*gini(totalUp-leftUp, rightW)
		if gain > bestGain {
			bestGain = gain
			bestThr = (cur + next) / 2
			found = true
		}
	}
	return bestThr, bestGain, found
}

// randomSplit draws one uniform threshold inside the value range, in the
// extra-trees manner.
func randomSplit(X [][]float64, y []int, idx []int, f int, cfg growConfig, rng *rand.Rand) (float64, float64, bool) {
	lo, hi := X[idx[0]][f], X[idx[0]][f]
	for _, i := range idx[1:] {
		v := X[i][f]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return 0, 0, false
	}
	thr := lo + rng.Float64()*(hi-lo)

	var totalW, totalUp, leftW, leftUp float64
	var leftN, rightN int
	for _, i := range idx {
		w := sampleWeight(cfg.weights, i)
		totalW += w
		up := y[i] == 1
		if up {
			totalUp += w
		}
		if X[i][f] <= thr {
			leftN++
			leftW += w
			if up {
				leftUp += w
			}
		} else {
			rightN++
		}
	}
	if leftN < cfg.minSamplesLeaf || rightN < cfg.minSamplesLeaf || leftW == 0 || leftW == totalW {
		return 0, 0, false
	}
	rightW := totalW - leftW
	gain := gini(totalUp, totalW) - (leftW/totalW)*gini(leftUp, leftW) - (rightW/totalW)*gini(totalUp-leftUp, rightW)
	return thr, gain, true
}

func sampleWeight(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	return weights[i]
}

// gini is the binary impurity of a weighted sample.
func gini(up, total float64) float64 {
	p := up / total
	return 1 - p*p - (1-p)*(1-p)
}
