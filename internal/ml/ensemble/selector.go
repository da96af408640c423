package ensemble

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"stock-sage/internal/ml/common"
)

type SelectorScorer string

const (
	ScorerMutualInfo SelectorScorer = "mutual_info"
	ScorerFStat      SelectorScorer = "f_classif"
)

const mutualInfoBins = 10

// SelectorParams records which feature columns survived selection. Indices
// are ascending so the selected subset preserves the original column order.
// The zero value is an identity selector that keeps every column.
type SelectorParams struct {
	Scorer  SelectorScorer `json:"scorer,omitempty"`
	K       int            `json:"k,omitempty"`
	Indices []int          `json:"indices,omitempty"`
	Names   []string       `json:"names,omitempty"`
	Scores  []float64      `json:"scores,omitempty"`
}

// FitSelector scores every column against the target and keeps the top k.
// k <= 0 or k >= column count keeps all columns, scores still recorded.
func FitSelector(scorer SelectorScorer, k int, X [][]float64, y []int, names []string) (SelectorParams, error) {
	if len(X) == 0 || len(X[0]) == 0 {
		return SelectorParams{}, fmt.Errorf("%w: no rows to fit selector", common.ErrDataInsufficiency)
	}
	nFeat := len(X[0])
	if len(names) != nFeat {
		return SelectorParams{}, fmt.Errorf("selector: %d names for %d columns", len(names), nFeat)
	}
	if scorer != ScorerMutualInfo && scorer != ScorerFStat {
		return SelectorParams{}, fmt.Errorf("unknown selector scorer %q", scorer)
	}

	scores := make([]float64, nFeat)
	col := make([]float64, len(X))
	for j := 0; j < nFeat; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		var s float64
		switch scorer {
		case ScorerMutualInfo:
			s = mutualInfo(col, y)
		case ScorerFStat:
			s = fStatistic(col, y)
		}
		scores[j] = finiteScore(s)
	}

	if k <= 0 || k > nFeat {
		k = nFeat
	}
	ranked := make([]int, nFeat)
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool { return scores[ranked[a]] > scores[ranked[b]] })
	kept := append([]int{}, ranked[:k]...)
	sort.Ints(kept)

	params := SelectorParams{
		Scorer:  scorer,
		K:       k,
		Indices: kept,
		Names:   make([]string, k),
		Scores:  make([]float64, k),
	}
	for i, idx := range kept {
		params.Names[i] = names[idx]
		params.Scores[i] = scores[idx]
	}
	return params, nil
}

// Transform keeps only the selected columns. The identity selector returns
// the input unchanged.
func (p SelectorParams) Transform(X [][]float64) ([][]float64, error) {
	if len(p.Indices) == 0 {
		return X, nil
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		selected, err := p.TransformRow(row)
		if err != nil {
			return nil, err
		}
		out[i] = selected
	}
	return out, nil
}

func (p SelectorParams) TransformRow(row []float64) ([]float64, error) {
	if len(p.Indices) == 0 {
		return row, nil
	}
	out := make([]float64, len(p.Indices))
	for i, idx := range p.Indices {
		if idx >= len(row) {
			return nil, fmt.Errorf("%w: selector index %d outside row of %d columns", common.ErrArtifactMismatch, idx, len(row))
		}
		out[i] = row[idx]
	}
	return out, nil
}

// mutualInfo estimates I(X;Y) in nats by quantile-binning the feature into
// at most ten bins.
func mutualInfo(col []float64, y []int) float64 {
	n := len(col)
	bins := mutualInfoBins
	if n < 2*bins {
		bins = n / 2
	}
	if bins < 2 {
		return 0
	}

	sorted := append([]float64{}, col...)
	sort.Float64s(sorted)
	edges := make([]float64, 0, bins-1)
	for b := 1; b < bins; b++ {
		edges = append(edges, stat.Quantile(float64(b)/float64(bins), stat.LinInterp, sorted, nil))
	}

	joint := make(map[[2]int]int)
	binCount := make(map[int]int)
	classCount := make(map[int]int)
	for i, v := range col {
		b := 0
		for _, edge := range edges {
			if v > edge {
				b++
			}
		}
		joint[[2]int{b, y[i]}]++
		binCount[b]++
		classCount[y[i]]++
	}

	info := 0.0
	total := float64(n)
	for cell, count := range joint {
		pxy := float64(count) / total
		px := float64(binCount[cell[0]]) / total
		py := float64(classCount[cell[1]]) / total
		info += pxy * math.Log(pxy/(px*py))
	}
	if info < 0 {
		info = 0
	}
	return info
}

// fStatistic is the one-way ANOVA F score of the feature between classes.
func fStatistic(col []float64, y []int) float64 {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	grand := 0.0
	for i, v := range col {
		sums[y[i]] += v
		counts[y[i]]++
		grand += v
	}
	k := len(counts)
	n := len(col)
	if k < 2 || n <= k {
		return 0
	}
	grand /= float64(n)

	ssBetween := 0.0
	means := make(map[int]float64, k)
	for class, sum := range sums {
		mean := sum / float64(counts[class])
		means[class] = mean
		d := mean - grand
		ssBetween += float64(counts[class]) * d * d
	}
	ssWithin := 0.0
	for i, v := range col {
		d := v - means[y[i]]
		ssWithin += d * d
	}
	if ssWithin == 0 {
		return math.Inf(1)
	}
	return (ssBetween / float64(k-1)) / (ssWithin / float64(n-k))
}

func finiteScore(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	if math.IsInf(s, 1) {
		return 1e12
	}
	if math.IsInf(s, -1) {
		return 0
	}
	return s
}
