// Package forest implements bagged decision-tree classifiers: a classic
// random forest and an extra-trees variant with random split thresholds.
// Trees are grown concurrently but deterministically, each from its own
// seeded generator.
package forest

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/models"
)

type Options struct {
	Key              string
	Trees            int
	MaxDepth         int
	MinSamplesSplit  int
	MinSamplesLeaf   int
	MaxFeatures      string // "sqrt", "log2" or "" for all
	Bootstrap        bool
	RandomThresholds bool
	Balanced         bool
	Seed             int64
}

// RandomForestOptions is the bootstrap-aggregated preset with balanced
// class weights.
func RandomForestOptions() Options {
	return Options{
		Key:             common.ModelKeyRF,
		Trees:           300,
		MaxDepth:        10,
		MinSamplesSplit: 15,
		MinSamplesLeaf:  5,
		MaxFeatures:     "sqrt",
		Bootstrap:       true,
		Balanced:        true,
		Seed:            42,
	}
}

// ExtraTreesOptions is the randomized-threshold preset grown on the full
// sample without bootstrapping.
func ExtraTreesOptions() Options {
	return Options{
		Key:              common.ModelKeyExtraTrees,
		Trees:            300,
		MaxDepth:         10,
		MinSamplesSplit:  10,
		MinSamplesLeaf:   4,
		MaxFeatures:      "sqrt",
		RandomThresholds: true,
		Seed:             42,
	}
}

// RegimeForestOptions is the lighter forest fitted per volatility regime,
// where each tercile sees only a third of the rows.
func RegimeForestOptions() Options {
	return Options{
		Key:             common.ModelKeyRF,
		Trees:           200,
		MaxDepth:        8,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     "sqrt",
		Bootstrap:       true,
		Seed:            42,
	}
}

type artifactOptions struct {
	Key              string `json:"key"`
	Trees            int    `json:"trees"`
	MaxDepth         int    `json:"max_depth"`
	MinSamplesSplit  int    `json:"min_samples_split"`
	MinSamplesLeaf   int    `json:"min_samples_leaf"`
	MaxFeatures      string `json:"max_features"`
	Bootstrap        bool   `json:"bootstrap"`
	RandomThresholds bool   `json:"random_thresholds"`
	Balanced         bool   `json:"balanced"`
	Seed             int64  `json:"seed"`
}

type artifact struct {
	Options      artifactOptions `json:"options"`
	FeatureCount int             `json:"feature_count"`
	Trees        []*node         `json:"trees"`
}

type Model struct {
	opts  Options
	nFeat int
	trees []*node
}

func New(opts Options) *Model {
	def := RandomForestOptions()
	if opts.Key == "" {
		opts.Key = def.Key
	}
	if opts.Trees <= 0 {
		opts.Trees = def.Trees
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.MinSamplesSplit < 2 {
		opts.MinSamplesSplit = 2
	}
	if opts.MinSamplesLeaf < 1 {
		opts.MinSamplesLeaf = 1
	}
	return &Model{opts: opts}
}

func (m *Model) Name() string { return m.opts.Key }

func (m *Model) Fit(X [][]float64, y []int) error {
	if err := models.ValidateTrainingInput(X, y); err != nil {
		return err
	}
	if err := models.CheckBinaryLabels(y); err != nil {
		return err
	}

	n := len(X)
	cfg := growConfig{
		maxDepth:         m.opts.MaxDepth,
		minSamplesSplit:  m.opts.MinSamplesSplit,
		minSamplesLeaf:   m.opts.MinSamplesLeaf,
		maxFeatures:      featureSampleSize(m.opts.MaxFeatures, len(X[0])),
		randomThresholds: m.opts.RandomThresholds,
	}
	if m.opts.Balanced {
		cfg.weights = models.BalancedWeights(y)
	}

	trees := make([]*node, m.opts.Trees)
	var wg sync.WaitGroup
	for t := 0; t < m.opts.Trees; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(m.opts.Seed + int64(t)))
			idx := make([]int, n)
			if m.opts.Bootstrap {
				for i := range idx {
					idx[i] = rng.Intn(n)
				}
			} else {
				for i := range idx {
					idx[i] = i
				}
			}
			trees[t] = growTree(X, y, idx, 0, cfg, rng)
		}(t)
	}
	wg.Wait()

	m.trees = trees
	m.nFeat = len(X[0])
	return nil
}

func (m *Model) PredictProba(x []float64) (float64, float64, error) {
	if len(m.trees) == 0 {
		return 0, 0, fmt.Errorf("%w: %s is not fitted", common.ErrModelFit, m.opts.Key)
	}
	if len(x) != m.nFeat {
		return 0, 0, fmt.Errorf("%w: %d features, model wants %d", common.ErrArtifactMismatch, len(x), m.nFeat)
	}
	sum := 0.0
	for _, t := range m.trees {
		sum += t.predict(x)
	}
	up := common.Clamp01(sum / float64(len(m.trees)))
	return 1 - up, up, nil
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if len(m.trees) == 0 {
		return nil, fmt.Errorf("%w: %s is not fitted", common.ErrModelFit, m.opts.Key)
	}
	return json.Marshal(artifact{
		Options: artifactOptions{
			Key:              m.opts.Key,
			Trees:            m.opts.Trees,
			MaxDepth:         m.opts.MaxDepth,
			MinSamplesSplit:  m.opts.MinSamplesSplit,
			MinSamplesLeaf:   m.opts.MinSamplesLeaf,
			MaxFeatures:      m.opts.MaxFeatures,
			Bootstrap:        m.opts.Bootstrap,
			RandomThresholds: m.opts.RandomThresholds,
			Balanced:         m.opts.Balanced,
			Seed:             m.opts.Seed,
		},
		FeatureCount: m.nFeat,
		Trees:        m.trees,
	})
}

func (m *Model) UnmarshalBinary(blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("%w: empty forest artifact", common.ErrArtifactMismatch)
	}
	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return fmt.Errorf("%w: %v", common.ErrArtifactMismatch, err)
	}
	if a.FeatureCount <= 0 || len(a.Trees) == 0 {
		return fmt.Errorf("%w: inconsistent forest artifact", common.ErrArtifactMismatch)
	}
	m.opts = Options{
		Key:              a.Options.Key,
		Trees:            a.Options.Trees,
		MaxDepth:         a.Options.MaxDepth,
		MinSamplesSplit:  a.Options.MinSamplesSplit,
		MinSamplesLeaf:   a.Options.MinSamplesLeaf,
		MaxFeatures:      a.Options.MaxFeatures,
		Bootstrap:        a.Options.Bootstrap,
		RandomThresholds: a.Options.RandomThresholds,
		Balanced:         a.Options.Balanced,
		Seed:             a.Options.Seed,
	}
	m.nFeat = a.FeatureCount
	m.trees = a.Trees
	return nil
}

func featureSampleSize(mode string, nFeat int) int {
	switch mode {
	case "sqrt":
		k := int(math.Sqrt(float64(nFeat)))
		if k < 1 {
			k = 1
		}
		return k
	case "log2":
		k := int(math.Log2(float64(nFeat)))
		if k < 1 {
			k = 1
		}
		return k
	default:
		return nFeat
	}
}
