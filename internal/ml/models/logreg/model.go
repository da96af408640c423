// Package logreg implements L2-regularized logistic regression trained by
// batch gradient descent, with optional per-sample weights. It serves as
// the optional linear base learner and as the stacking meta learner.
package logreg

import (
	"encoding/json"
	"fmt"
	"math"

	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/models"
)

type Options struct {
	LearningRate float64
	Epochs       int
	L2           float64
	Balanced     bool
}

func DefaultOptions() Options {
	return Options{LearningRate: 0.05, Epochs: 600, L2: 0.0001}
}

// MetaOptions configures the stacking meta learner: balanced classes and
// more epochs on a very small input width.
func MetaOptions() Options {
	return Options{LearningRate: 0.1, Epochs: 1000, L2: 0.001, Balanced: true}
}

type artifact struct {
	FeatureCount int       `json:"feature_count"`
	Weights      []float64 `json:"weights"`
	Bias         float64   `json:"bias"`
	Means        []float64 `json:"means"`
	Stds         []float64 `json:"stds"`
	LearningRate float64   `json:"learning_rate"`
	Epochs       int       `json:"epochs"`
	L2           float64   `json:"l2"`
	Balanced     bool      `json:"balanced"`
}

type Model struct {
	opts Options
	art  artifact
}

func New(opts Options) *Model {
	def := DefaultOptions()
	if opts.LearningRate <= 0 {
		opts.LearningRate = def.LearningRate
	}
	if opts.Epochs <= 0 {
		opts.Epochs = def.Epochs
	}
	if opts.L2 < 0 {
		opts.L2 = def.L2
	}
	return &Model{opts: opts}
}

func (m *Model) Name() string { return common.ModelKeyLogReg }

func (m *Model) Fit(X [][]float64, y []int) error {
	var weights []float64
	if m.opts.Balanced {
		weights = models.BalancedWeights(y)
	}
	return m.FitWeighted(X, y, weights)
}

// FitWeighted trains on X with per-sample weights; nil weights mean uniform.
// Features are z-scored internally and the normalization is stored in the
// artifact so prediction input stays raw.
func (m *Model) FitWeighted(X [][]float64, y []int, weights []float64) error {
	if err := models.ValidateTrainingInput(X, y); err != nil {
		return err
	}
	if err := models.CheckBinaryLabels(y); err != nil {
		return err
	}
	if weights != nil && len(weights) != len(y) {
		return fmt.Errorf("%w: %d weights for %d rows", common.ErrModelFit, len(weights), len(y))
	}

	nFeat := len(X[0])
	means, stds := columnStats(X)
	norm := make([][]float64, len(X))
	for i, row := range X {
		norm[i] = normalizeRow(row, means, stds)
	}
	if weights == nil {
		weights = make([]float64, len(y))
		for i := range weights {
			weights[i] = 1
		}
	}
	weightSum := 0.0
	for _, w := range weights {
		weightSum += w
	}
	if weightSum <= 0 {
		return fmt.Errorf("%w: non-positive weight sum", common.ErrModelFit)
	}

	w := make([]float64, nFeat)
	bias := 0.0
	grads := make([]float64, nFeat)
	for epoch := 0; epoch < m.opts.Epochs; epoch++ {
		for j := range grads {
			grads[j] = 0
		}
		gradBias := 0.0
		for i, row := range norm {
			p := sigmoid(dot(w, row) + bias)
			residual := (p - float64(y[i])) * weights[i]
			for j, v := range row {
				grads[j] += residual * v
			}
			gradBias += residual
		}
		for j := range w {
			w[j] -= m.opts.LearningRate * (grads[j]/weightSum + m.opts.L2*w[j])
		}
		bias -= m.opts.LearningRate * gradBias / weightSum
	}

	m.art = artifact{
		FeatureCount: nFeat,
		Weights:      w,
		Bias:         bias,
		Means:        means,
		Stds:         stds,
		LearningRate: m.opts.LearningRate,
		Epochs:       m.opts.Epochs,
		L2:           m.opts.L2,
		Balanced:     m.opts.Balanced,
	}
	return nil
}

func (m *Model) PredictProba(x []float64) (float64, float64, error) {
	if len(m.art.Weights) == 0 {
		return 0, 0, fmt.Errorf("%w: logreg is not fitted", common.ErrModelFit)
	}
	if len(x) != m.art.FeatureCount {
		return 0, 0, fmt.Errorf("%w: %d features, model wants %d", common.ErrArtifactMismatch, len(x), m.art.FeatureCount)
	}
	z := m.art.Bias
	for j, v := range x {
		std := m.art.Stds[j]
		if std == 0 {
			std = 1
		}
		z += m.art.Weights[j] * (v - m.art.Means[j]) / std
	}
	up := sigmoid(z)
	return 1 - up, up, nil
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if len(m.art.Weights) == 0 {
		return nil, fmt.Errorf("%w: logreg is not fitted", common.ErrModelFit)
	}
	return json.Marshal(m.art)
}

func (m *Model) UnmarshalBinary(blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("%w: empty logreg artifact", common.ErrArtifactMismatch)
	}
	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return fmt.Errorf("%w: %v", common.ErrArtifactMismatch, err)
	}
	if a.FeatureCount <= 0 || len(a.Weights) != a.FeatureCount ||
		len(a.Means) != a.FeatureCount || len(a.Stds) != a.FeatureCount {
		return fmt.Errorf("%w: inconsistent logreg artifact", common.ErrArtifactMismatch)
	}
	m.art = a
	m.opts = Options{LearningRate: a.LearningRate, Epochs: a.Epochs, L2: a.L2, Balanced: a.Balanced}
	return nil
}

func columnStats(X [][]float64) ([]float64, []float64) {
	nFeat := len(X[0])
	means := make([]float64, nFeat)
	stds := make([]float64, nFeat)
	for j := 0; j < nFeat; j++ {
		sum := 0.0
		for _, row := range X {
			sum += row[j]
		}
		mean := sum / float64(len(X))
		variance := 0.0
		for _, row := range X {
			d := row[j] - mean
			variance += d * d
		}
		means[j] = mean
		stds[j] = math.Sqrt(variance / float64(len(X)))
	}
	return means, stds
}

func normalizeRow(row, means, stds []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		std := stds[j]
		if std == 0 {
			std = 1
		}
		out[j] = (v - means[j]) / std
	}
	return out
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func sigmoid(z float64) float64 {
	if z > 35 {
		return 1
	}
	if z < -35 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}
