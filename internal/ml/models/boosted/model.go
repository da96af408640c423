// Package boosted wraps the boo gradient-boosted tree library behind the
// classifier contract. Two presets cover the roster: a conservative
// gradient-boosting configuration and a faster-learning xgboost-style one.
package boosted

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/models"

	"github.com/rmera/boo"
	"github.com/rmera/boo/utils"
)

type Options struct {
	Key          string
	Rounds       int
	LearningRate float64
	MaxDepth     int
}

// GBDTOptions is the gradient-boosting preset.
func GBDTOptions() Options {
	return Options{Key: common.ModelKeyGBDT, Rounds: 300, LearningRate: 0.03, MaxDepth: 5}
}

// XGBoostOptions is the xgboost-style preset.
func XGBoostOptions() Options {
	return Options{Key: common.ModelKeyXGBoost, Rounds: 500, LearningRate: 0.02, MaxDepth: 5}
}

type artifact struct {
	Key          string  `json:"key"`
	Rounds       int     `json:"rounds"`
	LearningRate float64 `json:"learning_rate"`
	MaxDepth     int     `json:"max_depth"`
	FeatureCount int     `json:"feature_count"`
	ModelText    string  `json:"model_text"`
}

type Model struct {
	opts  Options
	nFeat int
	boost *boo.MultiClass
}

func New(opts Options) *Model {
	def := GBDTOptions()
	if opts.Key == "" {
		opts.Key = def.Key
	}
	if opts.Rounds <= 0 {
		opts.Rounds = def.Rounds
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = def.LearningRate
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
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

	keys := make([]string, len(X[0]))
	for i := range keys {
		keys[i] = fmt.Sprintf("f%d", i)
	}

	o := boo.DefaultXOptions()
	o.Rounds = m.opts.Rounds
	o.LearningRate = m.opts.LearningRate
	o.MaxDepth = m.opts.MaxDepth
	o.Verbose = false
	o.EarlyStop = 0

	data := &utils.DataBunch{
		Data:   X,
		Labels: append([]int{}, y...),
		Keys:   keys,
	}
	boost := boo.NewMultiClass(data, o)
	if boost == nil {
		return fmt.Errorf("%w: %s training produced no model", common.ErrModelFit, m.opts.Key)
	}
	m.boost = boost
	m.nFeat = len(X[0])
	return nil
}

func (m *Model) PredictProba(x []float64) (float64, float64, error) {
	if m.boost == nil {
		return 0, 0, fmt.Errorf("%w: %s is not fitted", common.ErrModelFit, m.opts.Key)
	}
	if m.nFeat > 0 && len(x) != m.nFeat {
		return 0, 0, fmt.Errorf("%w: %d features, model wants %d", common.ErrArtifactMismatch, len(x), m.nFeat)
	}
	up := 0.5
	probs := m.boost.PredictSingle(x)
	labels := m.boost.ClassLabels()
	found := false
	for i := range labels {
		if labels[i] == 1 {
			up = common.Clamp01(probs[i])
			found = true
			break
		}
	}
	if !found && len(probs) > 0 {
		up = common.Clamp01(probs[len(probs)-1])
	}
	return 1 - up, up, nil
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if m.boost == nil {
		return nil, fmt.Errorf("%w: %s is not fitted", common.ErrModelFit, m.opts.Key)
	}
	var buf bytes.Buffer
	if err := boo.JSONMultiClass(m.boost, "softmax", &buf); err != nil {
		return nil, err
	}
	return json.Marshal(artifact{
		Key:          m.opts.Key,
		Rounds:       m.opts.Rounds,
		LearningRate: m.opts.LearningRate,
		MaxDepth:     m.opts.MaxDepth,
		FeatureCount: m.nFeat,
		ModelText:    buf.String(),
	})
}

func (m *Model) UnmarshalBinary(blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("%w: empty boosted artifact", common.ErrArtifactMismatch)
	}
	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return fmt.Errorf("%w: %v", common.ErrArtifactMismatch, err)
	}
	boost, err := boo.UnJSONMultiClass(bufio.NewReader(bytes.NewReader([]byte(a.ModelText))))
	if err != nil {
		return fmt.Errorf("%w: decode boosted model: %v", common.ErrArtifactMismatch, err)
	}
	if a.Key != "" {
		m.opts.Key = a.Key
	}
	if a.Rounds > 0 {
		m.opts.Rounds = a.Rounds
	}
	if a.LearningRate > 0 {
		m.opts.LearningRate = a.LearningRate
	}
	if a.MaxDepth > 0 {
		m.opts.MaxDepth = a.MaxDepth
	}
	m.nFeat = a.FeatureCount
	m.boost = boost
	return nil
}
