// Package ensemble trains the stacked direction classifier: robust scaling,
// feature selection, walk-forward validated base models, Platt calibration,
// out-of-fold stacking and volatility-regime specialists, bundled into an
// immutable TrainedArtifact.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/stat"

	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/dataset"
	"stock-sage/internal/ml/evaluation"
	"stock-sage/internal/ml/models"
	"stock-sage/internal/ml/models/logreg"
)

// Phase is the trainer's position in the training state machine. No
// transition is reversible; a new run always starts from a fresh trainer.
type Phase string

const (
	PhaseUnfit       Phase = "unfit"
	PhaseScaled      Phase = "scaled"
	PhaseSelected    Phase = "selected"
	PhaseBaseTrained Phase = "base_trained"
	PhaseCalibrated  Phase = "calibrated"
	PhaseStacked     Phase = "stacked"
	PhaseEvaluated   Phase = "evaluated"
)

// Training variants. They share the state machine and differ in feature
// set, scaler, selector and roster; enhanced additionally skips the
// meta-learner and averages calibrated probabilities by walk-forward AUC.
const (
	VariantBaseline  = "baseline"
	VariantEnhanced  = "enhanced"
	VariantOptimized = "optimized"
	VariantAdvanced  = "advanced"
)

type Config struct {
	Variant          string
	ScalerKind       ScalerKind
	SelectorScorer   SelectorScorer // empty disables selection
	TopK             int
	Roster           []string
	UseMeta          bool
	WalkForwardFolds int
	StackingFolds    int
	MinRegimeSamples int
	VolatilityColumn string
	BlendStacked     float64
	BlendRegime      float64
	MinTrainRows     int

	// optional overrides for the gbdt roster entry, fed by the tuner
	BoostRounds       int
	BoostLearningRate float64
	BoostMaxDepth     int

	Seed int64
}

// DefaultConfig returns the full configuration for a variant. Unknown
// variant names resolve to advanced. Callers adjust fields from here
// rather than building a Config from scratch.
func DefaultConfig(variant string) Config {
	cfg := Config{
		Variant:          variant,
		ScalerKind:       ScalerRobust,
		SelectorScorer:   ScorerMutualInfo,
		TopK:             30,
		UseMeta:          true,
		WalkForwardFolds: 3,
		StackingFolds:    3,
		MinRegimeSamples: 50,
		VolatilityColumn: "Volatility",
		BlendStacked:     0.7,
		BlendRegime:      0.3,
		MinTrainRows:     120,
		Seed:             42,
	}
	switch variant {
	case VariantBaseline:
		cfg.SelectorScorer = ""
		cfg.TopK = 0
	case VariantEnhanced:
		cfg.SelectorScorer = ScorerFStat
		cfg.TopK = 25
		cfg.UseMeta = false
	case VariantOptimized:
		cfg.ScalerKind = ScalerStandard
		cfg.TopK = 35
	default:
		cfg.Variant = VariantAdvanced
	}
	cfg.Roster = variantRoster(cfg.Variant)
	return cfg
}

// baseState carries one base model through the stages.
type baseState struct {
	key        string
	build      Builder
	auc        float64
	oofScores  []float64
	oofLabels  []int
	model      models.Classifier
	calibrator *SigmoidCalibrator
}

// Trainer runs one training pass. It is single-use: Train moves the phase
// forward through Stacked, Evaluate finishes at Evaluated, and any further
// Train call fails.
type Trainer struct {
	cfg      Config
	phase    Phase
	artifact *TrainedArtifact
	live     *Ensemble
}

func NewTrainer(cfg Config) *Trainer {
	def := DefaultConfig(cfg.Variant)
	if cfg.ScalerKind == "" {
		cfg.ScalerKind = def.ScalerKind
	}
	if len(cfg.Roster) == 0 {
		cfg.Roster = def.Roster
	}
	if cfg.WalkForwardFolds < 2 {
		cfg.WalkForwardFolds = def.WalkForwardFolds
	}
	if cfg.StackingFolds < 2 {
		cfg.StackingFolds = def.StackingFolds
	}
	if cfg.MinRegimeSamples <= 0 {
		cfg.MinRegimeSamples = def.MinRegimeSamples
	}
	if cfg.VolatilityColumn == "" {
		cfg.VolatilityColumn = def.VolatilityColumn
	}
	if cfg.BlendStacked <= 0 && cfg.BlendRegime <= 0 {
		cfg.BlendStacked = def.BlendStacked
		cfg.BlendRegime = def.BlendRegime
	}
	if cfg.MinTrainRows <= 0 {
		cfg.MinTrainRows = def.MinTrainRows
	}
	return &Trainer{cfg: cfg, phase: PhaseUnfit}
}

func (t *Trainer) Phase() Phase { return t.phase }

// Train runs scale, select, walk-forward base training, calibration,
// stacking and the regime split over the training matrix, in that order,
// and returns the immutable artifact. Stages are strictly sequential; only
// tree fitting inside one forest runs concurrently.
func (t *Trainer) Train(ctx context.Context, m *dataset.Matrix) (*TrainedArtifact, error) {
	if t.phase != PhaseUnfit {
		return nil, fmt.Errorf("ensemble: trainer already ran (phase %s)", t.phase)
	}
	n := m.Len()
	if n < t.cfg.MinTrainRows {
		return nil, fmt.Errorf("%w: %d training rows, need at least %d", common.ErrDataInsufficiency, n, t.cfg.MinTrainRows)
	}

	scaler, err := FitScaler(t.cfg.ScalerKind, m.X)
	if err != nil {
		return nil, err
	}
	scaledX, err := scaler.Transform(m.X)
	if err != nil {
		return nil, err
	}
	t.phase = PhaseScaled
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	selector := SelectorParams{}
	selX := scaledX
	if t.cfg.SelectorScorer != "" {
		selector, err = FitSelector(t.cfg.SelectorScorer, t.cfg.TopK, scaledX, m.Y, m.Cols)
		if err != nil {
			return nil, err
		}
		selX, err = selector.Transform(scaledX)
		if err != nil {
			return nil, err
		}
	}
	t.phase = PhaseSelected
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	folds, err := TimeSeriesFolds(n, t.cfg.WalkForwardFolds)
	if err != nil {
		return nil, err
	}
	var bases []*baseState
	for _, key := range t.cfg.Roster {
		bs, err := t.walkForward(ctx, key, selX, m.Y, folds)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, common.ErrBackendUnavailable) {
				log.Printf("ensemble: skipping backend %s: %v", key, err)
			} else {
				log.Printf("ensemble: dropping %s after walk-forward failure: %v", key, err)
			}
			continue
		}
		bases = append(bases, bs)
	}
	if len(bases) < 2 {
		return nil, fmt.Errorf("%w: only %d base models survived walk-forward, need 2", common.ErrDataInsufficiency, len(bases))
	}
	t.phase = PhaseBaseTrained
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var survivors []*baseState
	for _, bs := range bases {
		model, err := bs.build(t.cfg)
		if err != nil {
			log.Printf("ensemble: dropping %s at refit: %v", bs.key, err)
			continue
		}
		if err := model.Fit(selX, m.Y); err != nil {
			log.Printf("ensemble: dropping %s at full refit: %v", bs.key, err)
			continue
		}
		bs.model = model
		bs.calibrator, err = FitSigmoid(bs.oofScores, bs.oofLabels)
		if err != nil {
			log.Printf("ensemble: %s calibration unavailable, using raw probabilities: %v", bs.key, err)
			bs.calibrator = nil
		}
		survivors = append(survivors, bs)
	}
	if len(survivors) < 2 {
		return nil, fmt.Errorf("%w: only %d base models survived calibration, need 2", common.ErrDataInsufficiency, len(survivors))
	}
	bases = survivors
	t.phase = PhaseCalibrated
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var meta *logreg.Model
	if t.cfg.UseMeta {
		meta, bases, err = t.fitMeta(ctx, bases, selX, m.Y)
		if err != nil {
			return nil, err
		}
	}
	t.phase = PhaseStacked
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rawVol, _ := m.Column(t.cfg.VolatilityColumn)
	regimeArt, regimeLive, err := fitRegimes(ctx, t.cfg, rawVol, selX, m.Y)
	if err != nil {
		return nil, err
	}

	artifact, live, err := t.assemble(m, scaler, selector, bases, meta, regimeArt, regimeLive)
	if err != nil {
		return nil, err
	}
	t.artifact = artifact
	t.live = live
	return artifact, nil
}

// walkForward fits one base model per expanding fold and pools the
// out-of-fold (score, label) pairs for calibration. The mean fold AUC
// doubles as the model's voting weight.
func (t *Trainer) walkForward(ctx context.Context, key string, X [][]float64, y []int, folds []Fold) (*baseState, error) {
	build := builderFor(key)
	bs := &baseState{key: key, build: build}
	scores := make([]float64, 0, len(folds))
	for _, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		model, err := build(t.cfg)
		if err != nil {
			return nil, err
		}
		if err := model.Fit(X[:fold.TrainEnd], y[:fold.TrainEnd]); err != nil {
			return nil, err
		}
		probs := make([]float64, 0, fold.TestEnd-fold.TestStart)
		labels := make([]int, 0, fold.TestEnd-fold.TestStart)
		for i := fold.TestStart; i < fold.TestEnd; i++ {
			_, up, err := model.PredictProba(X[i])
			if err != nil {
				return nil, err
			}
			probs = append(probs, up)
			labels = append(labels, y[i])
		}
		score := evaluation.ROCAUC(probs, labels)
		if math.IsNaN(score) {
			score = evaluation.Accuracy(probs, labels)
		}
		scores = append(scores, score)
		bs.oofScores = append(bs.oofScores, probs...)
		bs.oofLabels = append(bs.oofLabels, labels...)
	}
	bs.auc = stat.Mean(scores, nil)
	return bs, nil
}

// Evaluate scores the held-out matrix with the freshly trained ensemble and
// closes the state machine. Valid only once, directly after Train.
func (t *Trainer) Evaluate(m *dataset.Matrix) (*evaluation.Report, error) {
	if t.phase != PhaseStacked {
		return nil, fmt.Errorf("ensemble: evaluate requires a stacked trainer (phase %s)", t.phase)
	}
	probs := make([]float64, m.Len())
	for i := range m.X {
		_, up, err := t.live.Probabilities(m.X[i])
		if err != nil {
			return nil, err
		}
		probs[i] = up
	}
	report, err := evaluation.Evaluate(probs, m.Y)
	if err != nil {
		return nil, err
	}
	t.phase = PhaseEvaluated
	return report, nil
}

// Ensemble returns the live ensemble once training finished.
func (t *Trainer) Ensemble() *Ensemble { return t.live }
