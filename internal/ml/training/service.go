// Package training runs the full per-symbol pipeline: bars to features to
// the stacked ensemble, then registry persistence with guarded promotion.
package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/dataset"
	"stock-sage/internal/ml/ensemble"
	"stock-sage/internal/ml/evaluation"
	"stock-sage/internal/ml/features"
	"stock-sage/internal/ml/models/boosted"
	"stock-sage/internal/ml/tuning"
)

// Promotion guards: a challenger needs this much more test AUC than the
// incumbent, measured on at least this many test rows. The first model for
// a symbol is promoted unconditionally.
const (
	promoteMargin      = 0.01
	promoteMinTestRows = 60
)

type BarStore interface {
	BarsSince(ctx context.Context, symbol string, since time.Time) ([]*domain.PriceBar, error)
}

type ModelRegistry interface {
	NextVersion(ctx context.Context, symbol string) (int, error)
	InsertModelVersion(ctx context.Context, model domain.ModelVersion) (*domain.ModelVersion, error)
	GetActiveModel(ctx context.Context, symbol string) (*domain.ModelVersion, error)
	ActivateModel(ctx context.Context, symbol string, version int) error
}

type Config struct {
	Variant          string
	LookbackDays     int
	TrainFraction    float64
	TopK             int
	MinRows          int
	WalkForwardFolds int
	BlendStacked     float64
	BlendRegime      float64
}

type Service struct {
	tracer   trace.Tracer
	bars     BarStore
	registry ModelRegistry
	tuner    tuning.Tuner
	cfg      Config
}

type TrainResult struct {
	Symbol       string  `json:"symbol"`
	Version      int     `json:"version"`
	Variant      string  `json:"variant"`
	Rows         int     `json:"rows"`
	TestRows     int     `json:"test_rows"`
	AUC          float64 `json:"auc"`
	Accuracy     float64 `json:"accuracy"`
	Promoted     bool    `json:"promoted"`
	PromoteError string  `json:"promote_error,omitempty"`
}

// NewService wires the pipeline. A nil tuner skips hyperparameter search
// and trains with the variant defaults.
func NewService(tracer trace.Tracer, bars BarStore, registry ModelRegistry, tuner tuning.Tuner, cfg Config) *Service {
	if cfg.Variant == "" {
		cfg.Variant = ensemble.VariantAdvanced
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 730
	}
	if cfg.TrainFraction <= 0 || cfg.TrainFraction >= 1 {
		cfg.TrainFraction = 0.8
	}
	if cfg.MinRows <= 0 {
		cfg.MinRows = 260
	}
	return &Service{tracer: tracer, bars: bars, registry: registry, tuner: tuner, cfg: cfg}
}

// TrainAll trains every symbol in turn. Per-symbol failures are logged and
// collected in the results, not escalated, so one bad symbol cannot starve
// the rest of the universe.
func (s *Service) TrainAll(ctx context.Context, symbols []string, now time.Time) ([]TrainResult, error) {
	ctx, span := s.tracer.Start(ctx, "ml-training.train-all")
	defer span.End()

	results := make([]TrainResult, 0, len(symbols))
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := s.TrainSymbol(ctx, symbol, now)
		if err != nil {
			log.Printf("training: %s failed: %v", symbol, err)
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

func (s *Service) TrainSymbol(ctx context.Context, symbol string, now time.Time) (*TrainResult, error) {
	ctx, span := s.tracer.Start(ctx, "ml-training.train-symbol")
	defer span.End()

	if s.bars == nil || s.registry == nil {
		return nil, fmt.Errorf("training service is not fully initialized")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("unsupported symbol %q", symbol)
	}

	now = now.UTC()
	bars, err := s.bars.BarsSince(ctx, symbol, now.AddDate(0, 0, -s.cfg.LookbackDays))
	if err != nil {
		return nil, err
	}

	variant, err := features.VariantByName(s.cfg.Variant)
	if err != nil {
		return nil, err
	}
	engine := features.NewEngine(variant)
	set, err := engine.Compute(bars)
	if err != nil {
		return nil, err
	}
	matrix, err := dataset.Build(set, engine.Columns())
	if err != nil {
		return nil, err
	}
	if matrix.Len() < s.cfg.MinRows {
		return nil, fmt.Errorf("%w: %d labeled rows for %s, need at least %d",
			common.ErrDataInsufficiency, matrix.Len(), symbol, s.cfg.MinRows)
	}

	train, test := matrix.SplitChronological(s.cfg.TrainFraction)

	anomalies := dataset.DetectAnomalies(train.X, 0)
	if anomalies.Flagged > 0 {
		log.Printf("training: %s train set has %d/%d anomalous rows (share %.3f)",
			symbol, anomalies.Flagged, anomalies.Rows, anomalies.Share)
	}

	ecfg := s.ensembleConfig()
	if s.tuner != nil {
		if err := s.tuneBoost(ctx, &ecfg, train); err != nil {
			log.Printf("training: tuning for %s failed, keeping variant defaults: %v", symbol, err)
		}
	}

	trainer := ensemble.NewTrainer(ecfg)
	artifact, err := trainer.Train(ctx, train)
	if err != nil {
		return nil, err
	}
	report, err := trainer.Evaluate(test)
	if err != nil {
		return nil, err
	}
	blob, err := artifact.MarshalBinary()
	if err != nil {
		return nil, err
	}

	version, err := s.registry.NextVersion(ctx, symbol)
	if err != nil {
		return nil, err
	}
	hyperJSON, _ := json.Marshal(ecfg)
	metricsJSON, _ := json.Marshal(report)

	inserted, err := s.registry.InsertModelVersion(ctx, domain.ModelVersion{
		Symbol:             symbol,
		Version:            version,
		Variant:            artifact.Variant,
		FeatureSpecVersion: features.FeatureSpecVersion,
		TrainedFrom:        artifact.TrainedFrom,
		TrainedTo:          artifact.TrainedTo,
		TrainedAt:          now,
		HyperparamsJSON:    string(hyperJSON),
		MetricsJSON:        string(metricsJSON),
		ArtifactFormat:     artifact.Format,
		ArtifactBlob:       blob,
		IsActive:           false,
	})
	if err != nil {
		return nil, err
	}

	result := &TrainResult{
		Symbol:   symbol,
		Version:  inserted.Version,
		Variant:  artifact.Variant,
		Rows:     matrix.Len(),
		TestRows: report.N,
		AUC:      report.ROCAUC,
		Accuracy: report.Accuracy,
	}

	promote, promoteErr := s.shouldPromote(ctx, symbol, report)
	if promoteErr != nil {
		result.PromoteError = promoteErr.Error()
		return result, nil
	}
	if promote {
		if err := s.registry.ActivateModel(ctx, symbol, inserted.Version); err != nil {
			result.PromoteError = err.Error()
			return result, nil
		}
		result.Promoted = true
	}
	return result, nil
}

func (s *Service) ensembleConfig() ensemble.Config {
	cfg := ensemble.DefaultConfig(s.cfg.Variant)
	if s.cfg.TopK > 0 {
		cfg.TopK = s.cfg.TopK
	}
	if s.cfg.WalkForwardFolds > 1 {
		cfg.WalkForwardFolds = s.cfg.WalkForwardFolds
	}
	if s.cfg.BlendStacked > 0 {
		cfg.BlendStacked = s.cfg.BlendStacked
	}
	if s.cfg.BlendRegime > 0 {
		cfg.BlendRegime = s.cfg.BlendRegime
	}
	return cfg
}

// tuneBoost searches boosting hyperparameters by mean walk-forward AUC on
// the train split and writes the winners into cfg. Trees are scale
// invariant, so the search runs on the raw columns.
func (s *Service) tuneBoost(ctx context.Context, cfg *ensemble.Config, train *dataset.Matrix) error {
	folds, err := ensemble.TimeSeriesFolds(train.Len(), cfg.WalkForwardFolds)
	if err != nil {
		return err
	}

	objective := func(ctx context.Context, p tuning.Params) (float64, error) {
		opts := boosted.GBDTOptions()
		opts.Rounds = p.Int("rounds")
		opts.MaxDepth = p.Int("max_depth")
		opts.LearningRate = p["learning_rate"]

		total := 0.0
		for _, fold := range folds {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			model := boosted.New(opts)
			if err := model.Fit(train.X[:fold.TrainEnd], train.Y[:fold.TrainEnd]); err != nil {
				return 0, err
			}
			probs := make([]float64, 0, fold.TestEnd-fold.TestStart)
			for i := fold.TestStart; i < fold.TestEnd; i++ {
				_, up, err := model.PredictProba(train.X[i])
				if err != nil {
					return 0, err
				}
				probs = append(probs, up)
			}
			total += evaluation.ROCAUC(probs, train.Y[fold.TestStart:fold.TestEnd])
		}
		return total / float64(len(folds)), nil
	}

	best, err := s.tuner.Suggest(ctx, tuning.DefaultBoostSpace(), objective)
	if err != nil {
		return err
	}
	cfg.BoostRounds = best.Int("rounds")
	cfg.BoostMaxDepth = best.Int("max_depth")
	cfg.BoostLearningRate = best["learning_rate"]
	return nil
}

// shouldPromote compares the challenger's test report against the active
// model for the symbol.
func (s *Service) shouldPromote(ctx context.Context, symbol string, report *evaluation.Report) (bool, error) {
	active, err := s.registry.GetActiveModel(ctx, symbol)
	if err != nil {
		return false, err
	}
	if active == nil {
		return true, nil
	}
	if report.N < promoteMinTestRows {
		return false, nil
	}
	activeAUC, ok := metricValue(active.MetricsJSON, "roc_auc")
	if !ok {
		return true, nil
	}
	return report.ROCAUC >= activeAUC+promoteMargin, nil
}

func metricValue(metricsJSON, key string) (float64, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(metricsJSON), &m); err != nil {
		return 0, false
	}
	raw, ok := m[key]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
