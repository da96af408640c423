// Package inference serves predictions from the active trained artifact per
// symbol: feature computation on the latest bars, the stacked ensemble
// pipeline, persistence and short-lived caching of the result.
package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/dataset"
	"stock-sage/internal/ml/ensemble"
	"stock-sage/internal/ml/features"
)

// ErrNoActiveModel marks symbols that have no promoted model version yet.
var ErrNoActiveModel = errors.New("no active model")

type ModelStore interface {
	GetActiveModel(ctx context.Context, symbol string) (*domain.ModelVersion, error)
}

type BarStore interface {
	LatestBars(ctx context.Context, symbol string, limit int) ([]*domain.PriceBar, error)
	BarsSince(ctx context.Context, symbol string, since time.Time) ([]*domain.PriceBar, error)
}

type PredictionStore interface {
	UpsertPrediction(ctx context.Context, p domain.Prediction) (*domain.Prediction, error)
	ListRecent(ctx context.Context, symbol string, limit int) ([]domain.Prediction, error)
	ListUnresolvedDue(ctx context.Context, asOf time.Time) ([]domain.Prediction, error)
	MarkResolved(ctx context.Context, id int64, actualUp, correct bool, realizedReturn float64) error
}

type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type Config struct {
	HistoryBars int
	CacheTTL    time.Duration
}

type Service struct {
	tracer      trace.Tracer
	models      ModelStore
	bars        BarStore
	predictions PredictionStore
	cache       Cache
	cfg         Config

	mu     sync.Mutex
	loaded map[string]*loadedModel
}

// loadedModel keeps one decoded artifact in memory so repeated predictions
// skip the JSON decode until a new version is promoted.
type loadedModel struct {
	version  int
	artifact *ensemble.TrainedArtifact
	ensemble *ensemble.Ensemble
}

type RunResult struct {
	Predictions int
	Failures    int
}

func NewService(
	tracer trace.Tracer,
	models ModelStore,
	bars BarStore,
	predictions PredictionStore,
	cache Cache,
	cfg Config,
) *Service {
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = 400
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Service{
		tracer:      tracer,
		models:      models,
		bars:        bars,
		predictions: predictions,
		cache:       cache,
		cfg:         cfg,
		loaded:      map[string]*loadedModel{},
	}
}

// Predict produces the next-day direction call for one symbol, persisting
// and caching the result. A cached prediction is returned as-is.
func (s *Service) Predict(ctx context.Context, symbol string) (*domain.Prediction, error) {
	ctx, span := s.tracer.Start(ctx, "ml-inference.predict")
	defer span.End()

	if s.models == nil || s.bars == nil {
		return nil, fmt.Errorf("inference service is not fully initialized")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("unsupported symbol %q", symbol)
	}

	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, predictionCacheKey(symbol)); err == nil && ok {
			var cached domain.Prediction
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return &cached, nil
			}
		}
	}

	model, err := s.activeEnsemble(ctx, symbol)
	if err != nil {
		return nil, err
	}
	bars, err := s.bars.LatestBars(ctx, symbol, s.cfg.HistoryBars)
	if err != nil {
		return nil, err
	}
	pred, err := predictFromBars(symbol, model, bars, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if s.predictions != nil {
		persisted, err := s.predictions.UpsertPrediction(ctx, *pred)
		if err != nil {
			return nil, err
		}
		pred = persisted
	}
	if s.cache != nil {
		if blob, err := json.Marshal(pred); err == nil {
			if err := s.cache.Set(ctx, predictionCacheKey(symbol), string(blob), s.cfg.CacheTTL); err != nil {
				log.Printf("inference: cache prediction for %s: %v", symbol, err)
			}
		}
	}
	return pred, nil
}

// PredictBatch predicts every requested symbol, collecting per-symbol
// failures instead of aborting the batch.
type BatchItem struct {
	Symbol     string             `json:"symbol"`
	Prediction *domain.Prediction `json:"prediction,omitempty"`
	Error      string             `json:"error,omitempty"`
}

func (s *Service) PredictBatch(ctx context.Context, symbols []string) []BatchItem {
	items := make([]BatchItem, 0, len(symbols))
	for _, symbol := range symbols {
		pred, err := s.Predict(ctx, symbol)
		if err != nil {
			items = append(items, BatchItem{Symbol: strings.ToUpper(strings.TrimSpace(symbol)), Error: err.Error()})
			continue
		}
		items = append(items, BatchItem{Symbol: pred.Symbol, Prediction: pred})
	}
	return items
}

// History returns the most recent stored predictions for a symbol, newest
// first, including resolved outcomes.
func (s *Service) History(ctx context.Context, symbol string, limit int) ([]domain.Prediction, error) {
	ctx, span := s.tracer.Start(ctx, "ml-inference.history")
	defer span.End()

	if s.predictions == nil {
		return nil, fmt.Errorf("inference service is not fully initialized")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !domain.IsSupportedSymbol(symbol) {
		return nil, fmt.Errorf("unsupported symbol %q", symbol)
	}
	return s.predictions.ListRecent(ctx, symbol, limit)
}

// RunAll refreshes predictions for the given symbols, counting failures
// rather than stopping at the first one.
func (s *Service) RunAll(ctx context.Context, symbols []string) (RunResult, error) {
	result := RunResult{}
	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.Predict(ctx, symbol); err != nil {
			log.Printf("inference: predict %s: %v", symbol, err)
			result.Failures++
			continue
		}
		result.Predictions++
	}
	return result, nil
}

// ResolveOutcomes grades matured predictions against the first close after
// their bar date and returns how many were resolved. Predictions whose next
// close is not posted yet stay pending.
func (s *Service) ResolveOutcomes(ctx context.Context, now time.Time) (int, error) {
	ctx, span := s.tracer.Start(ctx, "ml-inference.resolve-outcomes")
	defer span.End()

	if s.predictions == nil || s.bars == nil {
		return 0, fmt.Errorf("inference service is not fully initialized")
	}
	due, err := s.predictions.ListUnresolvedDue(ctx, now)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for i := range due {
		pred := due[i]
		bars, err := s.bars.BarsSince(ctx, pred.Symbol, pred.BarDate)
		if err != nil {
			return resolved, err
		}
		baseClose, nextClose, ok := closesAround(bars, pred.BarDate)
		if !ok {
			continue
		}
		actualUp := nextClose > baseClose
		correct := actualUp == (pred.Direction == domain.DirectionUp)
		realized := 0.0
		if baseClose != 0 {
			realized = (nextClose - baseClose) / baseClose
		}
		if err := s.predictions.MarkResolved(ctx, pred.ID, actualUp, correct, realized); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

func (s *Service) activeEnsemble(ctx context.Context, symbol string) (*loadedModel, error) {
	version, err := s.models.GetActiveModel(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if version == nil {
		return nil, fmt.Errorf("%w for %s", ErrNoActiveModel, symbol)
	}

	s.mu.Lock()
	cached, ok := s.loaded[symbol]
	s.mu.Unlock()
	if ok && cached.version == version.Version {
		return cached, nil
	}

	artifact := &ensemble.TrainedArtifact{}
	if err := artifact.UnmarshalBinary(version.ArtifactBlob); err != nil {
		return nil, err
	}
	decoded, err := artifact.Decode()
	if err != nil {
		return nil, err
	}
	model := &loadedModel{version: version.Version, artifact: artifact, ensemble: decoded}
	s.mu.Lock()
	s.loaded[symbol] = model
	s.mu.Unlock()
	return model, nil
}

// predictFromBars is the pure inference path: features for the latest row,
// column check against the artifact, the ensemble pipeline, then the
// prediction record. No I/O.
func predictFromBars(symbol string, model *loadedModel, bars []*domain.PriceBar, now time.Time) (*domain.Prediction, error) {
	variant, err := features.VariantByName(model.artifact.Variant)
	if err != nil {
		return nil, err
	}
	set, err := features.NewEngine(variant).Compute(bars)
	if err != nil {
		return nil, err
	}
	frame, err := dataset.Clean(set, model.artifact.AllColumns)
	if err != nil {
		return nil, err
	}
	if len(frame.Rows) == 0 {
		return nil, fmt.Errorf("%w: no feature rows for %s", common.ErrDataInsufficiency, symbol)
	}

	last := len(frame.Rows) - 1
	down, up, err := model.ensemble.Probabilities(frame.Rows[last])
	if err != nil {
		return nil, err
	}

	barDate := frame.Dates[last]
	return &domain.Prediction{
		Symbol:       symbol,
		BarDate:      barDate,
		TargetDate:   barDate.AddDate(0, 0, 1),
		ModelVersion: model.version,
		Variant:      model.artifact.Variant,
		Direction:    common.DirectionFromProb(up),
		ProbUp:       up,
		ProbDown:     down,
		Confidence:   common.Confidence(up) * 100,
		CurrentPrice: bars[len(bars)-1].Close,
		CreatedAt:    now,
	}, nil
}

// closesAround returns the close on barDate and the first close strictly
// after it. Bars must be ascending by date.
func closesAround(bars []*domain.PriceBar, barDate time.Time) (float64, float64, bool) {
	base, haveBase := 0.0, false
	for _, bar := range bars {
		if bar.BarDate.Equal(barDate) {
			base = bar.Close
			haveBase = true
			continue
		}
		if haveBase && bar.BarDate.After(barDate) {
			return base, bar.Close, true
		}
	}
	return 0, 0, false
}

func predictionCacheKey(symbol string) string {
	return "prediction:" + symbol
}
