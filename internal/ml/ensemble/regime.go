package ensemble

import (
	"context"
	"log"
	"sort"

	"gonum.org/v1/gonum/stat"

	"stock-sage/internal/ml/models"
	"stock-sage/internal/ml/models/forest"
)

const (
	RegimeLow  = "low"
	RegimeMid  = "mid"
	RegimeHigh = "high"
)

// RegimeArtifact persists the volatility tercile cut points and the model
// blob fitted per regime. Cut points come from the raw, pre-scaling
// volatility column over training rows; inference compares a single new
// value against these stored cuts rather than recomputing anything.
type RegimeArtifact struct {
	CutLow    float64           `json:"cut_low"`
	CutHigh   float64           `json:"cut_high"`
	VolColumn string            `json:"vol_column"`
	Models    map[string][]byte `json:"models"`
}

// Pick maps a raw volatility value onto the matching regime key.
func (r *RegimeArtifact) Pick(vol float64) string {
	if vol <= r.CutLow {
		return RegimeLow
	}
	if vol > r.CutHigh {
		return RegimeHigh
	}
	return RegimeMid
}

// fitRegimes cuts the training rows at the 33rd/67th percentiles of the raw
// volatility feature and fits one light forest per tercile holding more
// than cfg.MinRegimeSamples rows. Smaller or degenerate terciles are
// skipped, never force-fit.
func fitRegimes(ctx context.Context, cfg Config, rawVol []float64, X [][]float64, y []int) (*RegimeArtifact, map[string]models.Classifier, error) {
	if len(rawVol) == 0 {
		return nil, nil, nil
	}
	sorted := append([]float64{}, rawVol...)
	sort.Float64s(sorted)
	art := &RegimeArtifact{
		CutLow:    stat.Quantile(0.33, stat.LinInterp, sorted, nil),
		CutHigh:   stat.Quantile(0.67, stat.LinInterp, sorted, nil),
		VolColumn: cfg.VolatilityColumn,
		Models:    map[string][]byte{},
	}

	buckets := map[string][]int{}
	for i, v := range rawVol {
		key := art.Pick(v)
		buckets[key] = append(buckets[key], i)
	}

	live := map[string]models.Classifier{}
	for _, key := range []string{RegimeLow, RegimeMid, RegimeHigh} {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rows := buckets[key]
		if len(rows) <= cfg.MinRegimeSamples {
			log.Printf("ensemble: skipping %s volatility regime, %d samples", key, len(rows))
			continue
		}
		subX := make([][]float64, len(rows))
		subY := make([]int, len(rows))
		for i, idx := range rows {
			subX[i] = X[idx]
			subY[i] = y[idx]
		}
		model := forest.New(forest.RegimeForestOptions())
		if err := model.Fit(subX, subY); err != nil {
			log.Printf("ensemble: skipping %s volatility regime: %v", key, err)
			continue
		}
		blob, err := model.MarshalBinary()
		if err != nil {
			return nil, nil, err
		}
		art.Models[key] = blob
		live[key] = model
	}
	if len(art.Models) == 0 {
		return nil, nil, nil
	}
	return art, live, nil
}
