package ensemble

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"stock-sage/internal/ml/common"
)

type ScalerKind string

const (
	ScalerRobust   ScalerKind = "robust"
	ScalerStandard ScalerKind = "standard"
)

// ScalerParams holds the per-column center and scale fitted on training
// rows. The transform is reused verbatim at inference and never refit.
type ScalerParams struct {
	Kind   ScalerKind `json:"kind"`
	Center []float64  `json:"center"`
	Scale  []float64  `json:"scale"`
}

// FitScaler computes robust (median / IQR) or standard (mean / std)
// parameters per column. Zero-spread columns get scale 1 so constant
// features pass through unchanged.
func FitScaler(kind ScalerKind, X [][]float64) (ScalerParams, error) {
	if len(X) == 0 || len(X[0]) == 0 {
		return ScalerParams{}, fmt.Errorf("%w: no rows to fit scaler", common.ErrDataInsufficiency)
	}
	if kind == "" {
		kind = ScalerRobust
	}
	if kind != ScalerRobust && kind != ScalerStandard {
		return ScalerParams{}, fmt.Errorf("unknown scaler kind %q", kind)
	}

	nFeat := len(X[0])
	params := ScalerParams{
		Kind:   kind,
		Center: make([]float64, nFeat),
		Scale:  make([]float64, nFeat),
	}
	col := make([]float64, len(X))
	for j := 0; j < nFeat; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		switch kind {
		case ScalerRobust:
			sorted := append([]float64{}, col...)
			sort.Float64s(sorted)
			params.Center[j] = stat.Quantile(0.5, stat.LinInterp, sorted, nil)
			iqr := stat.Quantile(0.75, stat.LinInterp, sorted, nil) - stat.Quantile(0.25, stat.LinInterp, sorted, nil)
			params.Scale[j] = iqr
		case ScalerStandard:
			mean := stat.Mean(col, nil)
			params.Center[j] = mean
			params.Scale[j] = populationStd(col, mean)
		}
		if params.Scale[j] == 0 {
			params.Scale[j] = 1
		}
	}
	return params, nil
}

// Transform returns a new matrix; the input is never mutated.
func (p ScalerParams) Transform(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled, err := p.TransformRow(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}

func (p ScalerParams) TransformRow(row []float64) ([]float64, error) {
	if len(row) != len(p.Center) {
		return nil, fmt.Errorf("%w: row has %d columns, scaler fitted on %d", common.ErrArtifactMismatch, len(row), len(p.Center))
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - p.Center[j]) / p.Scale[j]
	}
	return out, nil
}

func populationStd(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
