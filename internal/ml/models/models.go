// Package models defines the classifier contract every base learner
// implements, plus the input validation and class weighting they share.
package models

import (
	"fmt"

	"stock-sage/internal/ml/common"
)

// Classifier is a binary direction model. Fit consumes scaled, selected
// feature rows with 0/1 labels; PredictProba returns the class
// probabilities for one row. Marshal and Unmarshal round-trip the fitted
// state exactly.
type Classifier interface {
	Name() string
	Fit(X [][]float64, y []int) error
	PredictProba(x []float64) (down, up float64, err error)
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// WeightedFitter is implemented by learners that accept per-sample weights.
type WeightedFitter interface {
	FitWeighted(X [][]float64, y []int, weights []float64) error
}

// ValidateTrainingInput rejects empty, mismatched or ragged training data.
func ValidateTrainingInput(X [][]float64, y []int) error {
	if len(X) == 0 || len(X) != len(y) {
		return fmt.Errorf("%w: %d rows, %d labels", common.ErrModelFit, len(X), len(y))
	}
	width := len(X[0])
	if width == 0 {
		return fmt.Errorf("%w: empty feature vectors", common.ErrModelFit)
	}
	for i, row := range X {
		if len(row) != width {
			return fmt.Errorf("%w: ragged row %d has %d features, want %d", common.ErrModelFit, i, len(row), width)
		}
	}
	for i, v := range y {
		if v != 0 && v != 1 {
			return fmt.Errorf("%w: label %d at row %d is not binary", common.ErrModelFit, v, i)
		}
	}
	return nil
}

// CheckBinaryLabels rejects degenerate single-class label sets.
func CheckBinaryLabels(y []int) error {
	var zeros, ones int
	for _, v := range y {
		if v == 1 {
			ones++
		} else {
			zeros++
		}
	}
	if zeros == 0 || ones == 0 {
		return fmt.Errorf("%w: labels contain a single class", common.ErrModelFit)
	}
	return nil
}

// BalancedWeights gives each sample the weight n/(2*count(class)) so both
// classes contribute equally to a weighted loss.
func BalancedWeights(y []int) []float64 {
	var zeros, ones int
	for _, v := range y {
		if v == 1 {
			ones++
		} else {
			zeros++
		}
	}
	n := float64(len(y))
	w := make([]float64, len(y))
	for i, v := range y {
		count := zeros
		if v == 1 {
			count = ones
		}
		if count == 0 {
			w[i] = 1
			continue
		}
		w[i] = n / (2 * float64(count))
	}
	return w
}

// PredictBatch scores every row and returns the up-probabilities.
func PredictBatch(c Classifier, X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		_, up, err := c.PredictProba(row)
		if err != nil {
			return nil, fmt.Errorf("predict row %d: %w", i, err)
		}
		out[i] = up
	}
	return out, nil
}
