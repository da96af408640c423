// Package evaluation computes classification metrics for direction models:
// accuracy, rank-based ROC-AUC, log-loss and confidence-stratified accuracy.
package evaluation

import (
	"fmt"
	"math"
	"sort"

	"stock-sage/internal/ml/common"
)

// ConfidenceThresholds are the strata reported by Evaluate.
var ConfidenceThresholds = []float64{0.6, 0.7, 0.8}

type ConfidenceBucket struct {
	Threshold float64 `json:"threshold"`
	Count     int     `json:"count"`
	Accuracy  float64 `json:"accuracy"`
}

type Report struct {
	N          int                `json:"n"`
	Accuracy   float64            `json:"accuracy"`
	ROCAUC     float64            `json:"roc_auc"`
	LogLoss    float64            `json:"log_loss"`
	Confidence []ConfidenceBucket `json:"confidence"`
}

// Evaluate scores up-probabilities against the true 0/1 labels. Stratified
// accuracy is reported for rows whose confidence exceeds each threshold;
// monotonicity across strata is a health signal, not an enforced property.
func Evaluate(upProbs []float64, y []int) (*Report, error) {
	if len(upProbs) == 0 {
		return nil, fmt.Errorf("%w: no rows to evaluate", common.ErrDataInsufficiency)
	}
	if len(upProbs) != len(y) {
		return nil, fmt.Errorf("%w: %d probabilities for %d labels", common.ErrDataInsufficiency, len(upProbs), len(y))
	}

	report := &Report{
		N:        len(y),
		Accuracy: Accuracy(upProbs, y),
		ROCAUC:   ROCAUC(upProbs, y),
		LogLoss:  LogLoss(upProbs, y),
	}
	if math.IsNaN(report.ROCAUC) {
		// single-class sets rank as chance so the report stays marshalable
		report.ROCAUC = 0.5
	}
	for _, threshold := range ConfidenceThresholds {
		count, correct := 0, 0
		for i, p := range upProbs {
			if common.Confidence(p) <= threshold {
				continue
			}
			count++
			if predictedUp(p) == (y[i] == 1) {
				correct++
			}
		}
		bucket := ConfidenceBucket{Threshold: threshold, Count: count}
		if count > 0 {
			bucket.Accuracy = float64(correct) / float64(count)
		}
		report.Confidence = append(report.Confidence, bucket)
	}
	return report, nil
}

func Accuracy(upProbs []float64, y []int) float64 {
	if len(upProbs) == 0 {
		return 0
	}
	correct := 0
	for i, p := range upProbs {
		if predictedUp(p) == (y[i] == 1) {
			correct++
		}
	}
	return float64(correct) / float64(len(upProbs))
}

// ROCAUC is the Mann-Whitney rank statistic with tie-averaged ranks.
// Returns NaN when only one class is present.
func ROCAUC(upProbs []float64, y []int) float64 {
	n := len(upProbs)
	pos := 0
	for _, label := range y {
		if label == 1 {
			pos++
		}
	}
	neg := n - pos
	if pos == 0 || neg == 0 {
		return math.NaN()
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return upProbs[order[a]] < upProbs[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && upProbs[order[j+1]] == upProbs[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		i = j + 1
	}

	rankSum := 0.0
	for i, label := range y {
		if label == 1 {
			rankSum += ranks[i]
		}
	}
	return (rankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}

// LogLoss is the mean binary cross entropy with probabilities clipped to
// [1e-15, 1-1e-15].
func LogLoss(upProbs []float64, y []int) float64 {
	if len(upProbs) == 0 {
		return 0
	}
	const eps = 1e-15
	sum := 0.0
	for i, p := range upProbs {
		if p < eps {
			p = eps
		} else if p > 1-eps {
			p = 1 - eps
		}
		if y[i] == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(len(upProbs))
}

func predictedUp(p float64) bool { return p >= 0.5 }
