package dataset

import (
	"github.com/narumiruna/go-iforest/pkg/iforest"
)

// DefaultAnomalyThreshold marks the isolation-forest score above which a
// row counts as anomalous.
const DefaultAnomalyThreshold = 0.6

// AnomalyReport summarizes how unusual the training rows look. It is
// diagnostic only: flagged rows are reported, never dropped.
type AnomalyReport struct {
	Rows      int     `json:"rows"`
	Flagged   int     `json:"flagged"`
	Share     float64 `json:"share"`
	Threshold float64 `json:"threshold"`
}

// DetectAnomalies fits an isolation forest on the cleaned rows and counts
// scores above the threshold. A non-positive threshold uses the default.
func DetectAnomalies(X [][]float64, threshold float64) AnomalyReport {
	if threshold <= 0 {
		threshold = DefaultAnomalyThreshold
	}
	report := AnomalyReport{Rows: len(X), Threshold: threshold}
	if len(X) < 10 {
		return report
	}

	forest := iforest.New()
	forest.Fit(X)
	for _, score := range forest.Score(X) {
		if score > threshold {
			report.Flagged++
		}
	}
	report.Share = float64(report.Flagged) / float64(len(X))
	return report
}
