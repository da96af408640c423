package logreg

import (
	"errors"
	"math"
	"testing"

	"stock-sage/internal/ml/common"
)

func TestFitPredictAndRoundTrip(t *testing.T) {
	t.Parallel()

	samples, labels := separableData()
	model := New(DefaultOptions())
	if err := model.Fit(samples, labels); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	_, pLow, err := model.PredictProba([]float64{-2, -2})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	_, pHigh, err := model.PredictProba([]float64{3, 3})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pLow >= 0.5 {
		t.Fatalf("expected low sample prob < 0.5, got %.4f", pLow)
	}
	if pHigh <= 0.5 {
		t.Fatalf("expected high sample prob > 0.5, got %.4f", pHigh)
	}

	blob, err := model.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	restored := New(Options{})
	if err := restored.UnmarshalBinary(blob); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	_, pRestored, err := restored.PredictProba([]float64{3, 3})
	if err != nil {
		t.Fatalf("predict restored: %v", err)
	}
	if diff := math.Abs(pRestored - pHigh); diff > 1e-12 {
		t.Fatalf("roundtrip changed prediction by %.12f", diff)
	}
}

func TestProbabilitiesSumToOne(t *testing.T) {
	t.Parallel()

	samples, labels := separableData()
	model := New(DefaultOptions())
	if err := model.Fit(samples, labels); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	down, up, err := model.PredictProba([]float64{0.3, -0.4})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if math.Abs(down+up-1) > 1e-12 {
		t.Fatalf("down+up = %v", down+up)
	}
}

func TestFitRejectsSingleClass(t *testing.T) {
	t.Parallel()

	samples := [][]float64{{1, 2}, {2, 3}, {3, 4}}
	labels := []int{1, 1, 1}
	model := New(DefaultOptions())
	if err := model.Fit(samples, labels); !errors.Is(err, common.ErrModelFit) {
		t.Fatalf("expected ErrModelFit, got %v", err)
	}
}

func TestPredictDimensionMismatch(t *testing.T) {
	t.Parallel()

	samples, labels := separableData()
	model := New(DefaultOptions())
	if err := model.Fit(samples, labels); err != nil {
		t.Fatalf("fit failed: %v", err)
	}
	if _, _, err := model.PredictProba([]float64{1}); !errors.Is(err, common.ErrArtifactMismatch) {
		t.Fatalf("expected ErrArtifactMismatch, got %v", err)
	}
}

func TestBalancedFitShiftsMinorityBoundary(t *testing.T) {
	t.Parallel()

	// 90/10 imbalance: the balanced fit should give the minority class a
	// higher probability at the class centroid than the unbalanced fit.
	samples := make([][]float64, 0, 100)
	labels := make([]int, 0, 100)
	for i := 0; i < 90; i++ {
		samples = append(samples, []float64{-1 - float64(i%7)/10})
		labels = append(labels, 0)
	}
	for i := 0; i < 10; i++ {
		samples = append(samples, []float64{1 + float64(i%5)/10})
		labels = append(labels, 1)
	}

	plain := New(DefaultOptions())
	if err := plain.Fit(samples, labels); err != nil {
		t.Fatalf("plain fit: %v", err)
	}
	balanced := New(Options{LearningRate: 0.05, Epochs: 600, L2: 0.0001, Balanced: true})
	if err := balanced.Fit(samples, labels); err != nil {
		t.Fatalf("balanced fit: %v", err)
	}

	probe := []float64{0.2}
	_, pPlain, err := plain.PredictProba(probe)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	_, pBalanced, err := balanced.PredictProba(probe)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if pBalanced <= pPlain {
		t.Fatalf("balanced prob %.4f should exceed plain prob %.4f", pBalanced, pPlain)
	}
}

func separableData() ([][]float64, []int) {
	samples := make([][]float64, 0, 80)
	labels := make([]int, 0, 80)
	for i := 0; i < 40; i++ {
		samples = append(samples, []float64{-1.5 - float64(i)/40, -1.0 - float64(i)/60})
		labels = append(labels, 0)
	}
	for i := 0; i < 40; i++ {
		samples = append(samples, []float64{1.0 + float64(i)/40, 1.4 + float64(i)/60})
		labels = append(labels, 1)
	}
	return samples, labels
}
