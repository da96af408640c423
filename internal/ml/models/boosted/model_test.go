package boosted

import (
	"errors"
	"math/rand"
	"testing"

	"stock-sage/internal/ml/common"
)

func testOptions() Options {
	return Options{Key: common.ModelKeyGBDT, Rounds: 30, LearningRate: 0.2, MaxDepth: 3}
}

func TestFitLearnsSeparableData(t *testing.T) {
	t.Parallel()

	X, y := separableData(200, 17)
	m := New(testOptions())
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}

	correct := 0
	for i := range X {
		_, up, err := m.PredictProba(X[i])
		if err != nil {
			t.Fatalf("predict row %d: %v", i, err)
		}
		if (up >= 0.5) == (y[i] == 1) {
			correct++
		}
	}
	acc := float64(correct) / float64(len(X))
	if acc < 0.85 {
		t.Fatalf("train accuracy = %.3f, want >= 0.85", acc)
	}
}

func TestPredictProbaSumsToOne(t *testing.T) {
	t.Parallel()

	X, y := separableData(120, 5)
	m := New(testOptions())
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	down, up, err := m.PredictProba(X[3])
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if s := down + up; s < 0.999 || s > 1.001 {
		t.Fatalf("down+up = %f, want 1", s)
	}
	if up < 0 || up > 1 {
		t.Fatalf("up = %f out of range", up)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	X, y := separableData(150, 23)
	m := New(testOptions())
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	blob, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := New(Options{Key: common.ModelKeyGBDT})
	if err := restored.UnmarshalBinary(blob); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for i := 0; i < len(X); i += 7 {
		_, want, _ := m.PredictProba(X[i])
		_, got, err := restored.PredictProba(X[i])
		if err != nil {
			t.Fatalf("restored predict: %v", err)
		}
		if diff := got - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("row %d: restored %v, original %v", i, got, want)
		}
	}
}

func TestFitRejectsSingleClass(t *testing.T) {
	t.Parallel()

	X := [][]float64{{1, 2}, {3, 4}, {5, 6}, {7, 8}}
	err := New(testOptions()).Fit(X, []int{0, 0, 0, 0})
	if !errors.Is(err, common.ErrModelFit) {
		t.Fatalf("err = %v, want ErrModelFit", err)
	}
}

func TestPredictBeforeFit(t *testing.T) {
	t.Parallel()

	_, _, err := New(testOptions()).PredictProba([]float64{1, 2})
	if !errors.Is(err, common.ErrModelFit) {
		t.Fatalf("err = %v, want ErrModelFit", err)
	}
}

func TestPredictDimensionMismatch(t *testing.T) {
	t.Parallel()

	X, y := separableData(120, 3)
	m := New(testOptions())
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	_, _, err := m.PredictProba([]float64{1, 2, 3})
	if !errors.Is(err, common.ErrArtifactMismatch) {
		t.Fatalf("err = %v, want ErrArtifactMismatch", err)
	}
}

func TestVariantDefaults(t *testing.T) {
	t.Parallel()

	if got := GBDTOptions().Key; got != common.ModelKeyGBDT {
		t.Fatalf("gbdt key = %q", got)
	}
	if got := XGBoostOptions().Key; got != common.ModelKeyXGBoost {
		t.Fatalf("xgb key = %q", got)
	}
	if GBDTOptions().Rounds == XGBoostOptions().Rounds {
		t.Fatal("variants should not share round counts")
	}
}

func separableData(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		label := rng.Intn(2)
		center := -1.5
		if label == 1 {
			center = 1.5
		}
		X[i] = []float64{center + rng.NormFloat64()*0.5, rng.NormFloat64() * 0.3}
		y[i] = label
	}
	return X, y
}
