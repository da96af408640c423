// Package common holds the error taxonomy, model keys and small numeric
// helpers shared across the ML pipeline packages.
package common

import "errors"

var (
	// ErrDataInsufficiency means too few usable rows remain for the
	// requested operation after warm-up and cleaning.
	ErrDataInsufficiency = errors.New("ml: insufficient data")

	// ErrModelFit means a base model rejected its training input or
	// failed to converge. The trainer excludes such models and keeps
	// going while at least two healthy ones remain.
	ErrModelFit = errors.New("ml: model fit failed")

	// ErrArtifactMismatch means a stored artifact's format version or
	// feature layout does not match what the caller supplies.
	ErrArtifactMismatch = errors.New("ml: artifact mismatch")

	// ErrExternalData means an upstream market data source failed or
	// returned nothing usable.
	ErrExternalData = errors.New("ml: external data unavailable")

	// ErrBackendUnavailable means an optional model backend is not
	// registered in this build.
	ErrBackendUnavailable = errors.New("ml: model backend unavailable")
)

// Model keys name base learners inside rosters and artifacts.
const (
	ModelKeyGBDT       = "gbdt"
	ModelKeyXGBoost    = "xgb"
	ModelKeyRF         = "random_forest"
	ModelKeyExtraTrees = "extra_trees"
	ModelKeyMLP        = "mlp"
	ModelKeyLogReg     = "logreg"
	ModelKeyLightGBM   = "lgbm"
	ModelKeyCatBoost   = "catboost"
)

// Clamp01 bounds a probability to [0, 1], mapping NaN to 0.5.
func Clamp01(v float64) float64 {
	if v != v {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Confidence is the probability of the predicted class.
func Confidence(probUp float64) float64 {
	if probUp >= 0.5 {
		return probUp
	}
	return 1 - probUp
}

// DirectionFromProb maps an up-probability to its label, breaking the
// exact tie upward.
func DirectionFromProb(probUp float64) string {
	if probUp >= 0.5 {
		return "UP"
	}
	return "DOWN"
}
