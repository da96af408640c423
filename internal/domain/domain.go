package domain

import "time"

// FeatureRow is one dated, fully engineered observation. Target is the
// next-day direction label: 1 when the next close is strictly higher, 0
// otherwise, nil on the final row where tomorrow is not yet observed.
type FeatureRow struct {
	Date   time.Time `json:"date"`
	Values []float64 `json:"values"`
	Target *int      `json:"target,omitempty"`
}

// FeatureSet is the engineered frame for one symbol: column names plus rows
// in strict chronological order. Values[i] aligns with Names[i] on every row.
type FeatureSet struct {
	Symbol string       `json:"symbol"`
	Names  []string     `json:"names"`
	Rows   []FeatureRow `json:"rows"`
}

// ColumnIndex returns the position of name in Names, or -1.
func (s *FeatureSet) ColumnIndex(name string) int {
	for i, n := range s.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Column extracts one named column across all rows.
func (s *FeatureSet) Column(name string) ([]float64, bool) {
	idx := s.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(s.Rows))
	for i := range s.Rows {
		out[i] = s.Rows[i].Values[idx]
	}
	return out, true
}

const (
	DirectionUp   = "UP"
	DirectionDown = "DOWN"
)

// Prediction is a persisted next-day direction call. Resolution fields stay
// nil until the target date's bar arrives and the outcome is scored.
type Prediction struct {
	ID             int64      `json:"id"`
	Symbol         string     `json:"symbol"`
	BarDate        time.Time  `json:"bar_date"`
	TargetDate     time.Time  `json:"target_date"`
	ModelVersion   int        `json:"model_version"`
	Variant        string     `json:"variant"`
	Direction      string     `json:"prediction"`
	ProbUp         float64    `json:"prob_up"`
	ProbDown       float64    `json:"prob_down"`
	Confidence     float64    `json:"confidence"`
	CurrentPrice   float64    `json:"current_price"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ActualUp       *bool      `json:"actual_up,omitempty"`
	IsCorrect      *bool      `json:"is_correct,omitempty"`
	RealizedReturn *float64   `json:"realized_return,omitempty"`
}

// ModelVersion is one immutable row in the model registry. ArtifactBlob is
// the serialized ensemble in the format named by ArtifactFormat; version
// numbers increase per symbol and at most one row per symbol is active.
type ModelVersion struct {
	ID                 int64      `json:"id"`
	Symbol             string     `json:"symbol"`
	Version            int        `json:"version"`
	Variant            string     `json:"variant"`
	FeatureSpecVersion string     `json:"feature_spec_version"`
	TrainedFrom        time.Time  `json:"trained_from"`
	TrainedTo          time.Time  `json:"trained_to"`
	TrainedAt          time.Time  `json:"trained_at"`
	HyperparamsJSON    string     `json:"hyperparams_json,omitempty"`
	MetricsJSON        string     `json:"metrics_json,omitempty"`
	ArtifactFormat     string     `json:"artifact_format"`
	ArtifactBlob       []byte     `json:"-"`
	IsActive           bool       `json:"is_active"`
	ActivatedAt        *time.Time `json:"activated_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// User is a registered account. PasswordHash is a bcrypt digest and never
// leaves the server.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Watchlist    []string  `json:"watchlist"`
	CreatedAt    time.Time `json:"created_at"`
}
