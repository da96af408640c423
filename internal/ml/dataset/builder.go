// Package dataset assembles cleaned model matrices from engineered frames
// and owns the chronological split. Training and inference go through the
// same cleaning sequence so a model never sees a policy it was not fit on.
package dataset

import (
	"fmt"
	"math"
	"time"

	"stock-sage/internal/domain"
	"stock-sage/internal/ml/common"
)

// infBound clamps infinities before gap filling.
const infBound = 1e10

// Frame is a cleaned, column-ordered view of a FeatureSet. Unlabeled rows
// are kept so callers can score the latest observation.
type Frame struct {
	Cols    []string
	Dates   []time.Time
	Rows    [][]float64
	Targets []*int
}

// Clean projects the named columns out of set and applies the cleaning
// policy in order: infinities clamp to ±1e10, interior NaN gaps forward
// fill, leading gaps backward fill, anything still missing becomes zero.
func Clean(set *domain.FeatureSet, cols []string) (*Frame, error) {
	idx := make([]int, len(cols))
	for i, c := range cols {
		j := set.ColumnIndex(c)
		if j < 0 {
			return nil, fmt.Errorf("%w: column %q not in feature set", common.ErrArtifactMismatch, c)
		}
		idx[i] = j
	}

	n := len(set.Rows)
	frame := &Frame{
		Cols:    append([]string{}, cols...),
		Dates:   make([]time.Time, n),
		Rows:    make([][]float64, n),
		Targets: make([]*int, n),
	}
	for i, row := range set.Rows {
		frame.Dates[i] = row.Date
		frame.Targets[i] = row.Target
		vals := make([]float64, len(cols))
		for j, k := range idx {
			vals[j] = row.Values[k]
		}
		frame.Rows[i] = vals
	}

	for j := range cols {
		for i := 0; i < n; i++ {
			switch {
			case math.IsInf(frame.Rows[i][j], 1):
				frame.Rows[i][j] = infBound
			case math.IsInf(frame.Rows[i][j], -1):
				frame.Rows[i][j] = -infBound
			}
		}
		last := math.NaN()
		for i := 0; i < n; i++ {
			if math.IsNaN(frame.Rows[i][j]) {
				if !math.IsNaN(last) {
					frame.Rows[i][j] = last
				}
			} else {
				last = frame.Rows[i][j]
			}
		}
		next := math.NaN()
		for i := n - 1; i >= 0; i-- {
			if math.IsNaN(frame.Rows[i][j]) {
				if math.IsNaN(next) {
					frame.Rows[i][j] = 0
				} else {
					frame.Rows[i][j] = next
				}
			} else {
				next = frame.Rows[i][j]
			}
		}
	}
	return frame, nil
}

// Matrix is the labeled training view of a cleaned frame.
type Matrix struct {
	Cols  []string
	Dates []time.Time
	X     [][]float64
	Y     []int
}

// Build cleans the frame and drops rows without a target.
func Build(set *domain.FeatureSet, cols []string) (*Matrix, error) {
	frame, err := Clean(set, cols)
	if err != nil {
		return nil, err
	}
	m := &Matrix{Cols: frame.Cols}
	for i := range frame.Rows {
		if frame.Targets[i] == nil {
			continue
		}
		m.X = append(m.X, frame.Rows[i])
		m.Y = append(m.Y, *frame.Targets[i])
		m.Dates = append(m.Dates, frame.Dates[i])
	}
	if len(m.X) == 0 {
		return nil, fmt.Errorf("%w: no labeled rows after cleaning", common.ErrDataInsufficiency)
	}
	return m, nil
}

// Len returns the number of labeled rows.
func (m *Matrix) Len() int { return len(m.X) }

// Column extracts one named column, or false when absent.
func (m *Matrix) Column(name string) ([]float64, bool) {
	idx := -1
	for i, c := range m.Cols {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false
	}
	out := make([]float64, len(m.X))
	for i := range m.X {
		out[i] = m.X[i][idx]
	}
	return out, true
}

// SplitChronological cuts the matrix at frac without shuffling. The earlier
// part trains, the later part tests. Both sides share backing arrays with
// the receiver and must be treated as read-only.
func (m *Matrix) SplitChronological(frac float64) (*Matrix, *Matrix) {
	if frac <= 0 || frac >= 1 {
		frac = 0.8
	}
	n := len(m.X)
	if n < 2 {
		return m, &Matrix{Cols: m.Cols}
	}
	cut := int(float64(n) * frac)
	if cut < 1 {
		cut = 1
	}
	if cut >= n {
		cut = n - 1
	}
	train := &Matrix{Cols: m.Cols, Dates: m.Dates[:cut], X: m.X[:cut], Y: m.Y[:cut]}
	test := &Matrix{Cols: m.Cols, Dates: m.Dates[cut:], X: m.X[cut:], Y: m.Y[cut:]}
	return train, test
}
