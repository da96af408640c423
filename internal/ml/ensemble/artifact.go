package ensemble

import (
	"encoding/json"
	"fmt"
	"time"

	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/dataset"
	"stock-sage/internal/ml/models"
	"stock-sage/internal/ml/models/forest"
	"stock-sage/internal/ml/models/logreg"
)

// ArtifactFormat tags the serialized envelope; any other tag fails
// UnmarshalBinary with ErrArtifactMismatch.
const ArtifactFormat = "stacked-ensemble-v1"

// BaseArtifact is one calibrated base model inside the bundle.
type BaseArtifact struct {
	Key            string             `json:"key"`
	WalkForwardAUC float64            `json:"walk_forward_auc"`
	Calibrator     *SigmoidCalibrator `json:"calibrator,omitempty"`
	Blob           []byte             `json:"blob"`
}

// TrainedArtifact is the complete output of one training run. It is
// read-only after creation; concurrent inference over one decoded artifact
// needs no locking.
type TrainedArtifact struct {
	Format       string          `json:"format"`
	Variant      string          `json:"variant"`
	TrainedFrom  time.Time       `json:"trained_from"`
	TrainedTo    time.Time       `json:"trained_to"`
	Rows         int             `json:"rows"`
	AllColumns   []string        `json:"all_columns"`
	Scaler       ScalerParams    `json:"scaler"`
	Selector     SelectorParams  `json:"selector"`
	Bases        []BaseArtifact  `json:"bases"`
	Meta         []byte          `json:"meta,omitempty"`
	Regimes      *RegimeArtifact `json:"regimes,omitempty"`
	BlendStacked float64         `json:"blend_stacked"`
	BlendRegime  float64         `json:"blend_regime"`
}

func (a *TrainedArtifact) MarshalBinary() ([]byte, error) {
	if a.Format != ArtifactFormat {
		return nil, fmt.Errorf("%w: artifact format %q", common.ErrArtifactMismatch, a.Format)
	}
	return json.Marshal(a)
}

func (a *TrainedArtifact) UnmarshalBinary(blob []byte) error {
	var decoded TrainedArtifact
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return fmt.Errorf("%w: %v", common.ErrArtifactMismatch, err)
	}
	if decoded.Format != ArtifactFormat {
		return fmt.Errorf("%w: unknown artifact format %q", common.ErrArtifactMismatch, decoded.Format)
	}
	*a = decoded
	return nil
}

// assemble freezes the trained state into the artifact and the matching
// live ensemble.
func (t *Trainer) assemble(m *dataset.Matrix, scaler ScalerParams, selector SelectorParams, bases []*baseState, meta *logreg.Model, regimeArt *RegimeArtifact, regimeLive map[string]models.Classifier) (*TrainedArtifact, *Ensemble, error) {
	artifact := &TrainedArtifact{
		Format:       ArtifactFormat,
		Variant:      t.cfg.Variant,
		Rows:         m.Len(),
		AllColumns:   append([]string{}, m.Cols...),
		Scaler:       scaler,
		Selector:     selector,
		Regimes:      regimeArt,
		BlendStacked: t.cfg.BlendStacked,
		BlendRegime:  t.cfg.BlendRegime,
	}
	if len(m.Dates) > 0 {
		artifact.TrainedFrom = m.Dates[0]
		artifact.TrainedTo = m.Dates[len(m.Dates)-1]
	}

	live := &Ensemble{art: artifact, regimes: regimeLive, volIdx: -1}
	for _, bs := range bases {
		blob, err := bs.model.MarshalBinary()
		if err != nil {
			return nil, nil, err
		}
		artifact.Bases = append(artifact.Bases, BaseArtifact{
			Key:            bs.key,
			WalkForwardAUC: bs.auc,
			Calibrator:     bs.calibrator,
			Blob:           blob,
		})
		live.bases = append(live.bases, liveBase{
			key:        bs.key,
			model:      bs.model,
			calibrator: bs.calibrator,
			weight:     bs.auc,
		})
	}
	if meta != nil {
		blob, err := meta.MarshalBinary()
		if err != nil {
			return nil, nil, err
		}
		artifact.Meta = blob
		live.meta = meta
	}
	if regimeArt != nil {
		live.volIdx = columnIndex(m.Cols, regimeArt.VolColumn)
		if live.volIdx < 0 {
			return nil, nil, fmt.Errorf("%w: volatility column %q missing from matrix", common.ErrArtifactMismatch, regimeArt.VolColumn)
		}
	}
	return artifact, live, nil
}

// liveBase is one decoded base model ready for inference.
type liveBase struct {
	key        string
	model      models.Classifier
	calibrator *SigmoidCalibrator
	weight     float64
}

// Ensemble is the runnable form of a TrainedArtifact. It is safe for
// concurrent use; Probabilities never mutates shared state.
type Ensemble struct {
	art     *TrainedArtifact
	bases   []liveBase
	meta    *logreg.Model
	regimes map[string]models.Classifier
	volIdx  int
}

// Decode reconstructs the runnable ensemble from the bundle. Backends
// referenced by the artifact must be available in this process.
func (a *TrainedArtifact) Decode() (*Ensemble, error) {
	if a.Format != ArtifactFormat {
		return nil, fmt.Errorf("%w: unknown artifact format %q", common.ErrArtifactMismatch, a.Format)
	}
	if len(a.Bases) < 2 {
		return nil, fmt.Errorf("%w: artifact holds %d base models, need 2", common.ErrArtifactMismatch, len(a.Bases))
	}

	e := &Ensemble{art: a, volIdx: -1}
	for _, ba := range a.Bases {
		model, err := builderFor(ba.Key)(Config{})
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", ba.Key, err)
		}
		if err := model.UnmarshalBinary(ba.Blob); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ba.Key, err)
		}
		e.bases = append(e.bases, liveBase{
			key:        ba.Key,
			model:      model,
			calibrator: ba.Calibrator,
			weight:     ba.WalkForwardAUC,
		})
	}
	if len(a.Meta) > 0 {
		meta := logreg.New(logreg.MetaOptions())
		if err := meta.UnmarshalBinary(a.Meta); err != nil {
			return nil, fmt.Errorf("decode meta-learner: %w", err)
		}
		e.meta = meta
	}
	if a.Regimes != nil && len(a.Regimes.Models) > 0 {
		e.volIdx = columnIndex(a.AllColumns, a.Regimes.VolColumn)
		if e.volIdx < 0 {
			return nil, fmt.Errorf("%w: volatility column %q not among artifact columns", common.ErrArtifactMismatch, a.Regimes.VolColumn)
		}
		e.regimes = map[string]models.Classifier{}
		for key, blob := range a.Regimes.Models {
			model := forest.New(forest.RegimeForestOptions())
			if err := model.UnmarshalBinary(blob); err != nil {
				return nil, fmt.Errorf("decode %s regime: %w", key, err)
			}
			e.regimes[key] = model
		}
	}
	return e, nil
}

// Probabilities runs the full inference pipeline on one raw feature row in
// the artifact's column order: scale, select, calibrated base predictions,
// stacked probability, regime blend. Identical inputs produce identical
// outputs.
func (e *Ensemble) Probabilities(raw []float64) (float64, float64, error) {
	if len(raw) != len(e.art.AllColumns) {
		return 0, 0, fmt.Errorf("%w: row has %d columns, artifact expects %d", common.ErrArtifactMismatch, len(raw), len(e.art.AllColumns))
	}
	scaled, err := e.art.Scaler.TransformRow(raw)
	if err != nil {
		return 0, 0, err
	}
	sel, err := e.art.Selector.TransformRow(scaled)
	if err != nil {
		return 0, 0, err
	}

	calibrated := make([]float64, len(e.bases))
	for i, base := range e.bases {
		_, up, err := base.model.PredictProba(sel)
		if err != nil {
			return 0, 0, fmt.Errorf("%s: %w", base.key, err)
		}
		calibrated[i] = base.calibrator.Calibrate(up)
	}

	var up float64
	if e.meta != nil {
		if _, up, err = e.meta.PredictProba(calibrated); err != nil {
			return 0, 0, err
		}
	} else {
		// meta-absent mode: calibrated average weighted by walk-forward AUC
		weightSum, acc := 0.0, 0.0
		for i, base := range e.bases {
			w := base.weight
			if w < 1e-6 {
				w = 1e-6
			}
			acc += w * calibrated[i]
			weightSum += w
		}
		up = acc / weightSum
	}

	if len(e.regimes) > 0 && e.volIdx >= 0 {
		if model, ok := e.regimes[e.art.Regimes.Pick(raw[e.volIdx])]; ok {
			_, regimeUp, err := model.PredictProba(sel)
			if err != nil {
				return 0, 0, err
			}
			if sum := e.art.BlendStacked + e.art.BlendRegime; sum > 0 {
				up = (e.art.BlendStacked*up + e.art.BlendRegime*regimeUp) / sum
			}
		}
	}
	up = common.Clamp01(up)
	return 1 - up, up, nil
}

func columnIndex(cols []string, name string) int {
	for i, col := range cols {
		if col == name {
			return i
		}
	}
	return -1
}
