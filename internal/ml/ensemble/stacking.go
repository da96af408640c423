package ensemble

import (
	"context"
	"fmt"
	"log"

	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/models/logreg"
)

// fitMeta builds the out-of-fold matrix and fits the balanced logistic
// meta-learner on it. Per fold a fresh clone of every base is fit on the
// complement, so no base ever scores a row it trained on; the clone's raw
// probabilities pass through the base's calibrator so the meta-learner sees
// the same calibrated inputs it will see at inference.
//
// A base whose stacking clone cannot fit is dropped from the ensemble. A
// meta-learner that cannot fit degrades to the AUC-weighted average, which
// is the documented meta-absent mode, not an error.
func (t *Trainer) fitMeta(ctx context.Context, bases []*baseState, X [][]float64, y []int) (*logreg.Model, []*baseState, error) {
	n := len(X)
	folds, err := TimeSeriesFolds(n, t.cfg.StackingFolds)
	if err != nil {
		return nil, nil, err
	}
	oofStart := folds[0].TestStart

	type column struct {
		state *baseState
		probs []float64
	}
	var cols []column
	for _, bs := range bases {
		probs, err := t.oofColumn(ctx, bs, X, y, folds)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			log.Printf("ensemble: dropping %s at stacking: %v", bs.key, err)
			continue
		}
		cols = append(cols, column{state: bs, probs: probs})
	}
	if len(cols) < 2 {
		return nil, nil, fmt.Errorf("%w: only %d base models survived stacking, need 2", common.ErrDataInsufficiency, len(cols))
	}

	survivors := make([]*baseState, len(cols))
	metaX := make([][]float64, n-oofStart)
	for i := range metaX {
		metaX[i] = make([]float64, len(cols))
	}
	for c, col := range cols {
		survivors[c] = col.state
		for i, p := range col.probs {
			metaX[i][c] = p
		}
	}

	meta := logreg.New(logreg.MetaOptions())
	if err := meta.Fit(metaX, y[oofStart:]); err != nil {
		log.Printf("ensemble: meta-learner unavailable, falling back to weighted average: %v", err)
		return nil, survivors, nil
	}
	return meta, survivors, nil
}

// oofColumn produces one base model's calibrated out-of-fold probability
// column covering rows [folds[0].TestStart, n).
func (t *Trainer) oofColumn(ctx context.Context, bs *baseState, X [][]float64, y []int, folds []Fold) ([]float64, error) {
	probs := make([]float64, 0, len(X)-folds[0].TestStart)
	for _, fold := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clone, err := bs.build(t.cfg)
		if err != nil {
			return nil, err
		}
		if err := clone.Fit(X[:fold.TrainEnd], y[:fold.TrainEnd]); err != nil {
			return nil, err
		}
		for i := fold.TestStart; i < fold.TestEnd; i++ {
			_, up, err := clone.PredictProba(X[i])
			if err != nil {
				return nil, err
			}
			probs = append(probs, bs.calibrator.Calibrate(up))
		}
	}
	return probs, nil
}
