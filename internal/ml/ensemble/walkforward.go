package ensemble

import (
	"fmt"

	"stock-sage/internal/ml/common"
)

// Fold is one expanding time split: train on rows [0, TrainEnd), validate
// on rows [TestStart, TestEnd). TestStart always equals TrainEnd so every
// validation row is strictly later than every training row.
type Fold struct {
	TrainEnd  int
	TestStart int
	TestEnd   int
}

// TimeSeriesFolds builds the expanding splits used for walk-forward
// validation and out-of-fold stacking. Each of the `splits` folds validates
// on a block of n/(splits+1) rows; the final fold's block ends at row n.
func TimeSeriesFolds(n, splits int) ([]Fold, error) {
	if splits < 2 {
		return nil, fmt.Errorf("walk-forward needs at least 2 splits, got %d", splits)
	}
	testSize := n / (splits + 1)
	if testSize < 1 {
		return nil, fmt.Errorf("%w: %d rows cannot form %d walk-forward folds", common.ErrDataInsufficiency, n, splits)
	}
	folds := make([]Fold, 0, splits)
	for start := n - splits*testSize; start+testSize <= n; start += testSize {
		folds = append(folds, Fold{TrainEnd: start, TestStart: start, TestEnd: start + testSize})
	}
	return folds, nil
}
