package ensemble

import (
	"fmt"
	"sync"

	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/models"
	"stock-sage/internal/ml/models/boosted"
	"stock-sage/internal/ml/models/forest"
	"stock-sage/internal/ml/models/logreg"
	"stock-sage/internal/ml/models/mlp"
)

// Builder constructs a fresh unfitted base model for one training run or
// stacking fold. A builder returning ErrBackendUnavailable is skipped with
// a diagnostic and never fails the pipeline.
type Builder func(cfg Config) (models.Classifier, error)

var (
	backendMu sync.RWMutex
	backends  = map[string]Builder{
		common.ModelKeyRF: func(cfg Config) (models.Classifier, error) {
			opts := forest.RandomForestOptions()
			if cfg.Seed != 0 {
				opts.Seed = cfg.Seed
			}
			return forest.New(opts), nil
		},
		common.ModelKeyExtraTrees: func(cfg Config) (models.Classifier, error) {
			opts := forest.ExtraTreesOptions()
			if cfg.Seed != 0 {
				opts.Seed = cfg.Seed
			}
			return forest.New(opts), nil
		},
		common.ModelKeyGBDT: func(cfg Config) (models.Classifier, error) {
			opts := boosted.GBDTOptions()
			if cfg.BoostRounds > 0 {
				opts.Rounds = cfg.BoostRounds
			}
			if cfg.BoostLearningRate > 0 {
				opts.LearningRate = cfg.BoostLearningRate
			}
			if cfg.BoostMaxDepth > 0 {
				opts.MaxDepth = cfg.BoostMaxDepth
			}
			return boosted.New(opts), nil
		},
		common.ModelKeyXGBoost: func(Config) (models.Classifier, error) {
			return boosted.New(boosted.XGBoostOptions()), nil
		},
		common.ModelKeyMLP: func(cfg Config) (models.Classifier, error) {
			opts := mlp.DefaultOptions()
			if cfg.Seed != 0 {
				opts.Seed = cfg.Seed
			}
			return mlp.New(opts), nil
		},
		common.ModelKeyLogReg: func(Config) (models.Classifier, error) {
			return logreg.New(logreg.DefaultOptions()), nil
		},
	}
)

// RegisterBackend installs or replaces the builder for a roster key.
// External boosting backends (lgbm, catboost) plug in here; without a
// registration those roster entries report ErrBackendUnavailable.
func RegisterBackend(key string, build Builder) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backends[key] = build
}

func builderFor(key string) Builder {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if build, ok := backends[key]; ok {
		return build
	}
	return func(Config) (models.Classifier, error) {
		return nil, fmt.Errorf("%w: no builder registered for %q", common.ErrBackendUnavailable, key)
	}
}

func variantRoster(variant string) []string {
	switch variant {
	case VariantBaseline:
		return []string{common.ModelKeyRF, common.ModelKeyGBDT}
	case VariantEnhanced:
		return []string{common.ModelKeyRF, common.ModelKeyGBDT, common.ModelKeyXGBoost, common.ModelKeyMLP}
	case VariantOptimized:
		return []string{
			common.ModelKeyRF, common.ModelKeyExtraTrees,
			common.ModelKeyGBDT, common.ModelKeyXGBoost, common.ModelKeyMLP,
		}
	default:
		return []string{
			common.ModelKeyRF, common.ModelKeyExtraTrees,
			common.ModelKeyGBDT, common.ModelKeyXGBoost, common.ModelKeyMLP,
			common.ModelKeyLightGBM, common.ModelKeyCatBoost,
		}
	}
}
