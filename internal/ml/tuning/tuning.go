// Package tuning provides hyperparameter search strategies for the boosted
// roster entries. The search stays deliberately small: a fixed pass-through
// and a seeded random search over a bounded space, maximizing a
// caller-supplied walk-forward objective.
package tuning

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
)

// Params is one hyperparameter assignment.
type Params map[string]float64

// Int reads a parameter as an integer, 0 when absent.
func (p Params) Int(name string) int { return int(math.Round(p[name])) }

// Range bounds one dimension of a search space. Log samples on a
// logarithmic scale; Int rounds the sample to the nearest integer.
type Range struct {
	Min float64
	Max float64
	Log bool
	Int bool
}

type SearchSpace map[string]Range

// Objective scores one candidate; higher is better. Objectives returning an
// error fail only their own trial.
type Objective func(ctx context.Context, p Params) (float64, error)

// Tuner suggests the configuration to train with.
type Tuner interface {
	Suggest(ctx context.Context, space SearchSpace, objective Objective) (Params, error)
}

// DefaultBoostSpace covers the boosted-tree knobs the training service
// tunes.
func DefaultBoostSpace() SearchSpace {
	return SearchSpace{
		"rounds":        {Min: 100, Max: 1000, Int: true},
		"max_depth":     {Min: 3, Max: 10, Int: true},
		"learning_rate": {Min: 0.01, Max: 0.3, Log: true},
	}
}

// Fixed returns its params unchanged, skipping the objective entirely. The
// zero value suggests the roster defaults.
type Fixed struct {
	Params Params
}

func (f Fixed) Suggest(context.Context, SearchSpace, Objective) (Params, error) {
	out := Params{}
	for name, v := range f.Params {
		out[name] = v
	}
	return out, nil
}

// RandomSearch evaluates Trials uniform samples from the space and keeps
// the best-scoring one. Identical seeds reproduce the identical search.
type RandomSearch struct {
	Trials int
	Seed   int64
}

func (r RandomSearch) Suggest(ctx context.Context, space SearchSpace, objective Objective) (Params, error) {
	trials := r.Trials
	if trials <= 0 {
		trials = 10
	}
	if len(space) == 0 {
		return nil, fmt.Errorf("tuning: empty search space")
	}

	names := make([]string, 0, len(space))
	for name := range space {
		names = append(names, name)
	}
	sort.Strings(names)

	rng := rand.New(rand.NewSource(r.Seed))
	var best Params
	bestScore := math.Inf(-1)
	failures := 0
	for trial := 0; trial < trials; trial++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidate := sample(rng, names, space)
		score, err := objective(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("tuning: trial %d failed: %v", trial, err)
			failures++
			continue
		}
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	if best == nil {
		return nil, fmt.Errorf("tuning: all %d trials failed", failures)
	}
	return best, nil
}

func sample(rng *rand.Rand, names []string, space SearchSpace) Params {
	p := Params{}
	for _, name := range names {
		r := space[name]
		var v float64
		if r.Log {
			lo, hi := math.Log(r.Min), math.Log(r.Max)
			v = math.Exp(lo + rng.Float64()*(hi-lo))
		} else {
			v = r.Min + rng.Float64()*(r.Max-r.Min)
		}
		if r.Int {
			v = math.Round(v)
		}
		p[name] = v
	}
	return p
}
