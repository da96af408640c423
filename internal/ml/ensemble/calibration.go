package ensemble

import (
	"fmt"
	"math"

	"stock-sage/internal/ml/common"
)

// SigmoidCalibrator maps a raw model score s to a corrected probability
// P(up|s) = 1 / (1 + exp(A*s + B)). A nil calibrator passes scores through.
type SigmoidCalibrator struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// FitSigmoid fits Platt scaling by Newton iteration with backtracking line
// search on the regularized maximum-likelihood objective. Targets are
// smoothed toward the class priors so the fit stays finite on perfectly
// separated scores.
func FitSigmoid(scores []float64, y []int) (*SigmoidCalibrator, error) {
	if len(scores) == 0 || len(scores) != len(y) {
		return nil, fmt.Errorf("%w: %d scores for %d labels", common.ErrModelFit, len(scores), len(y))
	}
	prior1, prior0 := 0.0, 0.0
	for _, label := range y {
		if label == 1 {
			prior1++
		} else {
			prior0++
		}
	}
	if prior0 == 0 || prior1 == 0 {
		return nil, fmt.Errorf("%w: calibration targets hold a single class", common.ErrModelFit)
	}

	const (
		maxIter = 100
		minStep = 1e-10
		sigma   = 1e-12
	)
	hiTarget := (prior1 + 1) / (prior1 + 2)
	loTarget := 1 / (prior0 + 2)
	t := make([]float64, len(y))
	for i, label := range y {
		if label == 1 {
			t[i] = hiTarget
		} else {
			t[i] = loTarget
		}
	}

	a := 0.0
	b := math.Log((prior0 + 1) / (prior1 + 1))
	fval := sigmoidObjective(scores, t, a, b)

	for iter := 0; iter < maxIter; iter++ {
		h11, h22 := sigma, sigma
		h21, g1, g2 := 0.0, 0.0, 0.0
		for i, s := range scores {
			fApB := s*a + b
			var p, q float64
			if fApB >= 0 {
				e := math.Exp(-fApB)
				p = e / (1 + e)
				q = 1 / (1 + e)
			} else {
				e := math.Exp(fApB)
				p = 1 / (1 + e)
				q = e / (1 + e)
			}
			d2 := p * q
			h11 += s * s * d2
			h22 += d2
			h21 += s * d2
			d1 := t[i] - p
			g1 += s * d1
			g2 += d1
		}
		if math.Abs(g1) < 1e-5 && math.Abs(g2) < 1e-5 {
			break
		}

		det := h11*h22 - h21*h21
		dA := -(h22*g1 - h21*g2) / det
		dB := -(-h21*g1 + h11*g2) / det
		gd := g1*dA + g2*dB
		step := 1.0
		for step >= minStep {
			newA := a + step*dA
			newB := b + step*dB
			newF := sigmoidObjective(scores, t, newA, newB)
			if newF < fval+1e-4*step*gd {
				a, b, fval = newA, newB, newF
				break
			}
			step /= 2
		}
		if step < minStep {
			break
		}
	}
	return &SigmoidCalibrator{A: a, B: b}, nil
}

// Calibrate returns P(up) for a raw score. Receivers may be nil, which makes
// the calibrator the identity.
func (c *SigmoidCalibrator) Calibrate(score float64) float64 {
	if c == nil {
		return score
	}
	fApB := score*c.A + c.B
	if fApB >= 0 {
		e := math.Exp(-fApB)
		return e / (1 + e)
	}
	return 1 / (1 + math.Exp(fApB))
}

func sigmoidObjective(scores, t []float64, a, b float64) float64 {
	sum := 0.0
	for i, s := range scores {
		fApB := s*a + b
		if fApB >= 0 {
			sum += t[i]*fApB + math.Log1p(math.Exp(-fApB))
		} else {
			sum += (t[i]-1)*fApB + math.Log1p(math.Exp(fApB))
		}
	}
	return sum
}
