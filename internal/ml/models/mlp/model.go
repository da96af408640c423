// Package mlp implements a small feed-forward neural classifier: ReLU
// hidden layers, a sigmoid output, full-batch Adam and early stopping on a
// chronological tail split. Inputs are z-scored internally so the model
// consumes the same raw rows as the other base learners.
package mlp

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"stock-sage/internal/ml/common"
	"stock-sage/internal/ml/models"
)

type Options struct {
	Hidden            []int
	LearningRate      float64
	Epochs            int
	L2                float64
	EarlyStopFraction float64
	Patience          int
	Seed              int64
}

func DefaultOptions() Options {
	return Options{
		Hidden:            []int{64, 32},
		LearningRate:      0.001,
		Epochs:            200,
		L2:                0.0001,
		EarlyStopFraction: 0.15,
		Patience:          10,
		Seed:              42,
	}
}

type artifact struct {
	Hidden       []int         `json:"hidden"`
	FeatureCount int           `json:"feature_count"`
	Means        []float64     `json:"means"`
	Stds         []float64     `json:"stds"`
	Weights      [][][]float64 `json:"weights"`
	Biases       [][]float64   `json:"biases"`
}

type Model struct {
	opts    Options
	nFeat   int
	means   []float64
	stds    []float64
	weights [][][]float64 // layer -> out -> in
	biases  [][]float64   // layer -> out
}

func New(opts Options) *Model {
	def := DefaultOptions()
	if len(opts.Hidden) == 0 {
		opts.Hidden = def.Hidden
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = def.LearningRate
	}
	if opts.Epochs <= 0 {
		opts.Epochs = def.Epochs
	}
	if opts.L2 < 0 {
		opts.L2 = def.L2
	}
	if opts.EarlyStopFraction < 0 || opts.EarlyStopFraction >= 0.5 {
		opts.EarlyStopFraction = def.EarlyStopFraction
	}
	if opts.Patience <= 0 {
		opts.Patience = def.Patience
	}
	return &Model{opts: opts}
}

func (m *Model) Name() string { return common.ModelKeyMLP }

func (m *Model) Fit(X [][]float64, y []int) error {
	if err := models.ValidateTrainingInput(X, y); err != nil {
		return err
	}
	if err := models.CheckBinaryLabels(y); err != nil {
		return err
	}

	nFeat := len(X[0])
	means, stds := columnStats(X)
	norm := make([][]float64, len(X))
	for i, row := range X {
		norm[i] = normalizeRow(row, means, stds)
	}

	// keep the validation tail chronological so early stopping never peeks
	// ahead of the training span
	trainX, trainY := norm, y
	var valX [][]float64
	var valY []int
	if m.opts.EarlyStopFraction > 0 && len(X) >= 20 {
		valN := int(float64(len(X)) * m.opts.EarlyStopFraction)
		if valN < 1 {
			valN = 1
		}
		cut := len(X) - valN
		trainX, trainY = norm[:cut], y[:cut]
		valX, valY = norm[cut:], y[cut:]
		if err := models.CheckBinaryLabels(trainY); err != nil {
			return err
		}
	}

	net := newNetwork(nFeat, m.opts.Hidden, rand.New(rand.NewSource(m.opts.Seed)))
	opt := newAdam(net, m.opts.LearningRate)

	bestLoss := math.Inf(1)
	var bestW [][][]float64
	var bestB [][]float64
	stall := 0
	for epoch := 0; epoch < m.opts.Epochs; epoch++ {
		net.trainEpoch(trainX, trainY, opt, m.opts.L2)
		if valX == nil {
			continue
		}
		loss := net.logLoss(valX, valY)
		if loss < bestLoss-1e-6 {
			bestLoss = loss
			bestW, bestB = net.snapshot()
			stall = 0
		} else {
			stall++
			if stall >= m.opts.Patience {
				break
			}
		}
	}
	if bestW != nil {
		net.weights, net.biases = bestW, bestB
	}

	m.nFeat = nFeat
	m.means = means
	m.stds = stds
	m.weights = net.weights
	m.biases = net.biases
	return nil
}

func (m *Model) PredictProba(x []float64) (float64, float64, error) {
	if len(m.weights) == 0 {
		return 0, 0, fmt.Errorf("%w: mlp is not fitted", common.ErrModelFit)
	}
	if len(x) != m.nFeat {
		return 0, 0, fmt.Errorf("%w: %d features, model wants %d", common.ErrArtifactMismatch, len(x), m.nFeat)
	}
	net := &network{weights: m.weights, biases: m.biases}
	up := net.forward(normalizeRow(x, m.means, m.stds))
	up = common.Clamp01(up)
	return 1 - up, up, nil
}

func (m *Model) MarshalBinary() ([]byte, error) {
	if len(m.weights) == 0 {
		return nil, fmt.Errorf("%w: mlp is not fitted", common.ErrModelFit)
	}
	return json.Marshal(artifact{
		Hidden:       m.opts.Hidden,
		FeatureCount: m.nFeat,
		Means:        m.means,
		Stds:         m.stds,
		Weights:      m.weights,
		Biases:       m.biases,
	})
}

func (m *Model) UnmarshalBinary(blob []byte) error {
	if len(blob) == 0 {
		return fmt.Errorf("%w: empty mlp artifact", common.ErrArtifactMismatch)
	}
	var a artifact
	if err := json.Unmarshal(blob, &a); err != nil {
		return fmt.Errorf("%w: %v", common.ErrArtifactMismatch, err)
	}
	if a.FeatureCount <= 0 || len(a.Weights) == 0 || len(a.Weights) != len(a.Biases) ||
		len(a.Means) != a.FeatureCount || len(a.Stds) != a.FeatureCount {
		return fmt.Errorf("%w: inconsistent mlp artifact", common.ErrArtifactMismatch)
	}
	m.opts.Hidden = a.Hidden
	m.nFeat = a.FeatureCount
	m.means = a.Means
	m.stds = a.Stds
	m.weights = a.Weights
	m.biases = a.Biases
	return nil
}

// network holds the live layers during training and scoring.
type network struct {
	weights [][][]float64
	biases  [][]float64
}

func newNetwork(nIn int, hidden []int, rng *rand.Rand) *network {
	sizes := append(append([]int{nIn}, hidden...), 1)
	net := &network{
		weights: make([][][]float64, len(sizes)-1),
		biases:  make([][]float64, len(sizes)-1),
	}
	for l := 0; l < len(sizes)-1; l++ {
		fanIn, fanOut := sizes[l], sizes[l+1]
		limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
		net.weights[l] = make([][]float64, fanOut)
		net.biases[l] = make([]float64, fanOut)
		for o := 0; o < fanOut; o++ {
			net.weights[l][o] = make([]float64, fanIn)
			for i := 0; i < fanIn; i++ {
				net.weights[l][o][i] = (rng.Float64()*2 - 1) * limit
			}
		}
	}
	return net
}

// forward runs one row through the network and returns the up-probability.
func (n *network) forward(x []float64) float64 {
	act := x
	last := len(n.weights) - 1
	for l := 0; l <= last; l++ {
		next := make([]float64, len(n.weights[l]))
		for o := range n.weights[l] {
			z := n.biases[l][o]
			for i, w := range n.weights[l][o] {
				z += w * act[i]
			}
			if l < last {
				if z > 0 {
					next[o] = z
				}
			} else {
				next[o] = sigmoid(z)
			}
		}
		act = next
	}
	return act[0]
}

// trainEpoch accumulates full-batch gradients of the binary cross entropy
// plus L2 penalty and applies one Adam step.
func (n *network) trainEpoch(X [][]float64, y []int, opt *adam, l2 float64) {
	gradW, gradB := zerosLike(n.weights, n.biases)
	for s := range X {
		acts := n.forwardAll(X[s])
		out := acts[len(acts)-1][0]
		delta := []float64{out - float64(y[s])}
		for l := len(n.weights) - 1; l >= 0; l-- {
			prev := acts[l]
			nextDelta := make([]float64, len(prev))
			for o := range n.weights[l] {
				for i := range n.weights[l][o] {
					gradW[l][o][i] += delta[o] * prev[i]
					nextDelta[i] += delta[o] * n.weights[l][o][i]
				}
				gradB[l][o] += delta[o]
			}
			if l > 0 {
				// ReLU gate on the hidden activation
				for i := range nextDelta {
					if prev[i] <= 0 {
						nextDelta[i] = 0
					}
				}
				delta = nextDelta
			}
		}
	}
	scale := 1.0 / float64(len(X))
	for l := range gradW {
		for o := range gradW[l] {
			for i := range gradW[l][o] {
				gradW[l][o][i] = gradW[l][o][i]*scale + l2*n.weights[l][o][i]
			}
			gradB[l][o] *= scale
		}
	}
	opt.step(n, gradW, gradB)
}

// forwardAll returns the activations of every layer, input included.
func (n *network) forwardAll(x []float64) [][]float64 {
	acts := make([][]float64, len(n.weights)+1)
	acts[0] = x
	last := len(n.weights) - 1
	for l := 0; l <= last; l++ {
		next := make([]float64, len(n.weights[l]))
		for o := range n.weights[l] {
			z := n.biases[l][o]
			for i, w := range n.weights[l][o] {
				z += w * acts[l][i]
			}
			if l < last {
				if z > 0 {
					next[o] = z
				}
			} else {
				next[o] = sigmoid(z)
			}
		}
		acts[l+1] = next
	}
	return acts
}

func (n *network) logLoss(X [][]float64, y []int) float64 {
	if len(X) == 0 {
		return 0
	}
	sum := 0.0
	for i := range X {
		p := clip(n.forward(X[i]))
		if y[i] == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(len(X))
}

func (n *network) snapshot() ([][][]float64, [][]float64) {
	w := make([][][]float64, len(n.weights))
	b := make([][]float64, len(n.biases))
	for l := range n.weights {
		w[l] = make([][]float64, len(n.weights[l]))
		for o := range n.weights[l] {
			w[l][o] = append([]float64{}, n.weights[l][o]...)
		}
		b[l] = append([]float64{}, n.biases[l]...)
	}
	return w, b
}

// adam tracks the first and second moment estimates for every parameter.
type adam struct {
	lr      float64
	t       int
	mW, vW  [][][]float64
	mB, vB  [][]float64
	beta1   float64
	beta2   float64
	epsilon float64
}

func newAdam(n *network, lr float64) *adam {
	mW, mB := zerosLike(n.weights, n.biases)
	vW, vB := zerosLike(n.weights, n.biases)
	return &adam{lr: lr, mW: mW, vW: vW, mB: mB, vB: vB, beta1: 0.9, beta2: 0.999, epsilon: 1e-8}
}

func (a *adam) step(n *network, gradW [][][]float64, gradB [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for l := range n.weights {
		for o := range n.weights[l] {
			for i := range n.weights[l][o] {
				g := gradW[l][o][i]
				a.mW[l][o][i] = a.beta1*a.mW[l][o][i] + (1-a.beta1)*g
				a.vW[l][o][i] = a.beta2*a.vW[l][o][i] + (1-a.beta2)*g*g
				n.weights[l][o][i] -= a.lr * (a.mW[l][o][i] / c1) / (math.Sqrt(a.vW[l][o][i]/c2) + a.epsilon)
			}
			g := gradB[l][o]
			a.mB[l][o] = a.beta1*a.mB[l][o] + (1-a.beta1)*g
			a.vB[l][o] = a.beta2*a.vB[l][o] + (1-a.beta2)*g*g
			n.biases[l][o] -= a.lr * (a.mB[l][o] / c1) / (math.Sqrt(a.vB[l][o]/c2) + a.epsilon)
		}
	}
}

func zerosLike(w [][][]float64, b [][]float64) ([][][]float64, [][]float64) {
	zw := make([][][]float64, len(w))
	zb := make([][]float64, len(b))
	for l := range w {
		zw[l] = make([][]float64, len(w[l]))
		for o := range w[l] {
			zw[l][o] = make([]float64, len(w[l][o]))
		}
		zb[l] = make([]float64, len(b[l]))
	}
	return zw, zb
}

func columnStats(X [][]float64) ([]float64, []float64) {
	nFeat := len(X[0])
	means := make([]float64, nFeat)
	stds := make([]float64, nFeat)
	for j := 0; j < nFeat; j++ {
		sum := 0.0
		for _, row := range X {
			sum += row[j]
		}
		mean := sum / float64(len(X))
		variance := 0.0
		for _, row := range X {
			d := row[j] - mean
			variance += d * d
		}
		means[j] = mean
		stds[j] = math.Sqrt(variance / float64(len(X)))
	}
	return means, stds
}

func normalizeRow(row, means, stds []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		std := stds[j]
		if std == 0 {
			std = 1
		}
		out[j] = (v - means[j]) / std
	}
	return out
}

func sigmoid(z float64) float64 {
	if z > 35 {
		return 1
	}
	if z < -35 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}

func clip(p float64) float64 {
	const eps = 1e-15
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}
