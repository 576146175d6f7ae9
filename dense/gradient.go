// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	guda "github.com/LynnColeArt/guda-dense"
)

// LossFunc reduces one output batch to a scalar. It is called from
// several goroutines at once and must not retain y.
type LossFunc func(y []float32) float64

// MeanSquaredError returns the mean squared distance to target. The loss
// is NaN when y and target differ in length.
func MeanSquaredError(target []float32) LossFunc {
	t := widen(target)
	return func(y []float32) float64 {
		if len(y) != len(t) || len(t) == 0 {
			return math.NaN()
		}
		d := floats.Distance(widen(y), t, 2)
		return d * d / float64(len(t))
	}
}

// GradientOptions tunes EstimateGradient. Zero values select defaults.
type GradientOptions struct {
	// Delta overrides the layer's perturbation step.
	Delta float32
	// Workers bounds concurrent perturbed evaluations; 0 means one per CPU.
	Workers int
}

// Gradient holds one-sided finite-difference estimates of d(loss)/d(param).
type Gradient struct {
	NumInputs  int
	NumOutputs int
	Weights    []float64 // row major, NumOutputs x NumInputs
	Bias       []float64
	Delta      float32
	// Evaluations counts layer launches, including the baseline.
	Evaluations int
}

// Weight returns the estimate for the weight feeding neuron row from input col.
func (g *Gradient) Weight(row, col int) float64 {
	return g.Weights[row*g.NumInputs+col]
}

// EstimateGradient perturbs every weight and bias of l with a fused
// perturbation launch and returns (loss(perturbed) - loss(baseline)) / delta
// for each. The layer's parameters are only read.
func EstimateGradient(l *Layer, x []float32, batchSize int, loss LossFunc, opts GradientOptions) (*Gradient, error) {
	if loss == nil {
		return nil, guda.NewInvalidArgError("EstimateGradient", "nil loss function")
	}

	delta := opts.Delta
	if delta == 0 {
		delta = l.step
	}
	if !isFinite(delta) {
		return nil, guda.NewInvalidArgError("EstimateGradient", fmt.Sprintf("delta must be finite, got %v", delta))
	}

	y0, err := l.Evaluate(x, batchSize, nil, NoPerturbation())
	if err != nil {
		return nil, err
	}
	base := loss(y0)
	if math.IsNaN(base) || math.IsInf(base, 0) {
		return nil, guda.NewInvalidArgError("EstimateGradient", fmt.Sprintf("baseline loss is %v", base))
	}

	ni, no := int(l.numInputs), int(l.numOutputs)
	nw := ni * no
	total := nw + no
	grad := &Gradient{
		NumInputs:   ni,
		NumOutputs:  no,
		Weights:     make([]float64, nw),
		Bias:        make([]float64, no),
		Delta:       delta,
		Evaluations: 1 + total,
	}

	pool := guda.NewWorkerPool(opts.Workers)
	chunk := (total + pool.Workers() - 1) / pool.Workers()

	var (
		errOnce  sync.Once
		firstErr error
	)
	for start := 0; start < total; start += chunk {
		end := min(start+chunk, total)
		pool.Submit(func() {
			y := make([]float32, len(y0))
			for q := start; q < end; q++ {
				p := PerturbBias(int32(q - nw))
				if q < nw {
					p = PerturbWeight(int32(q))
				}
				out, err := l.Evaluate(x, batchSize, y, p.WithDelta(delta))
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					return
				}
				g := (loss(out) - base) / float64(delta)
				if q < nw {
					grad.Weights[q] = g
				} else {
					grad.Bias[q-nw] = g
				}
			}
		})
	}
	pool.Close()

	if firstErr != nil {
		return nil, firstErr
	}
	return grad, nil
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
