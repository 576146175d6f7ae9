// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	guda "github.com/LynnColeArt/guda-dense"
)

// Reference implementations for verification. They favour clarity over
// speed and work entirely in float64.

// ReferenceForward evaluates a dense layer with gonum: Y = X·Wᵀ + b, then
// the perturbation, then the activation. w is NumOutputs x NumInputs and x
// holds batchSize rows. step is used when p carries no explicit delta.
func ReferenceForward(w mat.Matrix, bias, x []float64, batchSize int, act Activation, p Perturbation, step float64) (*mat.Dense, error) {
	no, ni := w.Dims()
	if len(bias) != no {
		return nil, guda.NewInvalidArgError("ReferenceForward", fmt.Sprintf("bias has %d values, want %d", len(bias), no))
	}
	if batchSize <= 0 || len(x) != batchSize*ni {
		return nil, guda.NewInvalidArgError("ReferenceForward",
			fmt.Sprintf("input has %d values, want %d rows of %d", len(x), batchSize, ni))
	}

	xm := mat.NewDense(batchSize, ni, x)
	var y mat.Dense
	y.Mul(xm, w.T())

	for r := 0; r < batchSize; r++ {
		for i := 0; i < no; i++ {
			y.Set(r, i, y.At(r, i)+bias[i])
		}
	}

	delta := step
	if d, ok := p.Delta(); ok {
		delta = float64(d)
	}
	if wt := p.WeightIndex(); wt >= 0 {
		if int(wt) >= ni*no {
			return nil, guda.NewInvalidArgError("ReferenceForward", fmt.Sprintf("weight index %d out of range", wt))
		}
		row, col := int(wt)/ni, int(wt)%ni
		for r := 0; r < batchSize; r++ {
			y.Set(r, row, y.At(r, row)+delta*xm.At(r, col))
		}
	}
	if bt := p.BiasIndex(); bt >= 0 {
		if int(bt) >= no {
			return nil, guda.NewInvalidArgError("ReferenceForward", fmt.Sprintf("bias index %d out of range", bt))
		}
		for r := 0; r < batchSize; r++ {
			y.Set(r, int(bt), y.At(r, int(bt))+delta)
		}
	}

	if act != ActivationNone {
		y.Apply(func(_, _ int, v float64) float64 {
			if act.Has(ActivationReLU) {
				v = math.Max(v, 0)
			}
			if act.Has(ActivationSigmoid) {
				v = 1 / (1 + math.Exp(-v))
			}
			return v
		}, &y)
	}
	return &y, nil
}

// Reference evaluates the layer's current parameters with ReferenceForward.
func (l *Layer) Reference(x []float32, batchSize int, p Perturbation) (*mat.Dense, error) {
	if l.released.Load() {
		return nil, guda.NewInvalidArgError("Reference", "layer has been released")
	}
	_, b := l.Parameters()
	return ReferenceForward(l.WeightMatrix(), widen(b), widen(x), batchSize, l.activation, p, float64(l.step))
}

// NaiveFloat32Forward computes the affine step accumulating in float32
// only. It exists to measure the error that float64 accumulation avoids.
func NaiveFloat32Forward(w, b, x []float32, numInputs, numOutputs, batchSize int) []float32 {
	y := make([]float32, batchSize*numOutputs)
	for r := 0; r < batchSize; r++ {
		for i := 0; i < numOutputs; i++ {
			var acc float32
			for j := 0; j < numInputs; j++ {
				acc += float32(w[i*numInputs+j] * x[r*numInputs+j])
			}
			y[r*numOutputs+i] = acc + b[i]
		}
	}
	return y
}

// ReferenceGradient differentiates loss(ReferenceForward(...)) with respect
// to every weight and bias using gonum's forward-difference formula with
// the given step. The weight gradient has the shape of w.
func ReferenceGradient(w mat.Matrix, bias, x []float64, batchSize int, act Activation, loss func(y *mat.Dense) float64, step float64) (*mat.Dense, []float64, error) {
	no, ni := w.Dims()
	nw := no * ni

	params := make([]float64, nw+no)
	for i := 0; i < no; i++ {
		for j := 0; j < ni; j++ {
			params[i*ni+j] = w.At(i, j)
		}
	}
	copy(params[nw:], bias)

	// Validate shapes once so the objective can assume success
	if _, err := ReferenceForward(w, bias, x, batchSize, act, NoPerturbation(), step); err != nil {
		return nil, nil, err
	}

	objective := func(p []float64) float64 {
		wp := mat.NewDense(no, ni, p[:nw:nw])
		y, err := ReferenceForward(wp, p[nw:], x, batchSize, act, NoPerturbation(), step)
		if err != nil {
			return math.NaN()
		}
		return loss(y)
	}

	g := fd.Gradient(nil, objective, params, &fd.Settings{
		Formula: fd.Forward,
		Step:    step,
	})

	dw := mat.NewDense(no, ni, append([]float64(nil), g[:nw]...))
	return dw, append([]float64(nil), g[nw:]...), nil
}

// MeanSquaredErrorDense is the float64 counterpart of MeanSquaredError.
func MeanSquaredErrorDense(target []float64) func(y *mat.Dense) float64 {
	return func(y *mat.Dense) float64 {
		r, c := y.Dims()
		if r*c != len(target) {
			return math.NaN()
		}
		var sum float64
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				d := y.At(i, j) - target[i*c+j]
				sum += d * d
			}
		}
		return sum / float64(len(target))
	}
}
