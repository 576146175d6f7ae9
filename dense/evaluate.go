// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

import (
	"fmt"
	"math"

	guda "github.com/LynnColeArt/guda-dense"
)

// Evaluate computes y = activation(W·x + b [+ perturbation]) for every row
// of the batch and waits for the result.
//
// x holds batchSize rows of NumInputs values. y may be nil, in which case
// a buffer is allocated; otherwise it must hold exactly batchSize rows of
// NumOutputs values and is fully overwritten. All argument errors are
// reported before any work starts. If the kernel faults the returned
// error is an execution error and the contents of y are undefined.
//
// Example:
//
//	y, err := layer.Evaluate(x, 1, nil, dense.NoPerturbation())
func (l *Layer) Evaluate(x []float32, batchSize int, y []float32, p Perturbation) ([]float32, error) {
	k, err := l.prepare("Evaluate", x, batchSize, y, p)
	if err != nil {
		return nil, err
	}

	grid, block := l.LaunchShape()
	if err := l.ctx.Execute(k, grid, block); err != nil {
		return nil, err
	}
	return k.y, nil
}

// Launch enqueues an evaluation on stream and returns the output buffer
// immediately. The buffer is valid only after stream.Synchronize returns
// nil; a kernel fault is reported by that call. A nil stream selects the
// context's default stream.
func (l *Layer) Launch(stream *guda.Stream, x []float32, batchSize int, y []float32, p Perturbation) ([]float32, error) {
	if stream == nil {
		stream = l.ctx.DefaultStream()
	}

	k, err := l.prepare("Launch", x, batchSize, y, p)
	if err != nil {
		return nil, err
	}

	grid, block := l.LaunchShape()
	if err := l.ctx.LaunchStream(k, grid, block, stream); err != nil {
		return nil, err
	}
	return k.y, nil
}

// prepare validates the launch arguments and binds them to a kernel.
func (l *Layer) prepare(op string, x []float32, batchSize int, y []float32, p Perturbation) (*denseKernel, error) {
	if l.released.Load() {
		return nil, guda.NewInvalidArgError(op, "layer has been released")
	}
	if batchSize <= 0 {
		return nil, guda.NewInvalidArgError(op, fmt.Sprintf("batch size must be positive, got %d", batchSize))
	}

	ni, no := int(l.numInputs), int(l.numOutputs)
	if batchSize > math.MaxInt/ni || batchSize > math.MaxInt/no {
		return nil, guda.NewInvalidArgError(op, fmt.Sprintf("batch size %d overflows buffer sizes", batchSize))
	}
	if len(x) != batchSize*ni {
		return nil, guda.NewInvalidArgError(op,
			fmt.Sprintf("input has %d values, want %d rows of %d", len(x), batchSize, ni))
	}
	if y == nil {
		y = make([]float32, batchSize*no)
	} else if len(y) != batchSize*no {
		return nil, guda.NewInvalidArgError(op,
			fmt.Sprintf("output has %d values, want %d rows of %d", len(y), batchSize, no))
	}

	pt, err := p.resolve(l)
	if err != nil {
		return nil, err
	}

	w, b := l.Parameters()
	if w == nil {
		return nil, guda.NewInvalidArgError(op, "layer has been released")
	}
	return &denseKernel{
		numInputs:  ni,
		numOutputs: no,
		batchSize:  batchSize,
		activation: l.activation,
		patch:      pt,
		w:          w,
		b:          b,
		x:          x,
		y:          y,
	}, nil
}
