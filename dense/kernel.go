// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

import guda "github.com/LynnColeArt/guda-dense"

// denseKernel evaluates one output neuron per lane across the whole batch.
// Lane i writes only column i of y, so lanes need no synchronization.
type denseKernel struct {
	numInputs  int
	numOutputs int
	batchSize  int
	activation Activation
	patch      patch

	w []float32 // [numOutputs][numInputs]
	b []float32 // [numOutputs]
	x []float32 // [batchSize][numInputs]
	y []float32 // [batchSize][numOutputs]
}

// Execute implements guda.Kernel.
func (k *denseKernel) Execute(tid guda.ThreadID, _ ...interface{}) {
	i := tid.Global()
	if i >= k.numOutputs {
		return
	}

	ni, no := k.numInputs, k.numOutputs
	row := k.w[i*ni : (i+1)*ni]
	bias := float64(k.b[i])

	// Products of two float32 values are exact in float64, so only the
	// running sum and the final narrowing round.
	for r := 0; r < k.batchSize; r++ {
		xr := k.x[r*ni : (r+1)*ni]
		var acc float64
		for j, wj := range row {
			acc += float64(wj) * float64(xr[j])
		}
		acc += bias
		k.y[r*no+i] = float32(acc)
	}

	if k.patch.weightRow == i {
		col := k.patch.weightCol
		for r := 0; r < k.batchSize; r++ {
			k.y[r*no+i] += k.patch.delta * k.x[r*ni+col]
		}
	}
	if k.patch.biasRow == i {
		for r := 0; r < k.batchSize; r++ {
			k.y[r*no+i] += k.patch.delta
		}
	}

	if k.activation != ActivationNone {
		for r := 0; r < k.batchSize; r++ {
			k.y[r*no+i] = k.activation.Apply(k.y[r*no+i])
		}
	}
}
