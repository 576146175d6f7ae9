// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dense evaluates a fully connected neural-network layer on a batch
// of inputs with the guda execution model.
//
// One lane is launched per output neuron. Each lane accumulates its dot
// products in float64 and rounds once to float32, adds the bias, applies
// an optional finite-difference perturbation and finally the selected
// activation. The perturbation is fused into the same pass: the result is
// the output the layer would produce had one weight and/or one bias been
// larger by delta, without touching the stored parameters. EstimateGradient
// builds numerical gradients from repeated perturbed launches.
//
// Example:
//
//	layer, err := dense.NewLayer(dense.Config{
//		Weights: [][]float32{{1, 2}},
//	})
//	if err != nil {
//		return err
//	}
//	defer layer.Release()
//
//	y, _ := layer.Evaluate([]float32{3, 4}, 1, nil, dense.NoPerturbation())
//	// y == [11]
//	y, _ = layer.Evaluate([]float32{3, 4}, 1, nil, dense.PerturbWeight(1).WithDelta(0.1))
//	// y == [11.4]
package dense
