// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

import (
	"math"
	"strings"
)

// Activation selects the nonlinearities applied after the affine step.
// Flags compose: with both set, ReLU runs first and its result feeds
// Sigmoid.
type Activation uint8

const (
	ActivationNone    Activation = 0
	ActivationReLU    Activation = 1 << 0
	ActivationSigmoid Activation = 1 << 1

	activationMask = ActivationReLU | ActivationSigmoid
)

// Has reports whether every flag in f is set.
func (a Activation) Has(f Activation) bool {
	return a&f == f
}

// Valid reports whether only known flags are set.
func (a Activation) Valid() bool {
	return a&^activationMask == 0
}

// Apply evaluates the selected nonlinearities on v.
func (a Activation) Apply(v float32) float32 {
	if a&ActivationReLU != 0 {
		v = relu(v)
	}
	if a&ActivationSigmoid != 0 {
		v = sigmoid(v)
	}
	return v
}

func (a Activation) String() string {
	if a == ActivationNone {
		return "none"
	}
	var parts []string
	if a.Has(ActivationReLU) {
		parts = append(parts, "relu")
	}
	if a.Has(ActivationSigmoid) {
		parts = append(parts, "sigmoid")
	}
	if !a.Valid() {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "+")
}

func relu(v float32) float32 {
	if v > 0 {
		return v
	}
	return 0
}

// sigmoid is 1/(1+exp(-v)) evaluated in float64 and rounded once.
func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}
