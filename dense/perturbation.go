// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

import (
	"fmt"

	guda "github.com/LynnColeArt/guda-dense"
)

// PatchKind tags which parameters a Perturbation nudges.
type PatchKind uint8

const (
	PatchNone   PatchKind = 0
	PatchWeight PatchKind = 1 << 0
	PatchBias   PatchKind = 1 << 1
	PatchBoth             = PatchWeight | PatchBias
)

func (k PatchKind) String() string {
	switch k {
	case PatchNone:
		return "none"
	case PatchWeight:
		return "weight"
	case PatchBias:
		return "bias"
	case PatchBoth:
		return "weight+bias"
	default:
		return fmt.Sprintf("PatchKind(%d)", uint8(k))
	}
}

// Perturbation requests a one-sided finite-difference step fused into an
// evaluation: the output is computed as if one weight and/or one bias had
// been increased by delta. The stored parameters are never modified.
//
// The zero value requests no perturbation.
type Perturbation struct {
	kind        PatchKind
	weightIndex int32
	biasIndex   int32
	delta       float32
	hasDelta    bool
}

// NoPerturbation returns a plain evaluation request.
func NoPerturbation() Perturbation {
	return Perturbation{weightIndex: -1, biasIndex: -1}
}

// PerturbWeight nudges the weight at index into the row-major flattened
// weight matrix; the row is index / NumInputs and the column index % NumInputs.
func PerturbWeight(index int32) Perturbation {
	return Perturbation{kind: PatchWeight, weightIndex: index, biasIndex: -1}
}

// PerturbBias nudges the bias of neuron index.
func PerturbBias(index int32) Perturbation {
	return Perturbation{kind: PatchBias, weightIndex: -1, biasIndex: index}
}

// PerturbBoth nudges one weight and one bias in the same pass. When the
// bias belongs to the weight's neuron both adjustments are summed into
// that neuron's output.
func PerturbBoth(weightIndex, biasIndex int32) Perturbation {
	return Perturbation{kind: PatchBoth, weightIndex: weightIndex, biasIndex: biasIndex}
}

// PerturbationFromIndices builds a request from raw indices where -1
// means "not requested". Other negative values are kept and rejected when
// the request is launched.
func PerturbationFromIndices(weightIndex, biasIndex int32) Perturbation {
	p := Perturbation{weightIndex: weightIndex, biasIndex: biasIndex}
	if weightIndex != -1 {
		p.kind |= PatchWeight
	}
	if biasIndex != -1 {
		p.kind |= PatchBias
	}
	return p
}

// WithDelta returns a copy of p that uses delta instead of the layer's
// perturbation step. A zero delta clears any override, so the layer's
// step applies, matching GradientOptions.Delta and Config.PerturbationStep.
func (p Perturbation) WithDelta(delta float32) Perturbation {
	p.delta = delta
	p.hasDelta = delta != 0
	if !p.hasDelta {
		p.delta = 0
	}
	return p
}

// Kind returns which parameters are nudged.
func (p Perturbation) Kind() PatchKind { return p.kind }

// WeightIndex returns the flattened weight index, or -1.
func (p Perturbation) WeightIndex() int32 {
	if p.kind&PatchWeight == 0 {
		return -1
	}
	return p.weightIndex
}

// BiasIndex returns the bias index, or -1.
func (p Perturbation) BiasIndex() int32 {
	if p.kind&PatchBias == 0 {
		return -1
	}
	return p.biasIndex
}

// Delta returns the explicit delta and whether one was set.
func (p Perturbation) Delta() (float32, bool) {
	return p.delta, p.hasDelta
}

func (p Perturbation) String() string {
	s := fmt.Sprintf("%s(w=%d, b=%d", p.kind, p.WeightIndex(), p.BiasIndex())
	if p.hasDelta {
		s += fmt.Sprintf(", delta=%g", p.delta)
	}
	return s + ")"
}

// patch is a Perturbation resolved against a layer's dimensions. Rows
// are -1 when the corresponding adjustment is absent.
type patch struct {
	weightRow int
	weightCol int
	biasRow   int
	delta     float32
}

var noPatch = patch{weightRow: -1, weightCol: -1, biasRow: -1}

// resolve validates p against the layer and splits the weight index into
// row and column.
func (p Perturbation) resolve(l *Layer) (patch, error) {
	out := noPatch
	if p.kind == PatchNone {
		return out, nil
	}

	out.delta = l.step
	if p.hasDelta {
		out.delta = p.delta
	}
	if !isFinite(out.delta) {
		return noPatch, guda.NewInvalidArgError("Evaluate",
			fmt.Sprintf("perturbation delta must be finite, got %v", out.delta))
	}

	if p.kind&PatchWeight != 0 {
		n := l.numInputs * l.numOutputs
		if p.weightIndex < 0 || p.weightIndex >= n {
			return noPatch, guda.NewInvalidArgError("Evaluate",
				fmt.Sprintf("weight index %d out of range [0, %d)", p.weightIndex, n))
		}
		out.weightRow = int(p.weightIndex / l.numInputs)
		out.weightCol = int(p.weightIndex % l.numInputs)
	}
	if p.kind&PatchBias != 0 {
		if p.biasIndex < 0 || p.biasIndex >= l.numOutputs {
			return noPatch, guda.NewInvalidArgError("Evaluate",
				fmt.Sprintf("bias index %d out of range [0, %d)", p.biasIndex, l.numOutputs))
		}
		out.biasRow = int(p.biasIndex)
	}
	return out, nil
}
