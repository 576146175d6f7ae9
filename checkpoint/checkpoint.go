// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package checkpoint persists dense layers in protobuf wire format.
//
// A snapshot is a single message:
//
//	1: num_inputs        varint
//	2: num_outputs       varint
//	3: activation        varint
//	4: perturbation_step fixed32 (IEEE-754 bits)
//	5: weights           packed fixed32, row major
//	6: bias              packed fixed32
//	7: lane_group_size   varint
//
// Unknown fields are skipped so newer writers stay readable.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"

	guda "github.com/LynnColeArt/guda-dense"
	"github.com/LynnColeArt/guda-dense/dense"
)

const (
	fieldNumInputs        protowire.Number = 1
	fieldNumOutputs       protowire.Number = 2
	fieldActivation       protowire.Number = 3
	fieldPerturbationStep protowire.Number = 4
	fieldWeights          protowire.Number = 5
	fieldBias             protowire.Number = 6
	fieldLaneGroupSize    protowire.Number = 7
)

// Encode serializes the layer's configuration and current parameters.
func Encode(l *dense.Layer) ([]byte, error) {
	if l == nil {
		return nil, guda.NewInvalidArgError("checkpoint.Encode", "nil layer")
	}
	if l.Released() {
		return nil, guda.NewInvalidArgError("checkpoint.Encode", "layer has been released")
	}
	w, b := l.Parameters()

	buf := make([]byte, 0, 64+4*(len(w)+len(b)))
	buf = protowire.AppendTag(buf, fieldNumInputs, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(l.NumInputs()))
	buf = protowire.AppendTag(buf, fieldNumOutputs, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(l.NumOutputs()))
	buf = protowire.AppendTag(buf, fieldActivation, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(l.Activation()))
	buf = protowire.AppendTag(buf, fieldPerturbationStep, protowire.Fixed32Type)
	buf = protowire.AppendFixed32(buf, math.Float32bits(l.PerturbationStep()))
	buf = protowire.AppendTag(buf, fieldWeights, protowire.BytesType)
	buf = protowire.AppendBytes(buf, packFloat32s(w))
	buf = protowire.AppendTag(buf, fieldBias, protowire.BytesType)
	buf = protowire.AppendBytes(buf, packFloat32s(b))
	buf = protowire.AppendTag(buf, fieldLaneGroupSize, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(l.Tiling().LaneGroupSize))
	return buf, nil
}

// snapshot is the decoded message before it is turned into a layer.
type snapshot struct {
	numInputs  uint64
	numOutputs uint64
	activation uint64
	step       float32
	weights    []float32
	bias       []float32
	laneGroup  uint64
	seen       map[protowire.Number]bool
}

// Decode rebuilds a layer in ctx (nil selects the default context). The
// snapshot is validated by dense.NewLayer, so a snapshot whose weights
// disagree with its recorded dimensions is a configuration error.
func Decode(data []byte, ctx *guda.Context) (*dense.Layer, error) {
	s, err := parse(data)
	if err != nil {
		return nil, err
	}

	for _, f := range []protowire.Number{fieldNumInputs, fieldNumOutputs, fieldWeights} {
		if !s.seen[f] {
			return nil, guda.NewConfigurationError("checkpoint.Decode",
				fmt.Sprintf("missing required field %d", f), nil, nil)
		}
	}
	if s.numInputs == 0 || s.numInputs > math.MaxInt32 || s.numOutputs == 0 || s.numOutputs > math.MaxInt32 {
		return nil, guda.NewConfigurationError("checkpoint.Decode",
			fmt.Sprintf("invalid dimensions %d x %d", s.numOutputs, s.numInputs), nil, nil)
	}
	if s.activation > math.MaxUint8 || s.laneGroup > guda.MaxThreadsPerBlock {
		return nil, guda.NewConfigurationError("checkpoint.Decode", "field value out of range", nil, nil)
	}

	ni := int(s.numInputs)
	if len(s.weights)%ni != 0 {
		return nil, guda.NewConfigurationError("checkpoint.Decode",
			fmt.Sprintf("%d weights do not form rows of %d", len(s.weights), ni), nil, nil)
	}
	rows := make([][]float32, len(s.weights)/ni)
	for i := range rows {
		rows[i] = s.weights[i*ni : (i+1)*ni]
	}

	var bias []float32
	if s.seen[fieldBias] {
		bias = s.bias
	}

	return dense.NewLayer(dense.Config{
		Context:          ctx,
		NumInputs:        int32(s.numInputs),
		NumOutputs:       int32(s.numOutputs),
		Weights:          rows,
		Bias:             bias,
		Activation:       dense.Activation(s.activation),
		PerturbationStep: s.step,
		Tiling:           guda.TilingPolicy{LaneGroupSize: int(s.laneGroup)},
	})
}

func parse(data []byte) (*snapshot, error) {
	s := &snapshot{seen: make(map[protowire.Number]bool)}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, parseError(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldNumInputs && typ == protowire.VarintType:
			s.numInputs, n = protowire.ConsumeVarint(data)
		case num == fieldNumOutputs && typ == protowire.VarintType:
			s.numOutputs, n = protowire.ConsumeVarint(data)
		case num == fieldActivation && typ == protowire.VarintType:
			s.activation, n = protowire.ConsumeVarint(data)
		case num == fieldLaneGroupSize && typ == protowire.VarintType:
			s.laneGroup, n = protowire.ConsumeVarint(data)
		case num == fieldPerturbationStep && typ == protowire.Fixed32Type:
			var bits uint32
			bits, n = protowire.ConsumeFixed32(data)
			s.step = math.Float32frombits(bits)
		case (num == fieldWeights || num == fieldBias) && typ == protowire.BytesType:
			var packed []byte
			packed, n = protowire.ConsumeBytes(data)
			if n >= 0 {
				values, err := unpackFloat32s(packed)
				if err != nil {
					return nil, err
				}
				if num == fieldWeights {
					s.weights = values
				} else {
					s.bias = values
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return nil, parseError(protowire.ParseError(n))
		}
		data = data[n:]
		s.seen[num] = true
	}
	return s, nil
}

func parseError(err error) error {
	return guda.NewConfigurationError("checkpoint.Decode", "malformed snapshot", err, nil)
}

func packFloat32s(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

func unpackFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, guda.NewConfigurationError("checkpoint.Decode",
			fmt.Sprintf("packed float field of %d bytes", len(b)), nil, nil)
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

// Save writes the layer snapshot to path.
func Save(path string, l *dense.Layer) error {
	data, err := Encode(l)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("checkpoint: write %s: %w", path, err)
	}
	return nil
}

// Load reads a snapshot from path and rebuilds the layer in ctx.
func Load(path string, ctx *guda.Context) (*dense.Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	l, err := Decode(data, ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %s: %w", path, err)
	}
	return l, nil
}
