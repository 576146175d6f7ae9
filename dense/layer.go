// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	guda "github.com/LynnColeArt/guda-dense"
)

// DefaultPerturbationStep is the finite-difference step used when neither
// the layer configuration nor the perturbation names one.
const DefaultPerturbationStep float32 = 0.001

// Config describes a layer to construct. Zero values select defaults.
//
// Dimensions are resolved with a fixed precedence: explicit NumInputs and
// NumOutputs are used when Weights is nil; when Weights is given its shape
// decides, and any explicit dimension that disagrees with it is rejected.
type Config struct {
	// Context owns the device memory of the layer. Nil selects
	// guda.DefaultContext().
	Context *guda.Context

	NumInputs  int32
	NumOutputs int32

	// Weights holds one row of NumInputs values per output neuron. Nil
	// draws weights uniformly from [-0.5, 0.5) using Seed.
	Weights [][]float32

	// Bias holds one value per output neuron. Nil means all zero.
	Bias []float32

	Activation Activation

	// PerturbationStep is the default finite-difference delta.
	PerturbationStep float32

	Tiling guda.TilingPolicy

	Seed uint64
}

// Layer is a dense layer whose parameters live in device memory.
//
// Evaluation never writes the parameters. Code that updates them through
// Parameters must not do so while a launch against the layer is in flight.
type Layer struct {
	ctx        *guda.Context
	numInputs  int32
	numOutputs int32
	weights    guda.DevicePtr
	bias       guda.DevicePtr
	activation Activation
	step       float32
	tiling     guda.TilingPolicy
	released   atomic.Bool
}

// NewLayer validates cfg and uploads the parameters to device memory.
// Every rejection is a configuration error.
func NewLayer(cfg Config) (*Layer, error) {
	numInputs, numOutputs, err := resolveDims(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Bias != nil && len(cfg.Bias) != int(numOutputs) {
		return nil, guda.NewConfigurationError("NewLayer",
			fmt.Sprintf("bias has %d values, layer has %d outputs", len(cfg.Bias), numOutputs),
			nil, cfg.Bias)
	}

	if !cfg.Activation.Valid() {
		return nil, guda.NewConfigurationError("NewLayer",
			fmt.Sprintf("unknown activation flags %#x", uint8(cfg.Activation)), nil, cfg.Activation)
	}

	step := cfg.PerturbationStep
	if step == 0 {
		step = DefaultPerturbationStep
	}
	if !isFinite(step) {
		return nil, guda.NewConfigurationError("NewLayer",
			fmt.Sprintf("perturbation step must be finite, got %v", step), nil, step)
	}

	tiling := cfg.Tiling
	if tiling.IsZero() {
		tiling = guda.DefaultTilingPolicy()
	}
	if err := tiling.Validate(); err != nil {
		return nil, err
	}

	ctx := cfg.Context
	if ctx == nil {
		ctx = guda.DefaultContext()
	}

	l := &Layer{
		ctx:        ctx,
		numInputs:  numInputs,
		numOutputs: numOutputs,
		activation: cfg.Activation,
		step:       step,
		tiling:     tiling,
	}
	if err := l.upload(cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// resolveDims applies the dimension decision table.
func resolveDims(cfg Config) (numInputs, numOutputs int32, err error) {
	if cfg.NumInputs < 0 || cfg.NumOutputs < 0 {
		return 0, 0, guda.NewConfigurationError("NewLayer",
			fmt.Sprintf("dimensions must be positive, got %d inputs and %d outputs", cfg.NumInputs, cfg.NumOutputs),
			nil, nil)
	}

	if cfg.Weights == nil {
		if cfg.NumInputs == 0 || cfg.NumOutputs == 0 {
			return 0, 0, guda.NewConfigurationError("NewLayer",
				"both dimensions are required when no weights are given", nil, nil)
		}
		numInputs, numOutputs = cfg.NumInputs, cfg.NumOutputs
	} else {
		rows := len(cfg.Weights)
		if rows == 0 || len(cfg.Weights[0]) == 0 {
			return 0, 0, guda.NewConfigurationError("NewLayer", "weight matrix is empty", nil, nil)
		}
		cols := len(cfg.Weights[0])
		for i, row := range cfg.Weights {
			if len(row) != cols {
				return 0, 0, guda.NewConfigurationError("NewLayer",
					fmt.Sprintf("weight row %d has %d columns, row 0 has %d", i, len(row), cols), nil, nil)
			}
		}
		if rows > math.MaxInt32 || cols > math.MaxInt32 {
			return 0, 0, guda.NewConfigurationError("NewLayer", "weight matrix exceeds int32 dimensions", nil, nil)
		}
		if cfg.NumOutputs != 0 && int(cfg.NumOutputs) != rows {
			return 0, 0, guda.NewConfigurationError("NewLayer",
				fmt.Sprintf("NumOutputs is %d but weights have %d rows", cfg.NumOutputs, rows), nil, nil)
		}
		if cfg.NumInputs != 0 && int(cfg.NumInputs) != cols {
			return 0, 0, guda.NewConfigurationError("NewLayer",
				fmt.Sprintf("NumInputs is %d but weights have %d columns", cfg.NumInputs, cols), nil, nil)
		}
		numInputs, numOutputs = int32(cols), int32(rows)
	}

	// Flattened weight indices are int32 at the launch boundary
	if int64(numInputs)*int64(numOutputs) > math.MaxInt32 {
		return 0, 0, guda.NewConfigurationError("NewLayer",
			fmt.Sprintf("%d x %d weights exceed the int32 index range", numOutputs, numInputs), nil, nil)
	}
	return numInputs, numOutputs, nil
}

func (l *Layer) upload(cfg Config) error {
	ni, no := int(l.numInputs), int(l.numOutputs)
	rowBytes := ni * 4

	w, err := l.ctx.Malloc(ni * no * 4)
	if err != nil {
		return guda.NewConfigurationError("NewLayer", "cannot allocate weights", err, nil)
	}
	b, err := l.ctx.Malloc(no * 4)
	if err != nil {
		l.ctx.Free(w)
		return guda.NewConfigurationError("NewLayer", "cannot allocate bias", err, nil)
	}

	if cfg.Weights != nil {
		for i, row := range cfg.Weights {
			if err := l.ctx.Memcpy(w.Offset(i*rowBytes), row, rowBytes, guda.MemcpyHostToDevice); err != nil {
				l.ctx.Free(w)
				l.ctx.Free(b)
				return err
			}
		}
	} else {
		rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
		data := w.Float32()
		for i := range data {
			data[i] = rng.Float32() - 0.5
		}
	}

	if cfg.Bias != nil {
		if err := l.ctx.Memcpy(b, cfg.Bias, no*4, guda.MemcpyHostToDevice); err != nil {
			l.ctx.Free(w)
			l.ctx.Free(b)
			return err
		}
	}

	l.weights, l.bias = w, b
	return nil
}

// NumInputs returns the width of one input row.
func (l *Layer) NumInputs() int32 { return l.numInputs }

// NumOutputs returns the number of output neurons.
func (l *Layer) NumOutputs() int32 { return l.numOutputs }

// Activation returns the nonlinearity selection.
func (l *Layer) Activation() Activation { return l.activation }

// PerturbationStep returns the default finite-difference delta.
func (l *Layer) PerturbationStep() float32 { return l.step }

// Tiling returns the lane grouping used for launches.
func (l *Layer) Tiling() guda.TilingPolicy { return l.tiling }

// Context returns the context that owns the layer's memory.
func (l *Layer) Context() *guda.Context { return l.ctx }

// LaunchShape returns the grid and block of one evaluation: one lane per
// output neuron, rounded up to whole lane groups.
func (l *Layer) LaunchShape() (grid, block guda.Dim3) {
	return l.tiling.LaunchShape(int(l.numOutputs))
}

// Parameters returns live views of the device-resident weights (row
// major) and bias. Writes through them are visible to later launches.
// A released layer has no parameters and returns nil views; views taken
// before Release must not be used after it.
func (l *Layer) Parameters() (weights, bias []float32) {
	if l.released.Load() {
		return nil, nil
	}
	return l.weights.Float32()[:l.numInputs*l.numOutputs], l.bias.Float32()[:l.numOutputs]
}

// Weights returns a copy of the weight matrix, one row per output neuron,
// or nil once the layer is released.
func (l *Layer) Weights() [][]float32 {
	w, _ := l.Parameters()
	if w == nil {
		return nil
	}
	ni := int(l.numInputs)
	rows := make([][]float32, l.numOutputs)
	for i := range rows {
		rows[i] = append([]float32(nil), w[i*ni:(i+1)*ni]...)
	}
	return rows
}

// Bias returns a copy of the bias vector, or nil once the layer is released.
func (l *Layer) Bias() []float32 {
	_, b := l.Parameters()
	if b == nil {
		return nil
	}
	return append([]float32(nil), b...)
}

// WeightMatrix returns the weights widened to a gonum matrix, or nil once
// the layer is released.
func (l *Layer) WeightMatrix() *mat.Dense {
	w, _ := l.Parameters()
	if w == nil {
		return nil
	}
	data := make([]float64, len(w))
	for i, v := range w {
		data[i] = float64(v)
	}
	return mat.NewDense(int(l.numOutputs), int(l.numInputs), data)
}

// WeightsFromMatrix narrows a gonum matrix to the row layout of
// Config.Weights.
func WeightsFromMatrix(m mat.Matrix) [][]float32 {
	r, c := m.Dims()
	rows := make([][]float32, r)
	for i := range rows {
		rows[i] = make([]float32, c)
		for j := range rows[i] {
			rows[i][j] = float32(m.At(i, j))
		}
	}
	return rows
}

// Released reports whether Release has been called.
func (l *Layer) Released() bool { return l.released.Load() }

// Release returns the parameter memory to the context pool. The layer
// must not be used afterwards; evaluations report an invalid argument
// and the parameter accessors return nil.
func (l *Layer) Release() error {
	if l.released.Swap(true) {
		return nil
	}
	if err := l.ctx.Free(l.weights); err != nil {
		return err
	}
	return l.ctx.Free(l.bias)
}

func isFinite(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}
