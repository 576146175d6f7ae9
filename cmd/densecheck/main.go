// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command densecheck builds a dense layer, evaluates a random batch and
// checks the result against the float64 reference.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	guda "github.com/LynnColeArt/guda-dense"
	"github.com/LynnColeArt/guda-dense/checkpoint"
	"github.com/LynnColeArt/guda-dense/dense"
)

func main() {
	var (
		inputs    = flag.Int("inputs", 8, "Inputs per row")
		outputs   = flag.Int("outputs", 4, "Output neurons")
		batch     = flag.Int("batch", 2, "Rows per batch")
		seed      = flag.Uint64("seed", 1, "Seed for weights and inputs")
		relu      = flag.Bool("relu", false, "Apply ReLU")
		sigmoid   = flag.Bool("sigmoid", false, "Apply sigmoid after ReLU")
		step      = flag.Float64("step", float64(dense.DefaultPerturbationStep), "Perturbation step")
		laneGroup = flag.Int("lane-group", 0, "Lanes per block (0 = default)")
		arch      = flag.Bool("arch", false, "Derive lane group from CPU vector width")
		wt        = flag.Int("wt", -1, "Flattened weight index to perturb (-1 = none)")
		bt        = flag.Int("bt", -1, "Bias index to perturb (-1 = none)")
		delta     = flag.Float64("delta", 0, "Perturbation delta (0 = layer step)")
		save      = flag.String("save", "", "Write a layer snapshot to this file")
		load      = flag.String("load", "", "Load the layer from a snapshot instead of building it")
		verify    = flag.Bool("verify", true, "Compare against the float64 reference")
		grad      = flag.Bool("grad", false, "Estimate the MSE gradient and compare with the reference")
		workers   = flag.Int("workers", 0, "Gradient workers (0 = NumCPU)")
	)
	flag.Parse()

	if v, _ := guda.Version(); v != "" {
		fmt.Printf("guda-dense %s\n", v)
	}
	fmt.Println(guda.GetCPUInfo())

	layer, err := buildLayer(*load, *inputs, *outputs, *seed, *relu, *sigmoid, float32(*step), *laneGroup, *arch)
	if err != nil {
		log.Fatalf("Failed to build layer: %v", err)
	}
	defer layer.Release()

	grid, block := layer.LaunchShape()
	fmt.Printf("Layer: %d -> %d, activation %v, step %g, grid %d x block %d\n",
		layer.NumInputs(), layer.NumOutputs(), layer.Activation(), layer.PerturbationStep(), grid.X, block.X)

	if *wt < math.MinInt32 || *wt > math.MaxInt32 || *bt < math.MinInt32 || *bt > math.MaxInt32 {
		log.Fatalf("Perturbation index out of range")
	}
	p := dense.PerturbationFromIndices(int32(*wt), int32(*bt))
	if *delta != 0 {
		p = p.WithDelta(float32(*delta))
	}

	if err := checkBatch(*batch, int(layer.NumInputs())); err != nil {
		log.Fatalf("Invalid batch: %v", err)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed+1))
	x := make([]float32, *batch*int(layer.NumInputs()))
	for i := range x {
		x[i] = rng.Float32()*2 - 1
	}

	y, err := layer.Evaluate(x, *batch, nil, p)
	if err != nil {
		log.Fatalf("Evaluate failed: %v", err)
	}
	no := int(layer.NumOutputs())
	for k := 0; k < *batch; k++ {
		fmt.Printf("y[%d] = %v\n", k, y[k*no:(k+1)*no])
	}

	failed := false
	if *verify {
		if !verifyForward(layer, x, *batch, y, p) {
			failed = true
		}
	}
	if *grad {
		if !verifyGradient(layer, x, *batch, *workers) {
			failed = true
		}
	}

	if *save != "" {
		if err := checkpoint.Save(*save, layer); err != nil {
			log.Fatalf("Failed to save snapshot: %v", err)
		}
		fmt.Printf("Saved snapshot to %s\n", *save)
	}

	if failed {
		os.Exit(1)
	}
}

func buildLayer(path string, inputs, outputs int, seed uint64, relu, sigmoid bool, step float32, laneGroup int, arch bool) (*dense.Layer, error) {
	if path != "" {
		return checkpoint.Load(path, nil)
	}
	if inputs > math.MaxInt32 || outputs > math.MaxInt32 {
		return nil, fmt.Errorf("dimensions %d x %d exceed int32", outputs, inputs)
	}

	var act dense.Activation
	if relu {
		act |= dense.ActivationReLU
	}
	if sigmoid {
		act |= dense.ActivationSigmoid
	}

	tiling := guda.TilingPolicy{LaneGroupSize: laneGroup}
	if arch {
		tiling = guda.ArchTilingPolicy()
	}

	return dense.NewLayer(dense.Config{
		NumInputs:        int32(inputs),
		NumOutputs:       int32(outputs),
		Activation:       act,
		PerturbationStep: step,
		Tiling:           tiling,
		Seed:             seed,
	})
}

// checkBatch rejects batch sizes that cannot size the input buffer.
func checkBatch(batch, inputs int) error {
	if batch <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batch)
	}
	if batch > math.MaxInt/inputs {
		return fmt.Errorf("batch size %d overflows %d inputs per row", batch, inputs)
	}
	return nil
}

func verifyForward(layer *dense.Layer, x []float32, batch int, y []float32, p dense.Perturbation) bool {
	ref, err := layer.Reference(x, batch, p)
	if err != nil {
		log.Printf("Reference failed: %v", err)
		return false
	}
	expected := make([]float32, len(y))
	for i, v := range ref.RawMatrix().Data {
		expected[i] = float32(v)
	}

	tol := guda.AccumulationArchTolerance(int(layer.NumInputs()))
	result := guda.VerifyFloat32Array(expected, y, tol)
	fmt.Println(result.String())
	if !result.IsAcceptable(tol) {
		fmt.Println("FAIL: kernel output differs from reference")
		return false
	}
	fmt.Println("PASS: kernel output matches reference")
	return true
}

func verifyGradient(layer *dense.Layer, x []float32, batch, workers int) bool {
	target := make([]float32, batch*int(layer.NumOutputs()))
	g, err := dense.EstimateGradient(layer, x, batch, dense.MeanSquaredError(target), dense.GradientOptions{Workers: workers})
	if err != nil {
		log.Printf("EstimateGradient failed: %v", err)
		return false
	}
	fmt.Printf("Gradient: %d evaluations, delta %g\n", g.Evaluations, g.Delta)

	_, b := layer.Parameters()
	dw, db, err := dense.ReferenceGradient(layer.WeightMatrix(), widen(b), widen(x), batch,
		layer.Activation(), dense.MeanSquaredErrorDense(widen(target)), float64(g.Delta))
	if err != nil {
		log.Printf("ReferenceGradient failed: %v", err)
		return false
	}

	// Perturbed evaluations run in float32, so agreement is limited by the step size
	tol := math.Max(1e-2, 10*float64(g.Delta))
	refW := mat.DenseCopyOf(dw).RawMatrix().Data
	diffW := maxAbsDiff(g.Weights, refW)
	diffB := maxAbsDiff(g.Bias, db)
	fmt.Printf("Gradient max |diff|: weights %.3e, bias %.3e (tol %.1e)\n", diffW, diffB, tol)
	if !floats.EqualApprox(g.Weights, refW, tol) || !floats.EqualApprox(g.Bias, db, tol) {
		fmt.Println("FAIL: gradient estimate differs from reference")
		return false
	}
	fmt.Println("PASS: gradient estimate matches reference")
	return true
}

func maxAbsDiff(a, b []float64) float64 {
	d := make([]float64, len(a))
	floats.SubTo(d, a, b)
	for i := range d {
		d[i] = math.Abs(d[i])
	}
	return floats.Max(d)
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
