// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

import (
	"math/rand/v2"
	"testing"

	guda "github.com/LynnColeArt/guda-dense"
)

// newLayerOrFail constructs a layer and releases it when the test ends
func newLayerOrFail(t testing.TB, cfg Config) *Layer {
	t.Helper()
	l, err := NewLayer(cfg)
	if err != nil {
		t.Fatalf("NewLayer failed: %v", err)
	}
	t.Cleanup(func() {
		if err := l.Release(); err != nil {
			t.Errorf("Release failed: %v", err)
		}
	})
	return l
}

// evaluateOrFail runs a synchronous evaluation and fails the test on error
func evaluateOrFail(t testing.TB, l *Layer, x []float32, batchSize int, p Perturbation) []float32 {
	t.Helper()
	y, err := l.Evaluate(x, batchSize, nil, p)
	if err != nil {
		t.Fatalf("Evaluate(batch=%d, %v) failed: %v", batchSize, p, err)
	}
	return y
}

func randomRows(rng *rand.Rand, rows, cols int) [][]float32 {
	out := make([][]float32, rows)
	for i := range out {
		out[i] = randomSlice(rng, cols)
	}
	return out
}

func randomSlice(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = rng.Float32()*2 - 1
	}
	return out
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

// assertMatchesReference compares y against the float64 reference of the
// layer within the accumulation tolerance for its input width.
func assertMatchesReference(t *testing.T, l *Layer, x []float32, batchSize int, p Perturbation, y []float32) {
	t.Helper()
	ref, err := l.Reference(x, batchSize, p)
	if err != nil {
		t.Fatalf("Reference failed: %v", err)
	}

	no := int(l.NumOutputs())
	want := make([]float32, batchSize*no)
	for r := 0; r < batchSize; r++ {
		for i := 0; i < no; i++ {
			want[r*no+i] = float32(ref.At(r, i))
		}
	}

	tol := guda.AccumulationArchTolerance(int(l.NumInputs()))
	if result := guda.VerifyFloat32Array(want, y, tol); !result.IsAcceptable(tol) {
		t.Errorf("output differs from reference:\n%s", result)
	}
}
