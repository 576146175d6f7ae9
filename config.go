// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guda configuration constants
package guda

// SIMD vector sizes
const (
	// NEON/ASIMD vector width in float32 elements
	NEONVectorSize = 4

	// AVX2 vector width in float32 elements
	AVX2VectorSize = 8

	// AVX512 vector width in float32 elements
	AVX512VectorSize = 16
)

// Thread and block dimensions
const (
	// Default lanes per block for kernels that map one lane to one
	// output element
	DefaultLaneGroupSize = 32

	// Maximum threads per block (CUDA compatibility)
	MaxThreadsPerBlock = 1024
)

// Memory pool parameters
const (
	// Memory alignment for allocations
	MemoryAlignment = 64

	// Reported when the host memory size cannot be queried
	fallbackSystemMemory = 16 * 1024 * 1024 * 1024
)

// Performance tuning parameters
const (
	// Unroll factor for loops
	LoopUnrollFactor = 4
)

// Numerical constants
const (
	// Machine epsilon for float32
	Float32Epsilon = 1.192092896e-07

	// Maximum ULP difference for float32 comparisons
	MaxULPDiff = 4
)
