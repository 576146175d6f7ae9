// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guda

import "fmt"

// TilingPolicy decides how a one-dimensional range of independent work
// items is split into blocks. Each item becomes one lane (thread) and
// LaneGroupSize lanes form one block; the grid covers the range with
// ceiling division, so the last block may carry idle lanes.
type TilingPolicy struct {
	LaneGroupSize int
}

// DefaultTilingPolicy returns the fixed 32-lane grouping.
func DefaultTilingPolicy() TilingPolicy {
	return TilingPolicy{LaneGroupSize: DefaultLaneGroupSize}
}

// ArchTilingPolicy sizes lane groups from the detected vector width
// times the loop unroll factor, never below 8 lanes.
func ArchTilingPolicy() TilingPolicy {
	return TilingPolicyFor(cpuFeatures)
}

// TilingPolicyFor sizes lane groups for the given CPU features.
func TilingPolicyFor(f CPUFeatures) TilingPolicy {
	size := f.VectorWidth() * LoopUnrollFactor
	if size < 8 {
		size = 8
	}
	return TilingPolicy{LaneGroupSize: size}
}

// IsZero reports whether the policy is unset.
func (p TilingPolicy) IsZero() bool {
	return p.LaneGroupSize == 0
}

// Validate checks that the policy can be launched.
func (p TilingPolicy) Validate() error {
	if p.LaneGroupSize <= 0 || p.LaneGroupSize > MaxThreadsPerBlock {
		return NewConfigurationError("TilingPolicy",
			fmt.Sprintf("lane group size must be in [1, %d], got %d", MaxThreadsPerBlock, p.LaneGroupSize),
			nil, p)
	}
	return nil
}

// Groups returns the number of lane groups needed to cover n items.
func (p TilingPolicy) Groups(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + p.LaneGroupSize - 1) / p.LaneGroupSize
}

// LaunchShape returns the grid and block covering n items.
func (p TilingPolicy) LaunchShape(n int) (grid, block Dim3) {
	grid = Dim3{X: p.Groups(n), Y: 1, Z: 1}
	block = Dim3{X: p.LaneGroupSize, Y: 1, Z: 1}
	return grid, block
}
