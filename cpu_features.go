// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guda

import (
	"strings"

	"golang.org/x/sys/cpu"
)

// CPUFeatures tracks available CPU instruction set extensions
type CPUFeatures struct {
	HasAVX      bool
	HasAVX2     bool
	HasAVX512F  bool // Foundation
	HasAVX512DQ bool // Double/Quad precision
	HasFMA      bool
	HasSSE4     bool
	HasNEON     bool // ARM64 Advanced SIMD
}

// Global CPU feature detection
var cpuFeatures CPUFeatures

func init() {
	detectCPUFeatures()
}

// detectCPUFeatures populates the global cpuFeatures struct. The cpu
// package reports false for every field of a foreign architecture.
func detectCPUFeatures() {
	cpuFeatures = CPUFeatures{
		HasSSE4:     cpu.X86.HasSSE41 || cpu.X86.HasSSE42,
		HasAVX:      cpu.X86.HasAVX,
		HasAVX2:     cpu.X86.HasAVX2,
		HasAVX512F:  cpu.X86.HasAVX512F,
		HasAVX512DQ: cpu.X86.HasAVX512DQ,
		HasFMA:      cpu.X86.HasFMA,
		HasNEON:     cpu.ARM64.HasASIMD,
	}
}

// GetCPUFeatures returns the detected CPU features.
func GetCPUFeatures() CPUFeatures {
	return cpuFeatures
}

// HasAVX512 returns true if the CPU supports AVX-512 foundation instructions
func HasAVX512() bool {
	return cpuFeatures.HasAVX512F
}

// HasAVX2 returns true if the CPU supports AVX2 operations
func HasAVX2() bool {
	return cpuFeatures.HasAVX2 && cpuFeatures.HasFMA
}

// VectorWidth returns the number of float32 elements held by the widest
// vector register the CPU supports, or 1 when no SIMD extension is known.
func (f CPUFeatures) VectorWidth() int {
	switch {
	case f.HasAVX512F:
		return AVX512VectorSize
	case f.HasAVX2 && f.HasFMA:
		return AVX2VectorSize
	case f.HasNEON, f.HasSSE4:
		return NEONVectorSize
	default:
		return 1
	}
}

// GetCPUInfo returns a string describing available CPU features
func GetCPUInfo() string {
	var features []string

	if cpuFeatures.HasSSE4 {
		features = append(features, "SSE4")
	}
	if cpuFeatures.HasAVX {
		features = append(features, "AVX")
	}
	if cpuFeatures.HasAVX2 {
		features = append(features, "AVX2")
	}
	if cpuFeatures.HasFMA {
		features = append(features, "FMA")
	}
	if cpuFeatures.HasAVX512F {
		features = append(features, "AVX512F")
	}
	if cpuFeatures.HasAVX512DQ {
		features = append(features, "AVX512DQ")
	}
	if cpuFeatures.HasNEON {
		features = append(features, "NEON")
	}

	if len(features) == 0 {
		return "No SIMD extensions detected"
	}
	return "CPU features: " + strings.Join(features, ", ")
}
