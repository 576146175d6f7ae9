// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guda

import (
	"runtime"
)

// ArchToleranceConfig provides architecture-specific tolerance configurations
type ArchToleranceConfig struct {
	// Base tolerance for all architectures
	Base ToleranceConfig

	// Architecture-specific overrides
	AMD64   *ToleranceConfig
	ARM64   *ToleranceConfig
	Generic *ToleranceConfig
}

// GetArchTolerance returns the tolerance for the running architecture.
func GetArchTolerance(config ArchToleranceConfig) ToleranceConfig {
	return archTolerance(config, runtime.GOARCH)
}

func archTolerance(config ArchToleranceConfig, goarch string) ToleranceConfig {
	base := config.Base

	switch goarch {
	case "amd64":
		if config.AMD64 != nil {
			return mergeTolerances(base, *config.AMD64)
		}
	case "arm64", "arm64be":
		if config.ARM64 != nil {
			return mergeTolerances(base, *config.ARM64)
		}
	default:
		if config.Generic != nil {
			return mergeTolerances(base, *config.Generic)
		}
	}

	return base
}

// mergeTolerances applies overrides to base tolerance
func mergeTolerances(base, override ToleranceConfig) ToleranceConfig {
	result := base

	// Only override non-zero values
	if override.AbsTol > 0 {
		result.AbsTol = override.AbsTol
	}
	if override.RelTol > 0 {
		result.RelTol = override.RelTol
	}
	if override.ULPTol > 0 {
		result.ULPTol = override.ULPTol
	}

	return result
}

// AccumulationArchTolerance widens AccumulationTolerance(n) on
// architectures where the compiler contracts multiply-add into FMA, so
// the float64 dot product and the float32 patch step round differently
// from amd64.
func AccumulationArchTolerance(n int) ToleranceConfig {
	base := AccumulationTolerance(n)
	fused := ToleranceConfig{
		AbsTol: 4 * base.AbsTol,
		RelTol: 4 * base.RelTol,
		ULPTol: 4 * base.ULPTol,
	}
	return GetArchTolerance(ArchToleranceConfig{
		Base:    base,
		ARM64:   &fused,
		Generic: &fused,
	})
}
