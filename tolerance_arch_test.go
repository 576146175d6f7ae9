// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guda

import (
	"runtime"
	"testing"
)

func TestArchTolerance(t *testing.T) {
	base := ToleranceConfig{AbsTol: 1e-6, RelTol: 1e-5, ULPTol: 4, CheckNaN: true}
	arm := ToleranceConfig{RelTol: 1e-4, ULPTol: 16}
	generic := ToleranceConfig{AbsTol: 1e-3}
	config := ArchToleranceConfig{Base: base, ARM64: &arm, Generic: &generic}

	tests := []struct {
		goarch string
		want   ToleranceConfig
	}{
		{"amd64", base},
		{"arm64", ToleranceConfig{AbsTol: 1e-6, RelTol: 1e-4, ULPTol: 16, CheckNaN: true}},
		{"riscv64", ToleranceConfig{AbsTol: 1e-3, RelTol: 1e-5, ULPTol: 4, CheckNaN: true}},
	}

	for _, tt := range tests {
		t.Run(tt.goarch, func(t *testing.T) {
			if got := archTolerance(config, tt.goarch); got != tt.want {
				t.Errorf("archTolerance = %+v, want %+v", got, tt.want)
			}
		})
	}

	if got := GetArchTolerance(config); got != archTolerance(config, runtime.GOARCH) {
		t.Errorf("GetArchTolerance = %+v for %s", got, runtime.GOARCH)
	}
}

func TestToleranceMerging(t *testing.T) {
	base := ToleranceConfig{
		AbsTol:   1e-7,
		RelTol:   1e-6,
		ULPTol:   2,
		CheckNaN: true,
		CheckInf: false,
	}

	override := ToleranceConfig{
		RelTol: 1e-4,
		ULPTol: 16,
	}

	merged := mergeTolerances(base, override)

	if merged.AbsTol != base.AbsTol {
		t.Errorf("AbsTol should be preserved: got %e, want %e", merged.AbsTol, base.AbsTol)
	}
	if merged.RelTol != override.RelTol {
		t.Errorf("RelTol should be overridden: got %e, want %e", merged.RelTol, override.RelTol)
	}
	if merged.ULPTol != override.ULPTol {
		t.Errorf("ULPTol should be overridden: got %d, want %d", merged.ULPTol, override.ULPTol)
	}
	if !merged.CheckNaN {
		t.Error("CheckNaN should be preserved")
	}
}

func TestAccumulationArchTolerance(t *testing.T) {
	base := AccumulationTolerance(1024)
	got := AccumulationArchTolerance(1024)

	if runtime.GOARCH == "amd64" {
		if got != base {
			t.Errorf("amd64 tolerance = %+v, want %+v", got, base)
		}
		return
	}
	if got.AbsTol < base.AbsTol || got.RelTol < base.RelTol || got.ULPTol < base.ULPTol {
		t.Errorf("fused-arch tolerance %+v tighter than base %+v", got, base)
	}
	if got.ULPTol != 4*base.ULPTol {
		t.Errorf("%s ULPTol = %d, want %d", runtime.GOARCH, got.ULPTol, 4*base.ULPTol)
	}
}
