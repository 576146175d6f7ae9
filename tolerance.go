// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guda tolerance-based verification for floating-point comparisons
package guda

import (
	"fmt"
	"math"
)

// ToleranceConfig defines tolerance parameters for floating-point comparison
type ToleranceConfig struct {
	AbsTol   float32 // absolute tolerance for values near zero
	RelTol   float32 // fraction of the larger magnitude
	ULPTol   int     // units in the last place
	CheckNaN bool    // treat NaN == NaN
	CheckInf bool    // treat same-signed infinities as equal
}

// DefaultTolerance returns default tolerance configuration
func DefaultTolerance() ToleranceConfig {
	return ToleranceConfig{AbsTol: 1e-7, RelTol: 1e-5, ULPTol: 4, CheckNaN: true, CheckInf: true}
}

// RelaxedTolerance returns relaxed tolerance for accumulated operations
func RelaxedTolerance() ToleranceConfig {
	return ToleranceConfig{AbsTol: 1e-5, RelTol: 1e-3, ULPTol: 16, CheckNaN: true, CheckInf: true}
}

// AccumulationTolerance returns the tolerance for a float32 result produced
// by a dot product of length n that was accumulated in float64 and
// rounded once. Only the final rounding and the operand products
// contribute, so the bound grows with sqrt(n) rather than n.
func AccumulationTolerance(n int) ToleranceConfig {
	if n < 1 {
		n = 1
	}
	scale := float32(math.Sqrt(float64(n)))
	return ToleranceConfig{
		AbsTol:   4 * Float32Epsilon * scale,
		RelTol:   2 * Float32Epsilon * scale,
		ULPTol:   MaxULPDiff,
		CheckNaN: true,
		CheckInf: true,
	}
}

// Float32NearEqual checks if two float32 values are equal within tolerance
func Float32NearEqual(a, b float32, tol ToleranceConfig) bool {
	fa, fb := float64(a), float64(b)
	if tol.CheckNaN && math.IsNaN(fa) && math.IsNaN(fb) {
		return true
	}
	if tol.CheckInf && math.IsInf(fa, 0) && math.IsInf(fb, 0) && math.Signbit(fa) == math.Signbit(fb) {
		return true
	}

	// Remaining non-finite values never match: an Inf would satisfy the
	// relative bound against anything
	if math.IsNaN(fa) || math.IsNaN(fb) || math.IsInf(fa, 0) || math.IsInf(fb, 0) {
		return false
	}

	// Exact equality handles ±0
	if a == b {
		return true
	}

	diff := math.Abs(fa - fb)
	if diff <= float64(tol.AbsTol) {
		return true
	}
	if diff <= math.Max(math.Abs(fa), math.Abs(fb))*float64(tol.RelTol) {
		return true
	}
	return tol.ULPTol > 0 && Float32ULPDiff(a, b) <= tol.ULPTol
}

// Float32ULPDiff computes the difference in ULPs between two float32
// values. Values of different sign are reported as math.MaxInt32.
func Float32ULPDiff(a, b float32) int {
	aBits := math.Float32bits(a)
	bBits := math.Float32bits(b)

	if (aBits^bBits)&0x80000000 != 0 {
		return math.MaxInt32
	}
	if aBits > bBits {
		return int(aBits - bBits)
	}
	return int(bBits - aBits)
}

// VerificationResult summarizes an element-wise comparison of two arrays
type VerificationResult struct {
	MaxAbsError    float32
	MaxRelError    float32
	MaxULPError    int
	NumErrors      int
	TotalItems     int
	FirstError     int  // Index of first error, -1 if none
	LengthMismatch bool // expected and actual differ in length
}

// VerifyFloat32Array compares two float32 arrays and returns detailed results
func VerifyFloat32Array(expected, actual []float32, tol ToleranceConfig) VerificationResult {
	result := VerificationResult{
		TotalItems: len(expected),
		FirstError: -1,
	}

	if len(expected) != len(actual) {
		result.NumErrors = len(expected)
		result.LengthMismatch = true
		return result
	}

	for i := range expected {
		if Float32NearEqual(expected[i], actual[i], tol) {
			continue
		}
		result.NumErrors++
		if result.FirstError == -1 {
			result.FirstError = i
		}

		absDiff := float32(math.Abs(float64(expected[i]) - float64(actual[i])))
		result.MaxAbsError = max(result.MaxAbsError, absDiff)
		if expected[i] != 0 {
			result.MaxRelError = max(result.MaxRelError, absDiff/float32(math.Abs(float64(expected[i]))))
		}
		result.MaxULPError = max(result.MaxULPError, Float32ULPDiff(expected[i], actual[i]))
	}

	return result
}

// IsAcceptable returns true if the verification result is within tolerance
func (r VerificationResult) IsAcceptable(tol ToleranceConfig) bool {
	if r.LengthMismatch {
		return false
	}
	return r.NumErrors == 0 ||
		(r.MaxAbsError <= tol.AbsTol &&
			r.MaxRelError <= tol.RelTol &&
			r.MaxULPError <= tol.ULPTol)
}

// String formats the verification result for display
func (r VerificationResult) String() string {
	if r.LengthMismatch {
		return fmt.Sprintf("FAIL: length mismatch, expected %d values", r.TotalItems)
	}
	if r.NumErrors == 0 {
		return "PASS: All values match within tolerance"
	}

	errorRate := float64(r.NumErrors) / float64(r.TotalItems) * 100
	return fmt.Sprintf("FAIL: %d/%d values differ (%.2f%%)\n"+
		"  Max absolute error: %e\n"+
		"  Max relative error: %e\n"+
		"  Max ULP difference: %d\n"+
		"  First error at index: %d",
		r.NumErrors, r.TotalItems, errorRate,
		r.MaxAbsError, r.MaxRelError, r.MaxULPError,
		r.FirstError)
}
