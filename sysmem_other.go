// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package guda

// getSystemMemory returns total system memory in bytes
func getSystemMemory() uint64 {
	return fallbackSystemMemory
}
