// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package guda provides a CUDA-style execution model on the CPU.
//
// Work is described as a grid of blocks of threads (Dim3) and launched as a
// Kernel, which is called once per thread with its ThreadID. Launches are
// either enqueued on a Stream and awaited with Synchronize, or run to
// completion with Context.Execute. A kernel that panics is reported as an
// execution error instead of crashing the process.
//
// Device memory is handed out by a per-context MemoryPool as DevicePtr
// values with typed slice views. TilingPolicy turns a count of independent
// work items into a launch shape.
//
// Example usage:
//
//	ctx := guda.NewContext()
//	defer ctx.Destroy()
//
//	d_y, _ := ctx.Malloc(n * 4)
//	y := d_y.Float32()
//
//	grid, block := guda.DefaultTilingPolicy().LaunchShape(n)
//	ctx.Launch(guda.KernelFunc(func(tid guda.ThreadID, args ...interface{}) {
//		if i := tid.Global(); i < n {
//			y[i] = float32(i)
//		}
//	}), grid, block)
//	if err := ctx.Synchronize(); err != nil {
//		log.Fatal(err)
//	}
package guda
