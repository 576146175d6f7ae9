// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guda

import "testing"

// newContextOrFail returns a private context destroyed at test cleanup.
// A pending fault at cleanup fails the test.
func newContextOrFail(t testing.TB) *Context {
	t.Helper()
	ctx := NewContext()
	t.Cleanup(func() {
		if err := ctx.Destroy(); err != nil {
			t.Errorf("Destroy reported pending fault: %v", err)
		}
	})
	return ctx
}

// mallocOrFail allocates device memory and fails the test if unsuccessful
func mallocOrFail(t testing.TB, ctx *Context, size int) DevicePtr {
	t.Helper()
	ptr, err := ctx.Malloc(size)
	if err != nil {
		t.Fatalf("Failed to allocate %d bytes: %v", size, err)
	}
	t.Cleanup(func() { ctx.Free(ptr) })
	return ptr
}

// memcpyOrFail copies data and fails the test if unsuccessful
func memcpyOrFail(t testing.TB, ctx *Context, dst, src interface{}, size int, direction MemcpyKind) {
	t.Helper()
	if err := ctx.Memcpy(dst, src, size, direction); err != nil {
		t.Fatalf("Memcpy failed: %v", err)
	}
}

// launchOrFail enqueues a kernel on stream and fails the test if the
// launch is rejected
func launchOrFail(t testing.TB, ctx *Context, stream *Stream, kernel KernelFunc, grid, block Dim3, args ...interface{}) {
	t.Helper()
	if err := ctx.LaunchFuncStream(kernel, grid, block, stream, args...); err != nil {
		t.Fatalf("Kernel launch failed: %v", err)
	}
}

// synchronizeOrFail synchronizes ctx and fails the test on any fault
func synchronizeOrFail(t testing.TB, ctx *Context) {
	t.Helper()
	if err := ctx.Synchronize(); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
}
