// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guda

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
)

// Test basic memory allocation and deallocation
func TestMemoryAllocation(t *testing.T) {
	ctx := newContextOrFail(t)
	sizes := []int{1, 100, 1000, 10000, 1000000}

	for _, size := range sizes {
		ptr, err := ctx.Malloc(size * 4)
		if err != nil {
			t.Fatalf("Failed to allocate %d bytes: %v", size*4, err)
		}

		slice := ptr.Float32()
		if len(slice) != size {
			t.Errorf("Expected slice length %d, got %d", size, len(slice))
		}
		for i := 0; i < min(100, size); i++ {
			slice[i] = float32(i)
		}
		for i := 0; i < min(100, size); i++ {
			if slice[i] != float32(i) {
				t.Errorf("Memory corruption at index %d", i)
			}
		}

		if err := ctx.Free(ptr); err != nil {
			t.Fatalf("Failed to free memory: %v", err)
		}
	}

	if allocated, _ := ctx.MemoryStats(); allocated != 0 {
		t.Errorf("allocated = %d after freeing everything", allocated)
	}
}

func TestMemoryErrors(t *testing.T) {
	ctx := newContextOrFail(t)

	if _, err := ctx.Malloc(0); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("Malloc(0) = %v, want ErrInvalidSize", err)
	}
	if _, err := ctx.Malloc(-8); !IsInvalidArgError(err) {
		t.Errorf("Malloc(-8) = %v, want invalid argument error", err)
	}
	if err := ctx.Free(DevicePtr{}); err != nil {
		t.Errorf("Free(nil) = %v", err)
	}

	ptr, err := ctx.Malloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.Free(ptr); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Free(ptr); !errors.Is(err, ErrDoubleFree) {
		t.Errorf("second Free = %v, want ErrDoubleFree", err)
	}

	other := NewContext()
	defer other.Destroy()
	foreign, err := other.Malloc(64)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Free(foreign)
	if err := ctx.Free(foreign); !IsMemoryError(err) {
		t.Errorf("Free of foreign pointer = %v, want memory error", err)
	}
}

func TestReusedMemoryIsZeroed(t *testing.T) {
	ctx := newContextOrFail(t)

	ptr, err := ctx.Malloc(256)
	if err != nil {
		t.Fatal(err)
	}
	for i := range ptr.Byte() {
		ptr.Byte()[i] = 0xAB
	}
	ctx.Free(ptr)

	again := mallocOrFail(t, ctx, 128)
	for i, b := range again.Byte() {
		if b != 0 {
			t.Fatalf("byte %d = %#x in reused block", i, b)
		}
	}
}

// Test memory copy operations
func TestMemcpy(t *testing.T) {
	const N = 1000
	ctx := newContextOrFail(t)
	rng := rand.New(rand.NewPCG(1, 2))

	hSrc := make([]float32, N)
	hDst := make([]float32, N)
	for i := range hSrc {
		hSrc[i] = rng.Float32()
	}

	dSrc := mallocOrFail(t, ctx, N*4)
	dDst := mallocOrFail(t, ctx, N*4)

	memcpyOrFail(t, ctx, dSrc, hSrc, N*4, MemcpyHostToDevice)
	memcpyOrFail(t, ctx, dDst, dSrc, N*4, MemcpyDeviceToDevice)
	memcpyOrFail(t, ctx, hDst, dDst, N*4, MemcpyDeviceToHost)

	for i := range hSrc {
		if hSrc[i] != hDst[i] {
			t.Fatalf("Data mismatch at index %d: %f vs %f", i, hSrc[i], hDst[i])
		}
	}
}

func TestMemcpyBounds(t *testing.T) {
	ctx := newContextOrFail(t)
	d := mallocOrFail(t, ctx, 16)

	tests := []struct {
		name string
		dst  interface{}
		src  interface{}
		size int
	}{
		{"Negative_Size", d, make([]float32, 4), -1},
		{"Exceeds_Src", d, make([]float32, 2), 16},
		{"Exceeds_Dst", make([]float32, 2), d, 16},
		{"Exceeds_Device", d, make([]float64, 4), 32},
		{"Unsupported_Type", d, []string{"x"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ctx.Memcpy(tt.dst, tt.src, tt.size, MemcpyDefault); !IsInvalidArgError(err) {
				t.Errorf("got %v, want invalid argument error", err)
			}
		})
	}
}

func TestDevicePtrOffset(t *testing.T) {
	ctx := newContextOrFail(t)
	d := mallocOrFail(t, ctx, 8*4)
	memcpyOrFail(t, ctx, d, []float32{0, 1, 2, 3, 4, 5, 6, 7}, 32, MemcpyHostToDevice)

	tail := d.Offset(5 * 4)
	if tail.Size() != 12 {
		t.Errorf("Size = %d, want 12", tail.Size())
	}
	got := tail.Float32()
	if len(got) != 3 || got[0] != 5 || got[2] != 7 {
		t.Errorf("offset view = %v, want [5 6 7]", got)
	}
	if !(DevicePtr{}).IsNil() || d.IsNil() {
		t.Error("IsNil reports wrong state")
	}
}

// Test basic kernel launch
func TestKernelLaunch(t *testing.T) {
	const N = 10000
	ctx := newContextOrFail(t)
	d := mallocOrFail(t, ctx, N*4)
	slice := d.Float32()

	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		idx := tid.Global()
		if idx < N {
			slice[idx] = float32(idx)
		}
	})

	launchOrFail(t, ctx, ctx.DefaultStream(), kernel, Dim3{X: (N + 255) / 256, Y: 1, Z: 1}, Dim3{X: 256, Y: 1, Z: 1})
	synchronizeOrFail(t, ctx)

	for i := 0; i < N; i++ {
		if slice[i] != float32(i) {
			t.Fatalf("Incorrect value at index %d: expected %f, got %f", i, float32(i), slice[i])
		}
	}
}

func TestKernelThreadIndexing(t *testing.T) {
	ctx := newContextOrFail(t)
	grid := Dim3{X: 3, Y: 2, Z: 2}
	block := Dim3{X: 4, Y: 2, Z: 1}

	var mu sync.Mutex
	seen := make(map[[3]int]bool)
	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		key := [3]int{tid.GlobalX(), tid.GlobalY(), tid.GlobalZ()}
		mu.Lock()
		seen[key] = true
		mu.Unlock()
	})

	if err := ctx.Execute(kernel, grid, block); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if want := grid.Size() * block.Size(); len(seen) != want {
		t.Errorf("%d distinct threads, want %d", len(seen), want)
	}
	if !seen[[3]int{11, 3, 1}] {
		t.Error("last thread (11, 3, 1) never ran")
	}
}

func TestLaunchValidation(t *testing.T) {
	ctx := newContextOrFail(t)
	noop := KernelFunc(func(ThreadID, ...interface{}) {})

	tests := []struct {
		name        string
		grid, block Dim3
	}{
		{"Negative_Grid", Dim3{X: -1, Y: 1, Z: 1}, Dim3{X: 32, Y: 1, Z: 1}},
		{"Zero_Block", Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: 0, Y: 1, Z: 1}},
		{"Negative_Block", Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: -4, Y: -1, Z: 1}},
		{"Block_Too_Large", Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: MaxThreadsPerBlock + 1, Y: 1, Z: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ctx.LaunchFunc(noop, tt.grid, tt.block); !IsInvalidArgError(err) {
				t.Errorf("LaunchFunc = %v, want invalid argument error", err)
			}
			if err := ctx.Execute(noop, tt.grid, tt.block); !IsInvalidArgError(err) {
				t.Errorf("Execute = %v, want invalid argument error", err)
			}
		})
	}

	if err := ctx.LaunchFuncStream(noop, Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: 1, Y: 1, Z: 1}, nil); !IsInvalidArgError(err) {
		t.Errorf("launch on nil stream = %v, want invalid argument error", err)
	}

	// An empty grid is a valid launch that runs nothing
	if err := ctx.Execute(noop, Dim3{X: 0, Y: 1, Z: 1}, Dim3{X: 32, Y: 1, Z: 1}); err != nil {
		t.Errorf("empty grid = %v", err)
	}
}

func TestStreamFaultSurfacesOnSynchronize(t *testing.T) {
	ctx := newContextOrFail(t)
	stream := ctx.CreateStream()

	faulty := KernelFunc(func(tid ThreadID, args ...interface{}) {
		if tid.Global() == 70 {
			var s []float32
			_ = s[tid.Global()]
		}
	})
	launchOrFail(t, ctx, stream, faulty, Dim3{X: 4, Y: 1, Z: 1}, Dim3{X: 32, Y: 1, Z: 1})

	err := stream.Synchronize()
	if !IsExecutionError(err) {
		t.Fatalf("Synchronize = %v, want execution error", err)
	}

	// The fault is reported once
	if err := stream.Synchronize(); err != nil {
		t.Errorf("second Synchronize = %v, want nil", err)
	}

	// The stream keeps working after a fault
	var ran atomic.Int32
	launchOrFail(t, ctx, stream, func(ThreadID, ...interface{}) { ran.Add(1) },
		Dim3{X: 2, Y: 1, Z: 1}, Dim3{X: 8, Y: 1, Z: 1})
	if err := stream.Synchronize(); err != nil {
		t.Fatalf("Synchronize after recovery = %v", err)
	}
	if ran.Load() != 16 {
		t.Errorf("ran %d threads, want 16", ran.Load())
	}
}

func TestLaunchAfterDestroy(t *testing.T) {
	ctx := NewContext()
	stream := ctx.CreateStream()
	if err := ctx.Destroy(); err != nil {
		t.Fatalf("Destroy = %v", err)
	}

	one := Dim3{X: 1, Y: 1, Z: 1}
	noop := KernelFunc(func(ThreadID, ...interface{}) {})
	if !stream.Closed() || !ctx.DefaultStream().Closed() {
		t.Error("streams still open after Destroy")
	}
	if err := ctx.LaunchFuncStream(noop, one, one, stream); !IsInvalidArgError(err) {
		t.Errorf("LaunchFuncStream after Destroy = %v, want invalid argument", err)
	}
	if err := ctx.LaunchFunc(noop, one, one); !IsInvalidArgError(err) {
		t.Errorf("LaunchFunc after Destroy = %v, want invalid argument", err)
	}
	if err := stream.Submit(func() error { return nil }); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Submit after Destroy = %v, want ErrStreamClosed", err)
	}
	if err := stream.Synchronize(); err != nil {
		t.Errorf("Synchronize on closed stream = %v", err)
	}
	if err := ctx.Destroy(); err != nil {
		t.Errorf("second Destroy = %v", err)
	}
}

func TestContextSynchronizeJoinsStreamFaults(t *testing.T) {
	ctx := newContextOrFail(t)
	boom := errors.New("boom")
	panics := KernelFunc(func(ThreadID, ...interface{}) { panic(boom) })
	one := Dim3{X: 1, Y: 1, Z: 1}

	s1 := ctx.CreateStream()
	s2 := ctx.CreateStream()
	launchOrFail(t, ctx, s1, panics, one, one)
	launchOrFail(t, ctx, s2, panics, one, one)

	err := ctx.Synchronize()
	if !IsExecutionError(err) {
		t.Fatalf("Synchronize = %v, want execution error", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("fault %v does not wrap the kernel panic", err)
	}
	synchronizeOrFail(t, ctx)
}

func TestExecuteReturnsFault(t *testing.T) {
	ctx := newContextOrFail(t)
	err := ctx.Execute(KernelFunc(func(ThreadID, ...interface{}) { panic("bad lane") }),
		Dim3{X: 2, Y: 1, Z: 1}, Dim3{X: 4, Y: 1, Z: 1})
	if !IsExecutionError(err) {
		t.Fatalf("Execute = %v, want execution error", err)
	}

	// Execute does not leave faults on the streams
	synchronizeOrFail(t, ctx)
}

func TestConcurrentStreams(t *testing.T) {
	const N = 4096
	ctx := newContextOrFail(t)

	const numStreams = 4
	bufs := make([][]float32, numStreams)
	for s := 0; s < numStreams; s++ {
		bufs[s] = mallocOrFail(t, ctx, N*4).Float32()
		stream := ctx.CreateStream()
		buf, v := bufs[s], float32(s+1)

		// Two ordered launches per stream: fill then scale
		launchOrFail(t, ctx, stream, func(tid ThreadID, args ...interface{}) {
			if i := tid.Global(); i < N {
				buf[i] = v
			}
		}, Dim3{X: N / 64, Y: 1, Z: 1}, Dim3{X: 64, Y: 1, Z: 1})
		launchOrFail(t, ctx, stream, func(tid ThreadID, args ...interface{}) {
			if i := tid.Global(); i < N {
				buf[i] *= 2
			}
		}, Dim3{X: N / 64, Y: 1, Z: 1}, Dim3{X: 64, Y: 1, Z: 1})
	}
	synchronizeOrFail(t, ctx)

	for s, buf := range bufs {
		want := float32(2 * (s + 1))
		for i, v := range buf {
			if v != want {
				t.Fatalf("stream %d: buf[%d] = %v, want %v", s, i, v, want)
			}
		}
	}
}

func TestKernelArguments(t *testing.T) {
	ctx := newContextOrFail(t)
	out := make([]float32, 8)
	kernel := KernelFunc(func(tid ThreadID, args ...interface{}) {
		dst := args[0].([]float32)
		scale := args[1].(float32)
		dst[tid.Global()] = scale * float32(tid.Global())
	})
	if err := ctx.Execute(kernel, Dim3{X: 2, Y: 1, Z: 1}, Dim3{X: 4, Y: 1, Z: 1}, out, float32(0.5)); err != nil {
		t.Fatal(err)
	}
	if out[7] != 3.5 {
		t.Errorf("out[7] = %v, want 3.5", out[7])
	}
}

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(3)
	if pool.Workers() != 3 {
		t.Errorf("Workers = %d, want 3", pool.Workers())
	}

	var sum atomic.Int64
	for i := 1; i <= 100; i++ {
		pool.Submit(func() { sum.Add(int64(i)) })
	}
	pool.Close()

	if sum.Load() != 5050 {
		t.Errorf("sum = %d, want 5050", sum.Load())
	}

	defaultPool := NewWorkerPool(0)
	defer defaultPool.Close()
	if defaultPool.Workers() <= 0 {
		t.Error("default pool has no workers")
	}
}

func TestDeviceQueries(t *testing.T) {
	if GetDeviceCount() != 1 {
		t.Errorf("GetDeviceCount = %d", GetDeviceCount())
	}
	if err := SetDevice(0); err != nil {
		t.Errorf("SetDevice(0) = %v", err)
	}
	if err := SetDevice(1); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("SetDevice(1) = %v, want ErrInvalidDevice", err)
	}
	if _, err := GetDeviceProperties(3); !IsInvalidArgError(err) {
		t.Errorf("GetDeviceProperties(3) = %v", err)
	}
	dev := GetDevice()
	if dev.NumCores <= 0 || dev.TotalMem == 0 {
		t.Errorf("implausible device %+v", dev)
	}
	ctx := newContextOrFail(t)
	if ctx.Device() != dev {
		t.Error("contexts do not share the CPU device")
	}
}

func TestDefaultContextFunctions(t *testing.T) {
	d, err := Malloc(4 * 4)
	if err != nil {
		t.Fatal(err)
	}
	defer Free(d)
	if err := Memcpy(d, []float32{1, 2, 3, 4}, 16, MemcpyHostToDevice); err != nil {
		t.Fatal(err)
	}
	if err := LaunchFunc(func(tid ThreadID, args ...interface{}) {
		d.Float32()[tid.Global()] += 1
	}, Dim3{X: 1, Y: 1, Z: 1}, Dim3{X: 4, Y: 1, Z: 1}); err != nil {
		t.Fatal(err)
	}
	if err := Synchronize(); err != nil {
		t.Fatal(err)
	}
	if got := d.Float32(); got[0] != 2 || got[3] != 5 {
		t.Errorf("result = %v", got)
	}
}
