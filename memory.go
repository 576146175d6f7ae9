// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guda

import (
	"fmt"
	"sync"
	"unsafe"
)

// MemcpyKind specifies the direction of memory transfer.
// In GUDA's unified memory model, these are provided for CUDA compatibility
// but may be treated identically since all memory is CPU-accessible.
type MemcpyKind int

const (
	MemcpyHostToHost     MemcpyKind = iota // Host to host transfer
	MemcpyHostToDevice                     // Host to device transfer
	MemcpyDeviceToHost                     // Device to host transfer
	MemcpyDeviceToDevice                   // Device to device transfer
	MemcpyDefault                          // Default transfer (infer direction)
)

// MemoryPool manages device memory allocation with efficient reuse.
// It maintains a free list of previously allocated blocks to reduce
// allocation overhead and memory fragmentation.
type MemoryPool struct {
	mu         sync.Mutex
	allocated  map[uintptr]*allocation
	freeList   []*allocation
	totalAlloc int64
	peakAlloc  int64
}

type allocation struct {
	buf  []byte
	size int
	used bool
}

// NewMemoryPool creates a new memory pool for efficient memory management.
// The pool tracks allocations and provides statistics on memory usage.
func NewMemoryPool() *MemoryPool {
	return &MemoryPool{
		allocated: make(map[uintptr]*allocation),
	}
}

// Malloc allocates device memory of the specified size in bytes.
// The memory is aligned for optimal SIMD performance.
//
// Example:
//
//	ptr, err := ctx.Malloc(1024 * 4) // Allocate 1024 float32s
//	if err != nil {
//	    return err
//	}
//	defer ctx.Free(ptr)
func (ctx *Context) Malloc(size int) (DevicePtr, error) {
	return ctx.memory.Allocate(size)
}

// Free releases device memory allocated by Malloc.
// It is safe to call Free with a zero DevicePtr.
// The memory may be retained in the pool for future allocations.
func (ctx *Context) Free(ptr DevicePtr) error {
	return ctx.memory.Free(ptr)
}

// MemoryStats returns the bytes currently allocated and the peak.
func (ctx *Context) MemoryStats() (allocated, peak int64) {
	return ctx.memory.GetStats()
}

// Memcpy copies memory between host and device.
// Supports various combinations of DevicePtr and Go slices. Copying more
// bytes than either side holds is rejected.
//
// Example:
//
//	h_data := make([]float32, 1024)
//	d_data, _ := ctx.Malloc(1024 * 4)
//	ctx.Memcpy(d_data, h_data, 1024*4, guda.MemcpyHostToDevice)
func (ctx *Context) Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	if size < 0 {
		return NewInvalidArgError("Memcpy", fmt.Sprintf("negative size %d", size))
	}

	dstBytes, err := byteView(dst)
	if err != nil {
		return NewInvalidArgError("Memcpy", fmt.Sprintf("unsupported dst type: %T", dst))
	}
	srcBytes, err := byteView(src)
	if err != nil {
		return NewInvalidArgError("Memcpy", fmt.Sprintf("unsupported src type: %T", src))
	}

	if size > len(dstBytes) || size > len(srcBytes) {
		return NewInvalidArgError("Memcpy",
			fmt.Sprintf("copy of %d bytes exceeds dst (%d) or src (%d)", size, len(dstBytes), len(srcBytes)))
	}

	copy(dstBytes[:size], srcBytes[:size])
	return nil
}

// byteView returns the raw bytes behind a supported memory operand.
func byteView(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case DevicePtr:
		return m.Byte(), nil
	case []byte:
		return m, nil
	case []float32:
		if len(m) == 0 {
			return nil, nil
		}
		return unsafe.Slice((*byte)(unsafe.Pointer(&m[0])), len(m)*4), nil
	case []float64:
		if len(m) == 0 {
			return nil, nil
		}
		return unsafe.Slice((*byte)(unsafe.Pointer(&m[0])), len(m)*8), nil
	case []int32:
		if len(m) == 0 {
			return nil, nil
		}
		return unsafe.Slice((*byte)(unsafe.Pointer(&m[0])), len(m)*4), nil
	default:
		return nil, ErrNullPointer
	}
}

// MemoryPool methods

// Allocate allocates memory from the pool
func (mp *MemoryPool) Allocate(size int) (DevicePtr, error) {
	if size <= 0 {
		return DevicePtr{}, ErrInvalidSize
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	// Round up to alignment
	alignedSize := (size + MemoryAlignment - 1) &^ (MemoryAlignment - 1)

	// Try to reuse from free list
	for i, alloc := range mp.freeList {
		if alloc.size >= alignedSize {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true

			mp.totalAlloc += int64(alloc.size)
			if mp.totalAlloc > mp.peakAlloc {
				mp.peakAlloc = mp.totalAlloc
			}

			// Reused blocks are handed out zeroed, like fresh ones
			clear(alloc.buf)

			return DevicePtr{
				ptr:  unsafe.Pointer(&alloc.buf[0]),
				size: size,
			}, nil
		}
	}

	// The pool holds buf, which keeps the memory reachable for the GC
	buf := make([]byte, alignedSize)
	alloc := &allocation{
		buf:  buf,
		size: alignedSize,
		used: true,
	}
	ptr := unsafe.Pointer(&buf[0])
	mp.allocated[uintptr(ptr)] = alloc

	mp.totalAlloc += int64(alignedSize)
	if mp.totalAlloc > mp.peakAlloc {
		mp.peakAlloc = mp.totalAlloc
	}

	return DevicePtr{
		ptr:  ptr,
		size: size,
	}, nil
}

// Free returns memory to the pool
func (mp *MemoryPool) Free(ptr DevicePtr) error {
	if ptr.ptr == nil {
		return nil
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	alloc, ok := mp.allocated[uintptr(ptr.ptr)]
	if !ok {
		return NewMemoryError("Free", "pointer not found in allocation pool", nil)
	}

	if !alloc.used {
		return ErrDoubleFree
	}

	alloc.used = false
	mp.freeList = append(mp.freeList, alloc)
	mp.totalAlloc -= int64(alloc.size)

	return nil
}

// GetStats returns memory pool statistics
func (mp *MemoryPool) GetStats() (allocated, peak int64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.totalAlloc, mp.peakAlloc
}

// DevicePtr methods for convenience

// Float32 returns a float32 slice view of the device memory.
// The slice can be used directly for reading and writing data.
//
// Example:
//
//	d_data, _ := guda.Malloc(1024 * 4) // Allocate for 1024 float32s
//	data := d_data.Float32()
//	data[0] = 3.14 // Direct access
func (d DevicePtr) Float32() []float32 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*float32)(d.ptr), d.size/4)
}

// Float64 returns a float64 slice view of the device memory.
func (d DevicePtr) Float64() []float64 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*float64)(d.ptr), d.size/8)
}

// Int32 returns an int32 slice view of the device memory.
func (d DevicePtr) Int32() []int32 {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*int32)(d.ptr), d.size/4)
}

// Byte returns a byte slice view of the device memory.
// The slice covers the entire requested memory region.
func (d DevicePtr) Byte() []byte {
	if d.ptr == nil {
		return nil
	}
	return unsafe.Slice((*byte)(d.ptr), d.size)
}

// Offset returns a new DevicePtr offset by the given number of bytes.
// Useful for accessing sub-regions of allocated memory.
// The returned DevicePtr shares the same underlying memory.
//
// Example:
//
//	d_array, _ := guda.Malloc(1024 * 4) // 1024 float32s
//	d_second_half := d_array.Offset(512 * 4) // Start at element 512
//	data := d_second_half.Float32() // Access second half
func (d DevicePtr) Offset(bytes int) DevicePtr {
	return DevicePtr{
		ptr:    unsafe.Add(d.ptr, bytes),
		size:   d.size - bytes,
		offset: d.offset + bytes,
	}
}

// Size returns the size in bytes of the memory region
func (d DevicePtr) Size() int {
	return d.size
}

// IsNil reports whether the pointer refers to no memory.
func (d DevicePtr) IsNil() bool {
	return d.ptr == nil
}
