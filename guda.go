// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guda

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"
)

// Device represents a compute device. In GUDA, this is the CPU with its
// cores and available memory. Each device has a unique ID and capabilities.
type Device struct {
	ID         int    // Unique device identifier
	Name       string // Human-readable device name
	TotalMem   uint64 // Total available memory in bytes
	NumCores   int    // Number of CPU cores
	MaxThreads int    // Maximum concurrent threads
}

// Context represents an execution context for GUDA operations.
// It manages device resources, memory allocation, and stream execution.
// A Context must be created before any GUDA operations and should be
// destroyed when no longer needed.
type Context struct {
	device        *Device
	mu            sync.Mutex
	streams       map[int]*Stream
	streamID      int32
	memory        *MemoryPool
	defaultStream *Stream
}

// Stream represents an ordered sequence of operations that execute
// asynchronously. Operations within a stream execute in order, but
// operations in different streams may execute concurrently.
//
// A task that fails records its error on the stream; the first recorded
// error is reported by the next call to Synchronize.
type Stream struct {
	id    int
	tasks chan func() error
	done  chan struct{}
	wg    sync.WaitGroup

	errMu sync.Mutex
	err   error

	// sendMu orders Submit against close; closed is set under it
	sendMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// Dim3 represents 3D dimensions for grid and block configurations.
// This matches CUDA's dim3 structure for kernel launch parameters.
type Dim3 struct {
	X, Y, Z int
}

// ThreadID identifies a thread's position within the execution hierarchy.
// It provides the same indexing semantics as CUDA's built-in variables:
// blockIdx, threadIdx, blockDim, and gridDim.
type ThreadID struct {
	BlockIdx  Dim3 // Block index within the grid
	ThreadIdx Dim3 // Thread index within the block
	BlockDim  Dim3 // Dimensions of the block
	GridDim   Dim3 // Dimensions of the grid
}

// Kernel represents a compute kernel that can be executed in parallel.
// Implementations should be thread-safe as Execute will be called
// concurrently from multiple threads.
type Kernel interface {
	Execute(tid ThreadID, args ...interface{})
}

// KernelFunc is a function that can be launched as a kernel.
// It receives thread identification and variadic arguments.
type KernelFunc func(tid ThreadID, args ...interface{})

// DevicePtr represents a pointer to device memory. It provides type-safe
// access to device memory and supports pointer arithmetic through the
// Offset method. Use the type conversion methods (Float32, Float64, etc.)
// to access the underlying data with proper type safety.
type DevicePtr struct {
	ptr    unsafe.Pointer
	size   int
	offset int
}

// Global runtime state
var (
	defaultDevice  *Device
	defaultContext *Context
	initOnce       sync.Once
)

// Initialize GUDA runtime
func init() {
	initOnce.Do(func() {
		defaultDevice = &Device{
			ID:         0,
			Name:       "CPU",
			TotalMem:   getSystemMemory(),
			NumCores:   runtime.NumCPU(),
			MaxThreads: runtime.NumCPU() * 2, // Hyperthreading
		}
		defaultContext = newContext(defaultDevice)
	})
}

func newContext(device *Device) *Context {
	ctx := &Context{
		device:  device,
		streams: make(map[int]*Stream),
		memory:  NewMemoryPool(),
	}
	ctx.defaultStream = ctx.CreateStream()
	return ctx
}

// NewContext creates an execution context on the CPU device with its own
// memory pool and default stream. Contexts are independent: memory
// allocated in one must be freed in the same one.
//
// Example:
//
//	ctx := guda.NewContext()
//	defer ctx.Destroy()
func NewContext() *Context {
	return newContext(defaultDevice)
}

// DefaultContext returns the process-wide context used by the package
// level functions (Malloc, Launch, Synchronize, ...).
func DefaultContext() *Context {
	return defaultContext
}

// Malloc allocates device memory of the specified size in bytes.
// In GUDA, this allocates CPU memory with proper alignment for SIMD operations.
// The returned DevicePtr can be used with all GUDA operations.
//
// Example:
//
//	d_data, err := guda.Malloc(1024 * 4) // Allocate 1024 float32s
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer guda.Free(d_data)
func Malloc(size int) (DevicePtr, error) {
	return defaultContext.Malloc(size)
}

// Free releases device memory allocated by Malloc.
// It is safe to call Free with a zero-value DevicePtr.
func Free(ptr DevicePtr) error {
	return defaultContext.Free(ptr)
}

// Memcpy copies memory between host and device.
// In GUDA's unified memory model, this is a plain copy.
// Supports DevicePtr and the []byte, []float32, []float64 and []int32 slice types.
func Memcpy(dst, src interface{}, size int, kind MemcpyKind) error {
	return defaultContext.Memcpy(dst, src, size, kind)
}

// Launch enqueues a kernel on the default stream.
// The kernel is executed across a grid of thread blocks.
//
// Example:
//
//	kernel := MyKernel{}
//	err := guda.Launch(kernel, guda.Dim3{X: 256, Y: 1, Z: 1}, guda.Dim3{X: 64, Y: 1, Z: 1})
func Launch(kernel Kernel, grid, block Dim3, args ...interface{}) error {
	return defaultContext.Launch(kernel, grid, block, args...)
}

// LaunchFunc enqueues a kernel function on the default stream.
func LaunchFunc(fn KernelFunc, grid, block Dim3, args ...interface{}) error {
	return defaultContext.LaunchFunc(fn, grid, block, args...)
}

// Synchronize waits for all operations on all streams of the default
// context to complete and reports any kernel fault recorded since the
// previous synchronization.
//
// Example:
//
//	guda.Launch(kernel, grid, block)
//	err := guda.Synchronize() // Wait for kernel to complete
func Synchronize() error {
	return defaultContext.Synchronize()
}

// GetDevice returns the current device information.
// In GUDA, this always returns the CPU device.
func GetDevice() *Device {
	return defaultDevice
}

// SetDevice sets the active device (no-op for CPU)
func SetDevice(id int) error {
	if id != 0 {
		return ErrInvalidDevice
	}
	return nil
}

// GetDeviceCount returns the number of available devices.
// GUDA always returns 1 as it only supports CPU execution.
func GetDeviceCount() int {
	return 1 // Only CPU
}

// GetDeviceProperties returns device properties
func GetDeviceProperties(id int) (*Device, error) {
	if id != 0 {
		return nil, NewInvalidArgError("GetDeviceProperties", fmt.Sprintf("invalid device ID: %d", id))
	}
	return defaultDevice, nil
}

// Context methods

// Device returns the device this context executes on.
func (ctx *Context) Device() *Device {
	return ctx.device
}

// CreateStream creates a new execution stream
func (ctx *Context) CreateStream() *Stream {
	id := int(atomic.AddInt32(&ctx.streamID, 1))
	stream := &Stream{
		id:    id,
		tasks: make(chan func() error, 1000),
		done:  make(chan struct{}),
	}

	// Start worker goroutine for stream
	go stream.worker()

	ctx.mu.Lock()
	ctx.streams[id] = stream
	ctx.mu.Unlock()
	return stream
}

// DefaultStream returns the stream used by Launch and LaunchFunc.
func (ctx *Context) DefaultStream() *Stream {
	return ctx.defaultStream
}

// Launch executes a kernel on the default stream
func (ctx *Context) Launch(kernel Kernel, grid, block Dim3, args ...interface{}) error {
	return ctx.LaunchStream(kernel, grid, block, ctx.defaultStream, args...)
}

// LaunchFunc executes a kernel function on the default stream
func (ctx *Context) LaunchFunc(fn KernelFunc, grid, block Dim3, args ...interface{}) error {
	return ctx.LaunchFuncStream(fn, grid, block, ctx.defaultStream, args...)
}

// LaunchStream executes a kernel on a specific stream
func (ctx *Context) LaunchStream(kernel Kernel, grid, block Dim3, stream *Stream, args ...interface{}) error {
	return ctx.launchInternal(kernel.Execute, grid, block, stream, args...)
}

// LaunchFuncStream executes a kernel function on a specific stream
func (ctx *Context) LaunchFuncStream(fn KernelFunc, grid, block Dim3, stream *Stream, args ...interface{}) error {
	return ctx.launchInternal(fn, grid, block, stream, args...)
}

// Execute runs a kernel to completion without going through a stream and
// returns its fault, if any. It is the synchronous counterpart of Launch:
// concurrent callers never observe each other's faults.
func (ctx *Context) Execute(kernel Kernel, grid, block Dim3, args ...interface{}) error {
	if err := validateLaunch(grid, block); err != nil {
		return err
	}
	return ctx.run(kernel.Execute, grid, block, args...)
}

// Synchronize waits for all streams to complete and returns the faults
// they recorded, joined in stream creation order.
func (ctx *Context) Synchronize() error {
	var errs []error
	for _, stream := range ctx.snapshotStreams() {
		if err := stream.Synchronize(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Destroy waits for outstanding work, stops every stream worker and
// reports any pending fault. The context must not be used afterwards.
func (ctx *Context) Destroy() error {
	err := ctx.Synchronize()
	for _, stream := range ctx.snapshotStreams() {
		stream.close()
	}
	ctx.mu.Lock()
	ctx.streams = make(map[int]*Stream)
	ctx.mu.Unlock()
	return err
}

func (ctx *Context) snapshotStreams() []*Stream {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	streams := make([]*Stream, 0, len(ctx.streams))
	for _, s := range ctx.streams {
		streams = append(streams, s)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].id < streams[j].id })
	return streams
}

// Stream methods

// worker processes tasks for a stream
func (s *Stream) worker() {
	for task := range s.tasks {
		if err := task(); err != nil {
			s.recordError(err)
		}
		s.wg.Done()
	}
	close(s.done)
}

func (s *Stream) recordError(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// ID returns the stream identifier, unique within its context.
func (s *Stream) ID() int {
	return s.id
}

// Synchronize waits for all tasks in the stream to complete. It returns
// the first error recorded since the previous Synchronize and clears it.
func (s *Stream) Synchronize() error {
	s.wg.Wait()
	s.errMu.Lock()
	defer s.errMu.Unlock()
	err := s.err
	s.err = nil
	return err
}

// Submit adds a task to the stream. A non-nil error returned by the task
// is reported by the next Synchronize. Submitting to a stream whose
// context was destroyed returns ErrStreamClosed.
func (s *Stream) Submit(task func() error) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.wg.Add(1)
	s.tasks <- task
	return nil
}

// Closed reports whether the stream has stopped accepting work.
func (s *Stream) Closed() bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	return s.closed
}

func (s *Stream) close() {
	s.closeOnce.Do(func() {
		s.sendMu.Lock()
		s.closed = true
		close(s.tasks)
		s.sendMu.Unlock()
		<-s.done
	})
}

// Helper functions

// Global returns the global thread index
func (tid ThreadID) Global() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalX returns the global X index
func (tid ThreadID) GlobalX() int {
	return tid.BlockIdx.X*tid.BlockDim.X + tid.ThreadIdx.X
}

// GlobalY returns the global Y index
func (tid ThreadID) GlobalY() int {
	return tid.BlockIdx.Y*tid.BlockDim.Y + tid.ThreadIdx.Y
}

// GlobalZ returns the global Z index
func (tid ThreadID) GlobalZ() int {
	return tid.BlockIdx.Z*tid.BlockDim.Z + tid.ThreadIdx.Z
}

// Size returns the total number of elements
func (d Dim3) Size() int {
	return d.X * d.Y * d.Z
}

// Implement KernelFunc as Kernel
func (fn KernelFunc) Execute(tid ThreadID, args ...interface{}) {
	fn(tid, args...)
}
