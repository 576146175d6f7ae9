// Copyright ©2024 The GUDA Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package guda

import (
	"fmt"
	"runtime"
	"sync"
)

// launchInternal implements the core kernel execution logic
func (ctx *Context) launchInternal(
	kernelFunc func(ThreadID, ...interface{}),
	grid, block Dim3,
	stream *Stream,
	args ...interface{},
) error {
	if stream == nil {
		return NewInvalidArgError("Launch", "nil stream")
	}
	if err := validateLaunch(grid, block); err != nil {
		return err
	}

	err := stream.Submit(func() error {
		return ctx.run(kernelFunc, grid, block, args...)
	})
	if err != nil {
		return NewInvalidArgError("Launch", "stream closed")
	}
	return nil
}

// validateLaunch rejects launch shapes that cannot be executed.
func validateLaunch(grid, block Dim3) error {
	if grid.X < 0 || grid.Y < 0 || grid.Z < 0 {
		return NewInvalidArgError("Launch", fmt.Sprintf("negative grid dimensions %+v", grid))
	}
	blockSize := block.Size()
	if blockSize <= 0 || block.X <= 0 || block.Y <= 0 || block.Z <= 0 {
		return NewInvalidArgError("Launch", fmt.Sprintf("block dimensions must be positive, got %+v", block))
	}
	if blockSize > MaxThreadsPerBlock {
		return NewInvalidArgError("Launch",
			fmt.Sprintf("block of %d threads exceeds limit of %d", blockSize, MaxThreadsPerBlock))
	}
	return nil
}

// run executes every thread of the grid and waits for completion. A panic
// in any thread is recovered and returned as an execution error; the
// remaining blocks of the faulting worker are abandoned.
func (ctx *Context) run(
	kernelFunc func(ThreadID, ...interface{}),
	grid, block Dim3,
	args ...interface{},
) error {
	gridSize := grid.Size()
	blockSize := block.Size()
	if gridSize == 0 {
		return nil
	}

	// Determine parallelism strategy
	numWorkers := runtime.NumCPU()
	if gridSize < numWorkers {
		numWorkers = gridSize
	}

	// Cache-aware scheduling: each worker processes a contiguous run of
	// blocks to maximize cache reuse
	blocksPerWorker := (gridSize + numWorkers - 1) / numWorkers

	var (
		wg        sync.WaitGroup
		faultOnce sync.Once
		fault     error
	)
	wg.Add(numWorkers)

	for workerID := 0; workerID < numWorkers; workerID++ {
		startBlock := workerID * blocksPerWorker
		endBlock := startBlock + blocksPerWorker
		if endBlock > gridSize {
			endBlock = gridSize
		}

		go func() {
			defer wg.Done()

			blockID := startBlock
			defer func() {
				if r := recover(); r != nil {
					faultOnce.Do(func() {
						fault = NewExecutionError("Launch",
							fmt.Sprintf("kernel fault in block %d", blockID), panicError(r))
					})
				}
			}()

			for ; blockID < endBlock; blockID++ {
				blockIdx := linearTo3D(blockID, grid)

				// Threads within a block run sequentially on CPU
				for threadID := 0; threadID < blockSize; threadID++ {
					tid := ThreadID{
						BlockIdx:  blockIdx,
						ThreadIdx: linearTo3D(threadID, block),
						BlockDim:  block,
						GridDim:   grid,
					}
					kernelFunc(tid, args...)
				}
			}
		}()
	}

	wg.Wait()
	return fault
}

func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("%v", r)
}

// linearTo3D converts a linear index to 3D coordinates
func linearTo3D(linear int, dim Dim3) Dim3 {
	z := linear / (dim.X * dim.Y)
	y := (linear % (dim.X * dim.Y)) / dim.X
	x := linear % dim.X
	return Dim3{X: x, Y: y, Z: z}
}

// WorkerPool manages a pool of worker goroutines for host-side work that
// fans out over many independent launches.
type WorkerPool struct {
	workers int
	tasks   chan func()
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	pool := &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), workers*2),
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

// Workers returns the number of goroutines serving the pool.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// worker processes tasks from the queue
func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.tasks {
		task()
	}
}

// Submit adds a task to the pool
func (wp *WorkerPool) Submit(task func()) {
	wp.tasks <- task
}

// Close shuts down the worker pool after the queued tasks have run.
func (wp *WorkerPool) Close() {
	close(wp.tasks)
	wp.wg.Wait()
}
