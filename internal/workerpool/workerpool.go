// Package workerpool runs data-parallel loops over voxel slabs. Every call
// returns only after all of its chunks have finished, so callers can treat
// each call as a barrier.
package workerpool

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Pool splits loops into contiguous chunks executed concurrently.
// A nil *Pool runs everything on the calling goroutine.
type Pool struct {
	numWorkers int
}

// New creates a pool with the given number of workers.
// If numWorkers <= 0, uses GOMAXPROCS.
func New(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &Pool{numWorkers: numWorkers}
}

// NumWorkers returns the number of workers in the pool.
func (p *Pool) NumWorkers() int {
	if p == nil {
		return 1
	}
	return p.numWorkers
}

// ParallelFor executes fn for [0, n) split into contiguous [start, end) chunks.
func (p *Pool) ParallelFor(n int, fn func(start, end int)) {
	_ = p.ParallelForErr(n, func(start, end int) error {
		fn(start, end)
		return nil
	})
}

// ParallelForErr is ParallelFor for chunk functions that can fail. It waits
// for all chunks and returns the first error encountered.
//
// Chunk boundaries depend only on n and the number of workers.
func (p *Pool) ParallelForErr(n int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}

	workers := min(p.NumWorkers(), n)
	if workers == 1 {
		return fn(0, n)
	}

	chunkSize := (n + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			return fn(start, end)
		})
	}
	return g.Wait()
}
