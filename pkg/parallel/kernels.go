// Package parallel runs data-parallel kernels over index ranges. Work is cut
// into chunks whose boundaries depend only on the problem size, never on the
// worker count, so per-chunk results reduced in chunk order are bitwise
// identical for any number of workers.
package parallel

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultChunk is the number of indices handed to a worker at a time.
const DefaultChunk = 64

// Runner executes kernels with a bounded number of workers.
type Runner struct {
	workers int
	chunk   int
}

// New creates a runner. A non-positive worker count uses GOMAXPROCS.
func New(workers int) *Runner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	return &Runner{workers: workers, chunk: DefaultChunk}
}

// Serial returns a single-worker runner.
func Serial() *Runner {
	return New(1)
}

// WithChunk returns a copy of r using chunks of the given size.
func (r *Runner) WithChunk(chunk int) *Runner {
	c := *r
	if chunk > 0 {
		c.chunk = chunk
	}
	return &c
}

// Workers returns the worker bound.
func (r *Runner) Workers() int {
	if r == nil {
		return 1
	}
	return r.workers
}

// Chunks returns the [lo, hi) boundaries used for n indices.
func (r *Runner) Chunks(n int) [][2]int {
	size := DefaultChunk
	if r != nil {
		size = r.chunk
	}
	out := make([][2]int, 0, (n+size-1)/size)
	for lo := 0; lo < n; lo += size {
		out = append(out, [2]int{lo, min(lo+size, n)})
	}
	return out
}

// For calls fn once per chunk of [0, n) and returns when every chunk has
// finished. A panic inside fn is re-raised in the caller.
func (r *Runner) For(n int, fn func(lo, hi int)) {
	chunks := r.Chunks(n)
	if len(chunks) == 0 {
		return
	}
	if r.Workers() == 1 || len(chunks) == 1 {
		for _, c := range chunks {
			fn(c[0], c[1])
		}
		return
	}

	pool, err := NewWorkerPool(min(r.workers, len(chunks)), fn)
	if err != nil {
		panic(err)
	}
	for _, c := range chunks {
		pool.Submit(c[0], c[1])
	}
	pool.Wait()
	if p := pool.Panics(); len(p) > 0 {
		panic(fmt.Sprintf("parallel kernel panicked: %v", p[0]))
	}
}

// ForEach calls fn for every index in [0, n).
func (r *Runner) ForEach(n int, fn func(i int)) {
	r.For(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			fn(i)
		}
	})
}

// ForErr calls fn for every index in [0, n) and returns the first error. The
// context passed to fn is cancelled once any call fails, and chunks not yet
// started are skipped.
func (r *Runner) ForErr(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Workers())
	for _, c := range r.Chunks(n) {
		lo, hi := c[0], c[1]
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(gctx, i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Sum returns the sum of fn(i) over [0, n). Partial sums are formed per chunk
// and added in chunk order.
func (r *Runner) Sum(n int, fn func(i int) float64) float64 {
	chunks := r.Chunks(n)
	partial := make([]float64, len(chunks))
	r.For(len(chunks), func(lo, hi int) {
		for c := lo; c < hi; c++ {
			var s float64
			for i := chunks[c][0]; i < chunks[c][1]; i++ {
				s += fn(i)
			}
			partial[c] = s
		}
	})
	var total float64
	for _, s := range partial {
		total += s
	}
	return total
}

// Max returns the maximum of fn(i) over [0, n), or zero when n is zero.
func (r *Runner) Max(n int, fn func(i int) float64) float64 {
	chunks := r.Chunks(n)
	partial := make([]float64, len(chunks))
	r.For(len(chunks), func(lo, hi int) {
		for c := lo; c < hi; c++ {
			m := fn(chunks[c][0])
			for i := chunks[c][0] + 1; i < chunks[c][1]; i++ {
				m = max(m, fn(i))
			}
			partial[c] = m
		}
	})
	if len(partial) == 0 {
		return 0
	}
	m := partial[0]
	for _, v := range partial[1:] {
		m = max(m, v)
	}
	return m
}
