package parallel

import (
	"errors"
	"fmt"
	"sync"
)

// MaxWorkers bounds the number of goroutines a pool may start.
const MaxWorkers = 1 << 16

// ErrTooManyWorkers is returned when the worker count exceeds MaxWorkers.
var ErrTooManyWorkers = errors.New("worker count exceeds maximum")

// Kernel processes the index range [lo, hi).
type Kernel func(lo, hi int)

// WorkerPool feeds index ranges to a fixed set of workers that all run the
// same kernel. A range whose kernel panics is recorded and the worker moves
// on to the next range.
type WorkerPool struct {
	workers int
	kernel  Kernel
	ranges  chan [2]int
	wg      sync.WaitGroup

	mu     sync.RWMutex // guards closed against a send racing Close
	closed bool
	once   sync.Once

	panicMu sync.Mutex
	panics  []any
}

// NewWorkerPool starts workers goroutines running kernel. A non-positive
// count starts one worker.
func NewWorkerPool(workers int, kernel Kernel) (*WorkerPool, error) {
	if kernel == nil {
		return nil, errors.New("nil kernel")
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > MaxWorkers {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyWorkers, workers, MaxWorkers)
	}

	wp := &WorkerPool{
		workers: workers,
		kernel:  kernel,
		ranges:  make(chan [2]int, 2*workers),
	}
	wp.wg.Add(workers)
	for range workers {
		go wp.work()
	}
	return wp, nil
}

// Workers returns the number of worker goroutines.
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

func (wp *WorkerPool) work() {
	defer wp.wg.Done()
	for r := range wp.ranges {
		wp.run(r[0], r[1])
	}
}

func (wp *WorkerPool) run(lo, hi int) {
	defer func() {
		if p := recover(); p != nil {
			wp.panicMu.Lock()
			wp.panics = append(wp.panics, p)
			wp.panicMu.Unlock()
		}
	}()
	wp.kernel(lo, hi)
}

// Submit queues [lo, hi) and reports whether the pool accepted it.
func (wp *WorkerPool) Submit(lo, hi int) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}
	wp.ranges <- [2]int{lo, hi}
	return true
}

// Wait stops accepting ranges and blocks until every queued range ran.
// It is safe to call more than once.
func (wp *WorkerPool) Wait() {
	wp.once.Do(func() {
		wp.mu.Lock()
		wp.closed = true
		close(wp.ranges)
		wp.mu.Unlock()
	})
	wp.wg.Wait()
}

// Panics returns the values recovered from panicking ranges.
func (wp *WorkerPool) Panics() []any {
	wp.panicMu.Lock()
	defer wp.panicMu.Unlock()
	return append([]any(nil), wp.panics...)
}
