package parallel

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newPool(t *testing.T, workers int, k Kernel) *WorkerPool {
	t.Helper()
	pool, err := NewWorkerPool(workers, k)
	if err != nil {
		t.Fatalf("NewWorkerPool(%d): %v", workers, err)
	}
	return pool
}

func TestWorkerPoolCoversRanges(t *testing.T) {
	var total int64
	pool := newPool(t, 4, func(lo, hi int) {
		atomic.AddInt64(&total, int64(hi-lo))
	})
	for lo := 0; lo < 1000; lo += 64 {
		if !pool.Submit(lo, min(lo+64, 1000)) {
			t.Fatal("submit refused before Wait")
		}
	}
	pool.Wait()

	if total != 1000 {
		t.Errorf("covered %d indices, want 1000", total)
	}
}

func TestWorkerPoolConcurrentSubmit(t *testing.T) {
	var calls int64
	pool := newPool(t, 8, func(lo, hi int) { atomic.AddInt64(&calls, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Submit(i, i+1)
		}()
	}
	wg.Wait()
	pool.Wait()

	if calls != 100 {
		t.Errorf("kernel ran %d times, want 100", calls)
	}
}

// Wait racing submitters must neither panic on a closed channel nor lose an
// accepted range.
func TestWorkerPoolWaitRace(t *testing.T) {
	for iteration := 0; iteration < 50; iteration++ {
		var ran, accepted int64
		pool := newPool(t, 4, func(lo, hi int) {
			time.Sleep(50 * time.Microsecond)
			atomic.AddInt64(&ran, 1)
		})

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					if pool.Submit(j, j+1) {
						atomic.AddInt64(&accepted, 1)
					}
				}
			}()
		}
		time.Sleep(time.Millisecond)
		pool.Wait()
		wg.Wait()

		if ran != accepted {
			t.Fatalf("iteration %d: %d accepted, %d ran", iteration, accepted, ran)
		}
	}
}

func TestWorkerPoolSubmitAfterWait(t *testing.T) {
	pool := newPool(t, 2, func(lo, hi int) {
		if lo == 99 {
			t.Error("range submitted after Wait ran")
		}
	})
	pool.Submit(0, 1)
	pool.Wait()
	pool.Wait()

	if pool.Submit(99, 100) {
		t.Error("submit after Wait should be refused")
	}
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	var ok int64
	pool := newPool(t, 3, func(lo, hi int) {
		if lo%2 == 0 {
			panic("bad range")
		}
		atomic.AddInt64(&ok, 1)
	})
	for i := 0; i < 10; i++ {
		pool.Submit(i, i+1)
	}
	pool.Wait()

	if ok != 5 {
		t.Errorf("%d ranges completed, want 5", ok)
	}
	if got := len(pool.Panics()); got != 5 {
		t.Errorf("%d panics recorded, want 5", got)
	}
}

func TestWorkerPoolSizes(t *testing.T) {
	nop := func(lo, hi int) {}
	if _, err := NewWorkerPool(MaxWorkers+1, nop); !errors.Is(err, ErrTooManyWorkers) {
		t.Errorf("err = %v, want ErrTooManyWorkers", err)
	}
	if _, err := NewWorkerPool(2, nil); err == nil {
		t.Error("nil kernel accepted")
	}
	for _, tc := range []struct{ in, want int }{{0, 1}, {-5, 1}, {1, 1}, {100, 100}} {
		pool := newPool(t, tc.in, nop)
		if pool.Workers() != tc.want {
			t.Errorf("NewWorkerPool(%d) started %d workers, want %d", tc.in, pool.Workers(), tc.want)
		}
		pool.Wait()
	}
}

func BenchmarkWorkerPoolThroughput(b *testing.B) {
	pool, _ := NewWorkerPool(8, func(lo, hi int) {})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pool.Submit(i, i+1)
	}
	pool.Wait()
}
