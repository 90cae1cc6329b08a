package performance_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/katunilya/surge/internal/performance"
)

func noopBody() performance.Iteration {
	return performance.IterationFunc(func(ctx context.Context) performance.Outcome {
		return performance.Outcome{StatusCode: 200}
	})
}

func TestPoolConfig_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   performance.PoolConfig
		want performance.PoolConfig
	}{
		{"zero", performance.PoolConfig{}, performance.PoolConfig{PreAllocatedVUs: 1, MaxVUs: 1}},
		{"max below pre", performance.PoolConfig{PreAllocatedVUs: 10, MaxVUs: 5}, performance.PoolConfig{PreAllocatedVUs: 10, MaxVUs: 10}},
		{"unchanged", performance.PoolConfig{PreAllocatedVUs: 100, MaxVUs: 200}, performance.PoolConfig{PreAllocatedVUs: 100, MaxVUs: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalize(); got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewPool_PreAllocates(t *testing.T) {
	pool := performance.NewPool(performance.PoolConfig{PreAllocatedVUs: 5, MaxVUs: 10}, noopBody())

	if got := pool.Allocated(); got != 5 {
		t.Errorf("Allocated() = %d, want 5", got)
	}
	if got := pool.Busy(); got != 0 {
		t.Errorf("Busy() = %d, want 0", got)
	}
	if got := pool.Available(); got != 10 {
		t.Errorf("Available() = %d, want 10", got)
	}
}

func TestPool_AcquireGrowsLazilyUpToMax(t *testing.T) {
	pool := performance.NewPool(performance.PoolConfig{PreAllocatedVUs: 2, MaxVUs: 4}, noopBody())

	var workers []*performance.Worker
	for i := 0; i < 4; i++ {
		w, ok := pool.Acquire()
		if !ok {
			t.Fatalf("Acquire() #%d failed", i+1)
		}
		if w.State() != performance.WorkerBusy {
			t.Errorf("acquired worker state = %v, want busy", w.State())
		}
		workers = append(workers, w)
	}

	if got := pool.Allocated(); got != 4 {
		t.Errorf("Allocated() = %d, want 4", got)
	}
	if _, ok := pool.Acquire(); ok {
		t.Error("Acquire() beyond MaxVUs should fail")
	}
	if got := pool.Available(); got != 0 {
		t.Errorf("Available() = %d, want 0", got)
	}

	pool.Release(workers[0])
	pool.Release(workers[0]) // double release is a no-op

	if got := pool.Busy(); got != 3 {
		t.Errorf("Busy() after release = %d, want 3", got)
	}
	w, ok := pool.Acquire()
	if !ok || w != workers[0] {
		t.Error("Acquire() should reuse the released worker")
	}
	if got := pool.PeakBusy(); got != 4 {
		t.Errorf("PeakBusy() = %d, want 4", got)
	}
}

func TestPool_DispatchDeliversEveryResult(t *testing.T) {
	var executed atomic.Int64
	body := performance.IterationFunc(func(ctx context.Context) performance.Outcome {
		executed.Add(1)
		time.Sleep(time.Millisecond)
		return performance.Outcome{StatusCode: 200}
	})
	pool := performance.NewPool(performance.PoolConfig{PreAllocatedVUs: 4, MaxVUs: 8}, body)

	results := make(chan performance.IterationResult, 64)
	started := 0
	for started < 50 {
		w, ok := pool.Acquire()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		pool.Dispatch(context.Background(), w, results)
		started++
	}
	pool.Wait()
	close(results)

	received := 0
	for r := range results {
		if !r.Success {
			t.Errorf("unexpected failure: %v", r.Err)
		}
		received++
	}
	if received != 50 || executed.Load() != 50 {
		t.Errorf("received %d results, executed %d, want 50", received, executed.Load())
	}
	if pool.Busy() != 0 {
		t.Errorf("Busy() after Wait = %d, want 0", pool.Busy())
	}
	if pool.PeakBusy() > 8 {
		t.Errorf("PeakBusy() = %d exceeds MaxVUs", pool.PeakBusy())
	}
}

func TestPool_DispatchIgnoresCancellation(t *testing.T) {
	release := make(chan struct{})
	var sawCancel atomic.Bool
	body := performance.IterationFunc(func(ctx context.Context) performance.Outcome {
		<-release
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return performance.Outcome{StatusCode: 200}
	})
	pool := performance.NewPool(performance.PoolConfig{PreAllocatedVUs: 1, MaxVUs: 1}, body)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan performance.IterationResult, 1)
	w, _ := pool.Acquire()
	pool.Dispatch(ctx, w, results)

	cancel()
	close(release)
	pool.Wait()

	r := <-results
	if !r.Success {
		t.Errorf("in-flight iteration failed after cancel: %v", r.Err)
	}
	if sawCancel.Load() {
		t.Error("iteration context was cancelled with the run")
	}
}

func TestPool_ConcurrentAcquireNeverExceedsMax(t *testing.T) {
	const maxVUs = 7
	pool := performance.NewPool(performance.PoolConfig{PreAllocatedVUs: 1, MaxVUs: maxVUs}, noopBody())

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if w, ok := pool.Acquire(); ok {
					if busy := pool.Busy(); busy > maxVUs {
						t.Errorf("Busy() = %d exceeds %d", busy, maxVUs)
					}
					pool.Release(w)
				}
			}
		}()
	}
	wg.Wait()

	if pool.Allocated() > maxVUs {
		t.Errorf("Allocated() = %d exceeds %d", pool.Allocated(), maxVUs)
	}
	if pool.Busy() != 0 {
		t.Errorf("Busy() = %d, want 0", pool.Busy())
	}
}

func TestPool_BusyBoundedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pre := rapid.IntRange(1, 10).Draw(t, "pre")
		maxVUs := rapid.IntRange(pre, 20).Draw(t, "max")
		pool := performance.NewPool(performance.PoolConfig{PreAllocatedVUs: pre, MaxVUs: maxVUs}, noopBody())

		var held []*performance.Worker
		ops := rapid.SliceOfN(rapid.Bool(), 1, 100).Draw(t, "ops")
		for _, acquire := range ops {
			if acquire {
				if w, ok := pool.Acquire(); ok {
					held = append(held, w)
				} else if len(held) != maxVUs {
					t.Fatalf("Acquire failed with %d of %d held", len(held), maxVUs)
				}
			} else if len(held) > 0 {
				pool.Release(held[len(held)-1])
				held = held[:len(held)-1]
			}

			if pool.Busy() != len(held) {
				t.Fatalf("Busy() = %d, want %d", pool.Busy(), len(held))
			}
			if pool.Available() != maxVUs-len(held) {
				t.Fatalf("Available() = %d, want %d", pool.Available(), maxVUs-len(held))
			}
		}
	})
}
