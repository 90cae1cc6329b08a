package performance

import (
	"context"
	"sync"
)

// PoolConfig sizes a worker pool.
type PoolConfig struct {
	// PreAllocatedVUs slots are created eagerly so that cold-start cost does
	// not skew early measurements.
	PreAllocatedVUs int

	// MaxVUs is the hard ceiling on slots, and so on concurrent iterations.
	MaxVUs int
}

// Normalize applies defaults: at least one pre-allocated slot, and a
// ceiling never below the pre-allocated count.
func (c PoolConfig) Normalize() PoolConfig {
	if c.PreAllocatedVUs <= 0 {
		c.PreAllocatedVUs = 1
	}
	if c.MaxVUs < c.PreAllocatedVUs {
		c.MaxVUs = c.PreAllocatedVUs
	}
	return c
}

// Pool manages a bounded set of reusable workers.
//
// It provides:
// - eager pre-allocation and lazy growth up to MaxVUs
// - non-blocking Acquire that reports when no slot is available
// - asynchronous dispatch with in-flight tracking for draining
//
// # Thread Safety
//
// Pool is safe for concurrent use. Acquire and Release are serialized by a
// mutex so the busy count is exact at every instant.
type Pool struct {
	config PoolConfig
	body   Iteration

	mu       sync.Mutex
	idle     []*Worker
	all      []*Worker
	busy     int
	peakBusy int

	inflight sync.WaitGroup
}

// NewPool creates a pool whose workers execute body.
func NewPool(config PoolConfig, body Iteration) *Pool {
	config = config.Normalize()

	p := &Pool{
		config: config,
		body:   body,
		idle:   make([]*Worker, 0, config.MaxVUs),
		all:    make([]*Worker, 0, config.MaxVUs),
	}

	for i := 0; i < config.PreAllocatedVUs; i++ {
		p.idle = append(p.idle, p.spawnLocked())
	}

	return p
}

// spawnLocked creates and registers a new worker. Caller holds p.mu.
func (p *Pool) spawnLocked() *Worker {
	w := newWorker(len(p.all)+1, p.body)
	p.all = append(p.all, w)
	return w
}

// Config returns the normalized pool configuration.
func (p *Pool) Config() PoolConfig {
	return p.config
}

// Acquire returns an idle worker, allocating a new one if the ceiling
// allows. It never blocks; ok is false when every slot is busy.
func (p *Pool) Acquire() (w *Worker, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.idle); n > 0 {
		w = p.idle[n-1]
		p.idle = p.idle[:n-1]
	} else if len(p.all) < p.config.MaxVUs {
		w = p.spawnLocked()
	} else {
		return nil, false
	}

	w.state.Store(int32(WorkerBusy))
	p.busy++
	if p.busy > p.peakBusy {
		p.peakBusy = p.busy
	}
	return w, true
}

// Release returns a busy worker to the pool. Releasing an idle worker is a
// no-op.
func (p *Pool) Release(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !w.state.CompareAndSwap(int32(WorkerBusy), int32(WorkerIdle)) {
		return
	}
	p.busy--
	p.idle = append(p.idle, w)
}

// Dispatch runs one iteration on w in its own goroutine, sends the result
// and then releases w. The caller must have acquired w.
func (p *Pool) Dispatch(ctx context.Context, w *Worker, results chan<- IterationResult) {
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer p.Release(w)

		results <- w.Run(ctx)
	}()
}

// Wait blocks until every dispatched iteration has completed.
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// Busy returns the number of workers currently executing.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// PeakBusy returns the highest Busy value observed.
func (p *Pool) PeakBusy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peakBusy
}

// Available returns how many more workers can be acquired right now.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.MaxVUs - p.busy
}

// Allocated returns how many workers exist (idle or busy).
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}
