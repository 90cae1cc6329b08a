package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/katunilya/surge/internal/performance"
	"github.com/katunilya/surge/internal/performance/metrics"
)

// RampingVUs ramps the number of looping VUs along the plan (closed model).
//
// Each VU holds one pool worker and runs iterations back to back, pausing
// ThinkTime between them. When the target drops, the newest VUs finish
// their current iteration and exit.
//
// Example stages:
//
//	stages:
//	  - duration: 2m
//	    target: 50     # Ramp from 0 to 50 VUs over 2 minutes
//	  - duration: 5m
//	    target: 100    # Ramp to 100 VUs
//	  - duration: 2m
//	    target: 0      # Ramp down to 0 VUs
type RampingVUs struct {
	typ    Type
	config *Config

	state     runState
	mu        sync.Mutex
	startTime time.Time
	pool      *performance.Pool
	loops     []*vuLoop
	wg        sync.WaitGroup

	started      atomic.Int64
	targetVUs    atomic.Int32
	currentStage atomic.Int32
}

// vuLoop is one running VU.
type vuLoop struct {
	worker *performance.Worker
	stop   chan struct{}
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{typ: TypeRampingVUs}
}

// NewConstantVUs creates a VU executor for a single-stage plan.
func NewConstantVUs() *RampingVUs {
	return &RampingVUs{typ: TypeConstantVUs}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return e.typ
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != e.typ {
		return fmt.Errorf("invalid config type: expected %s, got %s", e.typ, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}
	config.applyDefaults()

	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, pool *performance.Pool, agg *metrics.Aggregator) error {
	if e.config == nil {
		return errors.New("executor not initialized")
	}
	if !e.state.advance(StateRamping) {
		return errors.New("executor already started")
	}

	logger := e.config.Logger
	results := make(chan performance.IterationResult, e.config.ResultBuffer)
	consumed := make(chan struct{})
	go func() {
		agg.Consume(results)
		close(consumed)
	}()

	start := time.Now()
	e.mu.Lock()
	e.startTime = start
	e.pool = pool
	e.mu.Unlock()

	logger.Info("ramping started",
		zap.Duration("duration", e.config.TotalDuration()),
		zap.Int("maxVUs", pool.Config().MaxVUs),
		zap.Duration("thinkTime", e.config.ThinkTime),
	)

	e.control(ctx, start, pool, agg, results)

	e.state.advance(StateDraining)
	agg.SetPhase(metrics.PhaseDraining)
	e.stopAll()
	logger.Info("draining", zap.Int("inFlight", pool.Busy()))

	waitDrained(e.wg.Wait, e.config.GracefulStop, logger, pool.Busy)
	close(results)
	<-consumed

	agg.SetActiveVUs(0)
	agg.SetPhase(metrics.PhaseDone)
	e.state.advance(StateComplete)

	logger.Info("run complete", zap.Int64("started", e.started.Load()), zap.Int("peakVUs", pool.PeakBusy()))
	return nil
}

// control adjusts the VU count every tick until the plan is exhausted.
func (e *RampingVUs) control(ctx context.Context, start time.Time, pool *performance.Pool, agg *metrics.Aggregator, results chan<- performance.IterationResult) {
	total := e.config.TotalDuration()

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	elapsed := time.Duration(0)
	for {
		last := elapsed >= total
		if last {
			elapsed = total
		}

		target, err := e.config.Plan.VUsAt(elapsed)
		if err != nil {
			target = 0
		}
		e.targetVUs.Store(int32(target))
		if seg, err := e.config.Plan.Segment(elapsed); err == nil {
			e.currentStage.Store(int32(seg.Index))
		}

		running := e.adjust(ctx, target, pool, results)
		agg.SetActiveVUs(running)
		agg.SetPhase(phaseFor(&e.config.Plan, elapsed))

		if last {
			return
		}

		select {
		case <-ctx.Done():
			e.config.Logger.Info("run cancelled, no further iterations will start")
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		elapsed = time.Since(start)
	}
}

// adjust starts or stops VUs to match target and returns the running count.
func (e *RampingVUs) adjust(ctx context.Context, target int, pool *performance.Pool, results chan<- performance.IterationResult) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	for len(e.loops) < target {
		w, ok := pool.Acquire()
		if !ok {
			break
		}
		loop := &vuLoop{worker: w, stop: make(chan struct{})}
		e.loops = append(e.loops, loop)
		e.wg.Add(1)
		go e.runLoop(ctx, pool, loop, results)
	}

	for len(e.loops) > target {
		last := e.loops[len(e.loops)-1]
		close(last.stop)
		e.loops = e.loops[:len(e.loops)-1]
	}

	return len(e.loops)
}

// stopAll asks every VU to exit after its current iteration.
func (e *RampingVUs) stopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, loop := range e.loops {
		close(loop.stop)
	}
	e.loops = nil
}

// runLoop runs iterations on one worker until stopped.
func (e *RampingVUs) runLoop(ctx context.Context, pool *performance.Pool, loop *vuLoop, results chan<- performance.IterationResult) {
	defer e.wg.Done()
	defer pool.Release(loop.worker)

	for {
		select {
		case <-loop.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		e.started.Add(1)
		results <- loop.worker.Run(ctx)

		if e.config.ThinkTime > 0 {
			timer := time.NewTimer(e.config.ThinkTime)
			select {
			case <-loop.stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// State returns the current run state.
func (e *RampingVUs) State() RunState {
	return e.state.Load()
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	e.mu.Lock()
	start := e.startTime
	e.mu.Unlock()

	var total time.Duration
	if e.config != nil {
		total = e.config.TotalDuration()
	}
	return progress(e.state.Load(), start, total)
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.Lock()
	start, pool, running := e.startTime, e.pool, len(e.loops)
	e.mu.Unlock()

	stats := &Stats{
		StartTime:    start,
		CurrentTime:  time.Now(),
		State:        e.state.Load(),
		ActiveVUs:    running,
		TargetVUs:    int(e.targetVUs.Load()),
		Started:      e.started.Load(),
		CurrentStage: int(e.currentStage.Load()),
	}
	if !start.IsZero() {
		stats.Elapsed = time.Since(start)
	}
	if e.config != nil {
		stages := e.config.Plan.Stages
		stats.TotalDuration = e.config.TotalDuration()
		stats.TotalStages = len(stages)
		if stats.CurrentStage < len(stages) {
			stats.CurrentStageName = stages[stats.CurrentStage].Name
		}
	}
	if pool != nil {
		stats.AllocatedVUs = pool.Allocated()
		stats.PeakVUs = pool.PeakBusy()
	}
	return stats
}

// Ensure RampingVUs implements Executor
var _ Executor = (*RampingVUs)(nil)
