package executor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	xrate "golang.org/x/time/rate"

	"github.com/katunilya/surge/internal/performance"
	"github.com/katunilya/surge/internal/performance/metrics"
	"github.com/katunilya/surge/internal/performance/rate"
)

// dropWarnInterval throttles the "insufficient VUs" warning.
const dropWarnInterval = 5 * time.Second

// RampingArrivalRate starts iterations at a target rate that follows the
// plan, regardless of response time (open model).
//
// A single ticker drives scheduling. Each tick adds rate × dt to a
// fractional accumulator; whole owed iterations are started on free
// workers and whatever cannot be started is dropped, never queued.
//
// The first stage starts at its own target unless the plan declares a
// StartRate. To ramp from zero, set StartRate to 0.
//
// Example:
//
//	config:
//	  type: ramping-arrival-rate
//	  startRate: 0
//	  stages:
//	    - duration: 10m
//	      target: 600          # Ramp from 0 to 600 iterations/s
//	  preAllocatedVUs: 100
//	  maxVUs: 200
type RampingArrivalRate struct {
	typ    Type
	config *Config

	// owned by the scheduler goroutine
	acc          *rate.Accumulator
	warnLimiter  *xrate.Limiter
	pendingDrops int

	state     runState
	mu        sync.RWMutex
	startTime time.Time
	pool      *performance.Pool

	started      atomic.Int64
	dropped      atomic.Int64
	currentRate  atomic.Uint64 // math.Float64bits
	currentStage atomic.Int32
}

// NewRampingArrivalRate creates a new ramping arrival rate executor.
func NewRampingArrivalRate() *RampingArrivalRate {
	return &RampingArrivalRate{typ: TypeRampingArrivalRate}
}

// NewConstantArrivalRate creates an arrival-rate executor for a
// single-stage plan that holds its rate.
func NewConstantArrivalRate() *RampingArrivalRate {
	return &RampingArrivalRate{typ: TypeConstantArrivalRate}
}

// Type returns the executor type.
func (e *RampingArrivalRate) Type() Type {
	return e.typ
}

// Init initializes the executor with configuration.
func (e *RampingArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != e.typ {
		return fmt.Errorf("invalid config type: expected %s, got %s", e.typ, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}
	config.applyDefaults()

	e.config = config
	e.acc = rate.NewAccumulator()
	e.warnLimiter = xrate.NewLimiter(xrate.Every(dropWarnInterval), 1)
	return nil
}

// TickResult is the outcome of one scheduling tick.
type TickResult struct {
	Started int
	Dropped int
}

// Tick accrues demand for the interval ending at elapsed at targetRate and
// splits the whole owed iterations into starts (at most available) and
// drops. It must only be called from the scheduler goroutine.
func (e *RampingArrivalRate) Tick(elapsed time.Duration, targetRate float64, available int) TickResult {
	e.acc.Advance(elapsed, targetRate)
	started, dropped := e.acc.Take(available)
	return TickResult{Started: started, Dropped: dropped}
}

// rateFor samples the plan once for the tick ending at elapsed. The
// midpoint of a linear segment gives the exact average over the tick.
func (e *RampingArrivalRate) rateFor(elapsed time.Duration) float64 {
	last := e.acc.LastTick()
	mid := last + (elapsed-last)/2

	r, err := e.config.Plan.RateAt(mid)
	if err != nil {
		return 0
	}
	return r
}

// Run starts the executor and blocks until completion.
func (e *RampingArrivalRate) Run(ctx context.Context, pool *performance.Pool, agg *metrics.Aggregator) error {
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
		zap.Int("preAllocatedVUs", pool.Config().PreAllocatedVUs),
		zap.Int("maxVUs", pool.Config().MaxVUs),
		zap.Duration("tick", e.config.TickInterval),
	)

	e.schedule(ctx, start, pool, agg, results)

	e.state.advance(StateDraining)
	agg.SetPhase(metrics.PhaseDraining)
	logger.Info("draining", zap.Int("inFlight", pool.Busy()))

	waitDrained(pool.Wait, e.config.GracefulStop, logger, pool.Busy)
	close(results)
	<-consumed

	agg.SetActiveVUs(0)
	agg.SetPhase(metrics.PhaseDone)
	e.state.advance(StateComplete)

	logger.Info("run complete",
		zap.Int64("started", e.started.Load()),
		zap.Int64("dropped", e.dropped.Load()),
		zap.Int("peakVUs", pool.PeakBusy()),
	)
	return nil
}

// schedule runs the tick loop until the plan is exhausted or ctx is done.
func (e *RampingArrivalRate) schedule(ctx context.Context, start time.Time, pool *performance.Pool, agg *metrics.Aggregator, results chan<- performance.IterationResult) {
	total := e.config.TotalDuration()

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.config.Logger.Info("run cancelled, no further iterations will start")
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			e.config.Logger.Info("run cancelled, no further iterations will start")
			return
		}

		elapsed := time.Since(start)
		last := elapsed >= total
		if last {
			elapsed = total
		}

		e.step(ctx, elapsed, pool, agg, results)

		if last {
			return
		}
	}
}

// step performs one tick: accrue, start, drop, report.
func (e *RampingArrivalRate) step(ctx context.Context, elapsed time.Duration, pool *performance.Pool, agg *metrics.Aggregator, results chan<- performance.IterationResult) {
	targetRate := e.rateFor(elapsed)
	res := e.Tick(elapsed, targetRate, pool.Available())

	for i := 0; i < res.Started; i++ {
		w, ok := pool.Acquire()
		if !ok {
			res.Dropped += res.Started - i
			res.Started = i
			break
		}
		pool.Dispatch(ctx, w, results)
	}

	e.started.Add(int64(res.Started))
	e.dropped.Add(int64(res.Dropped))
	agg.RecordDropped(res.Dropped)
	agg.SetActiveVUs(pool.Busy())
	agg.SetPhase(phaseFor(&e.config.Plan, elapsed))

	e.currentRate.Store(math.Float64bits(targetRate))
	if seg, err := e.config.Plan.Segment(elapsed); err == nil {
		e.currentStage.Store(int32(seg.Index))
	}

	if res.Dropped > 0 {
		e.warnDropped(res.Dropped, pool)
	}
}

// warnDropped logs dropped demand at most once per dropWarnInterval,
// reporting everything dropped since the previous warning.
func (e *RampingArrivalRate) warnDropped(n int, pool *performance.Pool) {
	e.pendingDrops += n
	if !e.warnLimiter.Allow() {
		return
	}
	e.config.Logger.Warn("insufficient VUs, dropping iterations",
		zap.Int("dropped", e.pendingDrops),
		zap.Int("maxVUs", pool.Config().MaxVUs),
		zap.Float64("rate", math.Float64frombits(e.currentRate.Load())),
	)
	e.pendingDrops = 0
}

// State returns the current run state.
func (e *RampingArrivalRate) State() RunState {
	return e.state.Load()
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingArrivalRate) GetProgress() float64 {
	e.mu.RLock()
	start := e.startTime
	e.mu.RUnlock()

	var total time.Duration
	if e.config != nil {
		total = e.config.TotalDuration()
	}
	return progress(e.state.Load(), start, total)
}

// GetStats returns executor statistics.
func (e *RampingArrivalRate) GetStats() *Stats {
	e.mu.RLock()
	start, pool := e.startTime, e.pool
	e.mu.RUnlock()

	stats := &Stats{
		StartTime:    start,
		CurrentTime:  time.Now(),
		State:        e.state.Load(),
		Started:      e.started.Load(),
		Dropped:      e.dropped.Load(),
		CurrentStage: int(e.currentStage.Load()),
		CurrentRate:  math.Float64frombits(e.currentRate.Load()),
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
		stats.ActiveVUs = pool.Busy()
		stats.AllocatedVUs = pool.Allocated()
		stats.PeakVUs = pool.PeakBusy()
		stats.TargetVUs = pool.Config().MaxVUs
	}
	return stats
}

// Ensure RampingArrivalRate implements Executor
var _ Executor = (*RampingArrivalRate)(nil)
