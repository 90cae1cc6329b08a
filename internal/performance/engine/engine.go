// Package engine orchestrates one load run: it checks the target is
// reachable, wires the worker pool, the executor and the metrics
// aggregator together, and assembles the final Summary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/katunilya/surge/internal/performance"
	"github.com/katunilya/surge/internal/performance/config"
	"github.com/katunilya/surge/internal/performance/executor"
	"github.com/katunilya/surge/internal/performance/metrics"
	"github.com/katunilya/surge/internal/performance/plan"
)

// DefaultProgressInterval is how often a running engine logs progress.
const DefaultProgressInterval = 10 * time.Second

// Options tune an Engine. The zero value is usable.
type Options struct {
	// Logger receives run logs; nil means no-op
	Logger *zap.Logger

	// Registerer, when set, exposes the run's metrics while it runs
	Registerer prometheus.Registerer

	// ProgressInterval between progress log lines; negative disables
	ProgressInterval time.Duration

	// SkipPreflight disables the connectivity check
	SkipPreflight bool
}

// Engine is the main orchestrator for a load run.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("cart.yaml")
//	eng, _ := engine.NewEngine(cfg, engine.Options{Logger: logger})
//	summary, _ := eng.Run(ctx)
//	fmt.Printf("started %d, dropped %d\n", summary.Started, summary.Dropped)
type Engine struct {
	config *config.TestConfig
	opts   Options
	runID  string
	logger *zap.Logger

	client     *http.Client
	check      performance.Check
	execConfig *executor.Config
	poolConfig performance.PoolConfig

	mu      sync.RWMutex
	running bool
	exec    executor.Executor
	agg     *metrics.Aggregator
}

// NewEngine validates cfg and prepares a run. Configuration problems are
// returned as errors matching plan.ErrConfig.
func NewEngine(cfg *config.TestConfig, opts Options) (*Engine, error) {
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}

	runID := uuid.NewString()
	logger := opts.Logger.With(zap.String("runId", runID))

	check, err := cfg.Check.BuildCheck()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	execConfig, err := executor.ConfigFromScenario(cfg.Name, &cfg.Scenario, logger.With(zap.String("component", "executor")))
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:     cfg,
		opts:       opts,
		runID:      runID,
		logger:     logger.With(zap.String("component", "engine")),
		client:     performance.NewHTTPClient(cfg.Target.HTTPClientConfig()),
		check:      check,
		execConfig: execConfig,
		poolConfig: cfg.Scenario.PoolConfig(execConfig.Plan),
	}, nil
}

// RunID returns the identifier attached to this run's logs and metrics.
func (e *Engine) RunID() string {
	return e.runID
}

// Plan returns the resolved ramp plan.
func (e *Engine) Plan() plan.RampPlan {
	return e.execConfig.Plan
}

// Run executes the run and blocks until every started iteration has been
// recorded. Cancelling ctx stops new iterations; the drain still completes
// and a Summary marked Interrupted is returned without error.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	e.mu.Lock()
	if e.running || e.exec != nil {
		e.mu.Unlock()
		return nil, errors.New("engine has already run")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	target := e.config.Target.URL()
	if !e.opts.SkipPreflight {
		if err := Preflight(ctx, e.client, target, e.config.Target.Headers); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("run cancelled before start: %w", ctx.Err())
			}
			return nil, err
		}
		e.logger.Debug("preflight ok", zap.String("url", target))
	}

	exec, err := executor.CreateAndInitExecutor(ctx, e.execConfig)
	if err != nil {
		return nil, err
	}

	agg := metrics.NewAggregator()
	defer agg.Stop()

	e.mu.Lock()
	e.exec = exec
	e.agg = agg
	e.mu.Unlock()

	if e.opts.Registerer != nil {
		collector := metrics.NewCollector(agg, prometheus.Labels{"run_id": e.runID})
		if err := e.opts.Registerer.Register(collector); err != nil {
			e.logger.Warn("metrics collector not registered", zap.Error(err))
		} else {
			defer e.opts.Registerer.Unregister(collector)
		}
	}

	body := performance.NewHTTPGet(e.client, target, e.config.Target.Headers, e.check)
	pool := performance.NewPool(e.poolConfig, body)

	e.logger.Info("run starting",
		zap.String("name", e.config.Name),
		zap.String("executor", string(exec.Type())),
		zap.String("url", target),
		zap.Duration("duration", e.execConfig.TotalDuration()),
		zap.Int("preAllocatedVUs", e.poolConfig.PreAllocatedVUs),
		zap.Int("maxVUs", e.poolConfig.MaxVUs),
	)

	stopProgress := e.reportProgress(exec, agg)
	start := time.Now()
	runErr := exec.Run(ctx, pool, agg)
	stopProgress()
	end := time.Now()

	agg.Stop()
	summary := e.summarize(exec, pool, agg, start, end)
	summary.Interrupted = ctx.Err() != nil

	e.logger.Info("run finished",
		zap.Int64("started", summary.Started),
		zap.Int64("dropped", summary.Dropped),
		zap.Int64("failed", summary.Metrics.FailedIterations),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("elapsed", summary.Duration),
	)

	if runErr != nil {
		return summary, fmt.Errorf("run failed: %w", runErr)
	}
	return summary, nil
}

// reportProgress logs executor stats periodically until the returned
// function is called.
func (e *Engine) reportProgress(exec executor.Executor, agg *metrics.Aggregator) func() {
	if e.opts.ProgressInterval < 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(e.opts.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			stats := exec.GetStats()
			snap := agg.Snapshot()
			e.logger.Info("progress",
				zap.String("phase", string(snap.CurrentPhase)),
				zap.Float64("progress", exec.GetProgress()),
				zap.Float64("targetRate", stats.CurrentRate),
				zap.Int64("started", stats.Started),
				zap.Int64("dropped", stats.Dropped),
				zap.Int("activeVUs", stats.ActiveVUs),
				zap.Float64("errorRate", snap.ErrorRate),
				zap.Duration("p95", snap.Latency.P95),
			)
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetProgress returns run progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.exec == nil {
		return 0
	}
	return e.exec.GetProgress()
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.agg == nil {
		return nil
	}
	return e.agg.Snapshot()
}
