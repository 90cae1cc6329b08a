package executor_test

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/katunilya/surge/internal/performance"
	"github.com/katunilya/surge/internal/performance/executor"
	"github.com/katunilya/surge/internal/performance/metrics"
	"github.com/katunilya/surge/internal/performance/plan"
)

func f(v float64) *float64 { return &v }

func arrivalPlan(stages ...plan.Stage) plan.RampPlan {
	return plan.RampPlan{Mode: plan.ModeArrivalRate, Stages: stages}
}

func initArrival(t testing.TB, cfg *executor.Config) *executor.RampingArrivalRate {
	t.Helper()
	e := executor.NewRampingArrivalRate()
	if cfg.Type == executor.TypeConstantArrivalRate {
		e = executor.NewConstantArrivalRate()
	}
	if err := e.Init(context.Background(), cfg); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return e
}

// simulate drives Tick on a virtual clock against a virtual pool of maxVUs
// workers whose iterations each take iterDur. It returns the totals.
func simulate(e *executor.RampingArrivalRate, p plan.RampPlan, tick time.Duration, maxVUs int, iterDur time.Duration) (started, dropped int) {
	var busyUntil []time.Duration
	var last time.Duration
	total := p.Total()

	for elapsed := tick; ; elapsed += tick {
		final := elapsed >= total
		if final {
			elapsed = total
		}

		kept := busyUntil[:0]
		for _, end := range busyUntil {
			if end > elapsed {
				kept = append(kept, end)
			}
		}
		busyUntil = kept

		r, _ := p.RateAt(last + (elapsed-last)/2)
		res := e.Tick(elapsed, r, maxVUs-len(busyUntil))
		for i := 0; i < res.Started; i++ {
			busyUntil = append(busyUntil, elapsed+iterDur)
		}
		started += res.Started
		dropped += res.Dropped
		last = elapsed

		if final {
			return started, dropped
		}
	}
}

func TestRampingArrivalRate_Type(t *testing.T) {
	assert.Equal(t, executor.TypeRampingArrivalRate, executor.NewRampingArrivalRate().Type())
	assert.Equal(t, executor.TypeConstantArrivalRate, executor.NewConstantArrivalRate().Type())
}

func TestRampingArrivalRate_Init(t *testing.T) {
	tests := []struct {
		name    string
		cfg     executor.Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  executor.Config{Type: executor.TypeRampingArrivalRate, Plan: arrivalPlan(plan.Stage{Duration: time.Second, Target: 10})},
		},
		{
			name:    "wrong type",
			cfg:     executor.Config{Type: executor.TypeRampingVUs, Plan: arrivalPlan(plan.Stage{Duration: time.Second, Target: 10})},
			wantErr: true,
		},
		{
			name:    "vu plan",
			cfg:     executor.Config{Type: executor.TypeRampingArrivalRate, Plan: plan.RampPlan{Mode: plan.ModeVUs, Stages: []plan.Stage{{Duration: time.Second, Target: 1}}}},
			wantErr: true,
		},
		{
			name:    "empty plan",
			cfg:     executor.Config{Type: executor.TypeRampingArrivalRate, Plan: arrivalPlan()},
			wantErr: true,
		},
		{
			name:    "tick too coarse",
			cfg:     executor.Config{Type: executor.TypeRampingArrivalRate, Plan: arrivalPlan(plan.Stage{Duration: time.Second, Target: 1}), TickInterval: 2 * time.Second},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executor.NewRampingArrivalRate().Init(context.Background(), &tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRampingArrivalRate_TickCarriesFraction(t *testing.T) {
	e := initArrival(t, &executor.Config{Type: executor.TypeRampingArrivalRate, Plan: arrivalPlan(plan.Stage{Duration: time.Minute, Target: 3})})

	// 3/s at 100ms ticks owes 0.3 per tick: starts land on ticks 4, 7 and 10.
	var starts []int
	for i := 1; i <= 10; i++ {
		res := e.Tick(time.Duration(i)*100*time.Millisecond, 3, 100)
		assert.Zero(t, res.Dropped)
		if res.Started > 0 {
			starts = append(starts, i)
		}
	}
	assert.Equal(t, []int{4, 7, 10}, starts)
}

func TestRampingArrivalRate_TickDropsWhatItCannotStart(t *testing.T) {
	e := initArrival(t, &executor.Config{Type: executor.TypeRampingArrivalRate, Plan: arrivalPlan(plan.Stage{Duration: time.Minute, Target: 1000})})

	res := e.Tick(100*time.Millisecond, 1000, 20)
	assert.Equal(t, executor.TickResult{Started: 20, Dropped: 80}, res)

	// Dropped demand is not carried into the next tick.
	res = e.Tick(200*time.Millisecond, 1000, 100)
	assert.Equal(t, executor.TickResult{Started: 100, Dropped: 0}, res)
}

// [{10s, 10/s}] with maxVUs 50: about 100 iterations, none dropped.
func TestRampingArrivalRate_SimulatedSteadyRate(t *testing.T) {
	p := arrivalPlan(plan.Stage{Duration: 10 * time.Second, Target: 10})
	e := initArrival(t, &executor.Config{Type: executor.TypeRampingArrivalRate, Plan: p})

	started, dropped := simulate(e, p, 100*time.Millisecond, 50, 50*time.Millisecond)
	assert.InDelta(t, 100, started, 2)
	assert.Zero(t, dropped)
}

// [{10s, 1000/s}] with maxVUs 20 and 1s iterations: at most 200 started,
// roughly 9800 dropped.
func TestRampingArrivalRate_SimulatedBackpressure(t *testing.T) {
	p := arrivalPlan(plan.Stage{Duration: 10 * time.Second, Target: 1000})
	e := initArrival(t, &executor.Config{Type: executor.TypeRampingArrivalRate, Plan: p})

	started, dropped := simulate(e, p, 100*time.Millisecond, 20, time.Second)
	assert.LessOrEqual(t, started, 200)
	assert.InDelta(t, 9800, dropped, 50)
	assert.InDelta(t, 10000, started+dropped, 1)
}

// The k6 cart profile: ramp 0 → 60000/min over 10 minutes.
func TestRampingArrivalRate_SimulatedRampFromZero(t *testing.T) {
	p := plan.RampPlan{
		Mode:      plan.ModeArrivalRate,
		StartRate: f(0),
		Stages:    []plan.Stage{{Duration: 10 * time.Minute, Target: 1000}},
	}
	e := initArrival(t, &executor.Config{Type: executor.TypeRampingArrivalRate, Plan: p})

	started, dropped := simulate(e, p, 100*time.Millisecond, math.MaxInt32, 10*time.Millisecond)
	assert.Zero(t, dropped)
	assert.InDelta(t, p.Expected(), float64(started), 1)
}

// A constant rate R over D with no backpressure starts within one
// iteration of R·D, whatever the tick size.
func TestRampingArrivalRate_StartedMatchesIntegralProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := rapid.Float64Range(0.1, 500).Draw(rt, "rate")
		d := time.Duration(rapid.IntRange(1, 60000).Draw(rt, "durationMs")) * time.Millisecond
		tick := time.Duration(rapid.IntRange(10, 1000).Draw(rt, "tickMs")) * time.Millisecond
		ramp := rapid.Bool().Draw(rt, "ramp")

		p := arrivalPlan(plan.Stage{Duration: d, Target: r})
		if ramp {
			p.StartRate = f(0)
		}
		e := executor.NewRampingArrivalRate()
		if err := e.Init(context.Background(), &executor.Config{Type: executor.TypeRampingArrivalRate, Plan: p}); err != nil {
			rt.Fatalf("Init() error = %v", err)
		}

		started, dropped := simulate(e, p, tick, math.MaxInt32, 0)
		if dropped != 0 {
			rt.Fatalf("dropped %d without backpressure", dropped)
		}
		if diff := math.Abs(float64(started) - p.Expected()); diff > 1 {
			rt.Fatalf("started %d, expected %.3f (diff %.3f)", started, p.Expected(), diff)
		}
	})
}

func okServer(delay time.Duration, hits *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func newPool(server *httptest.Server, pre, max int) *performance.Pool {
	body := performance.NewHTTPGet(server.Client(), server.URL, nil, nil)
	return performance.NewPool(performance.PoolConfig{PreAllocatedVUs: pre, MaxVUs: max}, body)
}

func TestRampingArrivalRate_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timed run in short mode")
	}

	server := okServer(0, nil)
	defer server.Close()

	e := initArrival(t, &executor.Config{
		Type:         executor.TypeConstantArrivalRate,
		Plan:         arrivalPlan(plan.Stage{Duration: time.Second, Target: 50}),
		TickInterval: 10 * time.Millisecond,
	})
	pool := newPool(server, 5, 50)
	agg := metrics.NewAggregator()
	defer agg.Stop()

	assert.Equal(t, executor.StateIdle, e.State())
	require.NoError(t, e.Run(context.Background(), pool, agg))

	stats := e.GetStats()
	snap := agg.Snapshot()
	assert.Equal(t, executor.StateComplete, e.State())
	assert.InDelta(t, 50, stats.Started, 2)
	assert.Zero(t, stats.Dropped)
	assert.Equal(t, stats.Started, snap.TotalIterations)
	assert.Equal(t, snap.TotalIterations, snap.SuccessIterations)
	assert.Equal(t, metrics.PhaseDone, snap.CurrentPhase)
	assert.Equal(t, 0, pool.Busy())
	assert.Equal(t, 1.0, e.GetProgress())

	assert.Error(t, e.Run(context.Background(), pool, agg), "second Run must fail")
}

func TestRampingArrivalRate_RunBackpressure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timed run in short mode")
	}

	server := okServer(200*time.Millisecond, nil)
	defer server.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	e := initArrival(t, &executor.Config{
		Type:         executor.TypeConstantArrivalRate,
		Plan:         arrivalPlan(plan.Stage{Duration: 500 * time.Millisecond, Target: 200}),
		TickInterval: 10 * time.Millisecond,
		Logger:       zap.New(core),
	})
	pool := newPool(server, 1, 2)
	agg := metrics.NewAggregator()
	defer agg.Stop()

	require.NoError(t, e.Run(context.Background(), pool, agg))

	stats := e.GetStats()
	snap := agg.Snapshot()
	assert.LessOrEqual(t, pool.PeakBusy(), 2)
	assert.Greater(t, stats.Dropped, int64(0))
	assert.InDelta(t, 100, stats.Started+stats.Dropped, 2)
	assert.Equal(t, stats.Started, snap.TotalIterations)
	assert.Equal(t, stats.Dropped, snap.DroppedIterations)

	// Warnings are throttled to one per interval.
	assert.Equal(t, 1, logs.FilterMessage("insufficient VUs, dropping iterations").Len())
}

func TestRampingArrivalRate_CancelDrains(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timed run in short mode")
	}

	var hits atomic.Int64
	server := okServer(100*time.Millisecond, &hits)
	defer server.Close()

	const tick = 20 * time.Millisecond
	e := initArrival(t, &executor.Config{
		Type: executor.TypeRampingArrivalRate,
		Plan: plan.RampPlan{
			Mode:      plan.ModeArrivalRate,
			StartRate: f(0),
			Stages:    []plan.Stage{{Duration: 10 * time.Second, Target: 400}},
		},
		TickInterval: tick,
	})
	pool := newPool(server, 10, 100)
	agg := metrics.NewAggregator()
	defer agg.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, pool, agg) }()

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, executor.StateRamping, e.State())
	atCancel := e.GetStats().Started
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	stats := e.GetStats()
	snap := agg.Snapshot()
	assert.Equal(t, executor.StateComplete, e.State())
	// At most one more tick may be processed; at ~10/s·s rate that is a
	// handful of starts.
	assert.LessOrEqual(t, stats.Started-atCancel, int64(10))
	assert.Equal(t, stats.Started, snap.TotalIterations)
	assert.Equal(t, snap.TotalIterations, snap.SuccessIterations, "in-flight iterations must not be interrupted")
	assert.Equal(t, stats.Started, hits.Load())
}
