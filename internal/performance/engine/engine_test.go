package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/katunilya/surge/internal/performance/config"
	"github.com/katunilya/surge/internal/performance/metrics"
	"github.com/katunilya/surge/internal/performance/plan"
)

type serverType int

const (
	serverNormal serverType = iota
	serverSlow
	serverMixed
)

// createTestServer creates a test HTTP server with the specified behavior.
func createTestServer(st serverType) *httptest.Server {
	var requestCount atomic.Int64

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)

		switch st {
		case serverNormal:
			time.Sleep(5 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))

		case serverSlow:
			time.Sleep(300 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))

		case serverMixed:
			// every fourth request fails
			if count%4 == 0 {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"boom"}`))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}
	}))
}

func arrivalConfig(baseURL string, rate float64, d time.Duration) *config.TestConfig {
	return &config.TestConfig{
		Name:   "engine-test",
		Target: config.TargetConfig{BaseURL: baseURL, Path: "/cart", Timeout: config.Duration(2 * time.Second)},
		Scenario: config.ScenarioConfig{
			Executor:        config.ExecutorConstantArrivalRate,
			Rate:            rate,
			Duration:        config.Duration(d),
			PreAllocatedVUs: 5,
			MaxVUs:          50,
			TickInterval:    config.Duration(10 * time.Millisecond),
		},
	}
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := &config.TestConfig{
		Target:   config.TargetConfig{BaseURL: "ftp://example.com"},
		Scenario: config.ScenarioConfig{Executor: config.ExecutorRampingArrivalRate},
	}

	_, err := NewEngine(cfg, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, plan.ErrConfig), "error %v should match ErrConfig", err)
}

func TestNewEngine_AppliesDefaults(t *testing.T) {
	cfg := arrivalConfig("http://localhost:1", 10, time.Second)
	cfg.Name = ""

	eng, err := NewEngine(cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "surge", cfg.Name)
	assert.NotEmpty(t, eng.RunID())
	assert.Equal(t, plan.ModeArrivalRate, eng.Plan().Mode)
	assert.False(t, eng.IsRunning())
	assert.Nil(t, eng.GetMetrics())
	assert.Zero(t, eng.GetProgress())
}

func TestPreflight(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Probe"))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	// Any status counts as reachable.
	err := Preflight(context.Background(), failing.Client(), failing.URL, map[string]string{"X-Probe": "yes"})
	assert.NoError(t, err)

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	err = Preflight(context.Background(), http.DefaultClient, url, nil)
	var connErr *ConnectivityError
	require.True(t, errors.As(err, &connErr), "got %v", err)
	assert.Equal(t, url, connErr.URL)
	assert.Contains(t, err.Error(), "unreachable")
}

func TestEngine_RunUnreachable(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	eng, err := NewEngine(arrivalConfig(url, 10, time.Second), Options{})
	require.NoError(t, err)

	summary, err := eng.Run(context.Background())
	assert.Nil(t, summary)
	var connErr *ConnectivityError
	assert.True(t, errors.As(err, &connErr), "got %v", err)
}

func TestEngine_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timed run in short mode")
	}

	server := createTestServer(serverMixed)
	defer server.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	eng, err := NewEngine(arrivalConfig(server.URL, 40, time.Second), Options{
		Logger:           zap.New(core),
		ProgressInterval: 200 * time.Millisecond,
	})
	require.NoError(t, err)

	summary, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, summary.Interrupted)
	assert.Equal(t, eng.RunID(), summary.RunID)
	assert.Equal(t, server.URL+"/cart", summary.URL)
	assert.Equal(t, "constant-arrival-rate", summary.Executor)
	assert.InDelta(t, 40, summary.Planned, 0.001)
	assert.InDelta(t, 40, summary.Started, 2)
	assert.Zero(t, summary.Dropped)
	assert.Equal(t, summary.Started, summary.Metrics.TotalIterations)

	// one in four responses is a 500
	snap := summary.Metrics
	assert.Equal(t, snap.StatusCodes[500], snap.FailedIterations)
	assert.Equal(t, snap.FailedIterations, snap.ErrorKinds["status"])
	assert.Equal(t, snap.StatusCodes[200], snap.SuccessIterations)
	assert.InDelta(t, 0.25, snap.ErrorRate, 0.1)
	assert.Equal(t, metrics.PhaseDone, snap.CurrentPhase)

	require.Len(t, summary.Stages, 1)
	assert.Equal(t, time.Second, summary.Stages[0].Duration)

	assert.GreaterOrEqual(t, logs.FilterMessage("progress").Len(), 1)
	for _, entry := range logs.All() {
		assert.Equal(t, eng.RunID(), entry.ContextMap()["runId"], "log %q lacks run ID", entry.Message)
	}

	_, err = eng.Run(context.Background())
	assert.Error(t, err, "an engine runs once")
}

func TestEngine_RunInterrupted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timed run in short mode")
	}

	server := createTestServer(serverSlow)
	defer server.Close()

	eng, err := NewEngine(arrivalConfig(server.URL, 20, time.Minute), Options{ProgressInterval: -1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(400*time.Millisecond, cancel)

	summary, err := eng.Run(ctx)
	require.NoError(t, err)

	assert.True(t, summary.Interrupted)
	assert.Less(t, summary.Duration, 5*time.Second)
	assert.Greater(t, summary.Started, int64(0))
	assert.Equal(t, summary.Started, summary.Metrics.TotalIterations)
	assert.Equal(t, summary.Metrics.TotalIterations, summary.Metrics.SuccessIterations)
}

func TestEngine_RegistersCollector(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timed run in short mode")
	}

	server := createTestServer(serverNormal)
	defer server.Close()

	reg := prometheus.NewPedanticRegistry()
	eng, err := NewEngine(arrivalConfig(server.URL, 20, 600*time.Millisecond), Options{Registerer: reg, ProgressInterval: -1})
	require.NoError(t, err)

	seen := make(chan bool, 1)
	time.AfterFunc(300*time.Millisecond, func() {
		families, err := reg.Gather()
		if err != nil {
			seen <- false
			return
		}
		for _, mf := range families {
			if mf.GetName() == "surge_iterations_total" {
				seen <- true
				return
			}
		}
		seen <- false
	})

	_, err = eng.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, <-seen, "collector not registered during the run")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families, "collector must be unregistered after the run")
}
