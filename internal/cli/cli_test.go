package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katunilya/surge/internal/performance/config"
	"github.com/katunilya/surge/internal/performance/engine"
	"github.com/katunilya/surge/internal/performance/plan"
)

// execute runs the command tree with args and returns stdout and the error.
func execute(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"interrupted", ErrInterrupted, ExitInterrupted},
		{"cancelled before start", fmt.Errorf("run cancelled before start: %w", context.Canceled), ExitInterrupted},
		{"connectivity", &engine.ConnectivityError{URL: "http://x", Err: errors.New("refused")}, ExitConnectivity},
		{"wrapped connectivity", fmt.Errorf("run: %w", &engine.ConnectivityError{URL: "http://x"}), ExitConnectivity},
		{"validation", &config.ValidationErrors{}, ExitConfig},
		{"plan", fmt.Errorf("invalid configuration: %w", &plan.ConfigError{Field: "stages"}), ExitConfig},
		{"other", errors.New("unknown flag"), ExitConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestSplitURL(t *testing.T) {
	tests := []struct {
		raw, path string
		wantBase  string
		wantPath  string
		wantErr   bool
	}{
		{raw: "http://localhost:8000/cart", wantBase: "http://localhost:8000", wantPath: "/cart"},
		{raw: "https://api.example.com", wantBase: "https://api.example.com", wantPath: "/"},
		{raw: "http://localhost:8000/ignored", path: "/cart", wantBase: "http://localhost:8000", wantPath: "/cart"},
		{raw: "http://h/search?q=1", wantBase: "http://h", wantPath: "/search?q=1"},
		{raw: "localhost:8000", wantErr: true},
		{raw: "://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := splitURL(tt.raw, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBase, got.BaseURL)
			assert.Equal(t, tt.wantPath, got.Path)
		})
	}
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"Accept: application/json", "X-Token:abc"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Accept": "application/json", "X-Token": "abc"}, h)

	_, err = parseHeaders([]string{"no-colon"})
	assert.True(t, errors.Is(err, plan.ErrConfig))
}

// quickConfigFor parses args as run flags and builds the quick-mode config.
func quickConfigFor(t *testing.T, args ...string) (*config.TestConfig, error) {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	f := &runFlags{}
	bindRunFlags(cmd, f)
	require.NoError(t, cmd.ParseFlags(args))
	return f.loadConfig(cmd)
}

func TestQuickConfig(t *testing.T) {
	cfg, err := quickConfigFor(t, "--url", "http://localhost:8000/cart",
		"--stages", "10m:600", "--start-rate", "0",
		"--pre-allocated-vus", "100", "--max-vus", "200",
		"--status", "200,201", "-H", "Accept: application/json")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Target.BaseURL)
	assert.Equal(t, "/cart", cfg.Target.Path)
	assert.Equal(t, "application/json", cfg.Target.Headers["Accept"])
	assert.Equal(t, config.ExecutorRampingArrivalRate, cfg.Scenario.Executor)
	require.NotNil(t, cfg.Scenario.StartRate)
	assert.Zero(t, *cfg.Scenario.StartRate)
	require.Len(t, cfg.Scenario.Stages, 1)
	assert.Equal(t, 600.0, cfg.Scenario.Stages[0].Target)
	assert.Equal(t, 100, cfg.Scenario.PreAllocatedVUs)
	assert.Equal(t, []int{200, 201}, cfg.Check.Status)

	p, err := cfg.Scenario.BuildPlan()
	require.NoError(t, err)
	assert.Equal(t, 180000.0, p.Expected())
}

func TestQuickConfig_Variants(t *testing.T) {
	t.Run("start rate without flag holds", func(t *testing.T) {
		cfg, err := quickConfigFor(t, "--url", "http://h/", "--stages", "1m:10")
		require.NoError(t, err)
		assert.Nil(t, cfg.Scenario.StartRate)
	})

	t.Run("ramping-vus start", func(t *testing.T) {
		cfg, err := quickConfigFor(t, "--url", "http://h/", "--executor", "ramping-vus", "--stages", "1m:10", "--start-rate", "2")
		require.NoError(t, err)
		require.NotNil(t, cfg.Scenario.StartVUs)
		assert.Equal(t, 2, *cfg.Scenario.StartVUs)
		assert.Nil(t, cfg.Scenario.StartRate)
	})

	t.Run("constant rate", func(t *testing.T) {
		cfg, err := quickConfigFor(t, "--url", "http://h/", "--executor", "constant-arrival-rate", "--rate", "50", "--duration", "30s")
		require.NoError(t, err)
		assert.Equal(t, 50.0, cfg.Scenario.Rate)
		assert.Equal(t, config.Duration(30*time.Second), cfg.Scenario.Duration)
	})

	t.Run("no source", func(t *testing.T) {
		_, err := quickConfigFor(t)
		assert.True(t, errors.Is(err, plan.ErrConfig))
	})

	t.Run("both sources", func(t *testing.T) {
		_, err := quickConfigFor(t, "--url", "http://h/", "--config", "x.yaml")
		assert.True(t, errors.Is(err, plan.ErrConfig))
	})

	t.Run("bad stages", func(t *testing.T) {
		_, err := quickConfigFor(t, "--url", "http://h/", "--stages", "fast:10")
		assert.True(t, errors.Is(err, plan.ErrConfig))
	})
}

const validConfig = `
name: cart-load
target:
  baseUrl: %s
  path: /cart
scenario:
  executor: constant-arrival-rate
  rate: 20
  duration: %s
  preAllocatedVUs: 2
  maxVUs: 10
  tickInterval: 10ms
`

func TestValidateCmd(t *testing.T) {
	path := writeConfig(t, "cart.yaml", fmt.Sprintf(validConfig, "http://localhost:8000", "10m"))

	out, err := execute(context.Background(), "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")
	assert.Contains(t, out, "constant-arrival-rate")
	assert.Contains(t, out, "planned:   12000 iterations")
}

func TestValidateCmd_Invalid(t *testing.T) {
	path := writeConfig(t, "bad.yaml", `
target:
  baseUrl: ftp://localhost
scenario:
  executor: ramping-arrival-rate
`)

	_, err := execute(context.Background(), "validate", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))

	_, err = execute(context.Background(), "validate")
	assert.Equal(t, ExitConfig, ExitCode(err))
}

func TestRunCmd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timed run in short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfgPath := writeConfig(t, "cart.yaml", fmt.Sprintf(validConfig, server.URL, "500ms"))
	jsonPath := filepath.Join(t.TempDir(), "summary.json")

	out, err := execute(context.Background(), "run", "--config", cfgPath, "--json", jsonPath, "--no-color")
	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(err))
	assert.Contains(t, out, "cart-load - Running [constant-arrival-rate]")
	assert.Contains(t, out, "Completed")

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var summary engine.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.InDelta(t, 10, summary.Started, 2)
	assert.Equal(t, summary.Started, summary.Metrics.TotalIterations)
	assert.False(t, summary.Interrupted)
}

func TestRunCmd_QuickModeJSONToStdout(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timed run in short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	out, err := execute(context.Background(), "run",
		"--url", server.URL+"/health",
		"--executor", "constant-arrival-rate", "--rate", "20", "--duration", "300ms",
		"--tick", "10ms", "--status", "204", "--json", "-", "--quiet")
	require.NoError(t, err)

	var summary engine.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, summary.Metrics.TotalIterations, summary.Metrics.SuccessIterations)
	assert.Greater(t, summary.Started, int64(0))
}

func TestRunCmd_Unreachable(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	_, err := execute(context.Background(), "run", "--url", url, "--rate", "10", "--duration", "1s",
		"--executor", "constant-arrival-rate")
	require.Error(t, err)
	assert.Equal(t, ExitConnectivity, ExitCode(err))
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	_, err := execute(context.Background(), "run", "--url", "http://localhost:1/", "--executor", "constant-arrival-rate")
	require.Error(t, err)
	assert.Equal(t, ExitConfig, ExitCode(err))
	assert.True(t, strings.Contains(err.Error(), "rate"), "error should name the missing rate: %v", err)
}

func TestRunCmd_Interrupted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timed run in short mode")
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(400*time.Millisecond, cancel)

	out, err := execute(ctx, "run", "--url", server.URL, "--stages", "1m:50", "--max-vus", "20", "--no-color")
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, ExitInterrupted, ExitCode(err))
	assert.Contains(t, out, "Interrupted", "summary must still be printed")
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "validate")
}
