package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/katunilya/surge/internal/performance/config"
	"github.com/katunilya/surge/internal/performance/engine"
	"github.com/katunilya/surge/internal/performance/output"
)

// runFlags holds the flags of the run command.
type runFlags struct {
	configFile string

	// quick mode
	url             string
	path            string
	executor        string
	stages          string
	startRate       float64
	rate            float64
	vus             int
	duration        time.Duration
	preAllocatedVUs int
	maxVUs          int
	tick            time.Duration
	thinkTime       time.Duration
	gracefulStop    time.Duration
	timeout         time.Duration
	headers         []string
	status          []int
	insecure        bool

	jsonPath    string
	metricsAddr string
	quiet       bool
}

func newRunCmd(opts *globalOptions) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load profile against an HTTP endpoint",
		Long: `Run a load profile from a configuration file or from flags.

Config file mode:
  surge run --config cart.yaml

Quick mode (ramp from 0 to 600 iterations/s over 10 minutes):
  surge run --url http://localhost:8000/cart \
    --stages 10m:600 --start-rate 0 \
    --pre-allocated-vus 100 --max-vus 200

Constant arrival rate:
  surge run --url http://localhost:8000/cart \
    --executor constant-arrival-rate --rate 100 --duration 5m --max-vus 200

Press Ctrl+C to stop starting iterations; in-flight ones finish and the
summary is still printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.loadConfig(cmd)
			if err != nil {
				return err
			}
			return runLoad(cmd, opts, f, cfg)
		},
	}

	bindRunFlags(cmd, f)
	return cmd
}

// bindRunFlags registers the run flags on cmd, storing values in f.
func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	fl := cmd.Flags()
	fl.StringVarP(&f.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	fl.StringVar(&f.url, "url", "", "Target URL (alternative to --config)")
	fl.StringVar(&f.path, "path", "", "Request path appended to --url")
	fl.StringVar(&f.executor, "executor", "", "Executor: ramping-arrival-rate, constant-arrival-rate, ramping-vus, constant-vus")
	fl.StringVar(&f.stages, "stages", "", "Stages as duration:target pairs, e.g. 30s:10,1m:50")
	fl.Float64Var(&f.startRate, "start-rate", 0, "Value at t=0; without it the first stage holds its target")
	fl.Float64Var(&f.rate, "rate", 0, "Iterations per second for constant-arrival-rate")
	fl.IntVar(&f.vus, "vus", 0, "VUs for constant-vus")
	fl.DurationVar(&f.duration, "duration", 0, "Duration for constant executors")
	fl.IntVar(&f.preAllocatedVUs, "pre-allocated-vus", 0, "Workers created before the first tick")
	fl.IntVar(&f.maxVUs, "max-vus", 0, "Maximum concurrent iterations")
	fl.DurationVar(&f.tick, "tick", 0, "Scheduler tick interval (default 100ms)")
	fl.DurationVar(&f.thinkTime, "think-time", 0, "Pause between iterations of one VU (ramping-vus)")
	fl.DurationVar(&f.gracefulStop, "graceful-stop", 0, "Drain time before slow iterations are reported (default 30s)")
	fl.DurationVarP(&f.timeout, "timeout", "t", 0, "Request timeout (default 30s)")
	fl.StringArrayVarP(&f.headers, "header", "H", nil, "Request header 'Key: Value' (repeatable)")
	fl.IntSliceVar(&f.status, "status", nil, "Accepted status codes (default 200)")
	fl.BoolVar(&f.insecure, "insecure", false, "Skip TLS certificate verification")
	fl.StringVar(&f.jsonPath, "json", "", "Write the JSON summary to a file, or - for stdout")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "Do not print the console summary")
}

// loadConfig reads --config or builds a config from the quick-mode flags.
func (f *runFlags) loadConfig(cmd *cobra.Command) (*config.TestConfig, error) {
	switch {
	case f.configFile != "" && f.url != "":
		return nil, &config.ValidationError{Field: "flags", Message: "--config and --url are mutually exclusive"}
	case f.configFile != "":
		return config.LoadConfig(f.configFile)
	case f.url != "":
		return f.quickConfig(cmd)
	default:
		return nil, &config.ValidationError{Field: "flags", Message: "either --config or --url is required"}
	}
}

// quickConfig builds a TestConfig from flags.
func (f *runFlags) quickConfig(cmd *cobra.Command) (*config.TestConfig, error) {
	target, err := splitURL(f.url, f.path)
	if err != nil {
		return nil, err
	}
	target.Timeout = config.Duration(f.timeout)
	target.InsecureSkipVerify = f.insecure

	headers, err := parseHeaders(f.headers)
	if err != nil {
		return nil, err
	}
	target.Headers = headers

	sc := config.ScenarioConfig{
		Executor:        f.executor,
		Rate:            f.rate,
		VUs:             f.vus,
		Duration:        config.Duration(f.duration),
		PreAllocatedVUs: f.preAllocatedVUs,
		MaxVUs:          f.maxVUs,
		TickInterval:    config.Duration(f.tick),
		ThinkTime:       config.Duration(f.thinkTime),
		GracefulStop:    config.Duration(f.gracefulStop),
	}
	if sc.Executor == "" {
		sc.Executor = config.ExecutorRampingArrivalRate
	}

	if f.stages != "" {
		stages, err := config.ParseStages(f.stages)
		if err != nil {
			return nil, err
		}
		sc.Stages = stages
	}

	if cmd.Flags().Changed("start-rate") {
		switch sc.Executor {
		case config.ExecutorRampingVUs:
			vus := int(f.startRate)
			sc.StartVUs = &vus
		default:
			rate := f.startRate
			sc.StartRate = &rate
		}
	}

	cfg := &config.TestConfig{
		Name:     "surge",
		Target:   target,
		Scenario: sc,
	}
	if len(f.status) > 0 {
		cfg.Check = &config.CheckConfig{Status: f.status}
	}
	return cfg, nil
}

// splitURL separates a full URL into base URL and path.
func splitURL(raw, path string) (config.TargetConfig, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return config.TargetConfig{}, &config.ValidationError{Field: "url", Message: fmt.Sprintf("invalid URL %q", raw)}
	}

	t := config.TargetConfig{BaseURL: u.Scheme + "://" + u.Host}
	if path != "" {
		t.Path = path
	} else if rest := u.RequestURI(); rest != "" {
		t.Path = rest
	}
	return t, nil
}

// parseHeaders parses "Key: Value" pairs.
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, &config.ValidationError{Field: "header", Message: fmt.Sprintf("invalid header %q (expected 'Key: Value')", h)}
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}

// runLoad executes one run and prints its summary.
func runLoad(cmd *cobra.Command, opts *globalOptions, f *runFlags, cfg *config.TestConfig) error {
	logger, err := opts.logger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	eng, err := engine.NewEngine(cfg, engine.Options{Logger: logger, Registerer: reg})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	console := output.NewConsole(output.ConsoleConfig{Writer: out, NoColor: opts.noColor})
	if !f.quiet {
		console.PrintHeader(cfg.Name, cfg.Scenario.Executor, cfg.Target.URL(), eng.Plan())
	}

	if f.metricsAddr != "" {
		stop, err := serveMetrics(f.metricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := eng.Run(ctx)
	if summary == nil {
		return err
	}

	if !f.quiet {
		console.PrintSummary(summary)
	}
	if f.jsonPath != "" {
		if werr := writeJSON(out, f.jsonPath, summary); werr != nil {
			return werr
		}
	}

	if err != nil {
		return err
	}
	if summary.Interrupted {
		return ErrInterrupted
	}
	return nil
}

func writeJSON(stdout io.Writer, path string, s *engine.Summary) error {
	if path == "-" {
		return output.WriteJSON(stdout, s)
	}
	return output.WriteJSONFile(path, s)
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) (func(), error) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
