package config

import (
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/katunilya/surge/internal/performance"
	"github.com/katunilya/surge/internal/performance/plan"
	"github.com/katunilya/surge/pkg/jsonpath"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultTickInterval = 100 * time.Millisecond
	DefaultGracefulStop = 30 * time.Second
)

// ApplyDefaults applies default values to a TestConfig.
func ApplyDefaults(config *TestConfig) {
	if config.Name == "" {
		config.Name = "surge"
	}
	if config.Target.Path == "" {
		config.Target.Path = "/"
	}
	if config.Target.Timeout == 0 {
		config.Target.Timeout = Duration(DefaultTimeout)
	}

	sc := &config.Scenario
	if sc.Executor == "" {
		sc.Executor = ExecutorRampingArrivalRate
	}
	if sc.TickInterval == 0 {
		sc.TickInterval = Duration(DefaultTickInterval)
	}
	if sc.GracefulStop == 0 {
		sc.GracefulStop = Duration(DefaultGracefulStop)
	}

	switch sc.Executor {
	case ExecutorRampingArrivalRate, ExecutorConstantArrivalRate:
		if sc.PreAllocatedVUs == 0 {
			sc.PreAllocatedVUs = 1
		}
		if sc.MaxVUs == 0 {
			sc.MaxVUs = sc.PreAllocatedVUs
		}
	}
}

// BuildPlan converts the scenario into a ramp plan.
//
// Constant executors become single-stage plans that hold their value for
// the whole duration. ramping-vus starts from StartVUs, or from zero.
func (sc *ScenarioConfig) BuildPlan() (plan.RampPlan, error) {
	stages := make([]plan.Stage, 0, len(sc.Stages))
	for _, s := range sc.Stages {
		stages = append(stages, plan.Stage{
			Duration: time.Duration(s.Duration),
			Target:   s.Target,
			Start:    s.Start,
			Name:     s.Name,
		})
	}

	switch sc.Executor {
	case ExecutorRampingArrivalRate:
		return plan.RampPlan{Mode: plan.ModeArrivalRate, StartRate: sc.StartRate, Stages: stages}, nil

	case ExecutorConstantArrivalRate:
		return plan.RampPlan{
			Mode:   plan.ModeArrivalRate,
			Stages: []plan.Stage{{Duration: time.Duration(sc.Duration), Target: sc.Rate, Name: "constant"}},
		}, nil

	case ExecutorRampingVUs:
		start := 0.0
		if sc.StartVUs != nil {
			start = float64(*sc.StartVUs)
		}
		return plan.RampPlan{Mode: plan.ModeVUs, StartRate: &start, Stages: stages}, nil

	case ExecutorConstantVUs:
		return plan.RampPlan{
			Mode:   plan.ModeVUs,
			Stages: []plan.Stage{{Duration: time.Duration(sc.Duration), Target: float64(sc.VUs), Name: "constant"}},
		}, nil

	default:
		return plan.RampPlan{}, &plan.ConfigError{Field: "executor", Message: "unknown executor type: " + sc.Executor}
	}
}

// PoolConfig sizes the worker pool. VU executors always allow the plan's
// peak so that every requested VU can loop.
func (sc *ScenarioConfig) PoolConfig(p plan.RampPlan) performance.PoolConfig {
	cfg := performance.PoolConfig{
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
	}
	if p.Mode == plan.ModeVUs {
		peak := int(math.Ceil(p.Peak()))
		if cfg.MaxVUs < peak {
			cfg.MaxVUs = peak
		}
	}
	return cfg.Normalize()
}

// URL joins the base URL and path.
func (t *TargetConfig) URL() string {
	path := t.Path
	if path == "" {
		path = "/"
	}
	return strings.TrimRight(t.BaseURL, "/") + path
}

// Host returns the host[:port] of the base URL.
func (t *TargetConfig) Host() string {
	u, err := url.Parse(t.BaseURL)
	if err != nil {
		return t.BaseURL
	}
	return u.Host
}

// HTTPClientConfig builds the shared HTTP client settings.
func (t *TargetConfig) HTTPClientConfig() performance.HTTPClientConfig {
	cfg := performance.DefaultHTTPClientConfig()
	cfg.Timeout = t.Timeout.GetDuration(DefaultTimeout)
	cfg.InsecureSkipVerify = t.InsecureSkipVerify
	if t.MaxIdleConnsPerHost > 0 {
		cfg.MaxIdleConnsPerHost = t.MaxIdleConnsPerHost
	}
	return cfg
}

// BuildCheck converts the check section into a performance.Check. A nil
// section means status 200.
func (c *CheckConfig) BuildCheck() (performance.Check, error) {
	if c == nil {
		return performance.DefaultCheck(), nil
	}

	checks := performance.AllChecks{performance.StatusCheck{Allowed: c.Status}}
	if c.JSON != nil {
		path, err := jsonpath.Compile(c.JSON.Path)
		if err != nil {
			return nil, &ValidationError{Field: "check.json.path", Message: err.Error()}
		}
		checks = append(checks, performance.JSONPathCheck{Path: path, Equals: c.JSON.Equals})
	}
	return checks, nil
}
