package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/katunilya/surge/internal/performance/plan"
	"github.com/katunilya/surge/pkg/jsonpath"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Is makes every ValidationError match plan.ErrConfig.
func (e *ValidationError) Is(target error) bool {
	return target == plan.ErrConfig
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Is makes ValidationErrors match plan.ErrConfig.
func (e *ValidationErrors) Is(target error) bool {
	return target == plan.ErrConfig
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire configuration.
//
// Returns nil if valid, or a *ValidationErrors containing every problem
// found.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(&c.Target, errs)
	validateScenario(&c.Scenario, errs)
	if c.Check != nil {
		validateCheck(c.Check, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(t *TargetConfig, errs *ValidationErrors) {
	if t.BaseURL == "" {
		errs.Add("target.baseUrl", "baseUrl is required")
	} else if u, err := url.Parse(t.BaseURL); err != nil {
		errs.Add("target.baseUrl", fmt.Sprintf("invalid URL: %v", err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("target.baseUrl", "scheme must be http or https")
	} else if u.Host == "" {
		errs.Add("target.baseUrl", "host is required")
	}

	if t.Path != "" && !strings.HasPrefix(t.Path, "/") {
		errs.Add("target.path", "path must start with '/'")
	}
	if t.Timeout < 0 {
		errs.Add("target.timeout", "cannot be negative")
	}
	if t.MaxIdleConnsPerHost < 0 {
		errs.Add("target.maxIdleConnsPerHost", "cannot be negative")
	}
}

func validateScenario(sc *ScenarioConfig, errs *ValidationErrors) {
	const prefix = "scenario"

	switch sc.Executor {
	case "":
		errs.Add(prefix+".executor", "executor type is required")
		return
	case ExecutorConstantArrivalRate:
		if sc.Rate <= 0 {
			errs.Add(prefix+".rate", "rate must be greater than 0")
		}
		if sc.Duration <= 0 {
			errs.Add(prefix+".duration", "duration is required for constant-arrival-rate executor")
		}
	case ExecutorConstantVUs:
		if sc.VUs <= 0 {
			errs.Add(prefix+".vus", "vus must be greater than 0")
		}
		if sc.Duration <= 0 {
			errs.Add(prefix+".duration", "duration is required for constant-vus executor")
		}
	case ExecutorRampingArrivalRate, ExecutorRampingVUs:
		if len(sc.Stages) == 0 {
			errs.Add(prefix+".stages", fmt.Sprintf("at least one stage is required for %s executor", sc.Executor))
		}
	default:
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
		return
	}

	if sc.StartVUs != nil && sc.Executor != ExecutorRampingVUs {
		errs.Add(prefix+".startVUs", "only valid for ramping-vus executor")
	}
	if sc.StartRate != nil && sc.Executor != ExecutorRampingArrivalRate {
		errs.Add(prefix+".startRate", "only valid for ramping-arrival-rate executor")
	}

	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be negative")
	}
	if sc.MaxVUs < 0 {
		errs.Add(prefix+".maxVUs", "maxVUs cannot be negative")
	}
	if sc.MaxVUs > 0 && sc.PreAllocatedVUs > sc.MaxVUs {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs cannot be greater than maxVUs")
	}

	if sc.TickInterval < 0 {
		errs.Add(prefix+".tickInterval", "cannot be negative")
	} else if time.Duration(sc.TickInterval) > time.Second {
		errs.Add(prefix+".tickInterval", "must not be coarser than 1s")
	}
	if sc.GracefulStop < 0 {
		errs.Add(prefix+".gracefulStop", "cannot be negative")
	}
	if sc.ThinkTime < 0 {
		errs.Add(prefix+".thinkTime", "cannot be negative")
	}

	// The plan carries the stage-level rules (negative durations and
	// targets); surface them with the scenario prefix.
	if p, err := sc.BuildPlan(); err == nil {
		var cfgErr *plan.ConfigError
		if err := p.Validate(); errors.As(err, &cfgErr) {
			errs.Add(prefix+"."+cfgErr.Field, cfgErr.Message)
		}
	}
}

func validateCheck(c *CheckConfig, errs *ValidationErrors) {
	for i, code := range c.Status {
		if code < 100 || code > 599 {
			errs.Add(fmt.Sprintf("check.status[%d]", i), fmt.Sprintf("invalid HTTP status code: %d", code))
		}
	}
	if c.JSON != nil {
		if _, err := jsonpath.Compile(c.JSON.Path); err != nil {
			errs.Add("check.json.path", err.Error())
		}
	}
}
