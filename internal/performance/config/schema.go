// Package config provides configuration parsing and validation for load
// runs.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Executor type names accepted in configuration.
const (
	ExecutorRampingArrivalRate  = "ramping-arrival-rate"
	ExecutorConstantArrivalRate = "constant-arrival-rate"
	ExecutorRampingVUs          = "ramping-vus"
	ExecutorConstantVUs         = "constant-vus"
)

// TestConfig is the root configuration for a load run.
//
// Example YAML:
//
//	name: cart-load
//	target:
//	  baseUrl: http://localhost:8000
//	  path: /cart
//	scenario:
//	  executor: ramping-arrival-rate
//	  startRate: 0
//	  stages:
//	    - duration: 10m
//	      target: 600
//	  preAllocatedVUs: 100
//	  maxVUs: 200
type TestConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Target is the endpoint every iteration requests
	Target TargetConfig `json:"target" yaml:"target"`

	// Scenario is the load profile
	Scenario ScenarioConfig `json:"scenario" yaml:"scenario"`

	// Check decides which responses count as successes; default status 200
	Check *CheckConfig `json:"check,omitempty" yaml:"check,omitempty"`
}

// TargetConfig describes the HTTP endpoint under load.
type TargetConfig struct {
	// BaseURL is scheme and host, e.g. http://localhost:8000
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// Path is appended to BaseURL (default "/")
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Timeout bounds each request, including after cancellation
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Headers are sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
}

// ScenarioConfig defines the load profile.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy
	// Options: "ramping-arrival-rate", "constant-arrival-rate", "ramping-vus", "constant-vus"
	Executor string `json:"executor" yaml:"executor"`

	// StartRate is the arrival rate at t=0 for ramping-arrival-rate. When
	// omitted the first stage holds at its own target.
	StartRate *float64 `json:"startRate,omitempty" yaml:"startRate,omitempty"`

	// StartVUs is the VU count at t=0 for ramping-vus
	StartVUs *int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// Rate and Duration describe constant-arrival-rate
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// VUs and Duration describe constant-vus
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages defines ramping stages (for ramping executors)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// PreAllocatedVUs workers are created before the first tick
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// MaxVUs bounds concurrent iterations
	MaxVUs int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// TickInterval is the scheduler resolution (default 100ms, at most 1s)
	TickInterval Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// GracefulStop is how long the drain may take before in-flight
	// iterations are reported as slow
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// ThinkTime is the pause between iterations of one VU (ramping-vus only)
	ThinkTime Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m", or integer seconds)
	Duration Duration `json:"duration" yaml:"duration"`

	// Target rate (iterations/s) or VU count reached at the end of the stage
	Target float64 `json:"target" yaml:"target"`

	// Start declares the value the stage starts from; a mismatch with the
	// previous target is a jump
	Start *float64 `json:"start,omitempty" yaml:"start,omitempty"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// CheckConfig defines the success criteria of one iteration.
type CheckConfig struct {
	// Status lists accepted status codes (default [200])
	Status []int `json:"status,omitempty" yaml:"status,omitempty"`

	// JSON asserts a value in the response body
	JSON *JSONCheckConfig `json:"json,omitempty" yaml:"json,omitempty"`
}

// JSONCheckConfig compares the value at a JSONPath with an expected string.
type JSONCheckConfig struct {
	Path   string `json:"path" yaml:"path"`
	Equals string `json:"equals" yaml:"equals"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML
// strings ("30s") or integer seconds (30).
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case nil:
		*d = 0
		return nil
	case float64:
		if v != float64(int64(v)) {
			return fmt.Errorf("invalid duration: %v (integer seconds expected)", v)
		}
		*d = Duration(time.Duration(v) * time.Second)
		return nil
	case string:
		dur, err := ParseDurationString(v)
		if err != nil {
			return err
		}
		*d = Duration(dur)
		return nil
	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	if seconds, err := strconv.Atoi(s); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}
