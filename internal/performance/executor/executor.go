// Package executor provides load generation strategies.
package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/katunilya/surge/internal/performance"
	"github.com/katunilya/surge/internal/performance/metrics"
	"github.com/katunilya/surge/internal/performance/plan"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeRampingArrivalRate ramps the iteration start rate along stages.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"

	// TypeConstantArrivalRate holds a fixed iteration start rate.
	TypeConstantArrivalRate Type = "constant-arrival-rate"

	// TypeRampingVUs ramps the number of looping VUs along stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantVUs runs a fixed number of looping VUs.
	TypeConstantVUs Type = "constant-vus"
)

// Mode returns the plan mode an executor type consumes.
func (t Type) Mode() plan.Mode {
	switch t {
	case TypeRampingVUs, TypeConstantVUs:
		return plan.ModeVUs
	default:
		return plan.ModeArrivalRate
	}
}

// Executor defines the interface for load generation strategies.
//
// Run owns the whole lifecycle of one run: it dispatches iterations on the
// pool, feeds every result to the aggregator, and returns only after the
// pool has drained and the last result has been recorded.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run blocks until the plan is exhausted or ctx is cancelled, and then
	// until every in-flight iteration has completed. Cancellation is not
	// an error.
	Run(ctx context.Context, pool *performance.Pool, agg *metrics.Aggregator) error

	// State returns the current run state.
	State() RunState

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetStats returns executor-specific statistics.
	GetStats() *Stats
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the name of this executor instance
	Name string

	// Type is the executor type
	Type Type

	// Plan is the rate (arrival-rate executors) or VU (VU executors) plan
	Plan plan.RampPlan

	// TickInterval is the scheduling resolution (default 100ms, at most 1s)
	TickInterval time.Duration

	// ThinkTime is the pause between iterations of one VU
	ThinkTime time.Duration

	// GracefulStop bounds how long a ramped-down VU may keep looping; it
	// never interrupts an in-flight iteration
	GracefulStop time.Duration

	// ResultBuffer sizes the channel between workers and the aggregator
	ResultBuffer int

	// Logger receives progress and backpressure messages; nil means no-op
	Logger *zap.Logger
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeRampingArrivalRate, TypeConstantArrivalRate, TypeRampingVUs, TypeConstantVUs:
	case "":
		return &plan.ConfigError{Field: "type", Message: "executor type is required"}
	default:
		return &plan.ConfigError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	if err := c.Plan.Validate(); err != nil {
		return err
	}
	if c.Plan.Mode != c.Type.Mode() {
		return &plan.ConfigError{
			Field:   "plan.mode",
			Message: fmt.Sprintf("%s executor needs a %s plan, got %s", c.Type, c.Type.Mode(), c.Plan.Mode),
		}
	}
	if c.TickInterval < 0 || c.TickInterval > time.Second {
		return &plan.ConfigError{Field: "tickInterval", Message: "must be between 0 and 1s"}
	}
	if c.ThinkTime < 0 {
		return &plan.ConfigError{Field: "thinkTime", Message: "cannot be negative"}
	}
	return nil
}

// applyDefaults fills zero values.
func (c *Config) applyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.GracefulStop == 0 {
		c.GracefulStop = 30 * time.Second
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = 1024
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// TotalDuration returns the plan length.
func (c *Config) TotalDuration() time.Duration {
	return c.Plan.Total()
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	State RunState `json:"state"`

	// Worker stats
	ActiveVUs    int `json:"activeVUs"`
	AllocatedVUs int `json:"allocatedVUs"`
	PeakVUs      int `json:"peakVUs"`
	TargetVUs    int `json:"targetVUs"`

	// Iteration stats
	Started int64 `json:"started"`
	Dropped int64 `json:"dropped"`

	// Stage info
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName"`
	TotalStages      int    `json:"totalStages"`

	// Rate info (for arrival-rate executors)
	CurrentRate float64 `json:"currentRate"`
}

// RunState is the lifecycle of one run.
type RunState int32

const (
	// StateIdle means Run has not been called.
	StateIdle RunState = iota
	// StateRamping means iterations are being started along the plan.
	StateRamping
	// StateDraining means no new iterations start; in-flight ones finish.
	StateDraining
	// StateComplete means every started iteration has been recorded.
	StateComplete
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRamping:
		return "ramping"
	case StateDraining:
		return "draining"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// runState only moves forward: Idle → Ramping → Draining → Complete.
type runState struct {
	v atomic.Int32
}

func (r *runState) Load() RunState {
	return RunState(r.v.Load())
}

// advance moves to next if next is later than the current state.
func (r *runState) advance(next RunState) bool {
	for {
		cur := r.v.Load()
		if RunState(cur) >= next {
			return false
		}
		if r.v.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// phaseFor maps the plan segment at t to a metrics phase.
func phaseFor(p *plan.RampPlan, t time.Duration) metrics.Phase {
	seg, err := p.Segment(t)
	if err != nil {
		return metrics.PhaseDraining
	}
	switch seg.Trend() {
	case plan.TrendRising:
		return metrics.PhaseRampUp
	case plan.TrendFalling:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// progress returns elapsed/total clamped to [0, 1].
func progress(state RunState, start time.Time, total time.Duration) float64 {
	switch state {
	case StateIdle:
		return 0
	case StateDraining, StateComplete:
		return 1
	}
	if total <= 0 {
		return 1
	}
	p := float64(time.Since(start)) / float64(total)
	if p > 1 {
		p = 1
	}
	return p
}
