// Package plan describes ramp plans and turns them into a continuous
// target function of elapsed time.
//
// A plan is an ordered list of stages. Each stage moves the target value
// linearly from its start value to its Target over its Duration. In
// arrival-rate mode the value is iterations per second; in VU mode it is
// the number of concurrently looping virtual users.
package plan

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Mode selects what a plan's values mean.
type Mode string

const (
	// ModeArrivalRate plans are interpreted as iterations started per second.
	ModeArrivalRate Mode = "arrival-rate"

	// ModeVUs plans are interpreted as a concurrent virtual-user count.
	ModeVUs Mode = "vus"
)

var (
	// ErrConfig is matched by every configuration error in surge.
	ErrConfig = errors.New("invalid configuration")

	// ErrPlanExhausted is returned for elapsed times outside [0, Total()].
	ErrPlanExhausted = errors.New("elapsed time is outside the ramp plan")

	// ErrWrongMode is returned when a value is requested in the wrong mode.
	ErrWrongMode = errors.New("ramp plan mode mismatch")
)

// ConfigError reports a malformed ramp plan.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// Is makes every ConfigError match ErrConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// Stage is one segment of a ramp plan.
type Stage struct {
	// Duration of this stage. Zero-duration stages are instantaneous jumps.
	Duration time.Duration

	// Target value reached at the end of the stage
	Target float64

	// Start overrides the value the stage starts from. When nil the stage
	// continues from the previous stage's Target.
	Start *float64

	// Optional name for reporting
	Name string
}

// RampPlan is an immutable, ordered sequence of stages.
type RampPlan struct {
	Mode Mode

	// StartRate is the value at t=0. When nil the first stage starts at its
	// own target (hold), which matches a plain "run at N for D" stage.
	StartRate *float64

	Stages []Stage
}

// Segment is the resolved stage containing a point in time.
type Segment struct {
	Index int
	Name  string
	Begin time.Duration
	End   time.Duration
	From  float64
	To    float64
}

// ValueAt interpolates linearly inside the segment.
func (s Segment) ValueAt(t time.Duration) float64 {
	if s.End <= s.Begin {
		return s.To
	}
	progress := float64(t-s.Begin) / float64(s.End-s.Begin)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	return s.From + (s.To-s.From)*progress
}

// Validate checks the plan for structural errors.
func (p *RampPlan) Validate() error {
	switch p.Mode {
	case ModeArrivalRate, ModeVUs:
	default:
		return &ConfigError{Field: "mode", Message: fmt.Sprintf("unknown ramp mode %q", p.Mode)}
	}

	if len(p.Stages) == 0 {
		return &ConfigError{Field: "stages", Message: "at least one stage is required"}
	}

	if p.StartRate != nil && (*p.StartRate < 0 || math.IsNaN(*p.StartRate)) {
		return &ConfigError{Field: "startRate", Message: "must be >= 0"}
	}

	for i, stage := range p.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if stage.Duration < 0 {
			return &ConfigError{Field: field + ".duration", Message: "must be >= 0"}
		}
		if stage.Target < 0 || math.IsNaN(stage.Target) || math.IsInf(stage.Target, 0) {
			return &ConfigError{Field: field + ".target", Message: "must be a finite number >= 0"}
		}
		if stage.Start != nil && (*stage.Start < 0 || math.IsNaN(*stage.Start) || math.IsInf(*stage.Start, 0)) {
			return &ConfigError{Field: field + ".start", Message: "must be a finite number >= 0"}
		}
	}

	return nil
}

// Total returns the sum of all stage durations.
func (p *RampPlan) Total() time.Duration {
	var total time.Duration
	for _, stage := range p.Stages {
		total += stage.Duration
	}
	return total
}

// startOf returns the declared or inherited start value of stage i.
func (p *RampPlan) startOf(i int) float64 {
	stage := p.Stages[i]
	if stage.Start != nil {
		return *stage.Start
	}
	if i > 0 {
		return p.Stages[i-1].Target
	}
	if p.StartRate != nil {
		return *p.StartRate
	}
	return stage.Target
}

// Segment returns the stage containing t. At an exact boundary the later
// stage wins; t == Total() resolves to the end of the last stage.
func (p *RampPlan) Segment(t time.Duration) (Segment, error) {
	total := p.Total()
	if len(p.Stages) == 0 || t < 0 || t > total {
		return Segment{}, ErrPlanExhausted
	}

	var begin time.Duration
	for i, stage := range p.Stages {
		end := begin + stage.Duration
		if t < end {
			return Segment{
				Index: i,
				Name:  stage.Name,
				Begin: begin,
				End:   end,
				From:  p.startOf(i),
				To:    stage.Target,
			}, nil
		}
		begin = end
	}

	last := len(p.Stages) - 1
	return Segment{
		Index: last,
		Name:  p.Stages[last].Name,
		Begin: total - p.Stages[last].Duration,
		End:   total,
		From:  p.startOf(last),
		To:    p.Stages[last].Target,
	}, nil
}

// Segments resolves every stage in order, including zero-length ones.
func (p *RampPlan) Segments() []Segment {
	out := make([]Segment, 0, len(p.Stages))
	var begin time.Duration
	for i, stage := range p.Stages {
		out = append(out, Segment{
			Index: i,
			Name:  stage.Name,
			Begin: begin,
			End:   begin + stage.Duration,
			From:  p.startOf(i),
			To:    stage.Target,
		})
		begin += stage.Duration
	}
	return out
}

// At returns the interpolated plan value at elapsed time t.
func (p *RampPlan) At(t time.Duration) (float64, error) {
	seg, err := p.Segment(t)
	if err != nil {
		return 0, err
	}
	return seg.ValueAt(t), nil
}

// RateAt returns the target arrival rate in iterations per second.
func (p *RampPlan) RateAt(t time.Duration) (float64, error) {
	if p.Mode != ModeArrivalRate {
		return 0, ErrWrongMode
	}
	return p.At(t)
}

// VUsAt returns the target virtual-user count, rounded down.
func (p *RampPlan) VUsAt(t time.Duration) (int, error) {
	if p.Mode != ModeVUs {
		return 0, ErrWrongMode
	}
	v, err := p.At(t)
	if err != nil {
		return 0, err
	}
	return int(math.Floor(v)), nil
}

// Peak returns the largest value the plan ever reaches.
func (p *RampPlan) Peak() float64 {
	var peak float64
	for i, stage := range p.Stages {
		peak = math.Max(peak, math.Max(p.startOf(i), stage.Target))
	}
	return peak
}

// Expected integrates the plan over [0, Total()], i.e. the number of
// iterations an arrival-rate plan asks for when nothing is dropped.
func (p *RampPlan) Expected() float64 {
	var sum float64
	for i, stage := range p.Stages {
		sum += (p.startOf(i) + stage.Target) / 2 * stage.Duration.Seconds()
	}
	return sum
}

// Trend classifies a segment for phase reporting.
type Trend int

const (
	TrendFlat Trend = iota
	TrendRising
	TrendFalling
)

// Trend reports whether the segment ramps up, down, or holds.
func (s Segment) Trend() Trend {
	switch {
	case s.To > s.From:
		return TrendRising
	case s.To < s.From:
		return TrendFalling
	default:
		return TrendFlat
	}
}
