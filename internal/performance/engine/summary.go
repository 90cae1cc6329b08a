package engine

import (
	"time"

	"github.com/katunilya/surge/internal/performance"
	"github.com/katunilya/surge/internal/performance/executor"
	"github.com/katunilya/surge/internal/performance/metrics"
	"github.com/katunilya/surge/internal/performance/plan"
)

// Summary is the end-of-run report.
type Summary struct {
	RunID       string        `json:"runId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Executor    string        `json:"executor"`
	URL         string        `json:"url"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Interrupted is set when the run was cancelled before the plan ended
	Interrupted bool `json:"interrupted"`

	// Planned is the number of iterations an arrival-rate plan asks for
	// over its full length; zero for VU plans
	Planned float64 `json:"planned,omitempty"`

	Started      int64 `json:"started"`
	Dropped      int64 `json:"dropped"`
	PeakVUs      int   `json:"peakVUs"`
	AllocatedVUs int   `json:"allocatedVUs"`
	MaxVUs       int   `json:"maxVUs"`

	// SteadyStateRPS averages completed iterations per second over the
	// buckets where the target held
	SteadyStateRPS float64 `json:"steadyStateRps"`

	Metrics    *metrics.Snapshot     `json:"metrics"`
	TimeSeries []*metrics.TimeBucket `json:"timeSeries,omitempty"`
	Phases     []metrics.PhaseChange `json:"phases,omitempty"`
	Stages     []StageSummary        `json:"stages"`
}

// StageSummary describes one resolved plan stage.
type StageSummary struct {
	Name     string        `json:"name,omitempty"`
	Duration time.Duration `json:"duration"`
	From     float64       `json:"from"`
	To       float64       `json:"to"`
}

func (e *Engine) summarize(exec executor.Executor, pool *performance.Pool, agg *metrics.Aggregator, start, end time.Time) *Summary {
	stats := exec.GetStats()
	p := e.execConfig.Plan

	s := &Summary{
		RunID:          e.runID,
		Name:           e.config.Name,
		Description:    e.config.Description,
		Executor:       string(exec.Type()),
		URL:            e.config.Target.URL(),
		StartTime:      start,
		EndTime:        end,
		Duration:       end.Sub(start),
		Started:        stats.Started,
		Dropped:        stats.Dropped,
		PeakVUs:        pool.PeakBusy(),
		AllocatedVUs:   pool.Allocated(),
		MaxVUs:         pool.Config().MaxVUs,
		SteadyStateRPS: agg.SteadyStateRPS(),
		Metrics:        agg.Snapshot(),
		TimeSeries:     agg.GetTimeSeries(),
		Phases:         agg.GetPhaseHistory(),
		Stages:         stageSummaries(p),
	}
	if p.Mode == plan.ModeArrivalRate {
		s.Planned = p.Expected()
	}
	return s
}

func stageSummaries(p plan.RampPlan) []StageSummary {
	segs := p.Segments()
	out := make([]StageSummary, 0, len(segs))
	for _, seg := range segs {
		out = append(out, StageSummary{
			Name:     seg.Name,
			Duration: seg.End - seg.Begin,
			From:     seg.From,
			To:       seg.To,
		})
	}
	return out
}
