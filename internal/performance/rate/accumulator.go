// Package rate provides the fractional demand accumulator behind
// arrival-rate scheduling.
package rate

import (
	"math"
	"time"
)

// epsilon absorbs float error so that e.g. ten ticks of 0.1 owed
// iterations yield exactly one start.
const epsilon = 1e-9

// Accumulator converts a target rate into whole iteration starts.
//
// Unlike a per-tick rounding scheme, the fractional remainder is carried
// forward across ticks (and across stage boundaries), so the long-run
// number of starts never drifts more than one iteration from the integral
// of the target rate.
//
// Demand that cannot be served because no worker is available is dropped,
// never queued: queuing would hide the real capacity of the system under
// test.
//
// Accumulator is not safe for concurrent use. It is owned by the single
// scheduler goroutine.
type Accumulator struct {
	owed     float64
	lastTick time.Duration
	started  int64
	dropped  int64
	ticks    int64
}

// NewAccumulator creates an accumulator positioned at elapsed time zero.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Advance adds the demand accrued between the previous tick and elapsed
// at the given rate (iterations per second) and returns the owed total.
// Ticks must be monotonic; an elapsed value at or before the previous tick
// adds nothing.
func (a *Accumulator) Advance(elapsed time.Duration, rate float64) float64 {
	if elapsed <= a.lastTick {
		return a.owed
	}

	dt := elapsed - a.lastTick
	a.lastTick = elapsed
	a.ticks++

	if rate > 0 && !math.IsInf(rate, 0) {
		a.owed += rate * dt.Seconds()
	}
	return a.owed
}

// Take turns every whole owed iteration into either a start (up to
// available) or a drop, and keeps the fractional remainder.
func (a *Accumulator) Take(available int) (started, dropped int) {
	whole := math.Floor(a.owed + epsilon)
	if whole < 1 {
		return 0, 0
	}

	a.owed -= whole
	if a.owed < 0 {
		a.owed = 0
	}

	want := int(math.Min(whole, float64(math.MaxInt32)))
	if available < 0 {
		available = 0
	}

	started = want
	if started > available {
		started = available
	}
	dropped = want - started

	a.started += int64(started)
	a.dropped += int64(dropped)
	return started, dropped
}

// Owed returns the fractional demand not yet converted into starts.
func (a *Accumulator) Owed() float64 {
	return a.owed
}

// LastTick returns the elapsed time of the most recent Advance.
func (a *Accumulator) LastTick() time.Duration {
	return a.lastTick
}

// Stats returns totals since creation.
func (a *Accumulator) Stats() AccumulatorStats {
	return AccumulatorStats{
		Owed:    a.owed,
		Started: a.started,
		Dropped: a.dropped,
		Ticks:   a.ticks,
	}
}

// AccumulatorStats contains statistics about the accumulator.
type AccumulatorStats struct {
	Owed    float64 `json:"owed"`
	Started int64   `json:"started"`
	Dropped int64   `json:"dropped"`
	Ticks   int64   `json:"ticks"`
}
