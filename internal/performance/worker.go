// Package performance provides the execution side of the load generator:
// reusable worker slots, the bounded worker pool and the iteration body.
package performance

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// WorkerState represents whether a worker slot is executing an iteration.
type WorkerState int32

const (
	// WorkerIdle indicates the slot is free to be acquired.
	WorkerIdle WorkerState = iota
	// WorkerBusy indicates the slot is executing exactly one iteration.
	WorkerBusy
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Iteration is the user-defined body executed once per dispatch.
//
// Implementations must capture every failure in the returned Outcome and
// must not panic; the worker never retries.
type Iteration interface {
	Execute(ctx context.Context) Outcome
}

// IterationFunc adapts a function to Iteration.
type IterationFunc func(ctx context.Context) Outcome

// Execute calls f(ctx).
func (f IterationFunc) Execute(ctx context.Context) Outcome {
	return f(ctx)
}

// Outcome is what an iteration body reports back to its worker.
type Outcome struct {
	StatusCode    int
	BytesReceived int64
	Err           error
}

// IterationResult is created by a worker when an iteration completes and
// is consumed exactly once by the metrics aggregator.
type IterationResult struct {
	WorkerID      int           `json:"workerId"`
	Iteration     int64         `json:"iteration"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Duration      time.Duration `json:"duration"`
	StatusCode    int           `json:"statusCode"`
	BytesReceived int64         `json:"bytesReceived"`
	Err           error         `json:"-"`
	Success       bool          `json:"success"`
}

// Kind classifies the result's failure, or returns KindNone on success.
func (r IterationResult) Kind() ErrorKind {
	if r.Err == nil {
		return KindNone
	}
	var iterErr *IterationError
	if errors.As(r.Err, &iterErr) {
		return iterErr.Kind
	}
	return KindRequest
}

// Worker is one reusable execution unit. It is owned by a Pool and runs
// at most one iteration at a time.
type Worker struct {
	// Unique identifier within the pool
	ID int

	body      Iteration
	state     atomic.Int32
	iteration atomic.Int64
}

func newWorker(id int, body Iteration) *Worker {
	return &Worker{ID: id, body: body}
}

// State returns the current slot state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Iterations returns how many iterations this worker has started.
func (w *Worker) Iterations() int64 {
	return w.iteration.Load()
}

// Run executes one iteration to completion and returns its result.
//
// The body runs on a context detached from ctx's cancellation: a run-level
// abort never interrupts an in-flight call, which ends on its own deadline.
func (w *Worker) Run(ctx context.Context) IterationResult {
	n := w.iteration.Add(1)
	start := time.Now()

	out := w.body.Execute(context.WithoutCancel(ctx))

	end := time.Now()
	return IterationResult{
		WorkerID:      w.ID,
		Iteration:     n,
		StartTime:     start,
		EndTime:       end,
		Duration:      end.Sub(start),
		StatusCode:    out.StatusCode,
		BytesReceived: out.BytesReceived,
		Err:           out.Err,
		Success:       out.Err == nil,
	}
}
