package metrics

import "time"

// Phase represents a phase of the load run.
type Phase string

const (
	// PhaseInit is the phase before the first tick
	PhaseInit Phase = "init"

	// PhaseRampUp is the phase when the target is increasing
	PhaseRampUp Phase = "ramp-up"

	// PhaseSteady is the phase when the target holds
	PhaseSteady Phase = "steady"

	// PhaseRampDown is the phase when the target is decreasing
	PhaseRampDown Phase = "ramp-down"

	// PhaseDraining is the phase after the last start, while in-flight
	// iterations finish
	PhaseDraining Phase = "draining"

	// PhaseDone indicates the run has completed
	PhaseDone Phase = "done"
)

// Snapshot is a consistent point-in-time view of the aggregate.
type Snapshot struct {
	// TotalIterations is the number of completed iterations
	TotalIterations int64 `json:"totalIterations"`

	// SuccessIterations is the number of iterations whose checks passed
	SuccessIterations int64 `json:"successIterations"`

	// FailedIterations is the number of failed iterations
	FailedIterations int64 `json:"failedIterations"`

	// DroppedIterations is demand the scheduler could not serve
	DroppedIterations int64 `json:"droppedIterations"`

	// TotalBytes is the total response bytes received
	TotalBytes int64 `json:"totalBytes"`

	// StatusCodes counts responses per HTTP status code
	StatusCodes map[int]int64 `json:"statusCodes"`

	// ErrorKinds counts failures per kind (timeout, connection, status, check)
	ErrorKinds map[string]int64 `json:"errorKinds"`

	Latency LatencyStats `json:"latency"`

	// RPS is completed iterations per second of elapsed time
	RPS float64 `json:"rps"`

	// ErrorRate is the fraction of failed iterations (0.0 to 1.0)
	ErrorRate float64 `json:"errorRate"`

	ActiveVUs    int           `json:"activeVUs"`
	CurrentPhase Phase         `json:"currentPhase"`
	Elapsed      time.Duration `json:"elapsed"`
	StartTime    time.Time     `json:"startTime"`
	Timestamp    time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}

// TimeBucket holds the rolling statistics for one emission interval.
type TimeBucket struct {
	Timestamp time.Time `json:"timestamp"`

	// Cumulative counters at emission time
	TotalIterations int64 `json:"totalIterations"`
	TotalFailures   int64 `json:"totalFailures"`
	TotalDropped    int64 `json:"totalDropped"`

	// Interval deltas since the previous bucket
	IntervalIterations int64   `json:"intervalIterations"`
	IntervalDropped    int64   `json:"intervalDropped"`
	IntervalRPS        float64 `json:"intervalRps"`
	IntervalErrorRate  float64 `json:"intervalErrorRate"`

	// Latency percentiles of iterations completed in this interval
	LatencyP50 time.Duration `json:"latencyP50"`
	LatencyP95 time.Duration `json:"latencyP95"`
	LatencyP99 time.Duration `json:"latencyP99"`

	ActiveVUs int   `json:"activeVUs"`
	Phase     Phase `json:"phase"`
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase      Phase     `json:"phase"`
	Timestamp  time.Time `json:"timestamp"`
	Iterations int64     `json:"iterations"`
}

// Config contains configuration for the aggregator.
type Config struct {
	// BucketInterval is the interval for rolling buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 3600)
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}
