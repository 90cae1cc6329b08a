// Package metrics folds iteration results into aggregate statistics.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/katunilya/surge/internal/performance"
)

// Aggregator collects iteration results using HDR histograms.
//
// Key features:
// - HDR histogram for latency percentiles (1µs to 1h, 3 significant figures)
// - Status-code and error-kind counters
// - Rolling buckets emitted by a background ticker
//
// # Thread Safety
//
// Aggregator is safe for concurrent use. One mutex guards every field, so a
// Snapshot never observes a partially applied Record.
type Aggregator struct {
	mu sync.Mutex

	latencyHist *hdrhistogram.Histogram
	// windowHist holds only the current bucket interval
	windowHist *hdrhistogram.Histogram

	total       int64
	success     int64
	failed      int64
	dropped     int64
	bytes       int64
	statusCodes map[int]int64
	errorKinds  map[performance.ErrorKind]int64

	activeVUs    int
	currentPhase Phase
	phaseHistory []PhaseChange

	startTime time.Time
	endTime   time.Time

	bucketStore *TimeBucketStore

	emitterCtx    context.Context
	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config Config
}

// NewAggregator creates an aggregator with default configuration and starts
// its bucket emitter.
func NewAggregator() *Aggregator {
	return NewAggregatorWithConfig(DefaultConfig())
}

// NewAggregatorWithConfig creates an aggregator with custom configuration.
func NewAggregatorWithConfig(config Config) *Aggregator {
	defaults := DefaultConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Aggregator{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		windowHist:    hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		statusCodes:   make(map[int]int64),
		errorKinds:    make(map[performance.ErrorKind]int64),
		currentPhase:  PhaseInit,
		startTime:     time.Now(),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		emitterCtx:    ctx,
		emitterCancel: cancel,
		config:        config,
	}

	a.emitterWg.Add(1)
	go a.runEmitter()

	return a
}

// Record folds one completed iteration into the aggregate.
func (a *Aggregator) Record(r performance.IterationResult) {
	latencyMicros := r.Duration.Microseconds()
	if latencyMicros < a.config.HistogramMin {
		latencyMicros = a.config.HistogramMin
	}
	if latencyMicros > a.config.HistogramMax {
		latencyMicros = a.config.HistogramMax
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// RecordValue only fails outside the trackable range, which is clamped above.
	_ = a.latencyHist.RecordValue(latencyMicros)
	_ = a.windowHist.RecordValue(latencyMicros)

	a.total++
	a.bytes += r.BytesReceived
	if r.StatusCode != 0 {
		a.statusCodes[r.StatusCode]++
	}
	if r.Success {
		a.success++
	} else {
		a.failed++
		a.errorKinds[r.Kind()]++
	}
}

// RecordDropped counts n iterations the scheduler could not start.
func (a *Aggregator) RecordDropped(n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.dropped += int64(n)
	a.mu.Unlock()
}

// Consume records results until the channel is closed. It is the single
// consumer of a run's result channel.
func (a *Aggregator) Consume(results <-chan performance.IterationResult) {
	for r := range results {
		a.Record(r)
	}
}

// SetPhase updates the current run phase.
func (a *Aggregator) SetPhase(phase Phase) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.currentPhase == phase {
		return
	}

	a.currentPhase = phase
	a.phaseHistory = append(a.phaseHistory, PhaseChange{
		Phase:      phase,
		Timestamp:  time.Now(),
		Iterations: a.total,
	})
}

// Phase returns the current run phase.
func (a *Aggregator) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentPhase
}

// SetActiveVUs updates the busy worker count reported in snapshots.
func (a *Aggregator) SetActiveVUs(count int) {
	a.mu.Lock()
	a.activeVUs = count
	a.mu.Unlock()
}

// runEmitter runs the background bucket emitter.
func (a *Aggregator) runEmitter() {
	defer a.emitterWg.Done()

	ticker := time.NewTicker(a.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.emitterCtx.Done():
			return
		case <-ticker.C:
			a.emitBucket()
		}
	}
}

// emitBucket captures the current interval and resets the window histogram.
func (a *Aggregator) emitBucket() {
	a.mu.Lock()
	in := BucketInput{
		TotalIterations: a.total,
		TotalFailures:   a.failed,
		TotalDropped:    a.dropped,
		P50:             microsToDuration(a.windowHist.ValueAtQuantile(50)),
		P95:             microsToDuration(a.windowHist.ValueAtQuantile(95)),
		P99:             microsToDuration(a.windowHist.ValueAtQuantile(99)),
		ActiveVUs:       a.activeVUs,
		Phase:           a.currentPhase,
	}
	a.windowHist.Reset()
	a.mu.Unlock()

	a.bucketStore.CreateBucket(in)
}

// Snapshot returns a consistent point-in-time view of the aggregate.
func (a *Aggregator) Snapshot() *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	end := now
	if !a.endTime.IsZero() {
		end = a.endTime
	}
	elapsed := end.Sub(a.startTime)

	rps := 0.0
	if elapsed > 0 {
		rps = float64(a.total) / elapsed.Seconds()
	}
	errorRate := 0.0
	if a.total > 0 {
		errorRate = float64(a.failed) / float64(a.total)
	}

	statusCodes := make(map[int]int64, len(a.statusCodes))
	for code, n := range a.statusCodes {
		statusCodes[code] = n
	}
	errorKinds := make(map[string]int64, len(a.errorKinds))
	for kind, n := range a.errorKinds {
		errorKinds[string(kind)] = n
	}

	return &Snapshot{
		TotalIterations:   a.total,
		SuccessIterations: a.success,
		FailedIterations:  a.failed,
		DroppedIterations: a.dropped,
		TotalBytes:        a.bytes,
		StatusCodes:       statusCodes,
		ErrorKinds:        errorKinds,
		Latency:           latencyStats(a.latencyHist),
		RPS:               rps,
		ErrorRate:         errorRate,
		ActiveVUs:         a.activeVUs,
		CurrentPhase:      a.currentPhase,
		Elapsed:           elapsed,
		StartTime:         a.startTime,
		Timestamp:         now,
	}
}

// GetTimeSeries returns all rolling buckets.
func (a *Aggregator) GetTimeSeries() []*TimeBucket {
	return a.bucketStore.GetBuckets()
}

// SteadyStateRPS averages interval RPS over steady-phase buckets.
func (a *Aggregator) SteadyStateRPS() float64 {
	rps, _ := a.bucketStore.SteadyStateRPS()
	return rps
}

// GetPhaseHistory returns the history of phase changes.
func (a *Aggregator) GetPhaseHistory() []PhaseChange {
	a.mu.Lock()
	defer a.mu.Unlock()

	result := make([]PhaseChange, len(a.phaseHistory))
	copy(result, a.phaseHistory)
	return result
}

// Stop stops the emitter, emits a final bucket and freezes elapsed time.
// It is safe to call more than once.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		a.emitterCancel()
		a.emitterWg.Wait()

		a.emitBucket()

		a.mu.Lock()
		a.endTime = time.Now()
		a.mu.Unlock()
	})
}

func latencyStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    microsToDuration(h.Min()),
		Max:    microsToDuration(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    microsToDuration(h.ValueAtQuantile(50)),
		P90:    microsToDuration(h.ValueAtQuantile(90)),
		P95:    microsToDuration(h.ValueAtQuantile(95)),
		P99:    microsToDuration(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

func microsToDuration(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
