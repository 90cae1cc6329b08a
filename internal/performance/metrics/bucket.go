package metrics

import (
	"sync"
	"time"
)

// BucketInput is what the aggregator hands to the store at each emission.
type BucketInput struct {
	TotalIterations int64
	TotalFailures   int64
	TotalDropped    int64
	P50, P95, P99   time.Duration
	ActiveVUs       int
	Phase           Phase
}

// TimeBucketStore stores rolling buckets in a ring buffer.
//
// Interval deltas are derived from the cumulative totals of consecutive
// emissions, so the store never needs to see individual records. Old
// buckets are discarded once the buffer is full.
type TimeBucketStore struct {
	buckets    []*TimeBucket
	head       int // Next write position
	count      int // Current number of buckets
	maxBuckets int
	mu         sync.RWMutex

	lastTime       time.Time
	lastIterations int64
	lastFailures   int64
	lastDropped    int64
}

// NewTimeBucketStore creates a store retaining at most maxBuckets buckets.
func NewTimeBucketStore(maxBuckets int) *TimeBucketStore {
	if maxBuckets <= 0 {
		maxBuckets = 3600
	}

	return &TimeBucketStore{
		buckets:    make([]*TimeBucket, maxBuckets),
		maxBuckets: maxBuckets,
		lastTime:   time.Now(),
	}
}

// CreateBucket appends a bucket for the interval ending now.
func (tbs *TimeBucketStore) CreateBucket(in BucketInput) *TimeBucket {
	return tbs.createBucketAt(time.Now(), in)
}

func (tbs *TimeBucketStore) createBucketAt(now time.Time, in BucketInput) *TimeBucket {
	tbs.mu.Lock()
	defer tbs.mu.Unlock()

	intervalIterations := in.TotalIterations - tbs.lastIterations
	intervalFailures := in.TotalFailures - tbs.lastFailures
	intervalDropped := in.TotalDropped - tbs.lastDropped

	intervalDuration := now.Sub(tbs.lastTime).Seconds()
	if intervalDuration <= 0 {
		intervalDuration = 1.0
	}

	intervalErrorRate := 0.0
	if intervalIterations > 0 {
		intervalErrorRate = float64(intervalFailures) / float64(intervalIterations)
	}

	bucket := &TimeBucket{
		Timestamp:          now,
		TotalIterations:    in.TotalIterations,
		TotalFailures:      in.TotalFailures,
		TotalDropped:       in.TotalDropped,
		IntervalIterations: intervalIterations,
		IntervalDropped:    intervalDropped,
		IntervalRPS:        float64(intervalIterations) / intervalDuration,
		IntervalErrorRate:  intervalErrorRate,
		LatencyP50:         in.P50,
		LatencyP95:         in.P95,
		LatencyP99:         in.P99,
		ActiveVUs:          in.ActiveVUs,
		Phase:              in.Phase,
	}

	tbs.buckets[tbs.head] = bucket
	tbs.head = (tbs.head + 1) % tbs.maxBuckets
	if tbs.count < tbs.maxBuckets {
		tbs.count++
	}

	tbs.lastTime = now
	tbs.lastIterations = in.TotalIterations
	tbs.lastFailures = in.TotalFailures
	tbs.lastDropped = in.TotalDropped

	return bucket
}

// GetBuckets returns a copy of all buckets in chronological order.
func (tbs *TimeBucketStore) GetBuckets() []*TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	result := make([]*TimeBucket, tbs.count)
	start := 0
	if tbs.count == tbs.maxBuckets {
		start = tbs.head
	}
	for i := 0; i < tbs.count; i++ {
		result[i] = tbs.buckets[(start+i)%tbs.maxBuckets]
	}
	return result
}

// GetLatestBucket returns the most recent bucket, or nil if none.
func (tbs *TimeBucketStore) GetLatestBucket() *TimeBucket {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()

	if tbs.count == 0 {
		return nil
	}

	idx := (tbs.head - 1 + tbs.maxBuckets) % tbs.maxBuckets
	return tbs.buckets[idx]
}

// Count returns the current number of buckets stored.
func (tbs *TimeBucketStore) Count() int {
	tbs.mu.RLock()
	defer tbs.mu.RUnlock()
	return tbs.count
}

// SteadyStateRPS averages interval RPS over steady-phase buckets. The
// second value is the number of buckets used.
func (tbs *TimeBucketStore) SteadyStateRPS() (float64, int) {
	var sum float64
	n := 0
	for _, b := range tbs.GetBuckets() {
		if b.Phase == PhaseSteady {
			sum += b.IntervalRPS
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
