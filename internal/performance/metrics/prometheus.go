package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports an Aggregator's snapshot to Prometheus. Values are read
// at scrape time, so nothing is double counted.
type Collector struct {
	agg *Aggregator

	iterations *prometheus.Desc
	dropped    *prometheus.Desc
	duration   *prometheus.Desc
	activeVUs  *prometheus.Desc
	statuses   *prometheus.Desc
}

// NewCollector creates a collector for agg. constLabels are attached to
// every series (typically the run ID).
func NewCollector(agg *Aggregator, constLabels prometheus.Labels) *Collector {
	return &Collector{
		agg: agg,
		iterations: prometheus.NewDesc(
			"surge_iterations_total",
			"Completed iterations by result.",
			[]string{"result"}, constLabels,
		),
		dropped: prometheus.NewDesc(
			"surge_dropped_iterations_total",
			"Iterations owed by the arrival schedule that could not start because every worker was busy.",
			nil, constLabels,
		),
		duration: prometheus.NewDesc(
			"surge_iteration_duration_seconds",
			"Iteration latency.",
			nil, constLabels,
		),
		activeVUs: prometheus.NewDesc(
			"surge_active_vus",
			"Workers currently executing an iteration.",
			nil, constLabels,
		),
		statuses: prometheus.NewDesc(
			"surge_http_responses_total",
			"Responses by HTTP status code.",
			[]string{"code"}, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.iterations
	ch <- c.dropped
	ch <- c.duration
	ch <- c.activeVUs
	ch <- c.statuses
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.agg.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(snap.SuccessIterations), "success")
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(snap.FailedIterations), "failure")
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(snap.DroppedIterations))
	ch <- prometheus.MustNewConstMetric(c.activeVUs, prometheus.GaugeValue, float64(snap.ActiveVUs))

	lat := snap.Latency
	ch <- prometheus.MustNewConstSummary(
		c.duration,
		uint64(lat.Count),
		lat.Mean.Seconds()*float64(lat.Count),
		map[float64]float64{
			0.5:  lat.P50.Seconds(),
			0.9:  lat.P90.Seconds(),
			0.95: lat.P95.Seconds(),
			0.99: lat.P99.Seconds(),
		},
	)

	for code, n := range snap.StatusCodes {
		ch <- prometheus.MustNewConstMetric(c.statuses, prometheus.CounterValue, float64(n), strconv.Itoa(code))
	}
}
