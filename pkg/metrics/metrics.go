package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Orderbook cache refresh metrics
var (
	RefreshTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dexquote_orderbook_refresh_total",
			Help: "Total number of orderbook refresh cycles attempted",
		},
	)

	RefreshFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dexquote_orderbook_refresh_failures_total",
			Help: "Total number of orderbook refresh cycles that failed and kept the previous snapshot",
		},
	)

	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dexquote_orderbook_refresh_duration_seconds",
			Help:    "Duration in seconds of a full orderbook refresh cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dexquote_orderbook_snapshot_age_seconds",
			Help: "Age in seconds of the currently published orderbook snapshot",
		},
	)
)

// Compute pool metrics
var (
	JobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexquote_pool_jobs_submitted_total",
			Help: "Total number of jobs admitted to the compute pool by kind",
		},
		[]string{"kind"},
	)

	JobsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dexquote_pool_jobs_rejected_total",
			Help: "Total number of job submissions rejected because the queue was full",
		},
	)

	JobsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexquote_pool_jobs_failed_total",
			Help: "Total number of jobs whose execution returned an error, by kind",
		},
		[]string{"kind"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dexquote_pool_queue_depth",
			Help: "Number of jobs waiting for a free worker",
		},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dexquote_pool_job_duration_seconds",
			Help:    "Execution duration in seconds per job kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

// HTTP handler metrics, consumed through ExecuteWithMetrics
var (
	RequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dexquote_requests_total",
			Help: "Total number of price-estimation requests handled",
		},
	)

	RequestsByRoute = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dexquote_requests_by_route_total",
			Help: "Total number of price-estimation requests by route",
		},
		[]string{"route"},
	)

	RequestErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dexquote_request_errors_total",
			Help: "Total number of requests that ended in an error",
		},
	)

	RequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dexquote_request_duration_seconds",
			Help:    "End-to-end request handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RequestDurationByRoute = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dexquote_request_duration_by_route_seconds",
			Help:    "End-to-end request handling duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(RefreshTotal, RefreshFailures, RefreshDuration, SnapshotAge)
	prometheus.MustRegister(JobsSubmitted, JobsRejected, JobsFailed, QueueDepth, JobDuration)
	prometheus.MustRegister(RequestsTotal, RequestsByRoute, RequestErrors, RequestDuration, RequestDurationByRoute)
}
