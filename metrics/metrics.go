// Package metrics holds the prometheus collectors of the service. They are
// registered with the default registry and served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRetried   = "retried"
	OutcomeStale     = "stale"
	OutcomeAbandoned = "abandoned"
)

var (
	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omip_documents_ingested_total",
			Help: "Uploaded documents, by whether the content was new or a duplicate.",
		},
		[]string{"result"},
	)

	BatchesScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omip_batches_scheduled_total",
			Help: "Total number of parse batches scheduled.",
		},
	)

	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omip_jobs_total",
			Help: "Finished job deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "omip_job_duration_seconds",
			Help:    "Wall time of job deliveries.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omip_jobs_in_flight",
			Help: "Jobs currently executing on this process.",
		},
	)

	BatchesRecounted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omip_batches_recounted_total",
			Help: "Batches whose counters the reconciliation sweep had to correct.",
		},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "omip_queue_depth",
			Help: "Queued jobs by state (ready, delayed, processing).",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		DocumentsIngested,
		BatchesScheduled,
		Jobs,
		JobDuration,
		JobsInFlight,
		BatchesRecounted,
		QueueDepth,
	)
}
