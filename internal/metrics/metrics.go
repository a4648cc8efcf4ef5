package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cover_generations_total",
		Help: "Cover generation outcomes by mode.",
	}, []string{"mode", "result"}) // result: submitted, completed, failed

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cover_generation_duration_seconds",
		Help:    "Time from image task submission to a terminal job state.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 8),
	}, []string{"mode", "result"})

	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cover_provider_requests_total",
		Help: "Calls to the image provider API.",
	}, []string{"action", "outcome"}) // outcome: ok, provider_error, request_error

	RechecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cover_rechecks_total",
		Help: "Scheduled recheck invocations by outcome.",
	}, []string{"outcome"})

	ProcessingJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cover_jobs_processing",
		Help: "Jobs seen in processing state by the last reconciliation sweep.",
	})
)
