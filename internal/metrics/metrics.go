package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polarwind_upstream_requests_total",
			Help: "Total AEMET OpenData HTTP requests by status",
		},
		[]string{"status"},
	)

	UpstreamRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polarwind_upstream_request_duration_seconds",
			Help:    "AEMET OpenData request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UpstreamRowsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "polarwind_upstream_rows_fetched_total",
			Help: "Total observation rows fetched from upstream",
		},
	)

	WindowsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polarwind_windows_fetched_total",
			Help: "Fetch windows completed by outcome",
		},
		[]string{"station", "outcome"},
	)

	WindowsCached = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polarwind_windows_cached_total",
			Help: "Planned windows already satisfied by local coverage",
		},
		[]string{"station"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polarwind_jobs_completed_total",
			Help: "Query jobs finished by terminal status",
		},
		[]string{"status"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "polarwind_job_duration_seconds",
			Help:    "Wall time from job submission to terminal status",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		},
	)
)
