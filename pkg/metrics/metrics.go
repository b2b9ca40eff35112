package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glavox_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// InFlightRequests tracks requests currently being served.
	InFlightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "glavox_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
	)

	// RequestBytes observes request body sizes per route; audio uploads dominate it.
	RequestBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glavox_http_request_bytes",
			Help:    "HTTP request body size",
			Buckets: prometheus.ExponentialBuckets(256, 4, 9),
		},
		[]string{"path"},
	)

	// TrackingEvents counts chat tracking lifecycle events (started|ended|reended|message).
	TrackingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glavox_tracking_events_total",
			Help: "Chat tracking lifecycle events",
		},
		[]string{"event"},
	)

	// SpeakingSegments counts appended speaking segments.
	SpeakingSegments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glavox_speaking_segments_total",
			Help: "Speaking segments appended to tracking records",
		},
	)

	// DurationDiscrepancy observes |client reported - server computed| chat duration in seconds.
	DurationDiscrepancy = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "glavox_chat_duration_discrepancy_seconds",
			Help:    "Absolute difference between client reported and server computed chat duration",
			Buckets: []float64{0, 1, 2, 5, 10, 30, 60, 300},
		},
	)

	// ProbeDuration measures audio probe invocations by result (ok|error).
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glavox_probe_duration_seconds",
			Help:    "Audio duration probe latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// ProbeFailures counts files skipped while totalling speaking time, by reason.
	ProbeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glavox_probe_failures_total",
			Help: "Audio files excluded from speaking time totals",
		},
		[]string{"reason"},
	)

	// CacheLookups counts speaking-time cache lookups by result (hit|miss|error).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glavox_cache_lookups_total",
			Help: "Speaking time cache lookups",
		},
		[]string{"result"},
	)

	// MaintenanceRuns counts maintenance job runs by job and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glavox_maintenance_runs_total",
			Help: "Maintenance job executions",
		},
		[]string{"job", "result"},
	)
)
