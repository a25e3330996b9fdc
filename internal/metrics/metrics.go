// Package metrics provides Prometheus metrics for the discovery pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuditEventsTotal counts audit events by step and status.
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "audit_events_total",
			Help:      "Total number of audit events recorded",
		},
		[]string{"step", "status"},
	)

	// StreamPublishErrors counts live-stream publish failures.
	StreamPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "stream_publish_errors_total",
			Help:      "Audit events that could not be fanned out to live subscribers",
		},
	)

	// CandidateDuration measures end-to-end candidate processing time.
	CandidateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "discovery",
			Name:      "candidate_duration_seconds",
			Help:      "Duration of candidate processing in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// RunsActive tracks runs currently driven by this process.
	RunsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "discovery",
			Name:      "runs_active",
			Help:      "Number of runs currently executing",
		},
	)

	// RunTransitions counts run state transitions.
	RunTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "run_transitions_total",
			Help:      "Run status transitions",
		},
		[]string{"from", "to"},
	)

	// HealthSweeps counts sweeps and suspended runs.
	HealthSweeps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "health_sweep_runs_total",
			Help:      "Runs examined by the health monitor by outcome",
		},
		[]string{"outcome"},
	)

	// HeroResolutions counts hero outcomes by tier.
	HeroResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "hero_resolutions_total",
			Help:      "Hero resolutions by source tier and status",
		},
		[]string{"tier", "status"},
	)

	// AcceptanceResults counts acceptance evaluations.
	AcceptanceResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "acceptance_results_total",
			Help:      "Acceptance evaluation outcomes",
		},
		[]string{"result"},
	)

	// FeedEnqueues counts enqueue outcomes.
	FeedEnqueues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feed",
			Name:      "enqueue_total",
			Help:      "Feed queue enqueue outcomes",
		},
		[]string{"consumer", "outcome"},
	)

	// FeedDeliveries counts delivery outcomes.
	FeedDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feed",
			Name:      "delivery_total",
			Help:      "Feed queue delivery outcomes",
		},
		[]string{"consumer", "status"},
	)

	// FeedDeliveryDuration measures memory API calls.
	FeedDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "feed",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of consumer memory feed calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"consumer"},
	)
)
