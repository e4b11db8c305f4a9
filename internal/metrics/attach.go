package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttachesInitiated tracks signer run_once attach cycles started
	// (spec §4.1, "the per-attach protocol").
	AttachesInitiated = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attach",
			Name:      "initiated_total",
			Help:      "Total number of signer attach cycles started",
		},
	)

	// AttachesCompleted tracks how attach cycles ended.
	AttachesCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attach",
			Name:      "completed_total",
			Help:      "Total number of signer attach cycles completed, by outcome",
		},
		[]string{"outcome"}, // disconnected, splitbrain, shutdown
	)

	// AttachDuration times a full attach cycle (dial through stream
	// close), by how it ended.
	AttachDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "attach",
			Name:      "duration_seconds",
			Help:      "Attach cycle duration in seconds, by outcome",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"outcome"},
	)
)
