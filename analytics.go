package shepherd

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	shepherdEventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shepherd_lifecycle_events_total",
			Help: "Lifecycle events processed by type",
		},
		[]string{"type"},
	)

	shepherdShardStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shepherd_shard_status",
			Help: "Current status of each shard",
		},
		[]string{"shard"},
	)

	shepherdIdentifyCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shepherd_identifies_total",
			Help: "Identify handshakes performed, by admission priority",
		},
		[]string{"priority"},
	)

	shepherdAdmissionWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shepherd_admission_wait_seconds",
			Help:    "Time spent waiting for the coordinator to admit a shard",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	shepherdCoordinatorRetryCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shepherd_coordinator_retries_total",
			Help: "Admission attempts retried because the coordinator was unreachable",
		},
	)
)

var registerMetricsOnce sync.Once

func registerMetrics() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(
			shepherdEventCount,
			shepherdShardStatus,
			shepherdIdentifyCount,
			shepherdAdmissionWaitDuration,
			shepherdCoordinatorRetryCount,
		)
	})
}
