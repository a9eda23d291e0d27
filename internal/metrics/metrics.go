// Package metrics registers the prometheus collectors surreal-sync
// exposes over /metrics, grouped by subsystem the same way the teacher's
// internal/common/metrics groups counters by pool/mediator/outbox/stream.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed counts converted records handed to the target
	// writer, labeled by backend and table.
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "surreal_sync",
			Subsystem: "coordinator",
			Name:      "records_processed_total",
			Help:      "Total records converted and handed to the target writer",
		},
		[]string{"backend", "table"},
	)

	// BatchesApplied counts writer.Apply calls, labeled by outcome.
	BatchesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "surreal_sync",
			Subsystem: "writer",
			Name:      "batches_applied_total",
			Help:      "Total batches submitted to the target writer",
		},
		[]string{"result"}, // success, failed
	)

	// BatchApplyDuration tracks target-write latency per batch.
	BatchApplyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "surreal_sync",
			Subsystem: "writer",
			Name:      "batch_apply_duration_seconds",
			Help:      "Time to apply one batch to the target",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// AdapterPeekEmpty counts Peek calls that returned no changes,
	// observing incremental poll backoff behavior.
	AdapterPeekEmpty = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "surreal_sync",
			Subsystem: "adapter",
			Name:      "peek_empty_total",
			Help:      "Total Peek calls that returned zero changes",
		},
		[]string{"backend"},
	)

	// CheckpointsSaved counts checkpoint envelopes persisted to the
	// checkpoint store, labeled by phase.
	CheckpointsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "surreal_sync",
			Subsystem: "checkpoint",
			Name:      "saved_total",
			Help:      "Total checkpoint envelopes persisted",
		},
		[]string{"phase"},
	)
)
