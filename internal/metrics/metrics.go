package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RowsExtracted tracks rows pulled from the source per pipeline
	RowsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rows_extracted_total",
			Help: "Total number of rows extracted from the source",
		},
		[]string{"pipeline"},
	)

	// RowsLoaded tracks rows written to the sink per pipeline
	RowsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rows_loaded_total",
			Help: "Total number of rows loaded into the sink",
		},
		[]string{"pipeline"},
	)

	// RowsFailed tracks rows routed to the dead letter queue
	RowsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rows_failed_total",
			Help: "Total number of rows that failed terminally",
		},
		[]string{"pipeline"},
	)

	// ChunkDuration tracks per-chunk processing latency
	ChunkDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_chunk_duration_seconds",
			Help:    "Time to transform and load one chunk",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline", "stage"},
	)

	// CircuitState exposes breaker state (0=closed, 1=open, 2=half_open)
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"pipeline"},
	)

	// DLQSize exposes the current number of dead letter entries
	DLQSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_dlq_size",
			Help: "Current number of entries in the dead letter queue",
		},
		[]string{"source"},
	)

	// DLQWriteFailures counts dead letter writes that could not be persisted
	DLQWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_dlq_write_failures_total",
			Help: "Total number of dead letter entries that failed to persist",
		},
	)

	// CheckpointsSaved counts durable checkpoint writes
	CheckpointsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_checkpoints_saved_total",
			Help: "Total number of checkpoints saved",
		},
		[]string{"pipeline"},
	)

	// QualityScore exposes the most recent chunk quality score
	QualityScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_quality_score",
			Help: "Quality score of the most recently validated chunk",
		},
		[]string{"pipeline"},
	)

	// ReplaysTotal counts DLQ replay outcomes
	ReplaysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dlq_replays_total",
			Help: "Total number of replayed dead letter entries",
		},
		[]string{"source", "outcome"},
	)
)
