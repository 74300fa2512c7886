// Package health provides system health monitoring and status reporting.
package health

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// PipelineHealth contains health metrics for a single pipeline.
type PipelineHealth struct {
	Pipeline      string       `json:"pipeline"`
	Status        SystemStatus `json:"status"`
	State         string       `json:"state"`
	RowsExtracted int64        `json:"rows_extracted"`
	RowsLoaded    int64        `json:"rows_loaded"`
	RowsFailed    int64        `json:"rows_failed"`
	DLQEntries    int          `json:"dlq_entries"`
	SinkReachable bool         `json:"sink_reachable"`
}
