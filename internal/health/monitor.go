package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dlq"
	"github.com/vietddude/relay/internal/metrics"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// ProgressFunc snapshots the live counters of a pipeline run.
type ProgressFunc func() domain.RunSummary

// Monitor aggregates health status across pipelines and their
// backing services.
type Monitor struct {
	progress map[string]ProgressFunc
	dlq      *dlq.Queue
	sink     Pinger

	lastCheck  time.Time
	lastReport map[string]PipelineHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(deadLetters *dlq.Queue, sink Pinger) *Monitor {
	return &Monitor{
		progress:   make(map[string]ProgressFunc),
		dlq:        deadLetters,
		sink:       sink,
		lastReport: make(map[string]PipelineHealth),
	}
}

// RegisterPipeline adds a pipeline's progress snapshot to the report.
func (m *Monitor) RegisterPipeline(name string, fn ProgressFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[name] = fn
}

// CheckHealth performs a health check for all registered pipelines.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]PipelineHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid hammering the sink and the queue dir
	if time.Since(m.lastCheck) < 10*time.Second && len(m.lastReport) > 0 {
		return m.lastReport
	}

	sinkUp := true
	if m.sink != nil {
		sinkUp = m.sink.Health(ctx) == nil
	}

	dlqEntries := 0
	if m.dlq != nil {
		if stats, err := m.dlq.Stats(); err == nil {
			dlqEntries = stats.TotalEntries
			for source, count := range stats.BySource {
				metrics.DLQSize.WithLabelValues(source).Set(float64(count))
			}
		}
	}

	report := make(map[string]PipelineHealth)
	for name, fn := range m.progress {
		summary := fn()
		health := PipelineHealth{
			Pipeline:      name,
			Status:        StatusHealthy,
			State:         string(summary.State),
			RowsExtracted: summary.RowsExtracted,
			RowsLoaded:    summary.RowsLoaded,
			RowsFailed:    summary.RowsFailed,
			DLQEntries:    dlqEntries,
			SinkReachable: sinkUp,
		}

		switch {
		case !sinkUp || summary.State == domain.RunStateFailed:
			health.Status = StatusCritical
		case summary.RowsFailed > 0 || dlqEntries > 0:
			health.Status = StatusDegraded
		}

		report[name] = health
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
