package alerting

import (
	"fmt"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dlq"
)

// Severity ranks alerts.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one triggered condition, ready for a notifier.
type Alert struct {
	Rule      string    `json:"rule"`
	Severity  Severity  `json:"severity"`
	Pipeline  string    `json:"pipeline"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds alerting thresholds. Zero values disable a rule.
type Config struct {
	MaxDLQEntries   int     `yaml:"max_dlq_entries"`
	MinQualityScore float64 `yaml:"min_quality_score"`
	MaxFailureRatio float64 `yaml:"max_failure_ratio"`
}

// Evaluator turns run results and queue state into alerts.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an evaluator.
func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// EvaluateRun checks a finished run against the thresholds.
func (e *Evaluator) EvaluateRun(summary domain.RunSummary) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if summary.State == domain.RunStateFailed {
		alerts = append(alerts, Alert{
			Rule:      "run_failed",
			Severity:  SeverityCritical,
			Pipeline:  summary.Pipeline,
			Message:   fmt.Sprintf("run %s failed: %s", summary.RunID, summary.Error),
			Timestamp: now,
		})
	}

	if e.cfg.MaxFailureRatio > 0 && summary.RowsExtracted > 0 {
		ratio := float64(summary.RowsFailed) / float64(summary.RowsExtracted)
		if ratio > e.cfg.MaxFailureRatio {
			alerts = append(alerts, Alert{
				Rule:     "failure_ratio",
				Severity: SeverityWarning,
				Pipeline: summary.Pipeline,
				Message: fmt.Sprintf("failure ratio %.2f exceeds %.2f (%d of %d rows)",
					ratio, e.cfg.MaxFailureRatio, summary.RowsFailed, summary.RowsExtracted),
				Timestamp: now,
			})
		}
	}

	return alerts
}

// EvaluateQuality checks a chunk quality score.
func (e *Evaluator) EvaluateQuality(pipeline string, report domain.QualityReport) []Alert {
	if e.cfg.MinQualityScore <= 0 || report.Score >= e.cfg.MinQualityScore {
		return nil
	}
	return []Alert{{
		Rule:     "quality_score",
		Severity: SeverityWarning,
		Pipeline: pipeline,
		Message: fmt.Sprintf("chunk %d quality score %.1f below %.1f",
			report.ChunkSequence, report.Score, e.cfg.MinQualityScore),
		Timestamp: time.Now().UTC(),
	}}
}

// EvaluateDLQ checks the dead letter backlog.
func (e *Evaluator) EvaluateDLQ(pipeline string, stats dlq.Stats) []Alert {
	if e.cfg.MaxDLQEntries <= 0 || stats.TotalEntries <= e.cfg.MaxDLQEntries {
		return nil
	}
	return []Alert{{
		Rule:     "dlq_backlog",
		Severity: SeverityCritical,
		Pipeline: pipeline,
		Message: fmt.Sprintf("dead letter queue holds %d entries, limit %d",
			stats.TotalEntries, e.cfg.MaxDLQEntries),
		Timestamp: time.Now().UTC(),
	}}
}
