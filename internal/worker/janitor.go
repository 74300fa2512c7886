package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/relay/internal/checkpoint"
	"github.com/vietddude/relay/internal/dlq"
)

// Janitor deletes old dead letter files and surplus checkpoints based
// on retention policy.
type Janitor struct {
	retention   time.Duration
	keep        int
	pipelines   []string
	deadLetters *dlq.Queue
	checkpoints *checkpoint.Manager
}

// NewJanitor creates a new Janitor worker.
func NewJanitor(
	retention time.Duration,
	keep int,
	pipelines []string,
	deadLetters *dlq.Queue,
	checkpoints *checkpoint.Manager,
) *Janitor {
	return &Janitor{
		retention:   retention,
		keep:        keep,
		pipelines:   pipelines,
		deadLetters: deadLetters,
		checkpoints: checkpoints,
	}
}

// Start runs the janitor loop.
func (j *Janitor) Start(ctx context.Context) {
	if j.retention <= 0 {
		return // Retention disabled
	}

	interval := min(j.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial sweep
	j.sweep()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	deleted, err := j.deadLetters.Clear("", j.retention)
	if err != nil {
		slog.Error("Failed to prune dead letter files", "error", err)
	} else if deleted > 0 {
		slog.Info("Pruned dead letter files", "deleted", deleted)
	}

	if j.keep <= 0 {
		return
	}
	for _, pipeline := range j.pipelines {
		if _, err := j.checkpoints.CleanupOld(pipeline, j.keep); err != nil {
			slog.Error("Failed to prune checkpoints",
				"pipeline", pipeline, "error", err)
		}
	}
}
