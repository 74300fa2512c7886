package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dlq"
	"github.com/vietddude/relay/internal/infra/redisq"
	"github.com/vietddude/relay/internal/pipeline"
	"github.com/vietddude/relay/internal/resilience"
)

// ReplayWorker polls the replay request queue and drives dead letter
// entries back through the sink. Replays happen out of band so the
// main pipeline run is never blocked on them.
type ReplayWorker struct {
	queue    *redisq.Client
	dlq      *dlq.Queue
	sink     pipeline.Sink
	retry    *resilience.RetryPolicy
	interval time.Duration
}

// NewReplayWorker creates a replay worker. Interval defaults to 30s.
func NewReplayWorker(
	queue *redisq.Client,
	deadLetters *dlq.Queue,
	sink pipeline.Sink,
	retry *resilience.RetryPolicy,
	interval time.Duration,
) *ReplayWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ReplayWorker{
		queue:    queue,
		dlq:      deadLetters,
		sink:     sink,
		retry:    retry,
		interval: interval,
	}
}

// Start runs the polling loop until the context is cancelled.
func (w *ReplayWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes every pending request before going back to sleep.
func (w *ReplayWorker) drain(ctx context.Context) {
	for {
		req, found, err := w.queue.PopReplayRequest(ctx)
		if err != nil {
			slog.Error("Failed to pop replay request", "error", err)
			return
		}
		if !found {
			return
		}

		slog.Info("Processing replay request", "source", req.Source)
		stats, err := w.Replay(ctx, req.Source)
		if err != nil {
			slog.Error("Replay failed", "source", req.Source, "error", err)
			continue
		}
		if stats.Failed == 0 && stats.Total > 0 {
			// Everything went through; the files have served their
			// purpose.
			if _, err := w.dlq.Clear(req.Source, 0); err != nil {
				slog.Warn("Failed to clear replayed entries",
					"source", req.Source, "error", err)
			}
		}
	}
}

// Replay re-drives the dead letter entries of one source through the
// sink, retry-wrapped per entry.
func (w *ReplayWorker) Replay(ctx context.Context, source string) (dlq.ReplayStats, error) {
	return w.dlq.Replay(source, func(entry domain.DLQEntry) error {
		chunk, err := chunkFromEntry(entry)
		if err != nil {
			return err
		}
		return w.retry.Execute(ctx, func() error {
			_, werr := w.sink.Write(ctx, chunk)
			return werr
		})
	})
}

// chunkFromEntry reconstructs the failed chunk from an entry payload.
func chunkFromEntry(entry domain.DLQEntry) (*domain.Chunk, error) {
	rawRecords, ok := entry.Payload["records"].([]any)
	if !ok {
		return nil, fmt.Errorf("entry %s has no records payload", entry.ID)
	}

	chunk := &domain.Chunk{}
	if seq, ok := entry.Payload["sequence"].(float64); ok {
		chunk.Sequence = int64(seq)
	}
	for _, raw := range rawRecords {
		rec, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entry %s has a malformed record", entry.ID)
		}
		chunk.Records = append(chunk.Records, domain.Record(rec))
	}
	return chunk, nil
}
