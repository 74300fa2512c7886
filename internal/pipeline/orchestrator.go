package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vietddude/relay/internal/checkpoint"
	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dlq"
	"github.com/vietddude/relay/internal/metrics"
	"github.com/vietddude/relay/internal/quality"
	"github.com/vietddude/relay/internal/resilience"
)

// QualityPolicy decides what happens to a chunk whose score falls
// below the configured threshold.
type QualityPolicy string

const (
	// QualityPolicyLog records the low score and loads the chunk anyway.
	QualityPolicyLog QualityPolicy = "log"
	// QualityPolicyDLQ routes the whole chunk to the dead letter queue.
	QualityPolicyDLQ QualityPolicy = "dlq"
)

// Config wires the orchestrator's collaborators and settings.
type Config struct {
	Pipeline string
	Target   string
	Query    QueryDescriptor

	Source Source
	Sink   Sink

	Retry        *resilience.RetryPolicy
	Breaker      *resilience.CircuitBreaker
	DLQ          *dlq.Queue
	Checkpoints  *checkpoint.Manager
	Rules        *quality.RuleSet
	Transformers *quality.Registry

	// Transformations are registry names applied to each chunk after
	// cleaning, in order.
	Transformations []string

	// OnReport, if set, receives every chunk's quality report.
	OnReport func(domain.QualityReport)

	// CheckpointEvery is the row cadence between durable checkpoints.
	CheckpointEvery int64
	// CheckpointKeep bounds how many checkpoints survive cleanup at
	// the end of a run. Zero disables cleanup.
	CheckpointKeep int

	// QualityThreshold is the minimum acceptable chunk score.
	QualityThreshold float64
	QualityPolicy    QualityPolicy

	// Workers > 1 enables bounded parallelism across independent
	// chunks. Checkpoints then follow the min-in-flight watermark.
	Workers int

	// ChunksPerSecond caps the source pull rate. Zero means no cap.
	ChunksPerSecond float64

	// MemoryLimitMB triggers a best-effort collection between chunks
	// when the heap grows past it. Zero disables the gate.
	MemoryLimitMB uint64
}

// DefaultCheckpointEvery is the row cadence used when none is set.
const DefaultCheckpointEvery = 100_000

// Orchestrator is the control loop: it pulls chunks from the source,
// applies the quality gate, pushes to the sink through the retry
// policy and circuit breaker, records progress via checkpoints and
// routes irrecoverable chunks to the dead letter queue.
type Orchestrator struct {
	cfg     Config
	limiter *rate.Limiter
	memGate *memoryGate
	running atomic.Bool

	mu    sync.Mutex
	state domain.RunState
	cpMu  sync.Mutex

	rowsExtracted  atomic.Int64
	rowsLoaded     atomic.Int64
	rowsFailed     atomic.Int64
	rowsDeduped    atomic.Int64
	chunksDone     atomic.Int64
	rowsSinceCP    atomic.Int64
	lastCheckpoint atomic.Int64
}

// NewOrchestrator creates an orchestrator. Source, Sink, Retry,
// Breaker, DLQ and Checkpoints are required.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.QualityPolicy == "" {
		cfg.QualityPolicy = QualityPolicyLog
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	o := &Orchestrator{
		cfg:     cfg,
		memGate: newMemoryGate(cfg.MemoryLimitMB),
		state:   domain.RunStateInitializing,
	}
	if cfg.ChunksPerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.ChunksPerSecond), 1)
	}
	return o
}

// State returns the current run state.
func (o *Orchestrator) State() domain.RunState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Progress snapshots the running counters for health reporting.
func (o *Orchestrator) Progress() domain.RunSummary {
	return domain.RunSummary{
		Pipeline:         o.cfg.Pipeline,
		State:            o.State(),
		RowsExtracted:    o.rowsExtracted.Load(),
		RowsLoaded:       o.rowsLoaded.Load(),
		RowsFailed:       o.rowsFailed.Load(),
		RowsDeduplicated: o.rowsDeduped.Load(),
		ChunksProcessed:  o.chunksDone.Load(),
	}
}

// Run executes one pipeline run to completion. The summary is
// reported even when the run aborts. A single bad chunk never aborts
// the run; fatal error classes do.
func (o *Orchestrator) Run(ctx context.Context) (*domain.RunSummary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("pipeline %s already running", o.cfg.Pipeline)
	}
	defer o.running.Store(false)

	o.resetCounters()
	summary := &domain.RunSummary{
		RunID:     uuid.NewString(),
		Pipeline:  o.cfg.Pipeline,
		StartedAt: time.Now().UTC(),
	}
	o.setState(domain.RunStateInitializing)
	slog.Info("Starting pipeline run",
		"pipeline", o.cfg.Pipeline, "run_id", summary.RunID)

	query := o.cfg.Query
	wm := newWatermark(query.ResumeAfter)

	fail := func(err error) (*domain.RunSummary, error) {
		o.setState(domain.RunStateFailed)
		// Best-effort final checkpoint at the safe watermark so a
		// restart resumes close to the failure point.
		o.checkpointAt(wm.finish(-1), summary.RunID, true)
		o.finish(summary, err)
		slog.Error("Pipeline run failed",
			"pipeline", o.cfg.Pipeline, "run_id", summary.RunID, "error", err)
		return summary, err
	}

	if err := o.cfg.Retry.Execute(ctx, func() error {
		return metrics.Instrumented("ensure_schema", func() error {
			return o.cfg.Sink.EnsureSchema(ctx, o.cfg.Target)
		})
	}); err != nil {
		return fail(fmt.Errorf("failed to ensure sink schema: %w", err))
	}

	if resume, ok := o.loadResumePoint(); ok && resume > query.ResumeAfter {
		query.ResumeAfter = resume
		wm = newWatermark(resume)
		o.lastCheckpoint.Store(resume)
		slog.Info("Resuming from checkpoint",
			"pipeline", o.cfg.Pipeline, "last_sequence", resume)
	}

	if estimate, err := o.cfg.Source.EstimateSize(ctx, query); err == nil {
		summary.EstimatedRows = estimate
	}

	o.setState(domain.RunStateExtracting)
	it, err := o.cfg.Source.Open(ctx, query)
	if err != nil {
		return fail(fmt.Errorf("failed to open source: %w", err))
	}

	var runErr error
	if o.cfg.Workers > 1 {
		runErr = o.runPool(ctx, it, wm, summary.RunID)
	} else {
		runErr = o.runLoop(ctx, it, wm, summary.RunID)
	}
	if runErr != nil {
		return fail(runErr)
	}

	o.setState(domain.RunStateCompleted)
	o.checkpointAt(wm.finish(-1), summary.RunID, true)
	if o.cfg.CheckpointKeep > 0 {
		if _, err := o.cfg.Checkpoints.CleanupOld(o.cfg.Pipeline, o.cfg.CheckpointKeep); err != nil {
			slog.Warn("Checkpoint cleanup failed", "error", err)
		}
	}

	o.finish(summary, nil)
	slog.Info("Pipeline run complete",
		"pipeline", o.cfg.Pipeline,
		"run_id", summary.RunID,
		"rows_extracted", summary.RowsExtracted,
		"rows_loaded", summary.RowsLoaded,
		"rows_failed", summary.RowsFailed)
	return summary, nil
}

// runLoop is the single-worker path: extract, transform and load one
// chunk at a time, in source order.
func (o *Orchestrator) runLoop(ctx context.Context, it ChunkIterator, wm *watermark, runID string) error {
	for {
		chunk, err := o.nextChunk(ctx, it)
		if err != nil {
			return err
		}
		if chunk == nil {
			return nil
		}

		wm.start(chunk.Sequence)
		if err := o.processChunk(ctx, chunk); err != nil {
			return err
		}
		if err := o.maybeCheckpoint(wm.finish(chunk.Sequence), runID, false); err != nil {
			return err
		}
		o.setState(domain.RunStateExtracting)
	}
}

// runPool fans chunks out to a bounded worker pool. The source
// iterator stays single-owner; only independent chunk processing runs
// in parallel.
func (o *Orchestrator) runPool(ctx context.Context, it ChunkIterator, wm *watermark, runID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan *domain.Chunk)
	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		poolErr error
	)
	abort := func(err error) {
		errOnce.Do(func() {
			poolErr = err
			cancel()
		})
	}

	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range chunks {
				if err := o.processChunk(ctx, chunk); err != nil {
					abort(err)
					return
				}
				if err := o.maybeCheckpoint(wm.finish(chunk.Sequence), runID, false); err != nil {
					abort(err)
					return
				}
			}
		}()
	}

	feed := func() error {
		defer close(chunks)
		for {
			chunk, err := o.nextChunk(ctx, it)
			if err != nil {
				return err
			}
			if chunk == nil {
				return nil
			}
			wm.start(chunk.Sequence)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	feedErr := feed()
	wg.Wait()

	if poolErr != nil {
		return poolErr
	}
	return feedErr
}

// nextChunk pulls from the source with rate limiting, the memory gate
// and retry. A source failure that survives retries aborts the run:
// without the source there is nothing left to do.
func (o *Orchestrator) nextChunk(ctx context.Context, it ChunkIterator) (*domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	o.memGate.check()

	var chunk *domain.Chunk
	err := o.cfg.Retry.Execute(ctx, func() error {
		var err error
		chunk, err = it.Next(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("source pull failed: %w", err)
	}
	if chunk == nil {
		return nil, nil
	}

	o.rowsExtracted.Add(int64(chunk.Len()))
	metrics.RowsExtracted.WithLabelValues(o.cfg.Pipeline).Add(float64(chunk.Len()))
	return chunk, nil
}

// processChunk runs the quality gate and the guarded sink write for
// one chunk. It returns an error only for fatal classes; everything
// else is absorbed into the dead letter queue.
func (o *Orchestrator) processChunk(ctx context.Context, chunk *domain.Chunk) error {
	start := time.Now()
	o.setState(domain.RunStateTransforming)

	cleaned, cleanStats := quality.Clean(chunk)
	o.rowsDeduped.Add(int64(cleanStats.DuplicatesRemoved))

	report := quality.Validate(cleaned, o.cfg.Rules)
	metrics.QualityScore.WithLabelValues(o.cfg.Pipeline).Set(report.Score)
	if o.cfg.OnReport != nil {
		o.cfg.OnReport(report)
	}
	if report.RowsInvalid > 0 {
		slog.Warn("Chunk has invalid rows",
			"sequence", chunk.Sequence,
			"rows_invalid", report.RowsInvalid,
			"score", report.Score)
	}

	if o.cfg.QualityThreshold > 0 && report.Score < o.cfg.QualityThreshold {
		if o.cfg.QualityPolicy == QualityPolicyDLQ {
			o.failChunk(cleaned, fmt.Errorf(
				"quality score %.1f below threshold %.1f",
				report.Score, o.cfg.QualityThreshold), "quality", 0)
			o.chunkDone(start, "quality")
			return nil
		}
		slog.Warn("Low quality chunk loaded by policy",
			"sequence", chunk.Sequence, "score", report.Score)
	}

	transformed := cleaned
	if o.cfg.Transformers != nil && len(o.cfg.Transformations) > 0 {
		var err error
		transformed, err = o.cfg.Transformers.Apply(cleaned, o.cfg.Transformations)
		if err != nil {
			o.failChunk(cleaned, domain.Validation(err), "transform", 0)
			o.chunkDone(start, "transform")
			return nil
		}
	}

	o.setState(domain.RunStateLoading)
	err := o.cfg.Breaker.Call(ctx, func() error {
		return o.cfg.Retry.Execute(ctx, func() error {
			_, werr := o.cfg.Sink.Write(ctx, transformed)
			return werr
		})
	})
	o.observeCircuit()

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if domain.Classify(err) == domain.KindFatal {
			return err
		}
		retries := o.cfg.Retry.Config.MaxRetries
		if errors.Is(err, resilience.ErrCircuitOpen) {
			// The sink was never invoked; the chunk cannot wait for
			// the recovery window.
			retries = 0
		}
		o.failChunk(transformed, err, "load", retries)
		o.chunkDone(start, "load")
		return nil
	}

	o.rowsLoaded.Add(int64(transformed.Len()))
	metrics.RowsLoaded.WithLabelValues(o.cfg.Pipeline).Add(float64(transformed.Len()))
	o.rowsSinceCP.Add(int64(transformed.Len()))
	o.chunkDone(start, "load")
	return nil
}

// failChunk routes a chunk to the dead letter queue and counts its
// rows as failed. Every terminally failed chunk appears exactly once.
func (o *Orchestrator) failChunk(chunk *domain.Chunk, cause error, source string, retryCount int) {
	payload := map[string]any{
		"sequence": chunk.Sequence,
		"target":   o.cfg.Target,
		"records":  chunk.Records,
	}
	o.cfg.DLQ.Enqueue(payload, cause, source, retryCount)
	o.rowsFailed.Add(int64(chunk.Len()))
	o.rowsSinceCP.Add(int64(chunk.Len()))
	metrics.RowsFailed.WithLabelValues(o.cfg.Pipeline).Add(float64(chunk.Len()))
}

func (o *Orchestrator) chunkDone(start time.Time, stage string) {
	o.chunksDone.Add(1)
	metrics.ChunkDuration.WithLabelValues(o.cfg.Pipeline, stage).
		Observe(time.Since(start).Seconds())
}

// maybeCheckpoint saves when enough rows accumulated since the last
// durable write. A checkpoint failure is fatal: the orchestrator must
// not advance past a point it cannot prove is persisted.
func (o *Orchestrator) maybeCheckpoint(watermark int64, runID string, force bool) error {
	if !force && o.rowsSinceCP.Load() < o.cfg.CheckpointEvery {
		return nil
	}
	return o.checkpointAt(watermark, runID, force)
}

func (o *Orchestrator) checkpointAt(watermark int64, runID string, bestEffort bool) error {
	// Serialized so concurrent workers cannot persist watermarks out
	// of order.
	o.cpMu.Lock()
	defer o.cpMu.Unlock()

	if watermark <= 0 || watermark <= o.lastCheckpoint.Load() {
		return nil
	}

	data := map[string]any{
		"last_sequence":  watermark,
		"rows_processed": o.rowsLoaded.Load() + o.rowsFailed.Load(),
	}
	meta := map[string]any{"run_id": runID}

	if _, err := o.cfg.Checkpoints.Save(o.cfg.Pipeline, data, meta); err != nil {
		if bestEffort {
			slog.Warn("Best-effort checkpoint failed", "error", err)
			return nil
		}
		return fmt.Errorf("checkpoint save failed: %w", err)
	}

	o.lastCheckpoint.Store(watermark)
	o.rowsSinceCP.Store(0)
	metrics.CheckpointsSaved.WithLabelValues(o.cfg.Pipeline).Inc()
	return nil
}

// loadResumePoint reads the latest checkpoint's sequence watermark.
func (o *Orchestrator) loadResumePoint() (int64, bool) {
	cp, err := o.cfg.Checkpoints.Load(o.cfg.Pipeline, "")
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNotFound) {
			slog.Warn("Failed to load checkpoint, starting fresh", "error", err)
		}
		return 0, false
	}
	seq, ok := toInt64(cp.Data["last_sequence"])
	return seq, ok
}

func (o *Orchestrator) setState(s domain.RunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !domain.CanTransition(o.state, s) {
		slog.Warn("Unexpected run state transition",
			"pipeline", o.cfg.Pipeline, "from", o.state, "to", s)
	}
	o.state = s
}

func (o *Orchestrator) resetCounters() {
	o.rowsExtracted.Store(0)
	o.rowsLoaded.Store(0)
	o.rowsFailed.Store(0)
	o.rowsDeduped.Store(0)
	o.chunksDone.Store(0)
	o.rowsSinceCP.Store(0)
	o.lastCheckpoint.Store(0)
}

func (o *Orchestrator) finish(summary *domain.RunSummary, err error) {
	summary.State = o.State()
	summary.RowsExtracted = o.rowsExtracted.Load()
	summary.RowsLoaded = o.rowsLoaded.Load()
	summary.RowsFailed = o.rowsFailed.Load()
	summary.RowsDeduplicated = o.rowsDeduped.Load()
	summary.ChunksProcessed = o.chunksDone.Load()
	summary.FinishedAt = time.Now().UTC()
	if err != nil {
		summary.Error = err.Error()
	}
}

func (o *Orchestrator) observeCircuit() {
	var v float64
	switch o.cfg.Breaker.State() {
	case resilience.StateOpen:
		v = 1
	case resilience.StateHalfOpen:
		v = 2
	}
	metrics.CircuitState.WithLabelValues(o.cfg.Pipeline).Set(v)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
