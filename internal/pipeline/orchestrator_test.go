package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/relay/internal/checkpoint"
	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dlq"
	"github.com/vietddude/relay/internal/quality"
	"github.com/vietddude/relay/internal/resilience"
)

// fakeSource yields pre-built chunks, honoring ResumeAfter.
type fakeSource struct {
	chunks []*domain.Chunk

	mu     sync.Mutex
	opened []QueryDescriptor
}

func (s *fakeSource) Open(_ context.Context, q QueryDescriptor) (ChunkIterator, error) {
	s.mu.Lock()
	s.opened = append(s.opened, q)
	s.mu.Unlock()

	var pending []*domain.Chunk
	for _, c := range s.chunks {
		if c.Sequence > q.ResumeAfter {
			pending = append(pending, c)
		}
	}
	return &fakeIterator{chunks: pending}, nil
}

func (s *fakeSource) EstimateSize(context.Context, QueryDescriptor) (int64, error) {
	var total int64
	for _, c := range s.chunks {
		total += int64(c.Len())
	}
	return total, nil
}

type fakeIterator struct {
	mu     sync.Mutex
	chunks []*domain.Chunk
}

func (it *fakeIterator) Next(context.Context) (*domain.Chunk, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if len(it.chunks) == 0 {
		return nil, nil
	}
	c := it.chunks[0]
	it.chunks = it.chunks[1:]
	return c, nil
}

// fakeSink records writes and fails on demand.
type fakeSink struct {
	mu       sync.Mutex
	writes   int
	loaded   map[int64]int
	failures map[int64]int // remaining failures per sequence
	failWith error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		loaded:   make(map[int64]int),
		failures: make(map[int64]int),
		failWith: errors.New("sink unavailable"),
	}
}

func (s *fakeSink) EnsureSchema(context.Context, string) error { return nil }

func (s *fakeSink) Write(_ context.Context, chunk *domain.Chunk) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writes++
	if n := s.failures[chunk.Sequence]; n != 0 {
		if n > 0 {
			s.failures[chunk.Sequence] = n - 1
		}
		return 0, s.failWith
	}
	s.loaded[chunk.Sequence] = chunk.Len()
	return chunk.Len(), nil
}

func (s *fakeSink) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func makeChunks(n, rows int) []*domain.Chunk {
	chunks := make([]*domain.Chunk, 0, n)
	for seq := 1; seq <= n; seq++ {
		records := make([]domain.Record, 0, rows)
		for r := 0; r < rows; r++ {
			records = append(records, domain.Record{
				"id":    float64(seq*1000 + r),
				"score": float64(r),
			})
		}
		chunks = append(chunks, &domain.Chunk{Sequence: int64(seq), Records: records})
	}
	return chunks
}

type testEnv struct {
	source *fakeSource
	sink   *fakeSink
	dlq    *dlq.Queue
	cps    *checkpoint.Manager
	sleeps *[]time.Duration
}

func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *testEnv) {
	t.Helper()

	queue, err := dlq.NewQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cps, err := checkpoint.NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var sleeps []time.Duration
	retry := resilience.NewRetryPolicy(resilience.RetryConfig{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
	})
	retry.Sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	env := &testEnv{
		source: &fakeSource{},
		sink:   newFakeSink(),
		dlq:    queue,
		cps:    cps,
		sleeps: &sleeps,
	}

	if cfg.Pipeline == "" {
		cfg.Pipeline = "orders"
	}
	cfg.Source = env.source
	cfg.Sink = env.sink
	cfg.Retry = retry
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(resilience.BreakerConfig{
			FailureThreshold: 100,
			RecoveryTimeout:  time.Minute,
		})
	}
	cfg.DLQ = queue
	cfg.Checkpoints = cps

	return NewOrchestrator(cfg), env
}

func TestRunLoadsEverything(t *testing.T) {
	orch, env := newTestOrchestrator(t, Config{})
	env.source.chunks = makeChunks(3, 100)
	// Chunk 2 fails twice before the sink recovers.
	env.sink.failures[2] = 2

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.State != domain.RunStateCompleted {
		t.Errorf("expected completed, got %s", summary.State)
	}
	if summary.RowsExtracted != 300 || summary.RowsLoaded != 300 {
		t.Errorf("expected 300/300 rows, got %d/%d",
			summary.RowsExtracted, summary.RowsLoaded)
	}
	if summary.RowsFailed != 0 {
		t.Errorf("expected no failed rows, got %d", summary.RowsFailed)
	}
	if summary.EstimatedRows != 300 {
		t.Errorf("expected estimate 300, got %d", summary.EstimatedRows)
	}
	if got := len(*env.sleeps); got != 2 {
		t.Errorf("expected 2 backoff sleeps, got %d", got)
	}
	if summary.RunID == "" {
		t.Error("summary has no run id")
	}
}

func TestRunRoutesExhaustedChunkToDLQ(t *testing.T) {
	orch, env := newTestOrchestrator(t, Config{})
	env.source.chunks = makeChunks(3, 100)
	env.sink.failures[2] = -1 // never recovers

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.State != domain.RunStateCompleted {
		t.Errorf("a bad chunk must not fail the run, got %s", summary.State)
	}
	if summary.RowsLoaded != 200 || summary.RowsFailed != 100 {
		t.Errorf("expected 200 loaded / 100 failed, got %d / %d",
			summary.RowsLoaded, summary.RowsFailed)
	}
	if summary.RowsLoaded+summary.RowsFailed != summary.RowsExtracted-summary.RowsDeduplicated {
		t.Error("row accounting does not add up")
	}

	entries, err := env.dlq.Entries("load", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead letter entry, got %d", len(entries))
	}
	if entries[0].RetryCount != 3 {
		t.Errorf("expected retry_count 3, got %d", entries[0].RetryCount)
	}
	if seq := entries[0].Payload["sequence"].(float64); seq != 2 {
		t.Errorf("wrong chunk dead-lettered: %v", seq)
	}
}

func TestRunShortCircuitsWhenBreakerOpens(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  time.Hour,
	})
	orch, env := newTestOrchestrator(t, Config{Breaker: breaker})
	orch.cfg.Retry.Config.MaxRetries = 0

	env.source.chunks = makeChunks(6, 10)
	for seq := int64(1); seq <= 6; seq++ {
		env.sink.failures[seq] = -1
	}

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Five real attempts open the circuit; the sixth chunk is
	// rejected without touching the sink.
	if got := env.sink.writeCount(); got != 5 {
		t.Errorf("expected 5 sink invocations, got %d", got)
	}
	if summary.RowsFailed != 60 {
		t.Errorf("expected all 60 rows failed, got %d", summary.RowsFailed)
	}

	entries, err := env.dlq.Entries("load", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 6 {
		t.Fatalf("expected 6 dead letter entries, got %d", len(entries))
	}
	shortCircuited := 0
	for _, e := range entries {
		if e.RetryCount == 0 && e.Error == resilience.ErrCircuitOpen.Error() {
			shortCircuited++
		}
	}
	if shortCircuited != 1 {
		t.Errorf("expected exactly 1 short-circuited entry, got %d", shortCircuited)
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	orch, env := newTestOrchestrator(t, Config{})
	env.source.chunks = makeChunks(4, 50)

	if _, err := env.cps.Save("orders",
		map[string]any{"last_sequence": int64(2), "rows_processed": int64(100)},
		nil); err != nil {
		t.Fatal(err)
	}

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(env.source.opened) != 1 || env.source.opened[0].ResumeAfter != 2 {
		t.Fatalf("source not opened with resume point: %+v", env.source.opened)
	}
	if summary.RowsLoaded != 100 {
		t.Errorf("expected only chunks 3 and 4 loaded (100 rows), got %d", summary.RowsLoaded)
	}
	if env.sink.loaded[1] != 0 || env.sink.loaded[2] != 0 {
		t.Error("already-checkpointed chunks were re-written")
	}
}

func TestRunWritesFinalCheckpoint(t *testing.T) {
	orch, env := newTestOrchestrator(t, Config{CheckpointKeep: 5})
	env.source.chunks = makeChunks(3, 10)

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	cp, err := env.cps.Load("orders", "")
	if err != nil {
		t.Fatalf("no final checkpoint: %v", err)
	}
	if got := cp.Data["last_sequence"].(float64); got != 3 {
		t.Errorf("expected last_sequence 3, got %v", got)
	}
	if got := cp.Data["rows_processed"].(float64); got != 30 {
		t.Errorf("expected rows_processed 30, got %v", got)
	}
}

func TestRunCheckpointCadence(t *testing.T) {
	orch, env := newTestOrchestrator(t, Config{CheckpointEvery: 100})
	env.source.chunks = makeChunks(5, 50)

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	summaries, err := env.cps.List("orders")
	if err != nil {
		t.Fatal(err)
	}
	// 250 rows at a 100-row cadence: after chunks 2 and 4, plus the
	// final checkpoint.
	if len(summaries) != 3 {
		t.Errorf("expected 3 checkpoints, got %d", len(summaries))
	}
}

func TestRunFatalErrorAbortsRun(t *testing.T) {
	orch, env := newTestOrchestrator(t, Config{})
	env.source.chunks = makeChunks(3, 10)
	env.sink.failures[2] = -1
	env.sink.failWith = domain.Fatal(errors.New("table dropped"))

	summary, err := orch.Run(context.Background())
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if summary.State != domain.RunStateFailed {
		t.Errorf("expected failed state, got %s", summary.State)
	}
	if summary.Error == "" {
		t.Error("summary has no error")
	}
	if env.sink.loaded[3] != 0 {
		t.Error("run continued past a fatal error")
	}
}

func TestRunFatalAbortWritesCheckpoint(t *testing.T) {
	orch, env := newTestOrchestrator(t, Config{})
	env.source.chunks = makeChunks(3, 10)
	env.sink.failures[2] = -1
	env.sink.failWith = domain.Fatal(errors.New("table dropped"))

	if _, err := orch.Run(context.Background()); err == nil {
		t.Fatal("expected run to fail")
	}

	// Chunk 1 loaded before the abort; a restart must not replay it.
	cp, err := env.cps.Load("orders", "")
	if err != nil {
		t.Fatalf("no checkpoint after abort: %v", err)
	}
	if got := cp.Data["last_sequence"].(float64); got != 1 {
		t.Errorf("expected last_sequence 1, got %v", got)
	}
	if got := cp.Data["rows_processed"].(float64); got != 10 {
		t.Errorf("expected rows_processed 10, got %v", got)
	}
}

func TestRunEmitsQualityReports(t *testing.T) {
	rules := quality.NewRuleSet("orders")
	if err := rules.Add(quality.Range("score", 0, 4)); err != nil {
		t.Fatal(err)
	}

	var reports []domain.QualityReport
	orch, env := newTestOrchestrator(t, Config{
		Rules:    rules,
		OnReport: func(r domain.QualityReport) { reports = append(reports, r) },
	})
	env.source.chunks = makeChunks(2, 10)

	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(reports) != 2 {
		t.Fatalf("expected 2 quality reports, got %d", len(reports))
	}
	for i, report := range reports {
		if report.ChunkSequence != int64(i+1) {
			t.Errorf("report %d: expected sequence %d, got %d",
				i, i+1, report.ChunkSequence)
		}
		if report.Score != 50 {
			t.Errorf("report %d: expected score 50, got %.1f", i, report.Score)
		}
		if report.RowsInvalid != 5 {
			t.Errorf("report %d: expected 5 invalid rows, got %d",
				i, report.RowsInvalid)
		}
	}
}

func TestRunQualityPolicyDLQ(t *testing.T) {
	rules := quality.NewRuleSet("orders")
	if err := rules.Add(quality.Range("score", 0, 4)); err != nil {
		t.Fatal(err)
	}

	orch, env := newTestOrchestrator(t, Config{
		Rules:            rules,
		QualityThreshold: 90,
		QualityPolicy:    QualityPolicyDLQ,
	})
	// Rows have score 0..9, so half of each chunk violates the range.
	env.source.chunks = makeChunks(2, 10)

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if summary.RowsLoaded != 0 || summary.RowsFailed != 20 {
		t.Errorf("expected all rows rejected by quality gate, got %d loaded / %d failed",
			summary.RowsLoaded, summary.RowsFailed)
	}
	entries, err := env.dlq.Entries("quality", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 quality entries, got %d", len(entries))
	}
	if env.sink.writeCount() != 0 {
		t.Error("low-quality chunks reached the sink")
	}
}

func TestRunQualityPolicyLogLoadsAnyway(t *testing.T) {
	rules := quality.NewRuleSet("orders")
	if err := rules.Add(quality.Range("score", 0, 4)); err != nil {
		t.Fatal(err)
	}

	orch, env := newTestOrchestrator(t, Config{
		Rules:            rules,
		QualityThreshold: 90,
		QualityPolicy:    QualityPolicyLog,
	})
	env.source.chunks = makeChunks(2, 10)

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.RowsLoaded != 20 {
		t.Errorf("log policy must load low-quality chunks, got %d", summary.RowsLoaded)
	}
}

func TestRunAppliesTransformations(t *testing.T) {
	registry := quality.NewRegistry()
	if err := registry.Register(quality.NormalizeText()); err != nil {
		t.Fatal(err)
	}

	orch, env := newTestOrchestrator(t, Config{
		Transformers:    registry,
		Transformations: []string{"no_such_transform"},
	})
	env.source.chunks = makeChunks(1, 10)

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// Unknown transform is a validation failure for the chunk, not a
	// run failure.
	if summary.RowsFailed != 10 {
		t.Errorf("expected chunk dead-lettered, got %d failed rows", summary.RowsFailed)
	}
	entries, err := env.dlq.Entries("transform", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 transform entry, got %d", len(entries))
	}
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	orch, env := newTestOrchestrator(t, Config{})
	env.source.chunks = makeChunks(1, 1)

	orch.running.Store(true)
	if _, err := orch.Run(context.Background()); err == nil {
		t.Error("expected second concurrent run to be rejected")
	}
	orch.running.Store(false)

	if _, err := orch.Run(context.Background()); err != nil {
		t.Errorf("run after release failed: %v", err)
	}
}

func TestRunWorkerPool(t *testing.T) {
	orch, env := newTestOrchestrator(t, Config{Workers: 4, CheckpointEvery: 50})
	env.source.chunks = makeChunks(10, 20)

	summary, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if summary.RowsLoaded != 200 {
		t.Errorf("expected 200 rows loaded, got %d", summary.RowsLoaded)
	}
	for seq := int64(1); seq <= 10; seq++ {
		if env.sink.loaded[seq] != 20 {
			t.Errorf("chunk %d not fully written: %d", seq, env.sink.loaded[seq])
		}
	}

	cp, err := env.cps.Load("orders", "")
	if err != nil {
		t.Fatal(err)
	}
	if got := cp.Data["last_sequence"].(float64); got != 10 {
		t.Errorf("expected final watermark 10, got %v", got)
	}
}

func TestRunContextCancelled(t *testing.T) {
	orch, env := newTestOrchestrator(t, Config{})
	env.source.chunks = makeChunks(3, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := orch.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if summary.State != domain.RunStateFailed {
		t.Errorf("expected failed state, got %s", summary.State)
	}
}
