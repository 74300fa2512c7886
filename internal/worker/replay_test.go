package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/dlq"
	"github.com/vietddude/relay/internal/resilience"
)

type captureSink struct {
	mu     sync.Mutex
	chunks []*domain.Chunk
	fail   bool
}

func (s *captureSink) EnsureSchema(context.Context, string) error { return nil }

func (s *captureSink) Write(_ context.Context, chunk *domain.Chunk) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("still down")
	}
	s.chunks = append(s.chunks, chunk)
	return chunk.Len(), nil
}

func noRetry() *resilience.RetryPolicy {
	p := resilience.NewRetryPolicy(resilience.RetryConfig{MaxRetries: 0})
	return p
}

func enqueueChunk(q *dlq.Queue, seq int64, source string, rows int) {
	records := make([]any, 0, rows)
	for i := 0; i < rows; i++ {
		records = append(records, map[string]any{"id": i})
	}
	q.Enqueue(map[string]any{
		"sequence": seq,
		"records":  records,
	}, errors.New("sink down"), source, 3)
}

func TestReplayRebuildsChunks(t *testing.T) {
	queue, err := dlq.NewQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	enqueueChunk(queue, 7, "load", 3)

	sink := &captureSink{}
	w := NewReplayWorker(nil, queue, sink, noRetry(), 0)

	stats, err := w.Replay(context.Background(), "load")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 1 || stats.Succeeded != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(sink.chunks) != 1 {
		t.Fatalf("expected 1 chunk written, got %d", len(sink.chunks))
	}
	if sink.chunks[0].Sequence != 7 || sink.chunks[0].Len() != 3 {
		t.Errorf("chunk not reconstructed: seq=%d len=%d",
			sink.chunks[0].Sequence, sink.chunks[0].Len())
	}
}

func TestReplayCountsFailures(t *testing.T) {
	queue, err := dlq.NewQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	enqueueChunk(queue, 1, "load", 2)
	enqueueChunk(queue, 2, "load", 2)

	sink := &captureSink{fail: true}
	w := NewReplayWorker(nil, queue, sink, noRetry(), 0)

	stats, err := w.Replay(context.Background(), "load")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.Failed != 2 || stats.Succeeded != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestReplaySkipsMalformedPayload(t *testing.T) {
	queue, err := dlq.NewQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	queue.Enqueue(map[string]any{"no_records": true}, errors.New("x"), "load", 0)

	sink := &captureSink{}
	w := NewReplayWorker(nil, queue, sink, noRetry(), 0)

	stats, err := w.Replay(context.Background(), "load")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 {
		t.Errorf("malformed entry should count failed: %+v", stats)
	}
	if len(sink.chunks) != 0 {
		t.Error("malformed entry reached the sink")
	}
}
