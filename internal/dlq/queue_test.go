package dlq

import (
	"errors"
	"testing"

	"github.com/vietddude/relay/internal/core/domain"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return q
}

func TestEnqueueGrowsQueueByOne(t *testing.T) {
	q := newTestQueue(t)

	before, err := q.Stats()
	if err != nil {
		t.Fatal(err)
	}

	q.Enqueue(map[string]any{"sequence": 1}, errors.New("sink down"), "orders", 3)

	after, err := q.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if after.TotalEntries != before.TotalEntries+1 {
		t.Errorf("expected %d entries, got %d", before.TotalEntries+1, after.TotalEntries)
	}
	if after.BySource["orders"] != 1 {
		t.Errorf("expected 1 entry for orders, got %d", after.BySource["orders"])
	}
}

func TestEnqueuePreservesFields(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(map[string]any{"sequence": 7}, errors.New("boom"), "orders", 2)

	entries, err := q.Entries("orders", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	e := entries[0]
	if e.ID == "" {
		t.Error("entry has no id")
	}
	if e.Timestamp.IsZero() {
		t.Error("entry has no timestamp")
	}
	if e.Source != "orders" || e.Error != "boom" || e.RetryCount != 2 {
		t.Errorf("entry fields lost: %+v", e)
	}
	if e.Payload["sequence"].(float64) != 7 {
		t.Errorf("payload lost: %v", e.Payload)
	}
}

func TestEnqueueAlertHook(t *testing.T) {
	q := newTestQueue(t)

	var seen []domain.DLQEntry
	q.SetAlertHook(func(e domain.DLQEntry) { seen = append(seen, e) })

	q.Enqueue(nil, errors.New("boom"), "orders", 0)
	if len(seen) != 1 || seen[0].Source != "orders" {
		t.Errorf("alert hook not invoked correctly: %v", seen)
	}
}

func TestEntriesFiltersBySource(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(nil, errors.New("a"), "orders", 0)
	q.Enqueue(nil, errors.New("b"), "users", 0)
	q.Enqueue(nil, errors.New("c"), "orders", 0)

	entries, err := q.Entries("orders", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 orders entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Source != "orders" {
			t.Errorf("wrong source: %s", e.Source)
		}
	}

	limited, err := q.Entries("orders", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored: got %d entries", len(limited))
	}
}

func TestReplayCountsOutcomes(t *testing.T) {
	q := newTestQueue(t)
	for i := 0; i < 3; i++ {
		q.Enqueue(map[string]any{"n": i}, errors.New("boom"), "orders", 0)
	}

	calls := 0
	stats, err := q.Replay("orders", func(e domain.DLQEntry) error {
		calls++
		if calls == 2 {
			return errors.New("still failing")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if stats.Total != 3 || stats.Succeeded != 2 || stats.Failed != 1 {
		t.Errorf("unexpected replay stats: %+v", stats)
	}

	// Replay never removes entries.
	after, err := q.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if after.TotalEntries != 3 {
		t.Errorf("replay mutated the queue: %d entries left", after.TotalEntries)
	}
}

func TestClearRemovesFiles(t *testing.T) {
	q := newTestQueue(t)
	q.Enqueue(nil, errors.New("a"), "orders", 0)
	q.Enqueue(nil, errors.New("b"), "users", 0)

	deleted, err := q.Clear("orders", 0)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 file deleted, got %d", deleted)
	}

	stats, err := q.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.BySource["orders"] != 0 {
		t.Error("orders entries survived clear")
	}
	if stats.BySource["users"] != 1 {
		t.Error("users entries were cleared too")
	}
}
