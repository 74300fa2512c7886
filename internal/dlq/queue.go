package dlq

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/relay/internal/core/domain"
	"github.com/vietddude/relay/internal/metrics"
)

// Stats summarizes the persisted dead letter queue.
type Stats struct {
	TotalFiles   int            `json:"total_files"`
	TotalEntries int            `json:"total_entries"`
	BySource     map[string]int `json:"by_source"`
}

// ReplayStats counts the outcomes of one replay pass.
type ReplayStats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Queue is a durable, append-only record of permanently failed units
// of work, stored as newline-delimited JSON, one file per
// (source, date). Writes are fire-and-forget relative to the pipeline:
// a queue outage must never crash a run.
type Queue struct {
	dir string

	mu sync.Mutex

	// alert, if set, is invoked for every enqueued entry so callers
	// can surface the failure to an alerting channel.
	alert func(domain.DLQEntry)
}

// NewQueue creates the queue directory if needed.
func NewQueue(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dlq dir: %w", err)
	}
	slog.Info("Initialized dead letter queue", "dir", dir)
	return &Queue{dir: dir}, nil
}

// SetAlertHook registers a hook invoked for each enqueued entry.
func (q *Queue) SetAlertHook(fn func(domain.DLQEntry)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.alert = fn
}

// Enqueue appends a timestamped entry. It never returns an error to
// the caller: persistence failures are logged and counted so the
// pipeline keeps moving.
func (q *Queue) Enqueue(payload map[string]any, cause error, source string, retryCount int) {
	entry := domain.DLQEntry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		Source:     source,
		Error:      cause.Error(),
		RetryCount: retryCount,
		Payload:    payload,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.append(entry); err != nil {
		slog.Error("Failed to write dead letter entry",
			"source", source, "error", err)
		metrics.DLQWriteFailures.Inc()
		return
	}

	slog.Warn("Record added to dead letter queue",
		"source", source, "retry_count", retryCount, "cause", entry.Error)
	if q.alert != nil {
		q.alert(entry)
	}
}

// Stats scans the queue directory and reports entry counts.
func (q *Queue) Stats() (Stats, error) {
	stats := Stats{BySource: make(map[string]int)}

	files, err := q.files("")
	if err != nil {
		return stats, err
	}

	for _, path := range files {
		entries, err := readEntries(path)
		if err != nil {
			return stats, err
		}
		stats.TotalFiles++
		stats.TotalEntries += len(entries)
		for _, e := range entries {
			stats.BySource[e.Source]++
		}
	}
	return stats, nil
}

// Entries returns up to limit entries, newest files first. Empty
// source matches all sources; limit <= 0 means no limit.
func (q *Queue) Entries(source string, limit int) ([]domain.DLQEntry, error) {
	files, err := q.files(source)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	var out []domain.DLQEntry
	for _, path := range files {
		entries, err := readEntries(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// Replay invokes callback for every matching entry and counts
// outcomes. Entries are not removed or marked: replay is safe to
// re-run, and compaction is a separate Clear call.
func (q *Queue) Replay(source string, callback func(domain.DLQEntry) error) (ReplayStats, error) {
	var stats ReplayStats

	files, err := q.files(source)
	if err != nil {
		return stats, err
	}

	for _, path := range files {
		entries, err := readEntries(path)
		if err != nil {
			return stats, err
		}
		for _, e := range entries {
			stats.Total++
			if err := callback(e); err != nil {
				stats.Failed++
				metrics.ReplaysTotal.WithLabelValues(e.Source, "failed").Inc()
				slog.Error("Failed to replay dead letter entry",
					"id", e.ID, "source", e.Source, "error", err)
				continue
			}
			stats.Succeeded++
			metrics.ReplaysTotal.WithLabelValues(e.Source, "succeeded").Inc()
		}
	}

	slog.Info("Replay complete", "source", source,
		"total", stats.Total, "succeeded", stats.Succeeded, "failed", stats.Failed)
	return stats, nil
}

// Clear deletes matching queue files whose newest entry is older than
// olderThan. A zero olderThan deletes all matching files. Returns the
// number of files removed.
func (q *Queue) Clear(source string, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	files, err := q.files(source)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for _, path := range files {
		if olderThan > 0 {
			info, err := os.Stat(path)
			if err != nil {
				return deleted, fmt.Errorf("failed to stat dlq file: %w", err)
			}
			if info.ModTime().After(cutoff) {
				continue
			}
		}
		if err := os.Remove(path); err != nil {
			return deleted, fmt.Errorf("failed to remove dlq file: %w", err)
		}
		deleted++
		slog.Info("Deleted dead letter file", "file", filepath.Base(path))
	}
	return deleted, nil
}

func (q *Queue) append(entry domain.DLQEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq entry: %w", err)
	}

	date := entry.Timestamp.Format("20060102")
	path := filepath.Join(q.dir, fmt.Sprintf("dlq_%s_%s.ndjson", entry.Source, date))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open dlq file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append dlq entry: %w", err)
	}
	return nil
}

func (q *Queue) files(source string) ([]string, error) {
	pattern := "dlq_*.ndjson"
	if source != "" {
		pattern = fmt.Sprintf("dlq_%s_*.ndjson", source)
	}
	files, err := filepath.Glob(filepath.Join(q.dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("failed to glob dlq files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func readEntries(path string) ([]domain.DLQEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dlq file: %w", err)
	}
	defer f.Close()

	var entries []domain.DLQEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e domain.DLQEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			slog.Warn("Skipping malformed dlq line", "file", path)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dlq file: %w", err)
	}
	return entries, nil
}
