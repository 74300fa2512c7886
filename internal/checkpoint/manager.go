package checkpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
)

// ErrNotFound is returned when no checkpoint exists for a pipeline.
var ErrNotFound = errors.New("checkpoint not found")

// Manager persists pipeline progress as newline-delimited JSON, one
// file per (pipeline, date), append-only and human-greppable. Save is
// synchronous and durable before it returns: the orchestrator must not
// advance past a point it believes is checkpointed.
type Manager struct {
	dir string

	mu     sync.Mutex
	lastID string
	now    func() time.Time
}

// NewManager creates the checkpoint directory if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	slog.Info("Initialized checkpoint manager", "dir", dir)
	return &Manager{dir: dir, now: time.Now}, nil
}

// Save writes a checkpoint and returns its id. IDs are timestamp
// derived and strictly increasing, so "most recent" is a stable sort.
func (m *Manager) Save(pipeline string, data, metadata map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.now().UTC()
	id := formatID(t)
	for id <= m.lastID {
		t = t.Add(time.Millisecond)
		id = formatID(t)
	}

	cp := domain.Checkpoint{
		ID:        id,
		Pipeline:  pipeline,
		Data:      data,
		Metadata:  metadata,
		CreatedAt: t,
	}

	line, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := m.filePath(pipeline, t)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync checkpoint: %w", err)
	}

	m.lastID = id
	slog.Info("Saved checkpoint", "pipeline", pipeline, "id", id)
	return id, nil
}

// Load returns the checkpoint with the given id, or the most recent
// one when id is empty. Returns ErrNotFound if none exists.
func (m *Manager) Load(pipeline, id string) (*domain.Checkpoint, error) {
	entries, err := m.readAll(pipeline)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}

	if id == "" {
		cp := entries[len(entries)-1]
		return &cp, nil
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID == id {
			cp := entries[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// List returns summaries of all checkpoints, most recent first.
func (m *Manager) List(pipeline string) ([]domain.CheckpointSummary, error) {
	entries, err := m.readAll(pipeline)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.CheckpointSummary, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		summaries = append(summaries, domain.CheckpointSummary{
			ID:        entries[i].ID,
			Pipeline:  entries[i].Pipeline,
			CreatedAt: entries[i].CreatedAt,
		})
	}
	return summaries, nil
}

// CleanupOld keeps the keep most recent checkpoints and deletes the
// rest, rewriting files atomically. Returns the number deleted.
func (m *Manager) CleanupOld(pipeline string, keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.readAll(pipeline)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(entries) <= keep {
		return 0, nil
	}

	kept := entries[len(entries)-keep:]
	deleted := len(entries) - len(kept)

	// Group survivors back into their per-date files.
	byFile := make(map[string][]domain.Checkpoint)
	for _, cp := range kept {
		byFile[m.filePath(pipeline, cp.CreatedAt)] = append(
			byFile[m.filePath(pipeline, cp.CreatedAt)], cp)
	}

	files, err := m.pipelineFiles(pipeline)
	if err != nil {
		return 0, err
	}
	for _, path := range files {
		survivors := byFile[path]
		if len(survivors) == 0 {
			if err := os.Remove(path); err != nil {
				return 0, fmt.Errorf("failed to remove checkpoint file: %w", err)
			}
			continue
		}
		if err := rewriteFile(path, survivors); err != nil {
			return 0, err
		}
	}

	slog.Info("Cleaned up old checkpoints",
		"pipeline", pipeline, "deleted", deleted, "kept", len(kept))
	return deleted, nil
}

func (m *Manager) filePath(pipeline string, t time.Time) string {
	name := fmt.Sprintf("checkpoint_%s_%s.ndjson", pipeline, t.UTC().Format("20060102"))
	return filepath.Join(m.dir, name)
}

func (m *Manager) pipelineFiles(pipeline string) ([]string, error) {
	pattern := filepath.Join(m.dir, fmt.Sprintf("checkpoint_%s_*.ndjson", pipeline))
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob checkpoints: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// readAll returns every checkpoint for a pipeline sorted by id
// ascending.
func (m *Manager) readAll(pipeline string) ([]domain.Checkpoint, error) {
	files, err := m.pipelineFiles(pipeline)
	if err != nil {
		return nil, err
	}

	var entries []domain.Checkpoint
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var cp domain.Checkpoint
			if err := json.Unmarshal([]byte(line), &cp); err != nil {
				slog.Warn("Skipping malformed checkpoint line", "file", path)
				continue
			}
			entries = append(entries, cp)
		}
		closeErr := f.Close()
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
		}
		if closeErr != nil {
			return nil, closeErr
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func rewriteFile(path string, entries []domain.Checkpoint) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	for _, cp := range entries {
		line, err := json.Marshal(cp)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to write checkpoint: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func formatID(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format("20060102_150405"), t.Nanosecond()/1e6)
}
