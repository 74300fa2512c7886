package domain

import "time"

// Checkpoint is a durable marker of pipeline progress. IDs are
// time-ordered so the latest checkpoint is a stable sort, not a clock
// race. Checkpoints are immutable once written.
type Checkpoint struct {
	ID        string         `json:"id"`
	Pipeline  string         `json:"pipeline"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CheckpointSummary is a lightweight listing entry.
type CheckpointSummary struct {
	ID        string    `json:"id"`
	Pipeline  string    `json:"pipeline"`
	CreatedAt time.Time `json:"created_at"`
}
