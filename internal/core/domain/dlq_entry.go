package domain

import "time"

// DLQEntry is a durable record of a permanently failed unit of work.
// Entries are append-only; replay produces a new attempt, never an
// in-place update.
type DLQEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source"`
	Error      string         `json:"error"`
	RetryCount int            `json:"retry_count"`
	Payload    map[string]any `json:"payload"`
}
