package domain

import "time"

// RunState represents the lifecycle of one pipeline run.
type RunState string

const (
	RunStateInitializing RunState = "initializing"
	RunStateExtracting   RunState = "extracting"
	RunStateTransforming RunState = "transforming"
	RunStateLoading      RunState = "loading"
	RunStateCompleted    RunState = "completed"
	RunStateFailed       RunState = "failed"
)

// ValidTransitions defines allowed run state transitions. Key is the
// current state, value is the list of valid next states.
var ValidTransitions = map[RunState][]RunState{
	RunStateInitializing: {RunStateExtracting, RunStateFailed},
	RunStateExtracting:   {RunStateTransforming, RunStateCompleted, RunStateFailed},
	RunStateTransforming: {RunStateLoading, RunStateExtracting, RunStateCompleted, RunStateFailed},
	RunStateLoading:      {RunStateTransforming, RunStateExtracting, RunStateCompleted, RunStateFailed},
	RunStateCompleted:    {RunStateInitializing},
	RunStateFailed:       {RunStateInitializing},
}

// CanTransition checks if a transition from one run state to another
// is valid. Same-state transitions are always allowed.
func CanTransition(from, to RunState) bool {
	if from == to {
		return true
	}
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// RunSummary is the user-visible outcome of one run. It is reported
// even when the run aborts.
type RunSummary struct {
	RunID            string    `json:"run_id"`
	Pipeline         string    `json:"pipeline"`
	State            RunState  `json:"state"`
	RowsExtracted    int64     `json:"rows_extracted"`
	RowsLoaded       int64     `json:"rows_loaded"`
	RowsFailed       int64     `json:"rows_failed"`
	RowsDeduplicated int64     `json:"rows_deduplicated"`
	ChunksProcessed  int64     `json:"chunks_processed"`
	EstimatedRows    int64     `json:"estimated_rows,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Error            string    `json:"error,omitempty"`
}
