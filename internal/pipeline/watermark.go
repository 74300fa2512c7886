package pipeline

import "sync"

// watermark tracks in-flight chunk sequences so checkpoints only ever
// record a sequence for which no earlier chunk is still being
// processed. Resume skips everything at or below the watermark.
type watermark struct {
	mu         sync.Mutex
	inflight   map[int64]struct{}
	lastIssued int64
}

func newWatermark(resumeAfter int64) *watermark {
	return &watermark{
		inflight:   make(map[int64]struct{}),
		lastIssued: resumeAfter,
	}
}

func (w *watermark) start(seq int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[seq] = struct{}{}
	if seq > w.lastIssued {
		w.lastIssued = seq
	}
}

// finish marks seq complete and returns the safe watermark: the
// highest sequence below every in-flight chunk, or the last issued
// sequence when nothing is in flight.
func (w *watermark) finish(seq int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.inflight, seq)
	if len(w.inflight) == 0 {
		return w.lastIssued
	}

	min := int64(0)
	first := true
	for s := range w.inflight {
		if first || s < min {
			min = s
			first = false
		}
	}
	return min - 1
}
