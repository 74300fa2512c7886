package pipeline

import "testing"

func TestWatermarkSequential(t *testing.T) {
	wm := newWatermark(0)

	wm.start(1)
	if got := wm.finish(1); got != 1 {
		t.Errorf("expected watermark 1, got %d", got)
	}
	wm.start(2)
	if got := wm.finish(2); got != 2 {
		t.Errorf("expected watermark 2, got %d", got)
	}
}

func TestWatermarkOutOfOrderCompletion(t *testing.T) {
	wm := newWatermark(0)
	wm.start(1)
	wm.start(2)
	wm.start(3)

	// Chunk 3 done first: 1 and 2 still in flight, nothing is safe.
	if got := wm.finish(3); got != 0 {
		t.Errorf("expected watermark 0, got %d", got)
	}
	// Chunk 1 done: 2 still in flight, only 1 is safe.
	if got := wm.finish(1); got != 1 {
		t.Errorf("expected watermark 1, got %d", got)
	}
	// All done: everything issued is safe.
	if got := wm.finish(2); got != 3 {
		t.Errorf("expected watermark 3, got %d", got)
	}
}

func TestWatermarkResumeOffset(t *testing.T) {
	wm := newWatermark(5)

	// Nothing processed yet: the resume point itself is the watermark.
	if got := wm.finish(-1); got != 5 {
		t.Errorf("expected watermark 5, got %d", got)
	}

	wm.start(6)
	wm.start(7)
	if got := wm.finish(7); got != 5 {
		t.Errorf("expected watermark 5 with 6 in flight, got %d", got)
	}
	if got := wm.finish(6); got != 7 {
		t.Errorf("expected watermark 7, got %d", got)
	}
}
