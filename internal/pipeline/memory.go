package pipeline

import (
	"log/slog"
	"runtime"
)

// memoryGate is a cooperative, best-effort back-off: between chunks it
// checks heap usage and forces a collection when above the limit. It
// is not a hard guarantee.
type memoryGate struct {
	limitBytes uint64
}

func newMemoryGate(limitMB uint64) *memoryGate {
	return &memoryGate{limitBytes: limitMB * 1024 * 1024}
}

func (g *memoryGate) check() {
	if g.limitBytes == 0 {
		return
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapAlloc <= g.limitBytes {
		return
	}

	slog.Warn("Memory usage high, forcing collection",
		"heap_alloc_mb", ms.HeapAlloc/1024/1024,
		"limit_mb", g.limitBytes/1024/1024)
	runtime.GC()
}
