package metrics

import (
	"log/slog"
	"time"
)

// Instrumented wraps fn with timing and structured logging. Applied
// explicitly at call sites that need it.
func Instrumented(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	if err != nil {
		slog.Warn("Operation failed", "op", name, "duration", elapsed, "error", err)
		return err
	}
	slog.Debug("Operation complete", "op", name, "duration", elapsed)
	return nil
}
