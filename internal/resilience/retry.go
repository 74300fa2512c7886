package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/vietddude/relay/internal/core/domain"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Jitter       bool          `yaml:"jitter"`
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:   3,
	InitialDelay: 2 * time.Second,
	Multiplier:   2.0,
	MaxDelay:     60 * time.Second,
	Jitter:       true,
}

// RetryPolicy wraps a fallible operation with bounded
// exponential-backoff retries. An operation is attempted at most
// MaxRetries+1 times. Non-retriable errors abort on first occurrence.
type RetryPolicy struct {
	Config RetryConfig

	// Retriable decides whether an error consumes retry budget.
	// Nil means retry everything except domain.KindFatal.
	Retriable func(error) bool

	// Sleep is the delay function, overridable in tests. Nil means
	// a context-aware time.After wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a policy with the given config.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = DefaultRetryConfig.Multiplier
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultRetryConfig.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig.MaxDelay
	}
	return &RetryPolicy{Config: cfg}
}

// Delay returns the backoff before retry attempt n (0-indexed):
// min(maxDelay, initialDelay * multiplier^n), optionally perturbed by
// ±10% uniform jitter.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.Config.InitialDelay) * math.Pow(p.Config.Multiplier, float64(attempt))
	if delay > float64(p.Config.MaxDelay) {
		delay = float64(p.Config.MaxDelay)
	}
	if p.Config.Jitter {
		delay += delay * 0.1 * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Execute runs op, retrying transient failures with backoff. The last
// error is returned unchanged so callers can classify the root cause.
func (p *RetryPolicy) Execute(ctx context.Context, op func() error) error {
	var lastErr error

	for attempt := 0; attempt <= p.Config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !p.retriable(err) {
			return err
		}
		if attempt == p.Config.MaxRetries {
			slog.Error("All retry attempts failed",
				"attempts", p.Config.MaxRetries+1, "error", err)
			break
		}

		delay := p.Delay(attempt)
		slog.Warn("Attempt failed, retrying",
			"attempt", attempt+1, "delay", delay, "error", err)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

func (p *RetryPolicy) retriable(err error) bool {
	if p.Retriable != nil {
		return p.Retriable(err)
	}
	return domain.Classify(err) != domain.KindFatal
}

func (p *RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
