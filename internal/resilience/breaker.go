package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the wrapped operation.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig defines circuit breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that
	// opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`
	// RecoveryTimeout is how long the circuit stays open before a
	// trial call is allowed through.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
	// SuccessThreshold is the number of consecutive half-open
	// successes required to close the circuit.
	SuccessThreshold int `yaml:"success_threshold"`
}

// DefaultBreakerConfig provides sensible defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	RecoveryTimeout:  60 * time.Second,
	SuccessThreshold: 2,
}

// CircuitBreaker tracks recent failures of an operation class and
// fails fast while the dependency looks unhealthy. State access is
// mutex-protected so multiple chunks in flight may share one breaker.
type CircuitBreaker struct {
	cfg BreakerConfig

	// OnStateChange, if set, is invoked outside the lock after each
	// transition.
	OnStateChange func(from, to BreakerState)

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig.RecoveryTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultBreakerConfig.SuccessThreshold
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Call executes op through the breaker. While open, calls fail with
// ErrCircuitOpen without invoking op. After the recovery timeout the
// next call transitions to half-open and is attempted as a trial.
func (b *CircuitBreaker) Call(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := op()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State returns the current circuit state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) beforeCall() error {
	b.mu.Lock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.transition(StateHalfOpen)
			b.failures = 0
			b.successes = 0
		} else {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	b.mu.Unlock()
	return nil
}

func (b *CircuitBreaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state == StateHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.successes = 0
		}
	}
}

func (b *CircuitBreaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch {
	case b.state == StateHalfOpen:
		// A failed trial aborts recovery.
		b.openedAt = b.now()
		b.transition(StateOpen)
	case b.failures >= b.cfg.FailureThreshold:
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// transition must be called with the lock held.
func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	slog.Info("Circuit breaker state change", "from", from, "to", to)
	if b.OnStateChange != nil {
		go b.OnStateChange(from, to)
	}
}
