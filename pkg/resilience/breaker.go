// Package resilience guards reads against a slow or failing backend: a
// Breaker that trips on runs of failed or timed-out reads, and a ReadPolicy
// that bounds every attempt and retries transient errors with backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Outcome is what a finished call says about the backend's health.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeTimeout
	// OutcomeIgnored covers errors caused by the request or the caller, such
	// as a bad range or a cancelled query. They neither trip nor heal the
	// circuit.
	OutcomeIgnored
)

// Classify is the default classifier. Attempt timeouts are timeouts, the
// caller's own cancellation or deadline is ignored, anything else fails.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrAttemptTimeout):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeIgnored
	default:
		return OutcomeFailure
	}
}

// BreakerConfig: the circuit opens after FailureThreshold consecutive
// failures or TimeoutThreshold consecutive timeouts. Zero values take
// defaults; TimeoutThreshold defaults to twice FailureThreshold.
// OnStateChange runs under the breaker's lock and must not call back into it.
type BreakerConfig struct {
	FailureThreshold    int
	TimeoutThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	Classify            func(error) Outcome
	OnStateChange       func(from, to State)
}

type Breaker struct {
	name     string
	cfg      BreakerConfig
	now      func() time.Time
	logger   *slog.Logger
	mu       sync.Mutex
	state    State
	failures int
	timeouts int
	openedAt time.Time
	halfOpen int
}

func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.TimeoutThreshold <= 0 {
		cfg.TimeoutThreshold = 2 * cfg.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.Classify == nil {
		cfg.Classify = Classify
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn unless the circuit is open and records its outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(b.cfg.Classify(err))
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		wait := b.cfg.ResetTimeout - b.now().Sub(b.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry after %v)", ErrCircuitOpen, b.name, wait)
		}
		b.transition(StateHalfOpen)
		b.halfOpen = 1
	case StateHalfOpen:
		if b.halfOpen >= b.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (half-open trial in flight)", ErrCircuitOpen, b.name)
		}
		b.halfOpen++
	}
	return nil
}

func (b *Breaker) record(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.halfOpen--
	}
	switch o {
	case OutcomeIgnored:
		return
	case OutcomeSuccess:
		b.failures, b.timeouts = 0, 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	case OutcomeTimeout:
		b.timeouts++
		b.failures = 0
	default:
		b.failures++
		b.timeouts = 0
	}
	switch b.state {
	case StateHalfOpen:
		b.open()
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold || b.timeouts >= b.cfg.TimeoutThreshold {
			b.open()
		}
	}
}

func (b *Breaker) open() {
	b.logger.Warn("circuit opened",
		"consecutive_failures", b.failures,
		"consecutive_timeouts", b.timeouts,
	)
	b.openedAt = b.now()
	b.failures, b.timeouts, b.halfOpen = 0, 0, 0
	b.transition(StateOpen)
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.logger.Info("circuit closed")
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
