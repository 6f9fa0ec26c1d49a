package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptTimeout marks a single attempt that overran its deadline. It also
// matches context.DeadlineExceeded.
var ErrAttemptTimeout = errors.New("read attempt timed out")

// ReadPolicy bounds each attempt with AttemptTimeout and retries errors that
// Retryable accepts (all errors when nil) with jittered exponential backoff.
type ReadPolicy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	AttemptTimeout time.Duration
	Retryable      func(error) bool
}

func (p ReadPolicy) withDefaults() ReadPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2
	}
	if p.JitterFraction <= 0 {
		p.JitterFraction = 0.1
	}
	return p
}

// Do runs fn under p. An attempt that overruns AttemptTimeout is abandoned;
// its result is discarded even if fn later returns. The final error wraps
// the last failure.
func Do[T any](ctx context.Context, p ReadPolicy, name string, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		v, err := runAttempt(ctx, p.AttemptTimeout, fn)
		if err == nil {
			if attempt > 1 {
				slog.Debug("read succeeded after retry", "operation", name, "attempt", attempt)
			}
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s aborted: %w", name, ctx.Err())
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}
		delay := p.backoff(attempt)
		slog.Warn("read failed, retrying",
			"operation", name,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"next_delay", delay,
			"error", err,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("%s aborted during backoff: %w", name, ctx.Err())
		}
	}
	return zero, fmt.Errorf("all %d attempts failed for %s: %w", p.MaxAttempts, name, lastErr)
}

type attemptResult[T any] struct {
	v   T
	err error
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan attemptResult[T], 1)
	go func() {
		v, err := fn(actx)
		done <- attemptResult[T]{v, err}
	}()
	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(r.err, context.DeadlineExceeded) {
			r.err = fmt.Errorf("%w after %v: %w", ErrAttemptTimeout, timeout, context.DeadlineExceeded)
		}
		return r.v, r.err
	case <-actx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w after %v: %w", ErrAttemptTimeout, timeout, context.DeadlineExceeded)
	}
}

func (p ReadPolicy) backoff(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	d += d * p.JitterFraction * (2*rand.Float64() - 1)
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = float64(p.InitialDelay)
	}
	return time.Duration(d)
}
