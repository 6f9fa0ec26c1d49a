package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastPolicy() ReadPolicy {
	return ReadPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(), "read", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errFlaky
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDoWrapsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), "read", func(context.Context) (int, error) {
		calls++
		return 0, errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	p := fastPolicy()
	p.Retryable = func(err error) bool { return !errors.Is(err, permanent) }

	calls := 0
	_, err := Do(context.Background(), p, "read", func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, fastPolicy(), "read", func(context.Context) (int, error) { return 0, errFlaky })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoAbandonsSlowAttempts(t *testing.T) {
	p := fastPolicy()
	p.MaxAttempts = 2
	p.AttemptTimeout = 10 * time.Millisecond
	var calls atomic.Int32

	start := time.Now()
	_, err := Do(context.Background(), p, "read", func(context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(200 * time.Millisecond)
		return []byte("late"), nil
	})
	assert.ErrorIs(t, err, ErrAttemptTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoReportsCallerDeadlineAsIs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	p := fastPolicy()
	p.AttemptTimeout = time.Second
	_, err := Do(ctx, p, "read", func(actx context.Context) (int, error) {
		<-actx.Done()
		return 0, actx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrAttemptTimeout)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Classify(nil))
	assert.Equal(t, OutcomeFailure, Classify(errFlaky))
	assert.Equal(t, OutcomeTimeout, Classify(fmt.Errorf("wrapped: %w", ErrAttemptTimeout)))
	assert.Equal(t, OutcomeIgnored, Classify(context.Canceled))
	assert.Equal(t, OutcomeIgnored, Classify(context.DeadlineExceeded))
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *clock, *[]State) {
	var changes []State
	cfg.OnStateChange = func(_, to State) { changes = append(changes, to) }
	b := NewBreaker("shards", cfg)
	c := &clock{t: time.Unix(0, 0)}
	b.now = c.now
	return b, c, &changes
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b, c, changes := newTestBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return errFlaky }), errFlaky)
	}
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrCircuitOpen)

	c.t = c.t.Add(time.Minute)
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, *changes)
}

func TestBreakerCountsTimeoutsSeparately(t *testing.T) {
	b, _, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2, TimeoutThreshold: 3})
	timeout := fmt.Errorf("read: %w", ErrAttemptTimeout)

	// a failure resets the timeout run and vice versa
	_ = b.Execute(func() error { return timeout })
	_ = b.Execute(func() error { return timeout })
	_ = b.Execute(func() error { return errFlaky })
	_ = b.Execute(func() error { return timeout })
	assert.Equal(t, StateClosed, b.State())

	_ = b.Execute(func() error { return timeout })
	_ = b.Execute(func() error { return timeout })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIgnoresClassifiedErrors(t *testing.T) {
	badRange := errors.New("bad range")
	b, c, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		Classify: func(err error) Outcome {
			if errors.Is(err, badRange) {
				return OutcomeIgnored
			}
			return Classify(err)
		},
	})

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return badRange }), badRange)
	}
	assert.Equal(t, StateClosed, b.State())

	_ = b.Execute(func() error { return errFlaky })
	require.Equal(t, StateOpen, b.State())

	// an ignored result in half-open neither closes nor reopens the circuit
	c.t = c.t.Add(time.Second)
	_ = b.Execute(func() error { return badRange })
	assert.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, c, _ := newTestBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	_ = b.Execute(func() error { return errFlaky })
	c.t = c.t.Add(time.Second)
	_ = b.Execute(func() error { return errFlaky })
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrCircuitOpen)
}
