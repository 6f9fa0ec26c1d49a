package segment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/resilience"
)

var errTransient = errors.New("connection reset")

// flakyStore fails the first failures reads, then serves zeros.
type flakyStore struct {
	failures int32
	err      error
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (f *flakyStore) ReadRange(ctx context.Context, shard uint32, offset, length int64) ([]byte, error) {
	n := f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if n <= f.failures {
		return nil, errTransient
	}
	return make([]byte, length), nil
}

func (f *flakyStore) ShardSize(shard uint32) (int64, error) {
	if shard != 0 {
		return 0, apperrors.ErrShardNotFound
	}
	return 600, nil
}

func (f *flakyStore) Shards() []uint32 { return []uint32{0} }

func (f *flakyStore) Fetch(context.Context, string) ([]byte, error) { return []byte("m"), nil }

func (f *flakyStore) Close() error { return nil }

func testStorageConfig() config.StorageConfig {
	cfg := config.Default().Storage
	cfg.Retry = config.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	cfg.ReadTimeout = time.Second
	return cfg
}

func TestResilientStoreRetriesTransientFailures(t *testing.T) {
	inner := &flakyStore{failures: 2}
	s := NewResilientStore(inner, "body", testStorageConfig(), metrics.New())

	b, err := s.ReadRange(context.Background(), 0, 0, 6)
	require.NoError(t, err)
	assert.Len(t, b, 6)
	assert.Equal(t, int32(3), inner.calls.Load())
	assert.True(t, s.Healthy())
}

func TestResilientStoreDoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flakyStore{}
	s := NewResilientStore(inner, "body", testStorageConfig(), nil)

	_, err := s.ReadRange(context.Background(), 9, 0, 6)
	assert.ErrorIs(t, err, apperrors.ErrShardNotFound)
	_, err = s.ReadRange(context.Background(), 0, 598, 6)
	assert.ErrorIs(t, err, apperrors.ErrShardRange)
	assert.Equal(t, int32(0), inner.calls.Load())
}

func TestResilientStoreAttemptTimeout(t *testing.T) {
	inner := &flakyStore{delay: 200 * time.Millisecond}
	cfg := testStorageConfig()
	cfg.ReadTimeout = 10 * time.Millisecond
	cfg.Retry.MaxAttempts = 2
	s := NewResilientStore(inner, "body", cfg, nil)

	start := time.Now()
	_, err := s.ReadRange(context.Background(), 0, 0, 6)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, resilience.ErrAttemptTimeout)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestResilientStoreCircuitIgnoresRequestErrors(t *testing.T) {
	inner := &flakyStore{err: fmt.Errorf("object gone: %w", apperrors.ErrShardNotFound)}
	cfg := testStorageConfig()
	cfg.Breaker = config.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute}
	s := NewResilientStore(inner, "body", cfg, nil)

	for i := 0; i < 3; i++ {
		_, err := s.ReadRange(context.Background(), 0, 0, 6)
		assert.ErrorIs(t, err, apperrors.ErrShardNotFound)
	}
	assert.True(t, s.Healthy())
	assert.Equal(t, int32(3), inner.calls.Load(), "not found is not retried")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ReadRange(ctx, 0, 0, 6)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, s.Healthy())
}

func TestResilientStoreCircuitOpensOnTimeouts(t *testing.T) {
	inner := &flakyStore{delay: 200 * time.Millisecond}
	cfg := testStorageConfig()
	cfg.ReadTimeout = 5 * time.Millisecond
	cfg.Retry.MaxAttempts = 1
	cfg.Breaker = config.BreakerConfig{FailureThreshold: 5, TimeoutThreshold: 2, ResetTimeout: time.Minute}
	m := metrics.New()
	s := NewResilientStore(inner, "body", cfg, m)

	for i := 0; i < 2; i++ {
		_, err := s.ReadRange(context.Background(), 0, 0, 6)
		require.ErrorIs(t, err, resilience.ErrAttemptTimeout)
	}
	assert.False(t, s.Healthy())

	_, err := s.ReadRange(context.Background(), 0, 0, 6)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, float64(resilience.StateOpen),
		testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("shards-body")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ShardReadsTotal.WithLabelValues("body", "rejected")))
}

func TestResilientStoreBoundsConcurrency(t *testing.T) {
	inner := &flakyStore{delay: 5 * time.Millisecond}
	cfg := testStorageConfig()
	cfg.MaxConcurrentReads = 2
	s := NewResilientStore(inner, "body", cfg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ReadRange(context.Background(), 0, 0, 6)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, inner.peak.Load(), int32(2))
}
