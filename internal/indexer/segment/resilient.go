package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/resilience"
)

// ResilientStore bounds and hardens reads against an inner Store: at most
// MaxConcurrentReads reads are in flight, reads may be rate limited, each
// attempt has its own deadline, and transient failures are retried behind a
// circuit breaker. Range and unknown-shard errors are never retried and do
// not count against the circuit; slow reads trip it on their own threshold.
type ResilientStore struct {
	inner   Store
	index   string
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	policy  resilience.ReadPolicy
	breaker *resilience.Breaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewResilientStore wraps inner using the storage config. m may be nil.
func NewResilientStore(inner Store, index string, cfg config.StorageConfig, m *metrics.Metrics) *ResilientStore {
	maxReads := cfg.MaxConcurrentReads
	if maxReads <= 0 {
		maxReads = 64
	}
	var limiter *rate.Limiter
	if cfg.ReadsPerSecond > 0 {
		burst := int(cfg.ReadsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.ReadsPerSecond), burst)
	}
	breakerName := "shards-" + index
	logger := slog.Default().With("component", "resilient-store", "index", index)
	s := &ResilientStore{
		inner:   inner,
		index:   index,
		sem:     semaphore.NewWeighted(maxReads),
		limiter: limiter,
		policy: resilience.ReadPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialDelay:   cfg.Retry.InitialDelay,
			MaxDelay:       cfg.Retry.MaxDelay,
			AttemptTimeout: cfg.ReadTimeout,
			Retryable:      func(err error) bool { return !apperrors.IsPermanent(err) },
		},
		breaker: resilience.NewBreaker(breakerName, resilience.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			TimeoutThreshold: cfg.Breaker.TimeoutThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
			Classify:         classifyRead,
			OnStateChange: func(from, to resilience.State) {
				logger.Info("shard circuit state changed", "from", from, "to", to)
				m.SetBreakerState(breakerName, int(to))
			},
		}),
		metrics: m,
		logger:  logger,
	}
	m.SetBreakerState(breakerName, int(resilience.StateClosed))
	m.SetActiveShards(index, len(inner.Shards()))
	return s
}

// classifyRead keeps request errors out of the circuit's failure counts.
func classifyRead(err error) resilience.Outcome {
	if err != nil && apperrors.IsPermanent(err) {
		return resilience.OutcomeIgnored
	}
	return resilience.Classify(err)
}

func (s *ResilientStore) ReadRange(ctx context.Context, shard uint32, offset, length int64) ([]byte, error) {
	start := time.Now()
	data, err := s.readRange(ctx, shard, offset, length)
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "rejected"
	case errors.Is(err, resilience.ErrAttemptTimeout):
		status = "timeout"
	default:
		status = "error"
	}
	s.metrics.ObserveShardRead(s.index, status, time.Since(start))
	return data, err
}

func (s *ResilientStore) readRange(ctx context.Context, shard uint32, offset, length int64) ([]byte, error) {
	// Bad ranges fail fast without consuming a handle.
	size, err := s.inner.ShardSize(shard)
	if err != nil {
		return nil, err
	}
	if offset < 0 || length < 0 || offset > size || length > size-offset {
		return nil, fmt.Errorf("shard %d: range [%d, %d) outside size %d: %w",
			shard, offset, offset+length, size, apperrors.ErrShardRange)
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var data []byte
	err = s.breaker.Execute(func() error {
		var err error
		data, err = resilience.Do(ctx, s.policy, "shard-read", func(actx context.Context) ([]byte, error) {
			return s.inner.ReadRange(actx, shard, offset, length)
		})
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			s.logger.Warn("shard read rejected by open circuit", "shard", shard)
		}
		return nil, err
	}
	return data, nil
}

func (s *ResilientStore) ShardSize(shard uint32) (int64, error) {
	return s.inner.ShardSize(shard)
}

func (s *ResilientStore) Shards() []uint32 {
	return s.inner.Shards()
}

func (s *ResilientStore) Fetch(ctx context.Context, name string) ([]byte, error) {
	return resilience.Do(ctx, s.policy, "fetch-"+name, func(actx context.Context) ([]byte, error) {
		return s.inner.Fetch(actx, name)
	})
}

// Healthy reports whether the circuit is not open.
func (s *ResilientStore) Healthy() bool {
	return s.breaker.State() != resilience.StateOpen
}

func (s *ResilientStore) Close() error {
	return s.inner.Close()
}
