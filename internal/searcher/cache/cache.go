// Package cache stores complete search results in Redis. Concurrent misses
// for the same key are collapsed into one computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/redis"
)

const keyPrefix = "search:"

// Store is the subset of the Redis client used by the cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// poolReporter is implemented by stores that expose connection pool usage.
type poolReporter interface {
	PoolStats() pkgredis.PoolStats
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	timeout time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(store Store, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  logger.WithComponent("query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, endpoint string, terms []string, limit int) (*executor.Result, bool) {
	key := Key(endpoint, terms, limit)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.IncCache(true)
	return &result, true
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.IncCache(false)
}

// Set stores result unless it is partial or degraded.
func (c *QueryCache) Set(ctx context.Context, endpoint string, terms []string, limit int, result *executor.Result) {
	if result.Partial || len(result.FailedTerms) > 0 {
		return
	}
	key := Key(endpoint, terms, limit)
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// SetComputeTimeout bounds a shared computation started by GetOrCompute.
// Zero leaves it bounded only by computeFn itself.
func (c *QueryCache) SetComputeTimeout(d time.Duration) {
	c.timeout = d
}

// GetOrCompute returns a cached result or runs computeFn once per key
// across concurrent callers. The shared computation does not inherit any
// caller's cancellation; a caller whose ctx ends stops waiting with its own
// error. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	endpoint string,
	terms []string,
	limit int,
	computeFn func(ctx context.Context) (*executor.Result, error),
) (*executor.Result, bool, error) {
	if result, ok := c.Get(ctx, endpoint, terms, limit); ok {
		return result, true, nil
	}
	key := Key(endpoint, terms, limit)
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		computeCtx, cancel := shared, context.CancelFunc(func() {})
		if c.timeout > 0 {
			computeCtx, cancel = context.WithTimeout(shared, c.timeout)
		}
		defer cancel()
		result, err := computeFn(computeCtx)
		if err != nil {
			return nil, err
		}
		c.Set(computeCtx, endpoint, terms, limit, result)
		return result, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*executor.Result), false, nil
	}
}

func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.DeleteByPrefix(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// PoolStats reports the store's connection pool when it exposes one.
func (c *QueryCache) PoolStats() (pkgredis.PoolStats, bool) {
	if p, ok := c.store.(poolReporter); ok {
		return p.PoolStats(), true
	}
	return pkgredis.PoolStats{}, false
}

// Key is independent of term order. Repeated terms change scores and so
// change the key.
func Key(endpoint string, terms []string, limit int) string {
	sorted := make([]string, 0, len(terms))
	for _, t := range terms {
		if t != "" {
			sorted = append(sorted, t)
		}
	}
	sort.Strings(sorted)
	raw := fmt.Sprintf("%s|%s|limit=%d", endpoint, strings.Join(sorted, ","), limit)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
