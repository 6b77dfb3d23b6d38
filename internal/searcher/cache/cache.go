// Package cache memoizes search results in Redis. Keys are derived from the
// normalized query tokens, so queries differing only in case, punctuation
// or spacing share an entry. Concurrent misses for the same key are
// collapsed with singleflight, and Redis failures trip a circuit breaker
// after which searches bypass the cache. Entries hold the ranked hits with
// their scores.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "bm25:search:"

// Store is the subset of pkg/redis.Client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

type Option func(*QueryCache)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *QueryCache) { c.metrics = m }
}

func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *QueryCache) { c.breakerCfg = cfg }
}

type QueryCache struct {
	store      Store
	ttl        time.Duration
	group      singleflight.Group
	breaker    *resilience.CircuitBreaker
	breakerCfg resilience.CircuitBreakerConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
	hits       atomic.Int64
	misses     atomic.Int64
	failures   atomic.Int64
	// generation advances on every Invalidate. A result computed under an
	// older generation is returned but not stored. genMu orders the
	// generation check and its Set before Invalidate's delete.
	genMu      sync.RWMutex
	generation uint64
}

func New(store Store, ttl time.Duration, opts ...Option) *QueryCache {
	c := &QueryCache{
		store:  store,
		ttl:    ttl,
		logger: slog.Default().With("component", "query-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics != nil && c.breakerCfg.OnStateChange == nil {
		c.breakerCfg.OnStateChange = func(name string, to resilience.State) {
			c.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	c.breaker = resilience.NewCircuitBreaker("redis-cache", c.breakerCfg)
	return c
}

// Get returns the cached results for (query, topN). Store failures and
// undecodable entries count as misses.
func (c *QueryCache) Get(ctx context.Context, query string, topN int) ([]engine.Hit, bool) {
	key := Key(query, topN)
	var data []byte
	err := c.breaker.Execute(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if errors.Is(err, pkgredis.ErrMiss) {
			return nil
		}
		return err
	})
	if err != nil {
		c.failures.Add(1)
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.recordMiss()
		return nil, false
	}
	if data == nil {
		c.recordMiss()
		return nil, false
	}
	var results []engine.Hit
	if err := json.Unmarshal(data, &results); err != nil {
		c.logger.Error("cache entry undecodable", "key", key, "error", err)
		c.recordMiss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return results, true
}

func (c *QueryCache) Set(ctx context.Context, query string, topN int, results []engine.Hit) {
	key := Key(query, topN)
	data, err := json.Marshal(results)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.failures.Add(1)
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Warn("cache set failed", "key", key, "error", err)
		}
	}
}

// GetOrCompute serves (query, topN) from the cache or calls compute once
// per key across concurrent callers and stores its result. Errors from
// compute are returned and not cached, and so is a result whose computation
// overlapped an Invalidate.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	topN int,
	compute func(ctx context.Context) ([]engine.Hit, error),
) ([]engine.Hit, bool, error) {
	if results, ok := c.Get(ctx, query, topN); ok {
		return results, true, nil
	}
	val, err, _ := c.group.Do(Key(query, topN), func() (any, error) {
		gen := c.currentGeneration()
		results, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.genMu.RLock()
		defer c.genMu.RUnlock()
		if c.generation != gen {
			c.logger.Debug("cache invalidated during search, result not stored", "key", Key(query, topN))
			return results, nil
		}
		c.Set(ctx, query, topN, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]engine.Hit), false, nil
}

// Invalidate drops every cached search. It is not guarded by the circuit
// breaker. Searches already in flight will not store their results.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	c.genMu.Lock()
	c.generation++
	c.genMu.Unlock()

	deleted, err := c.store.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) currentGeneration() uint64 {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	return c.generation
}

type Stats struct {
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Errors  int64  `json:"errors"`
	Breaker string `json:"breaker"`
}

func (c *QueryCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Errors:  c.failures.Load(),
		Breaker: c.breaker.GetState().String(),
	}
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

// Key is the cache key for a query. It hashes the query's tokens rather
// than its raw text.
func Key(query string, topN int) string {
	raw := fmt.Sprintf("%s|top_n=%d", strings.Join(tokenizer.Tokenize(query), " "), topN)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
