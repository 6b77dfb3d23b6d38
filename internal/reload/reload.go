// Package reload rebuilds the engine's index on demand. A reload builds a
// new index beside the one being served, swaps it in and drops cached
// searches. Requests arrive from the admin API or as messages on the
// corpus-reload Kafka topic.
package reload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/resilience"
)

// Message is the payload expected on the corpus-reload topic.
type Message struct {
	Reason      string    `json:"reason"`
	RequestedBy string    `json:"requested_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// Index is the part of *engine.Engine a reload drives.
type Index interface {
	Rebuild(ctx context.Context) (*engine.Snapshot, error)
}

// Invalidator is satisfied by *cache.QueryCache.
type Invalidator interface {
	Invalidate(ctx context.Context) (int64, error)
}

// Tracker is satisfied by *analytics.Collector.
type Tracker interface {
	Track(event analytics.Event)
}

type Option func(*Reloader)

func WithCache(c Invalidator) Option {
	return func(r *Reloader) { r.cache = c }
}

func WithTracker(t Tracker) Option {
	return func(r *Reloader) { r.tracker = t }
}

// WithRetry overrides the backoff used for cache invalidation.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(r *Reloader) { r.retry = cfg }
}

type Reloader struct {
	index   Index
	cache   Invalidator
	tracker Tracker
	retry   resilience.RetryConfig
	logger  *slog.Logger
	mu      sync.Mutex
}

func New(index Index, opts ...Option) *Reloader {
	r := &Reloader{
		index:  index,
		retry:  resilience.RetryConfig{MaxAttempts: 3, InitialDelay: 200 * time.Millisecond},
		logger: slog.Default().With("component", "reloader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reload rebuilds the index. Reloads are serialised. Searches keep using
// the current index until the new one is built; a failed build leaves it in
// place and the cache untouched. After a swap the cache is cleared, so no
// entry computed from the old corpus survives; a cache that stays
// unreachable is logged, not fatal. The returned error is the build
// failure, if any.
func (r *Reloader) Reload(ctx context.Context, trigger string) (*engine.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	r.logger.Info("index reload started", "trigger", trigger)
	snap, err := r.index.Rebuild(ctx)
	event := analytics.IndexEvent{
		Type:    analytics.EventIndexReload,
		Trigger: trigger,
	}
	if err != nil {
		event.Error = err.Error()
		event.DurationMs = time.Since(start).Milliseconds()
		event.Timestamp = time.Now().UTC()
		r.track(event)
		r.logger.Error("index reload failed", "trigger", trigger, "error", err)
		return nil, fmt.Errorf("reloading index: %w", err)
	}

	var evicted int64
	if r.cache != nil {
		err := resilience.Retry(ctx, "cache-invalidate", r.retry, func(ctx context.Context) error {
			n, err := r.cache.Invalidate(ctx)
			evicted += n
			return err
		})
		if err != nil {
			r.logger.Error("cache invalidation failed after reload", "error", err)
		}
	}

	event.Source = snap.LoadedFrom
	event.Documents = len(snap.Documents)
	event.CacheEvicts = evicted
	event.DurationMs = time.Since(start).Milliseconds()
	event.Timestamp = time.Now().UTC()
	r.track(event)
	r.logger.Info("index reload finished",
		"trigger", trigger,
		"source", snap.LoadedFrom,
		"documents", len(snap.Documents),
		"cache_evicts", evicted,
		"duration_ms", event.DurationMs,
	)
	return snap, nil
}

// HandleMessage is a kafka.MessageHandler for the corpus-reload topic.
// Undecodable messages are rejected; a failed rebuild is logged and the
// message is still acknowledged, since the engine keeps serving its
// previous index (or its recorded failure) until the next reload.
func (r *Reloader) HandleMessage(ctx context.Context, key, value []byte) error {
	msg, err := kafka.DecodeJSON[Message](value)
	if err != nil {
		return err
	}
	trigger := "kafka"
	if msg.Reason != "" {
		trigger = "kafka:" + msg.Reason
	}
	r.logger.Info("reload message received",
		"key", string(key),
		"reason", msg.Reason,
		"requested_by", msg.RequestedBy,
	)
	if _, err := r.Reload(ctx, trigger); err != nil && ctx.Err() != nil {
		return err
	}
	return nil
}

func (r *Reloader) track(event analytics.IndexEvent) {
	if r.tracker != nil {
		r.tracker.Track(event)
	}
}
