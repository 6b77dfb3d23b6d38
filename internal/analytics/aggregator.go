package analytics

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/kafka"
)

// latencyWindow bounds the samples kept for percentiles.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	SearchErrors      int64        `json:"search_errors"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
	Reloads           int64        `json:"reloads"`
	FailedReloads     int64        `json:"failed_reloads"`
	LastReload        *IndexEvent  `json:"last_reload,omitempty"`
}

// StatsSnapshot is AggregatedStats as persisted at a point in time.
type StatsSnapshot struct {
	CapturedAt time.Time       `json:"captured_at"`
	Stats      AggregatedStats `json:"stats"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds the events published by Collector into running totals.
// Queries are counted by their token sequence, so "Cat!" and "cat" are the
// same query.
type Aggregator struct {
	mu                sync.RWMutex
	stats             AggregatedStats
	latencies         []int64
	next              int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	startTime         time.Time
	logger            *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, latencyWindow),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleMessage is a kafka.MessageHandler for the analytics topic. The
// message key is the event type. Undecodable events are logged and
// acknowledged.
func (a *Aggregator) HandleMessage(ctx context.Context, key, value []byte) error {
	if EventType(key) == EventIndexReload {
		event, err := kafka.DecodeJSON[IndexEvent](value)
		if err != nil {
			a.logger.Error("failed to decode index event", "error", err)
			return nil
		}
		a.RecordIndex(event)
		return nil
	}
	event, err := kafka.DecodeJSON[SearchEvent](value)
	if err != nil {
		a.logger.Error("failed to decode search event", "key", string(key), "error", err)
		return nil
	}
	a.RecordSearch(event)
	return nil
}

func (a *Aggregator) RecordSearch(event SearchEvent) {
	query := strings.Join(event.Tokens, " ")

	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.TotalSearches++
	if event.Type == EventSearchError {
		a.stats.SearchErrors++
		return
	}
	if event.CacheHit {
		a.stats.CacheHits++
	} else {
		a.stats.CacheMisses++
	}
	a.queryCounts[query]++
	if event.Type == EventZeroResult {
		a.stats.ZeroResultCount++
		a.zeroResultQueries[query]++
	}
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}
}

func (a *Aggregator) RecordIndex(event IndexEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Reloads++
	if event.Error != "" {
		a.stats.FailedReloads++
	}
	a.stats.LastReload = &event
}

// Seed adds the counters of a previously persisted snapshot so totals
// survive a restart. Percentiles and query rankings start fresh.
func (a *Aggregator) Seed(prev AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.TotalSearches += prev.TotalSearches
	a.stats.SearchErrors += prev.SearchErrors
	a.stats.CacheHits += prev.CacheHits
	a.stats.CacheMisses += prev.CacheMisses
	a.stats.ZeroResultCount += prev.ZeroResultCount
	a.stats.Reloads += prev.Reloads
	a.stats.FailedReloads += prev.FailedReloads
	if a.stats.LastReload == nil {
		a.stats.LastReload = prev.LastReload
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.stats
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topQueries(a.queryCounts, 10)
	stats.ZeroResultQueries = topQueries(a.zeroResultQueries, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topQueries orders by count, then query text, and keeps the first n.
func topQueries(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
