// Package handler exposes the ranking engine over HTTP: search, index
// inspection and reload, and query-cache administration.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/metrics"
)

// Searcher is satisfied by *engine.Engine.
type Searcher interface {
	Rank(ctx context.Context, query string, topN int) ([]engine.Hit, error)
	Stats() engine.Stats
}

// Reloader is satisfied by *reload.Reloader.
type Reloader interface {
	Reload(ctx context.Context, trigger string) (*engine.Snapshot, error)
}

// Tracker is satisfied by *analytics.Collector.
type Tracker interface {
	Track(event analytics.Event)
}

type Option func(*Handler)

func WithCache(c *cache.QueryCache) Option {
	return func(h *Handler) { h.cache = c }
}

func WithReloader(r Reloader) Option {
	return func(h *Handler) { h.reloader = r }
}

func WithTracker(t Tracker) Option {
	return func(h *Handler) { h.tracker = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

type Handler struct {
	searcher    Searcher
	cache       *cache.QueryCache
	reloader    Reloader
	tracker     Tracker
	metrics     *metrics.Metrics
	defaultTopN int
	maxTopN     int
	logger      *slog.Logger
}

func New(searcher Searcher, cfg config.SearchConfig, opts ...Option) *Handler {
	h := &Handler{
		searcher:    searcher,
		defaultTopN: cfg.DefaultTopN,
		maxTopN:     cfg.MaxTopN,
		logger:      slog.Default().With("component", "search-handler"),
	}
	if h.defaultTopN <= 0 {
		h.defaultTopN = engine.DefaultTopN
	}
	if h.maxTopN < h.defaultTopN {
		h.maxTopN = h.defaultTopN
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the API on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("POST /api/v1/index/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type searchResponse struct {
	Query    string          `json:"query"`
	TopN     int             `json:"top_n"`
	Results  []engine.Result `json:"results"`
	CacheHit bool            `json:"cache_hit"`
}

// Search handles GET /api/v1/search?q=<query>&top_n=<n>. q must be present
// but may be empty; top_n defaults to the configured default and is capped
// at the configured maximum.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	params := r.URL.Query()
	if !params.Has("q") {
		h.writeError(w, apperrors.InvalidArgument("query parameter 'q' is required"))
		return
	}
	query := params.Get("q")

	topN := h.defaultTopN
	if raw := params.Get("top_n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, apperrors.InvalidArgument("top_n must be a positive integer"))
			return
		}
		topN = min(parsed, h.maxTopN)
	}

	var (
		hits     []engine.Hit
		cacheHit bool
		err      error
	)
	if h.cache != nil {
		hits, cacheHit, err = h.cache.GetOrCompute(ctx, query, topN, func(ctx context.Context) ([]engine.Hit, error) {
			return h.searcher.Rank(ctx, query, topN)
		})
	} else {
		hits, err = h.searcher.Rank(ctx, query, topN)
	}
	latency := time.Since(start)

	event := analytics.SearchEvent{
		Type:      analytics.EventSearch,
		Query:     query,
		Tokens:    tokenizer.Tokenize(query),
		TopN:      topN,
		LatencyMs: latency.Milliseconds(),
		CacheHit:  cacheHit,
		Timestamp: time.Now().UTC(),
		RequestID: logger.RequestID(ctx),
	}

	if err != nil {
		log.Error("search failed", "query", query, "top_n", topN, "error", err)
		h.observe("error", cacheHit, latency, 0)
		event.Type = analytics.EventSearchError
		event.Error = err.Error()
		h.track(event)
		h.writeError(w, err)
		return
	}

	results := make([]engine.Result, len(hits))
	matched := 0
	for i, hit := range hits {
		results[i] = hit.Result
		if hit.Score > 0 {
			matched++
		}
	}

	resultType := "miss"
	switch {
	case matched == 0:
		resultType = "zero_result"
		event.Type = analytics.EventZeroResult
	case cacheHit:
		resultType = "hit"
		event.Type = analytics.EventCacheHit
	}
	event.Returned = len(results)
	event.Matched = matched
	h.observe(resultType, cacheHit, latency, len(results))
	h.track(event)

	log.Info("search completed",
		"query", query,
		"top_n", topN,
		"returned", len(results),
		"matched", matched,
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, searchResponse{
		Query:    query,
		TopN:     topN,
		Results:  results,
		CacheHit: cacheHit,
	})
}

// IndexStats handles GET /api/v1/index/stats.
func (h *Handler) IndexStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.searcher.Stats())
}

// Reload handles POST /api/v1/index/reload. It answers once the new index
// is built (or has failed). The rebuild is detached from the request
// context and completes even if the client or the request timeout gives up.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil {
		h.writeError(w, apperrors.New(apperrors.ErrInternal, http.StatusNotImplemented, "reload is not configured"))
		return
	}
	if _, err := h.reloader.Reload(context.WithoutCancel(r.Context()), "api"); err != nil {
		logger.FromContext(r.Context()).Error("index reload failed", "error", err)
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.searcher.Stats())
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"errors":   stats.Errors,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  stats.Breaker,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, apperrors.New(apperrors.ErrInternal, http.StatusInternalServerError, "cache invalidation failed"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) observe(resultType string, cacheHit bool, latency time.Duration, returned int) {
	if h.metrics == nil {
		return
	}
	cacheStatus := "miss"
	switch {
	case h.cache == nil:
		cacheStatus = "disabled"
	case cacheHit:
		cacheStatus = "hit"
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	if resultType != "error" {
		h.metrics.SearchResultsCount.Observe(float64(returned))
	}
}

func (h *Handler) track(event analytics.SearchEvent) {
	if h.tracker != nil {
		h.tracker.Track(event)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status code. Client errors echo their message;
// server-side failures expose only the sentinel.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		message = appErr.Message
	case errors.Is(err, apperrors.ErrIndexUnavailable):
		message = apperrors.ErrIndexUnavailable.Error()
	case status >= http.StatusInternalServerError:
		message = "search failed"
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
