package analytics

import "time"

type EventType string

const (
	EventSearch      EventType = "search"
	EventCacheHit    EventType = "cache_hit"
	EventZeroResult  EventType = "zero_result"
	EventSearchError EventType = "search_error"
	EventIndexReload EventType = "index_reload"
)

// SearchEvent describes one answered (or failed) search request. Returned
// counts the chunks sent back; Matched counts those that share at least one
// term with the query. BM25 always fills top_n, so a query that matches
// nothing has Returned > 0 and Matched == 0.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Tokens    []string  `json:"tokens"`
	TopN      int       `json:"top_n"`
	Returned  int       `json:"returned"`
	Matched   int       `json:"matched"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// IndexEvent records an index reload and its outcome.
type IndexEvent struct {
	Type        EventType `json:"type"`
	Trigger     string    `json:"trigger"`
	Source      string    `json:"source,omitempty"`
	Documents   int       `json:"documents"`
	CacheEvicts int64     `json:"cache_evicts"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e SearchEvent) key() string { return string(e.Type) }

func (e IndexEvent) key() string { return string(e.Type) }
