// Package engine owns the process's BM25 index. The index is built lazily
// on first use from a corpus.Loader, shared read-only by every search, and
// rebuilt only after an explicit Reset.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/ranker"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/metrics"
)

// DefaultTopN is the result count used when a caller does not ask for one.
const DefaultTopN = 3

// Snapshot is one built index. It is never modified after Load returns it.
type Snapshot struct {
	Documents  []index.Document
	Index      *index.TermIndex
	Scorer     *ranker.Scorer
	LoadedFrom string
	LoadedAt   time.Time
}

// Result is one ranked chunk.
type Result struct {
	Content  string         `json:"content"`
	Metadata index.Metadata `json:"metadata"`
}

// Hit is a Result with its ranking details.
type Hit struct {
	Result
	Ordinal int     `json:"ordinal"`
	Score   float64 `json:"score"`
}

type Option func(*Engine)

// WithMetrics reports load and state changes to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine moves through Unloaded → Loading → Ready | Failed. Loading happens
// under mu, so concurrent first callers wait for one build. Once Ready the
// snapshot is read through an atomic pointer without locking. A failure is
// sticky: Load and Search return it immediately until Reset.
type Engine struct {
	loader  corpus.Loader
	params  ranker.Params
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	state   atomic.Int32
	current atomic.Pointer[Snapshot]
	failure atomic.Pointer[loadFailure]
}

type loadFailure struct {
	err error
	at  time.Time
}

func New(loader corpus.Loader, params ranker.Params, opts ...Option) *Engine {
	e := &Engine{
		loader: loader,
		params: params,
		logger: slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.setState(StateUnloaded)
	return e
}

// Load returns the current snapshot, building it if necessary.
func (e *Engine) Load(ctx context.Context) (*Snapshot, error) {
	if snap := e.current.Load(); snap != nil {
		return snap, nil
	}
	if f := e.failure.Load(); f != nil {
		return nil, f.err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if snap := e.current.Load(); snap != nil {
		return snap, nil
	}
	if f := e.failure.Load(); f != nil {
		return nil, f.err
	}
	return e.loadLocked(ctx)
}

func (e *Engine) loadLocked(ctx context.Context) (*Snapshot, error) {
	e.setState(StateLoading)
	start := time.Now()
	snap, err := e.build(ctx)
	elapsed := time.Since(start)
	e.observeLoad(elapsed, snap, err)

	if err != nil {
		// Drivers report a cancelled query with their own errors, so the
		// caller's context decides. A caller that gave up does not poison
		// the engine for everyone else.
		if ctx.Err() != nil {
			e.setState(StateUnloaded)
			if !errors.Is(err, ctx.Err()) {
				err = errors.Join(ctx.Err(), err)
			}
			return nil, fmt.Errorf("loading index: %w", err)
		}
		wrapped := fmt.Errorf("%w: %w", apperrors.ErrIndexUnavailable, err)
		e.failure.Store(&loadFailure{err: wrapped, at: time.Now()})
		e.setState(StateFailed)
		e.logger.Error("index load failed",
			"loader", e.loader.Name(),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, wrapped
	}

	e.current.Store(snap)
	e.setState(StateReady)
	e.logger.Info("index ready",
		"source", snap.LoadedFrom,
		"documents", len(snap.Documents),
		"vocabulary", snap.Index.VocabularySize(),
		"avg_doc_len", snap.Index.AvgDocLen,
		"duration_ms", elapsed.Milliseconds(),
	)
	return snap, nil
}

// Rebuild builds a fresh snapshot from the loader while searches keep using
// the current one, and swaps it in only on success. A failed rebuild leaves
// a Ready engine serving its previous index. An engine that is not Ready
// loads as Load would, after clearing any recorded failure.
func (e *Engine) Rebuild(ctx context.Context) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current.Load() == nil {
		e.failure.Store(nil)
		return e.loadLocked(ctx)
	}

	start := time.Now()
	snap, err := e.build(ctx)
	elapsed := time.Since(start)
	e.observeLoad(elapsed, snap, err)
	if err != nil {
		e.logger.Error("index rebuild failed, keeping current index",
			"loader", e.loader.Name(),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrIndexUnavailable, err)
	}
	e.current.Store(snap)
	e.logger.Info("index swapped",
		"source", snap.LoadedFrom,
		"documents", len(snap.Documents),
		"vocabulary", snap.Index.VocabularySize(),
		"duration_ms", elapsed.Milliseconds(),
	)
	return snap, nil
}

func (e *Engine) build(ctx context.Context) (*Snapshot, error) {
	c, err := e.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	idx := c.Index
	if idx != nil {
		if err := idx.Validate(len(c.Documents)); err != nil {
			e.logger.Warn("prebuilt index does not match corpus, rebuilding",
				"source", c.Source,
				"error", err,
			)
			idx = nil
		}
	}
	if idx == nil {
		tokenized := make([][]string, len(c.Documents))
		for i, doc := range c.Documents {
			tokenized[i] = tokenizer.Tokenize(doc.Text)
		}
		idx = index.Build(tokenized)
	}

	return &Snapshot{
		Documents:  c.Documents,
		Index:      idx,
		Scorer:     ranker.NewScorer(idx, e.params),
		LoadedFrom: c.Source,
		LoadedAt:   time.Now().UTC(),
	}, nil
}

// Search returns the topN chunks most relevant to query. topN must be
// positive; callers without a preference pass DefaultTopN.
func (e *Engine) Search(ctx context.Context, query string, topN int) ([]Result, error) {
	hits, err := e.Rank(ctx, query, topN)
	if err != nil {
		return nil, err
	}
	results := make([]Result, len(hits))
	for i, h := range hits {
		results[i] = h.Result
	}
	return results, nil
}

// Rank is Search with ordinals and scores attached.
func (e *Engine) Rank(ctx context.Context, query string, topN int) ([]Hit, error) {
	if topN <= 0 {
		return nil, apperrors.InvalidArgument("top_n must be a positive integer, got %d", topN)
	}
	snap, err := e.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranked := snap.Scorer.Rank(tokenizer.Tokenize(query), topN)
	hits := make([]Hit, len(ranked))
	for i, r := range ranked {
		doc := snap.Documents[r.Ordinal]
		hits[i] = Hit{
			Result:  Result{Content: doc.Text, Metadata: doc.Metadata},
			Ordinal: r.Ordinal,
			Score:   r.Score,
		}
	}
	return hits, nil
}

// Reset discards the built index or the recorded failure. The next Load
// rebuilds from the loader. A Reset during a build waits for it to finish.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current.Store(nil)
	e.failure.Store(nil)
	e.setState(StateUnloaded)
	e.logger.Info("index reset")
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Stats describes the engine for health checks and the admin API.
type Stats struct {
	State      string     `json:"state"`
	Documents  int        `json:"documents"`
	Vocabulary int        `json:"vocabulary"`
	AvgDocLen  float64    `json:"avg_doc_len"`
	Source     string     `json:"source,omitempty"`
	LoadedAt   *time.Time `json:"loaded_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	FailedAt   *time.Time `json:"failed_at,omitempty"`
}

func (e *Engine) Stats() Stats {
	s := Stats{State: e.State().String()}
	if snap := e.current.Load(); snap != nil {
		loadedAt := snap.LoadedAt
		s.Documents = len(snap.Documents)
		s.Vocabulary = snap.Index.VocabularySize()
		s.AvgDocLen = snap.Index.AvgDocLen
		s.Source = snap.LoadedFrom
		s.LoadedAt = &loadedAt
	}
	if f := e.failure.Load(); f != nil {
		failedAt := f.at
		s.Error = f.err.Error()
		s.FailedAt = &failedAt
	}
	return s
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	if e.metrics != nil {
		e.metrics.IndexState.Set(float64(s))
	}
}

func (e *Engine) observeLoad(elapsed time.Duration, snap *Snapshot, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.IndexLoadDuration.Observe(elapsed.Seconds())
	if err != nil {
		e.metrics.IndexLoadsTotal.WithLabelValues("failure").Inc()
		return
	}
	e.metrics.IndexLoadsTotal.WithLabelValues("success").Inc()
	e.metrics.IndexDocuments.Set(float64(len(snap.Documents)))
	e.metrics.IndexVocabulary.Set(float64(snap.Index.VocabularySize()))
}
