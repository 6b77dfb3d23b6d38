package engine

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/ranker"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// countingLoader serves a fixed corpus and counts how often it is asked.
type countingLoader struct {
	docs  []index.Document
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (l *countingLoader) Name() string { return "counting" }

func (l *countingLoader) Load(ctx context.Context) (*corpus.Corpus, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	return &corpus.Corpus{Documents: l.docs, Source: "counting"}, nil
}

func docsFrom(texts ...string) []index.Document {
	docs := make([]index.Document, len(texts))
	for i, text := range texts {
		docs[i] = index.Document{ID: i, Text: text, Metadata: index.Metadata{"source": "doc" + string(rune('0'+i))}}
	}
	return docs
}

func contents(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Content
	}
	return out
}

func TestSearchCatExample(t *testing.T) {
	e := New(&countingLoader{docs: docsFrom("The cat sat.", "A dog ran!", "cats and dogs")}, ranker.DefaultParams())

	results, err := e.Search(context.Background(), "CAT", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"The cat sat.", "A dog ran!"}
	if got := contents(results); !reflect.DeepEqual(got, want) {
		t.Errorf("Search(CAT, 2) = %v, want %v", got, want)
	}
	if results[0].Metadata["source"] != "doc0" {
		t.Errorf("metadata not carried through: %v", results[0].Metadata)
	}
}

func TestConcurrentLoadBuildsOnce(t *testing.T) {
	loader := &countingLoader{docs: docsFrom("alpha beta", "beta gamma", "gamma delta"), delay: 50 * time.Millisecond}
	e := New(loader, ranker.DefaultParams())

	const callers = 16
	var wg sync.WaitGroup
	snaps := make([]*Snapshot, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snaps[i], errs[i] = e.Load(context.Background())
		}(i)
	}
	wg.Wait()

	if n := loader.calls.Load(); n != 1 {
		t.Fatalf("expected one build, loader called %d times", n)
	}
	for i := range snaps {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if snaps[i] != snaps[0] {
			t.Errorf("caller %d observed a different snapshot", i)
		}
	}
	if e.State() != StateReady {
		t.Errorf("state = %s, want ready", e.State())
	}
}

func TestSearchDeterministic(t *testing.T) {
	e := New(&countingLoader{docs: docsFrom(
		"privacy of speech data",
		"speech recognition models",
		"data retention policy",
		"privacy policy for speech",
	)}, ranker.DefaultParams())

	first, err := e.Rank(context.Background(), "speech privacy policy", 4)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := e.Rank(context.Background(), "speech privacy policy", 4)
		if err != nil {
			t.Fatalf("Rank: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %v vs %v", i, again, first)
		}
	}
}

func TestSearchNormalizationSymmetry(t *testing.T) {
	e := New(&countingLoader{docs: docsFrom("Speech, Privacy!", "weather report", "privacy notes")}, ranker.DefaultParams())

	base, err := e.Rank(context.Background(), "speech privacy", 3)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	for _, q := range []string{"SPEECH PRIVACY", "speech, privacy!!", "  Speech \t privacy  "} {
		got, err := e.Rank(context.Background(), q, 3)
		if err != nil {
			t.Fatalf("Rank(%q): %v", q, err)
		}
		if !reflect.DeepEqual(got, base) {
			t.Errorf("Rank(%q) = %v, want %v", q, got, base)
		}
	}
}

func TestSearchEdgeCases(t *testing.T) {
	tests := []struct {
		name  string
		docs  []index.Document
		query string
		topN  int
		want  []string
	}{
		{"top n beyond corpus", docsFrom("a b", "b c"), "b", 10, []string{"a b", "b c"}},
		{"empty corpus", nil, "anything", 3, []string{}},
		{"zero token query", docsFrom("one", "two", "three", "four"), "?!...", 3, []string{"one", "two", "three"}},
		{"empty query", docsFrom("one", "two"), "", 3, []string{"one", "two"}},
		{"unknown terms keep corpus order", docsFrom("one", "two"), "zebra", 1, []string{"one"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(&countingLoader{docs: tt.docs}, ranker.DefaultParams())
			results, err := e.Search(context.Background(), tt.query, tt.topN)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if got := contents(results); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Search(%q, %d) = %v, want %v", tt.query, tt.topN, got, tt.want)
			}
		})
	}
}

func TestSearchTieBreakByOrdinal(t *testing.T) {
	e := New(&countingLoader{docs: docsFrom("apple pie", "banana", "apple pie", "cherry", "grape", "melon")}, ranker.DefaultParams())
	hits, err := e.Rank(context.Background(), "apple", 2)
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if hits[0].Ordinal != 0 || hits[1].Ordinal != 2 {
		t.Errorf("expected ordinals [0 2], got [%d %d]", hits[0].Ordinal, hits[1].Ordinal)
	}
	if hits[0].Score != hits[1].Score {
		t.Errorf("identical documents scored differently: %v", hits)
	}
}

func TestSearchInvalidTopN(t *testing.T) {
	loader := &countingLoader{docs: docsFrom("a")}
	e := New(loader, ranker.DefaultParams())
	for _, n := range []int{0, -1} {
		_, err := e.Search(context.Background(), "a", n)
		if !errors.Is(err, apperrors.ErrInvalidArgument) {
			t.Errorf("topN=%d: expected ErrInvalidArgument, got %v", n, err)
		}
	}
	if loader.calls.Load() != 0 {
		t.Error("invalid arguments must not trigger a load")
	}
}

func TestLoadFailureIsSticky(t *testing.T) {
	loader := &countingLoader{err: errors.Join(
		apperrors.ErrSourceUnavailable,
		apperrors.ErrSnapshotNotFound,
	)}
	e := New(loader, ranker.DefaultParams())

	_, err := e.Search(context.Background(), "q", 3)
	if !errors.Is(err, apperrors.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
	if !errors.Is(err, apperrors.ErrSourceUnavailable) || !errors.Is(err, apperrors.ErrSnapshotNotFound) {
		t.Errorf("causes lost: %v", err)
	}
	if e.State() != StateFailed {
		t.Errorf("state = %s, want failed", e.State())
	}

	_, again := e.Search(context.Background(), "q", 3)
	if !errors.Is(again, apperrors.ErrIndexUnavailable) {
		t.Errorf("expected sticky failure, got %v", again)
	}
	if loader.calls.Load() != 1 {
		t.Errorf("failed engine retried the loader: %d calls", loader.calls.Load())
	}
	if stats := e.Stats(); stats.State != "failed" || stats.Error == "" || stats.FailedAt == nil {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestResetRebuilds(t *testing.T) {
	loader := &countingLoader{err: apperrors.ErrSourceUnavailable}
	e := New(loader, ranker.DefaultParams())
	if _, err := e.Load(context.Background()); err == nil {
		t.Fatal("expected failure")
	}

	loader.err = nil
	loader.docs = docsFrom("recovered corpus")
	e.Reset()
	if e.State() != StateUnloaded {
		t.Fatalf("state after reset = %s", e.State())
	}

	results, err := e.Search(context.Background(), "corpus", 3)
	if err != nil {
		t.Fatalf("Search after reset: %v", err)
	}
	if len(results) != 1 || results[0].Content != "recovered corpus" {
		t.Errorf("unexpected results %v", results)
	}
	if loader.calls.Load() != 2 {
		t.Errorf("expected two loader calls, got %d", loader.calls.Load())
	}
	if stats := e.Stats(); stats.Documents != 1 || stats.Source != "counting" || stats.Error != "" {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestCancelledLoadDoesNotFail(t *testing.T) {
	loader := &countingLoader{docs: docsFrom("a"), delay: time.Second}
	e := New(loader, ranker.DefaultParams())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := e.Load(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
	if e.State() != StateUnloaded {
		t.Errorf("state = %s, want unloaded", e.State())
	}
}

// driverLoader fails the way database drivers do on a cancelled query:
// with an error of its own that does not wrap the context's.
type driverLoader struct{}

func (driverLoader) Name() string { return "driver" }

func (driverLoader) Load(ctx context.Context) (*corpus.Corpus, error) {
	<-ctx.Done()
	return nil, errors.New("pq: canceling statement due to user request")
}

func TestCancelledDriverErrorDoesNotFail(t *testing.T) {
	e := New(corpus.NewChain([]corpus.Loader{driverLoader{}}), ranker.DefaultParams())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Load(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled in %v", err)
	}
	if errors.Is(err, apperrors.ErrIndexUnavailable) {
		t.Errorf("cancellation reported as an unavailable index: %v", err)
	}
	if e.State() != StateUnloaded {
		t.Errorf("state = %s, want unloaded", e.State())
	}
	if stats := e.Stats(); stats.Error != "" {
		t.Errorf("failure recorded for a cancelled load: %+v", stats)
	}
}

func TestRebuildSwapsOnSuccess(t *testing.T) {
	loader := &countingLoader{docs: docsFrom("old corpus")}
	e := New(loader, ranker.DefaultParams())
	old, err := e.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	loader.docs = docsFrom("new corpus", "second new chunk")
	snap, err := e.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if snap == old || len(snap.Documents) != 2 {
		t.Fatalf("rebuild returned %+v", snap)
	}
	current, _ := e.Load(context.Background())
	if current != snap || e.State() != StateReady {
		t.Errorf("new snapshot not installed, state = %s", e.State())
	}
}

func TestRebuildKeepsIndexOnFailure(t *testing.T) {
	loader := &countingLoader{docs: docsFrom("the cat sat")}
	e := New(loader, ranker.DefaultParams())
	old, err := e.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	loader.err = apperrors.ErrSourceUnavailable
	if _, err := e.Rebuild(context.Background()); !errors.Is(err, apperrors.ErrSourceUnavailable) {
		t.Fatalf("expected rebuild failure, got %v", err)
	}
	if e.State() != StateReady {
		t.Errorf("state = %s, want ready", e.State())
	}
	current, err := e.Load(context.Background())
	if err != nil || current != old {
		t.Errorf("previous index lost: %v", err)
	}
	results, err := e.Search(context.Background(), "cat", 1)
	if err != nil || len(results) != 1 || results[0].Content != "the cat sat" {
		t.Errorf("search after failed rebuild = %v, %v", results, err)
	}
}

func TestRebuildRecoversFailedEngine(t *testing.T) {
	loader := &countingLoader{err: apperrors.ErrSourceUnavailable}
	e := New(loader, ranker.DefaultParams())
	if _, err := e.Load(context.Background()); err == nil {
		t.Fatal("expected failure")
	}

	loader.err = nil
	loader.docs = docsFrom("back online")
	if _, err := e.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if e.State() != StateReady || e.Stats().Error != "" {
		t.Errorf("stats = %+v", e.Stats())
	}
}

func TestAdoptsPrebuiltIndex(t *testing.T) {
	docs := docsFrom("speech privacy", "weather")
	tokenized := [][]string{tokenizer.Tokenize(docs[0].Text), tokenizer.Tokenize(docs[1].Text)}
	path := filepath.Join(t.TempDir(), "bm25.snap")
	if _, err := snapshot.Write(path, docs, index.Build(tokenized)); err != nil {
		t.Fatalf("snapshot.Write: %v", err)
	}

	e := New(corpus.NewSnapshotLoader(path), ranker.DefaultParams())
	snap, err := e.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Index.DocFreq("privacy") != 1 || snap.LoadedFrom != "snapshot:"+path {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestMetricsReported(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	e := New(&countingLoader{docs: docsFrom("a b", "c")}, ranker.DefaultParams(), WithMetrics(m))
	if _, err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := testutil.ToFloat64(m.IndexDocuments); got != 2 {
		t.Errorf("index_documents = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.IndexState); got != float64(StateReady) {
		t.Errorf("index_state = %v, want %d", got, StateReady)
	}
	if got := testutil.ToFloat64(m.IndexLoadsTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("index_loads_total{success} = %v, want 1", got)
	}
}

func BenchmarkSearch(b *testing.B) {
	texts := make([]string, 2000)
	for i := range texts {
		texts[i] = "chunk about speech privacy policy data retention and model training number " + string(rune('a'+i%26))
	}
	e := New(&countingLoader{docs: docsFrom(texts...)}, ranker.DefaultParams())
	if _, err := e.Load(context.Background()); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Search(context.Background(), "speech privacy retention", DefaultTopN); err != nil {
			b.Fatal(err)
		}
	}
}
