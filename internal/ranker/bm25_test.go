package ranker

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/tokenizer"
)

func buildScorer(docs ...string) *Scorer {
	tokenized := make([][]string, len(docs))
	for i, d := range docs {
		tokenized[i] = tokenizer.Tokenize(d)
	}
	return NewScorer(index.Build(tokenized), DefaultParams())
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestScoresCatExample(t *testing.T) {
	s := buildScorer("the cat sat", "the dog ran", "cats and dogs")
	scores := s.Scores(tokenizer.Tokenize("cat"))

	// cat occurs once in a document of average length: the tf part is 1.
	wantIDF := math.Log(2.5 / 1.5)
	if !almostEqual(scores[0], wantIDF) {
		t.Errorf("score[0] = %v, want %v", scores[0], wantIDF)
	}
	if scores[1] != 0 || scores[2] != 0 {
		t.Errorf("documents without the exact token must score 0, got %v", scores)
	}

	ranked := s.Rank(tokenizer.Tokenize("cat"), 2)
	if ranked[0].Ordinal != 0 {
		t.Fatalf("expected doc 0 first, got %+v", ranked)
	}
	if ranked[1].Ordinal != 1 || ranked[1].Score != 0 {
		t.Errorf("zero-score tie must go to the lower ordinal, got %+v", ranked[1])
	}
}

func TestNegativeIDFFloor(t *testing.T) {
	s := buildScorer("x a", "x b", "x c")

	common := math.Log(0.5) - math.Log(3.5)
	rare := math.Log(2.5) - math.Log(1.5)
	mean := (common + 3*rare) / 4
	got, ok := s.IDF("x")
	if !ok {
		t.Fatal("x missing from IDF table")
	}
	if !almostEqual(got, DefaultEpsilon*mean) {
		t.Errorf("IDF(x) = %v, want floor %v", got, DefaultEpsilon*mean)
	}
	if got, _ := s.IDF("a"); !almostEqual(got, rare) {
		t.Errorf("IDF(a) = %v, want %v", got, rare)
	}
	if _, ok := s.IDF("zzz"); ok {
		t.Error("unknown term reported as present")
	}
}

func TestScoresLengthNormalisation(t *testing.T) {
	s := buildScorer(
		"privacy",
		"privacy in speech processing systems today",
		"unrelated words here",
		"more unrelated words",
	)
	scores := s.Scores([]string{"privacy"})
	if !(scores[0] > scores[1]) {
		t.Errorf("shorter document should score higher: %v", scores)
	}
}

func TestScoresDuplicateQueryTokensAccumulate(t *testing.T) {
	s := buildScorer("speech privacy", "vision", "robots", "graphs")
	once := s.Scores([]string{"speech"})
	twice := s.Scores([]string{"speech", "speech"})
	if !almostEqual(twice[0], 2*once[0]) {
		t.Errorf("duplicate query token: got %v, want %v", twice[0], 2*once[0])
	}
}

func TestScoresUnknownTermsContributeZero(t *testing.T) {
	s := buildScorer("speech privacy", "vision", "robots")
	base := s.Scores([]string{"speech"})
	mixed := s.Scores([]string{"speech", "quantum"})
	if !reflect.DeepEqual(base, mixed) {
		t.Errorf("unknown term changed scores: %v vs %v", base, mixed)
	}
}

func TestScoresEmptyCorpus(t *testing.T) {
	s := NewScorer(index.Build(nil), DefaultParams())
	if got := s.Scores([]string{"anything"}); len(got) != 0 {
		t.Errorf("expected no scores, got %v", got)
	}
	if got := s.Rank([]string{"anything"}, 3); len(got) != 0 {
		t.Errorf("expected no results, got %v", got)
	}
}

func TestRankTieBreakByOrdinal(t *testing.T) {
	s := buildScorer("filler one", "alpha beta", "filler two", "alpha beta", "filler three")
	ranked := s.Rank([]string{"alpha"}, 2)
	if ranked[0].Score != ranked[1].Score {
		t.Fatalf("expected equal scores, got %+v", ranked)
	}
	if ranked[0].Ordinal != 1 || ranked[1].Ordinal != 3 {
		t.Errorf("expected ordinals [1 3], got %+v", ranked)
	}
}

func TestRankNoTokensKeepsCorpusOrder(t *testing.T) {
	s := buildScorer("a", "b", "c", "d")
	ranked := s.Rank(nil, 3)
	for i, doc := range ranked {
		if doc.Ordinal != i || doc.Score != 0 {
			t.Errorf("position %d: got %+v", i, doc)
		}
	}
}

func BenchmarkScores(b *testing.B) {
	tokenized := make([][]string, 5000)
	for i := range tokenized {
		tokenized[i] = tokenizer.Tokenize(fmt.Sprintf("chunk %d about speech privacy and federated learning topic%d", i, i%50))
	}
	s := NewScorer(index.Build(tokenized), DefaultParams())
	query := tokenizer.Tokenize("who works on speech privacy topic7")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Rank(query, 10)
	}
}
