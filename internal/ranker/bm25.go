// Package ranker scores corpus documents against a tokenized query with
// Okapi BM25 and selects the best N with a deterministic tie-break.
package ranker

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/index"
)

const (
	DefaultK1      = 1.5
	DefaultB       = 0.75
	DefaultEpsilon = 0.25
)

// Params are the BM25 free parameters. Epsilon scales the floor given to
// terms whose raw IDF is negative (terms in more than half the corpus).
type Params struct {
	K1      float64
	B       float64
	Epsilon float64
}

func DefaultParams() Params {
	return Params{K1: DefaultK1, B: DefaultB, Epsilon: DefaultEpsilon}
}

// Scorer holds the IDF table for one TermIndex. Like the index it is
// immutable once built.
//
// For a corpus of N documents where term t occurs in n(t) of them:
//
//	IDF(t) = ln((N - n(t) + 0.5) / (n(t) + 0.5))
//
// Every IDF below zero is replaced by Epsilon * mean(IDF), the mean taken
// over the whole vocabulary before replacement. A document d then scores
//
//	score(d) = Σ_q IDF(q) * f(q,d)*(K1+1) / (f(q,d) + K1*(1 - B + B*|d|/avgdl))
//
// summed over the query tokens q, duplicates included. Tokens outside the
// vocabulary contribute nothing.
type Scorer struct {
	idx    *index.TermIndex
	params Params
	idf    map[string]float64
}

func NewScorer(idx *index.TermIndex, params Params) *Scorer {
	s := &Scorer{
		idx:    idx,
		params: params,
		idf:    make(map[string]float64, idx.VocabularySize()),
	}
	// Sorted iteration keeps the IDF sum, and so the epsilon floor,
	// bit-identical across builds of the same corpus.
	vocab := idx.Vocabulary()
	n := float64(idx.TotalDocs)
	var sum float64
	negative := make([]string, 0)
	for _, entry := range vocab {
		df := float64(entry.DocFreq)
		idf := math.Log(n-df+0.5) - math.Log(df+0.5)
		s.idf[entry.Term] = idf
		sum += idf
		if idf < 0 {
			negative = append(negative, entry.Term)
		}
	}
	if len(vocab) > 0 {
		floor := params.Epsilon * (sum / float64(len(vocab)))
		for _, term := range negative {
			s.idf[term] = floor
		}
	}
	return s
}

// IDF returns the (floored) IDF of term, and false for unknown terms.
func (s *Scorer) IDF(term string) (float64, bool) {
	v, ok := s.idf[term]
	return v, ok
}

// Scores returns one BM25 score per document, indexed by ordinal.
func (s *Scorer) Scores(queryTokens []string) []float64 {
	scores := make([]float64, s.idx.TotalDocs)
	k1, b := s.params.K1, s.params.B
	for _, term := range queryTokens {
		idf, ok := s.idf[term]
		if !ok {
			continue
		}
		for doc := range scores {
			freq := float64(s.idx.TermFreq(term, doc))
			if freq == 0 {
				continue
			}
			lengthRatio := float64(s.idx.DocLengths[doc]) / s.idx.AvgDocLen
			scores[doc] += idf * (freq * (k1 + 1)) / (freq + k1*(1-b+b*lengthRatio))
		}
	}
	return scores
}

// Rank scores the corpus and returns the best limit documents.
func (s *Scorer) Rank(queryTokens []string, limit int) []ScoredDoc {
	return TopN(s.Scores(queryTokens), limit)
}
