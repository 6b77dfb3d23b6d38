// Package index holds the corpus document type and the read-only
// term-frequency statistics BM25 scores against.
package index

import (
	"fmt"
	"sort"
)

// TermIndex is built once from the tokenized corpus and never mutated
// afterwards, so it is safe for concurrent readers. Per-document slices are
// aligned with corpus ordinals.
type TermIndex struct {
	TermFreqs  []map[string]int `json:"term_freqs"`
	DocLengths []int            `json:"doc_lengths"`
	DocFreqs   map[string]int   `json:"doc_freqs"`
	AvgDocLen  float64          `json:"avg_doc_len"`
	TotalDocs  int              `json:"total_docs"`
}

// TermEntry is a vocabulary term with its document frequency.
type TermEntry struct {
	Term    string
	DocFreq int
}

// Build computes the statistics for the given token sequences. tokenized[i]
// must be the tokens of the document with ordinal i.
func Build(tokenized [][]string) *TermIndex {
	idx := &TermIndex{
		TermFreqs:  make([]map[string]int, len(tokenized)),
		DocLengths: make([]int, len(tokenized)),
		DocFreqs:   make(map[string]int),
		TotalDocs:  len(tokenized),
	}
	var totalTokens int
	for i, tokens := range tokenized {
		freqs := make(map[string]int, len(tokens))
		for _, term := range tokens {
			freqs[term]++
		}
		for term := range freqs {
			idx.DocFreqs[term]++
		}
		idx.TermFreqs[i] = freqs
		idx.DocLengths[i] = len(tokens)
		totalTokens += len(tokens)
	}
	if idx.TotalDocs > 0 {
		idx.AvgDocLen = float64(totalTokens) / float64(idx.TotalDocs)
	}
	return idx
}

// TermFreq returns how often term occurs in document doc.
func (t *TermIndex) TermFreq(term string, doc int) int {
	return t.TermFreqs[doc][term]
}

// DocFreq returns the number of documents containing term at least once.
func (t *TermIndex) DocFreq(term string) int {
	return t.DocFreqs[term]
}

// VocabularySize returns the number of distinct terms.
func (t *TermIndex) VocabularySize() int {
	return len(t.DocFreqs)
}

// Vocabulary returns the terms sorted lexicographically.
func (t *TermIndex) Vocabulary() []TermEntry {
	entries := make([]TermEntry, 0, len(t.DocFreqs))
	for term, df := range t.DocFreqs {
		entries = append(entries, TermEntry{Term: term, DocFreq: df})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// Validate checks that a TermIndex read from outside (a snapshot) is
// internally consistent and aligned with a corpus of docCount documents.
func (t *TermIndex) Validate(docCount int) error {
	if t.TotalDocs != docCount {
		return fmt.Errorf("index covers %d documents, corpus has %d", t.TotalDocs, docCount)
	}
	if len(t.TermFreqs) != docCount || len(t.DocLengths) != docCount {
		return fmt.Errorf("index has %d term maps and %d lengths for %d documents",
			len(t.TermFreqs), len(t.DocLengths), docCount)
	}
	if t.DocFreqs == nil {
		return fmt.Errorf("index has no document frequency table")
	}
	return nil
}
