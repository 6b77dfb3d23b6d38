package ranker

import "container/heap"

type ScoredDoc struct {
	Ordinal int     `json:"ordinal"`
	Score   float64 `json:"score"`
}

// TopN returns the min(limit, len(scores)) best documents ordered by score
// descending, equal scores by ordinal ascending. A non-positive limit
// returns nothing.
func TopN(scores []float64, limit int) []ScoredDoc {
	if limit <= 0 || len(scores) == 0 {
		return []ScoredDoc{}
	}
	if limit > len(scores) {
		limit = len(scores)
	}
	h := make(scoredDocHeap, 0, limit+1)
	for ordinal, score := range scores {
		doc := ScoredDoc{Ordinal: ordinal, Score: score}
		if h.Len() < limit {
			heap.Push(&h, doc)
			continue
		}
		if worse(h[0], doc) {
			h[0] = doc
			heap.Fix(&h, 0)
		}
	}
	result := make([]ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ScoredDoc)
	}
	return result
}

// worse reports whether a ranks below b.
func worse(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Ordinal > b.Ordinal
}

// scoredDocHeap keeps the worst retained document at the root.
type scoredDocHeap []ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool { return worse(h[i], h[j]) }

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
