package corpus

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/snapshot"
)

// SnapshotLoader serves the corpus and its prebuilt index from a snapshot
// file written by cmd/snapshot. A missing file wraps ErrSnapshotNotFound.
type SnapshotLoader struct {
	path string
}

func NewSnapshotLoader(path string) *SnapshotLoader {
	return &SnapshotLoader{path: path}
}

func (l *SnapshotLoader) Name() string {
	return "snapshot:" + l.path
}

func (l *SnapshotLoader) Load(ctx context.Context) (*Corpus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := snapshot.Read(l.path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	return &Corpus{
		Documents: f.Documents,
		Index:     f.Index,
		Source:    l.Name(),
	}, nil
}
