// Package corpus fetches the chunked document corpus from its stores. Each
// store is a Loader strategy; a Chain tries strategies in order and returns
// the first corpus that loads.
package corpus

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/index"
)

// Corpus is an ordered document list. Index is set only when the source
// already holds a built TermIndex aligned with Documents (snapshots); the
// engine builds one otherwise.
type Corpus struct {
	Documents []index.Document
	Index     *index.TermIndex
	Source    string
}

// Loader fetches the full corpus from one store. Failures to reach the
// store, or a missing table, wrap ErrSourceUnavailable.
type Loader interface {
	Name() string
	Load(ctx context.Context) (*Corpus, error)
}

// scanDocuments reads (text, metadata) rows in query order and assigns
// ordinals. NULL text becomes an empty document; NULL or malformed metadata
// becomes {"source": "unknown"}.
func scanDocuments(rows *sql.Rows) ([]index.Document, error) {
	defer rows.Close()
	docs := make([]index.Document, 0)
	for rows.Next() {
		var text, meta sql.NullString
		if err := rows.Scan(&text, &meta); err != nil {
			return nil, fmt.Errorf("scanning row %d: %w", len(docs), err)
		}
		docs = append(docs, index.Document{
			ID:       len(docs),
			Text:     text.String,
			Metadata: ParseMetadata(meta.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return docs, nil
}
