package corpus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/postgres"
	"github.com/lib/pq"
)

// PostgresLoader reads the corpus table from PostgreSQL. A connection pool
// is opened per Load and closed afterwards: loading happens once per index
// build.
type PostgresLoader struct {
	pg     config.PostgresConfig
	table  config.CorpusConfig
	logger *slog.Logger
}

func NewPostgresLoader(pg config.PostgresConfig, table config.CorpusConfig) *PostgresLoader {
	return &PostgresLoader{
		pg:     pg,
		table:  table,
		logger: slog.Default().With("component", "corpus-postgres"),
	}
}

func (l *PostgresLoader) Name() string {
	return fmt.Sprintf("postgres:%s/%s", l.pg.Database, l.table.Table)
}

func (l *PostgresLoader) Load(ctx context.Context) (*Corpus, error) {
	client, err := postgres.New(ctx, l.pg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err)
	}
	defer client.Close()

	exists, err := client.TableExists(ctx, l.table.Table)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: table %q not found in database %s", apperrors.ErrSourceUnavailable, l.table.Table, l.pg.Database)
	}

	rows, err := client.DB.QueryContext(ctx, postgresSelect(l.table))
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %w", apperrors.ErrSourceUnavailable, l.table.Table, err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrSourceUnavailable, l.table.Table, err)
	}
	l.logger.Debug("corpus rows fetched", "table", l.table.Table, "rows", len(docs))
	return &Corpus{Documents: docs, Source: l.Name()}, nil
}

func postgresSelect(t config.CorpusConfig) string {
	order := "ctid"
	if t.OrderColumn != "" {
		order = pq.QuoteIdentifier(t.OrderColumn)
	}
	return fmt.Sprintf("SELECT %s::text, %s::text FROM %s ORDER BY %s",
		pq.QuoteIdentifier(t.TextColumn),
		pq.QuoteIdentifier(t.MetaColumn),
		pq.QuoteIdentifier(t.Table),
		order,
	)
}
