package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/errors"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteLoader reads the corpus table from a local SQLite database file.
// The file is opened read-only and is never created.
type SQLiteLoader struct {
	path   string
	table  config.CorpusConfig
	logger *slog.Logger
}

func NewSQLiteLoader(path string, table config.CorpusConfig) *SQLiteLoader {
	return &SQLiteLoader{
		path:   path,
		table:  table,
		logger: slog.Default().With("component", "corpus-sqlite"),
	}
}

func (l *SQLiteLoader) Name() string {
	return fmt.Sprintf("sqlite:%s/%s", l.path, l.table.Table)
}

func (l *SQLiteLoader) Load(ctx context.Context) (*Corpus, error) {
	if _, err := os.Stat(l.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: database file %s does not exist", apperrors.ErrSourceUnavailable, l.path)
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSourceUnavailable, err)
	}

	dsn := "file:" + (&url.URL{Path: l.path}).EscapedPath() + "?mode=ro&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", apperrors.ErrSourceUnavailable, l.path, err)
	}
	defer db.Close()

	var tables int
	err = db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?",
		l.table.Table,
	).Scan(&tables)
	if err != nil {
		return nil, fmt.Errorf("%w: listing tables in %s: %w", apperrors.ErrSourceUnavailable, l.path, err)
	}
	if tables == 0 {
		return nil, fmt.Errorf("%w: table %q not found in %s", apperrors.ErrSourceUnavailable, l.table.Table, l.path)
	}

	rows, err := db.QueryContext(ctx, sqliteSelect(l.table))
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %w", apperrors.ErrSourceUnavailable, l.table.Table, err)
	}
	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", apperrors.ErrSourceUnavailable, l.table.Table, err)
	}
	l.logger.Debug("corpus rows fetched", "path", l.path, "table", l.table.Table, "rows", len(docs))
	return &Corpus{Documents: docs, Source: l.Name()}, nil
}

func sqliteSelect(t config.CorpusConfig) string {
	order := "rowid"
	if t.OrderColumn != "" {
		order = quoteSQLite(t.OrderColumn)
	}
	return fmt.Sprintf("SELECT CAST(%s AS TEXT), CAST(%s AS TEXT) FROM %s ORDER BY %s",
		quoteSQLite(t.TextColumn),
		quoteSQLite(t.MetaColumn),
		quoteSQLite(t.Table),
		order,
	)
}

func quoteSQLite(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
