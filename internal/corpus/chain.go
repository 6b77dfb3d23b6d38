package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/resilience"
)

// FailureHook observes every strategy that fails inside a Chain.
type FailureHook func(loader string, err error)

// Chain tries its loaders in order and returns the first success. When all
// fail the error joins every strategy's cause, in order.
type Chain struct {
	loaders   []Loader
	timeout   time.Duration
	onFailure FailureHook
	logger    *slog.Logger
}

type ChainOption func(*Chain)

// WithTimeout bounds each strategy separately.
func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) { c.timeout = d }
}

func WithFailureHook(hook FailureHook) ChainOption {
	return func(c *Chain) { c.onFailure = hook }
}

func NewChain(loaders []Loader, opts ...ChainOption) *Chain {
	c := &Chain{
		loaders: loaders,
		logger:  slog.Default().With("component", "corpus-chain"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig builds the chain described by cfg.Corpus.Sources.
func FromConfig(cfg *config.Config, opts ...ChainOption) (*Chain, error) {
	loaders := make([]Loader, 0, len(cfg.Corpus.Sources))
	for i, src := range cfg.Corpus.Sources {
		switch src.Type {
		case config.SourcePostgres:
			loaders = append(loaders, NewPostgresLoader(cfg.Postgres, cfg.Corpus))
		case config.SourceSQLite:
			loaders = append(loaders, NewSQLiteLoader(src.Path, cfg.Corpus))
		case config.SourceSnapshot:
			loaders = append(loaders, NewSnapshotLoader(src.Path))
		default:
			return nil, fmt.Errorf("corpus source %d: unknown type %q", i, src.Type)
		}
	}
	opts = append([]ChainOption{WithTimeout(cfg.Corpus.LoadTimeout)}, opts...)
	return NewChain(loaders, opts...), nil
}

func (c *Chain) Name() string {
	return "chain"
}

// Names lists the strategies in the order they are tried.
func (c *Chain) Names() []string {
	names := make([]string, len(c.loaders))
	for i, l := range c.loaders {
		names[i] = l.Name()
	}
	return names
}

func (c *Chain) Load(ctx context.Context) (*Corpus, error) {
	if len(c.loaders) == 0 {
		return nil, fmt.Errorf("no corpus sources configured")
	}
	errs := make([]error, 0, len(c.loaders))
	for i, loader := range c.loaders {
		start := time.Now()
		result, err := resilience.WithTimeout(ctx, c.timeout, loader.Name(), loader.Load)
		if err == nil {
			if i > 0 {
				c.logger.Warn("corpus loaded from fallback source",
					"source", loader.Name(),
					"failed_sources", len(errs),
				)
			}
			c.logger.Info("corpus loaded",
				"source", loader.Name(),
				"documents", len(result.Documents),
				"prebuilt_index", result.Index != nil,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			if result.Source == "" {
				result.Source = loader.Name()
			}
			return result, nil
		}
		c.logger.Warn("corpus source failed",
			"source", loader.Name(),
			"error", err,
			"remaining", len(c.loaders)-i-1,
		)
		if c.onFailure != nil {
			c.onFailure(loader.Name(), err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", loader.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
