// Command analytics aggregates the search and reload events published by
// the searcher.
//
// It consumes the analytics topic, keeps running totals in memory (query
// volume, latency percentiles, cache hit rate, zero-result queries, index
// reloads), snapshots them to PostgreSQL and serves them at
// GET /api/v1/analytics.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("analytics", cfg.Logging.Level, cfg.Logging.Format)
	if len(cfg.Kafka.Brokers) == 0 {
		slog.Error("kafka brokers are required")
		os.Exit(1)
	}
	slog.Info("starting analytics service", "port", cfg.Analytics.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()

	var (
		pg    *postgres.Client
		store *aggregator.Store
		saved <-chan struct{}
	)
	if cfg.Analytics.SnapshotInterval > 0 {
		pg, err = postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, analytics kept in memory only", "error", err)
		} else {
			defer pg.Close()
			store = aggregator.NewStore(pg)
			if err := store.EnsureSchema(ctx); err != nil {
				slog.Error("failed to prepare analytics schema", "error", err)
				os.Exit(1)
			}
			prev, err := store.LatestSnapshot(ctx)
			if err != nil {
				slog.Warn("could not restore analytics totals", "error", err)
			} else if prev != nil {
				agg.Seed(prev.Stats)
				slog.Info("analytics totals restored",
					"captured_at", prev.CapturedAt,
					"total_searches", prev.Stats.TotalSearches,
				)
			}
			saved = store.StartPeriodicSave(ctx, agg, cfg.Analytics.SnapshotInterval)
		}
	}

	// One aggregator sees every event, so the group is shared.
	kcfg := cfg.Kafka
	kcfg.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-analytics"
	consumer := kafka.NewConsumer(kcfg, cfg.Kafka.Topics.AnalyticsEvents, agg.HandleMessage)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	slog.Info("analytics consumer started", "topic", cfg.Kafka.Topics.AnalyticsEvents, "group", kcfg.ConsumerGroup)

	checker := health.NewChecker()
	checker.Register("consumer", func(ctx context.Context) health.ComponentHealth {
		select {
		case <-consumerDone:
			return health.ComponentHealth{Status: health.StatusDown, Message: "consumer stopped"}
		default:
			return health.ComponentHealth{Status: health.StatusUp}
		}
	})
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if pg == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "persistence disabled"}
		}
		if err := pg.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	var history analytics.History
	if store != nil {
		history = store
	}
	mux := http.NewServeMux()
	analytics.NewHandler(agg, history).Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Analytics.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	if saved != nil {
		<-saved
	}
	slog.Info("analytics service stopped")
}
