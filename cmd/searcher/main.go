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
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/ranker"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/reload"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	warm := flag.Bool("warm", true, "build the index at startup instead of on the first search")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("searcher", cfg.Logging.Level, cfg.Logging.Format)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	chain, err := corpus.FromConfig(cfg, corpus.WithFailureHook(func(loader string, err error) {
		if m != nil {
			m.LoaderFailuresTotal.WithLabelValues(loader).Inc()
		}
	}))
	if err != nil {
		slog.Error("failed to build corpus loaders", "error", err)
		os.Exit(1)
	}
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"sources", chain.Names(),
		"k1", cfg.Ranking.K1,
		"b", cfg.Ranking.B,
	)

	params := ranker.Params{K1: cfg.Ranking.K1, B: cfg.Ranking.B, Epsilon: cfg.Ranking.Epsilon}
	engineOpts := []engine.Option{}
	if m != nil {
		engineOpts = append(engineOpts, engine.WithMetrics(m))
	}
	eng := engine.New(chain, params, engineOpts...)

	var redisClient *pkgredis.Client
	var queryCache *cache.QueryCache
	if cfg.Search.CacheEnabled && cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			cacheOpts := []cache.Option{}
			if m != nil {
				cacheOpts = append(cacheOpts, cache.WithMetrics(m))
			}
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, cacheOpts...)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	var collector *analytics.Collector
	reloadOpts := []reload.Option{}
	handlerOpts := []handler.Option{}
	if m != nil {
		handlerOpts = append(handlerOpts, handler.WithMetrics(m))
	}
	if queryCache != nil {
		reloadOpts = append(reloadOpts, reload.WithCache(queryCache))
		handlerOpts = append(handlerOpts, handler.WithCache(queryCache))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer producer.Close()
		collector = analytics.NewCollector(producer, 10000)
		collector.Start(ctx)
		defer collector.Close()
		reloadOpts = append(reloadOpts, reload.WithTracker(collector))
		handlerOpts = append(handlerOpts, handler.WithTracker(collector))
		slog.Info("analytics collector started", "topic", cfg.Kafka.Topics.AnalyticsEvents)
	}
	reloader := reload.New(eng, reloadOpts...)
	handlerOpts = append(handlerOpts, handler.WithReloader(reloader))

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topics.CorpusReload != "" {
		// Every replica must see every reload, so each joins its own group.
		kcfg := cfg.Kafka
		if host, err := os.Hostname(); err == nil {
			kcfg.ConsumerGroup = kcfg.ConsumerGroup + "-" + host
		}
		consumer := kafka.NewConsumer(kcfg, cfg.Kafka.Topics.CorpusReload, reloader.HandleMessage)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("reload consumer error", "error", err)
			}
		}()
		slog.Info("reload listener started", "topic", cfg.Kafka.Topics.CorpusReload, "group", kcfg.ConsumerGroup)
	}

	if *warm {
		go func() {
			if _, err := eng.Load(ctx); err != nil {
				slog.Error("index warm-up failed", "error", err)
			}
		}()
	}

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		stats := eng.Stats()
		switch eng.State() {
		case engine.StateReady:
			return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d documents from %s", stats.Documents, stats.Source)}
		case engine.StateFailed:
			return health.ComponentHealth{Status: health.StatusDown, Message: stats.Error}
		case engine.StateUnloaded:
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "index builds on first search"}
		default:
			return health.ComponentHealth{Status: health.StatusDown, Message: stats.State}
		}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := handler.New(eng, cfg.Search, handlerOpts...)
	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chainHandler http.Handler = mux
	chainHandler = middleware.Timeout(cfg.Server.WriteTimeout)(chainHandler)
	if cfg.Server.RateLimit > 0 {
		trusted, err := cfg.Server.TrustedProxyPrefixes()
		if err != nil {
			slog.Error("invalid trusted proxies", "error", err)
			os.Exit(1)
		}
		limiter := ratelimit.New(cfg.Server.RateLimit, time.Minute)
		limiter.StartCleanup(ctx, 5*time.Minute)
		chainHandler = middleware.RateLimit(limiter, trusted)(chainHandler)
		slog.Info("rate limiting enabled",
			"requests_per_minute", cfg.Server.RateLimit,
			"trusted_proxies", len(trusted),
		)
	}
	if m != nil {
		chainHandler = middleware.Metrics(m)(chainHandler)
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		chainHandler = middleware.CORS(cfg.Server.CORSOrigins, 86400)(chainHandler)
	}
	chainHandler = middleware.RequestID(chainHandler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chainHandler,
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}
