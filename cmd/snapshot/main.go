package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/ranker"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/reload"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/snapshot"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	out := flag.String("out", "", "snapshot file to write (default: corpus.snapshotPath)")
	notify := flag.Bool("notify", false, "publish a reload request once the snapshot is written")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup("snapshot", cfg.Logging.Level, cfg.Logging.Format)

	path := *out
	if path == "" {
		path = cfg.Corpus.SnapshotPath
	}
	if path == "" {
		slog.Error("no snapshot path: pass -out or set corpus.snapshotPath")
		os.Exit(1)
	}

	// A snapshot is only ever built from the primary stores.
	var primary []config.SourceConfig
	for _, src := range cfg.Corpus.Sources {
		if src.Type != config.SourceSnapshot {
			primary = append(primary, src)
		}
	}
	if len(primary) == 0 {
		slog.Error("no postgres or sqlite source configured")
		os.Exit(1)
	}
	cfg.Corpus.Sources = primary

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, err := corpus.FromConfig(cfg)
	if err != nil {
		slog.Error("failed to build corpus loaders", "error", err)
		os.Exit(1)
	}
	slog.Info("building snapshot", "sources", chain.Names(), "out", path)

	start := time.Now()
	params := ranker.Params{K1: cfg.Ranking.K1, B: cfg.Ranking.B, Epsilon: cfg.Ranking.Epsilon}
	snap, err := engine.New(chain, params).Load(ctx)
	if err != nil {
		slog.Error("failed to build index", "error", err)
		os.Exit(1)
	}

	header, err := snapshot.Write(path, snap.Documents, snap.Index)
	if err != nil {
		slog.Error("failed to write snapshot", "path", path, "error", err)
		os.Exit(1)
	}
	slog.Info("snapshot written",
		"path", path,
		"source", snap.LoadedFrom,
		"documents", header.DocCount,
		"terms", header.TermCount,
		"payload_bytes", header.PayloadSize,
		"checksum", fmt.Sprintf("%08x", header.Checksum),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if !*notify {
		return
	}
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topics.CorpusReload == "" {
		slog.Warn("reload not published: kafka is not configured")
		return
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CorpusReload)
	defer producer.Close()

	host, _ := os.Hostname()
	msg := reload.Message{Reason: "snapshot-written", RequestedBy: "snapshot@" + host, Timestamp: time.Now().UTC()}
	if err := producer.Publish(ctx, kafka.Event{Key: path, Value: msg}); err != nil {
		slog.Error("failed to publish reload request", "error", err)
		os.Exit(1)
	}
	slog.Info("reload requested", "topic", cfg.Kafka.Topics.CorpusReload)
}
