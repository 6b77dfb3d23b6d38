package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/ranker"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/logger"
)

const snippetLen = 500

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	query := flag.String("q", "", "query text")
	topN := flag.Int("top_n", engine.DefaultTopN, "number of chunks to return")
	asJSON := flag.Bool("json", false, "print results as JSON")
	flag.Parse()

	if *query == "" && flag.NArg() > 0 {
		*query = strings.Join(flag.Args(), " ")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	// Logs go to stderr so stdout carries only results.
	logger.SetupWriter(os.Stderr, "query", cfg.Logging.Level, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, err := corpus.FromConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build corpus loaders: %v\n", err)
		os.Exit(1)
	}
	params := ranker.Params{K1: cfg.Ranking.K1, B: cfg.Ranking.B, Epsilon: cfg.Ranking.Epsilon}
	hits, err := engine.New(chain, params).Rank(ctx, *query, *topN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "search failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(hits); err != nil {
			fmt.Fprintf(os.Stderr, "encoding results: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if len(hits) == 0 {
		fmt.Println("no documents in the corpus")
		return
	}
	for i, hit := range hits {
		fmt.Printf("#%d  score=%.4f  chunk=%d  %s\n", i+1, hit.Score, hit.Ordinal, metadataLine(hit.Metadata))
		fmt.Println(snippet(hit.Content))
		fmt.Println()
	}
}

// metadataLine renders m as JSON, or the encoding error in its place.
func metadataLine(m index.Metadata) string {
	data, err := json.Marshal(m)
	if err != nil {
		slog.Warn("chunk metadata is not JSON-encodable", "error", err)
		return fmt.Sprintf("<metadata unavailable: %v>", err)
	}
	return string(data)
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetLen {
		return text
	}
	return string(runes[:snippetLen]) + "..."
}
