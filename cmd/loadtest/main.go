// Command loadtest drives GET /api/v1/search with concurrent workers and
// reports throughput, latency percentiles, cache hit rate and status codes.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8000 -concurrency 20 -duration 1m [-queries queries.txt]
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var defaultQueries = []string{
	"what is the refund policy",
	"how do I reset my password",
	"installation requirements",
	"supported file formats",
	"error code 503",
	"configure the cache ttl",
	"data retention period",
	"pricing for enterprise plans",
	"export results to csv",
	"contact support",
}

type runConfig struct {
	baseURL     string
	topN        int
	concurrency int
	duration    time.Duration
	queries     []string
}

type stats struct {
	total     atomic.Int64
	success   atomic.Int64
	failed    atomic.Int64
	cacheHits atomic.Int64
	empty     atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newStats() *stats {
	return &stats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

type searchResponse struct {
	Results  []json.RawMessage `json:"results"`
	CacheHit bool              `json:"cache_hit"`
}

func (s *stats) record(latency time.Duration, code int, body *searchResponse) {
	s.total.Add(1)
	if code == 0 {
		s.failed.Add(1)
		return
	}
	if code == http.StatusOK {
		s.success.Add(1)
		if body.CacheHit {
			s.cacheHits.Add(1)
		}
		if len(body.Results) == 0 {
			s.empty.Add(1)
		}
	} else {
		s.failed.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, latency)
	s.codes[code]++
	s.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "base URL of the search service")
	topN := flag.Int("top_n", 3, "top_n sent with every query")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	queryFile := flag.String("queries", "", "file with one query per line (default: built-in set)")
	flag.Parse()

	queries := defaultQueries
	if *queryFile != "" {
		loaded, err := readQueries(*queryFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading queries: %v\n", err)
			os.Exit(1)
		}
		queries = loaded
	}

	cfg := runConfig{
		baseURL:     strings.TrimRight(*baseURL, "/"),
		topN:        *topN,
		concurrency: *concurrency,
		duration:    *duration,
		queries:     queries,
	}

	fmt.Println("=== BM25 Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.baseURL)
	fmt.Printf("Concurrency: %d\n", cfg.concurrency)
	fmt.Printf("Duration:    %s\n", cfg.duration)
	fmt.Printf("Queries:     %d unique, top_n=%d\n", len(cfg.queries), cfg.topN)
	fmt.Println()

	s := run(cfg)
	if !report(s, cfg.duration) {
		os.Exit(1)
	}
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var queries []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if q := strings.TrimSpace(sc.Text()); q != "" {
			queries = append(queries, q)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("%s contains no queries", path)
	}
	return queries, nil
}

func run(cfg runConfig) *stats {
	s := newStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency * 2,
			MaxIdleConnsPerHost: cfg.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func(next int) {
			defer wg.Done()
			for ctx.Err() == nil {
				query := cfg.queries[next%len(cfg.queries)]
				next++
				target := fmt.Sprintf("%s/api/v1/search?q=%s&top_n=%d", cfg.baseURL, url.QueryEscape(query), cfg.topN)
				latency, code, body := search(ctx, client, target)
				if ctx.Err() != nil && code == 0 {
					return
				}
				s.record(latency, code, body)
			}
		}(w)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return s
}

// search returns code 0 when no response arrived.
func search(ctx context.Context, client *http.Client, target string) (time.Duration, int, *searchResponse) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, nil
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return time.Since(start), 0, nil
	}
	defer resp.Body.Close()

	var body searchResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return time.Since(start), 0, nil
		}
	}
	return time.Since(start), resp.StatusCode, &body
}

func report(s *stats, duration time.Duration) bool {
	total := s.total.Load()
	success := s.success.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Failed:          %d\n", s.failed.Load())
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(s.failed.Load())/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}
	if success > 0 {
		fmt.Printf("Cache Hit Rate:  %.2f%%\n", float64(s.cacheHits.Load())/float64(success)*100)
		fmt.Printf("Zero Results:    %d\n", s.empty.Load())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) > 0 {
		latencies := append([]time.Duration(nil), s.latencies...)
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sq float64
		for _, l := range latencies {
			d := float64(l - avg)
			sq += d * d
		}

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Printf("P%-2.0f:    %s\n", p, percentile(latencies, p))
		}
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
		fmt.Printf("StdDev: %s\n", time.Duration(math.Sqrt(sq/float64(len(latencies)))))
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, s.codes[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
