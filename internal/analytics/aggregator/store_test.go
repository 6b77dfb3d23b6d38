package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bm25-chunk-search/pkg/postgres"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading default config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pg, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		t.Skipf("skipping: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { pg.Close() })

	s := NewStore(pg)
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if _, err := pg.DB.ExecContext(ctx, "TRUNCATE search_analytics_snapshots"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

type fixedStats analytics.AggregatedStats

func (f fixedStats) Stats() analytics.AggregatedStats { return analytics.AggregatedStats(f) }

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	latest, err := s.LatestSnapshot(ctx)
	if err != nil || latest != nil {
		t.Fatalf("empty table: latest = %v, err = %v", latest, err)
	}

	for i := int64(1); i <= 3; i++ {
		if err := s.SaveSnapshot(ctx, analytics.AggregatedStats{TotalSearches: i}); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	latest, err = s.LatestSnapshot(ctx)
	if err != nil || latest == nil || latest.Stats.TotalSearches != 3 {
		t.Fatalf("latest = %+v, err = %v", latest, err)
	}
	list, err := s.ListSnapshots(ctx, 2)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(list) != 2 || list[0].Stats.TotalSearches != 3 || list[1].Stats.TotalSearches != 2 {
		t.Errorf("list = %+v", list)
	}
}

func TestPeriodicSaveWritesFinalSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := s.StartPeriodicSave(ctx, fixedStats{TotalSearches: 77}, time.Hour)
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("periodic save did not stop")
	}
	latest, err := s.LatestSnapshot(context.Background())
	if err != nil || latest == nil || latest.Stats.TotalSearches != 77 {
		t.Errorf("latest = %+v, err = %v", latest, err)
	}
}
