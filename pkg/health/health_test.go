package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func constant(s Status) Check {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: s}
	}
}

func TestRunAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]Status
		want     Status
	}{
		{"all up", map[string]Status{"index": StatusUp, "redis": StatusUp}, StatusUp},
		{"degraded cache", map[string]Status{"index": StatusUp, "redis": StatusDegraded}, StatusDegraded},
		{"index down", map[string]Status{"index": StatusDown, "redis": StatusDegraded}, StatusDown},
		{"no checks", map[string]Status{}, StatusUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, s := range tt.statuses {
				c.Register(name, constant(s))
			}
			report := c.Run(context.Background())
			if report.Status != tt.want {
				t.Errorf("status = %s, want %s", report.Status, tt.want)
			}
			if len(report.Components) != len(tt.statuses) {
				t.Errorf("components = %v", report.Components)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker()
	c.Register("index", constant(StatusUp))
	c.Register("redis", constant(StatusDegraded))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("degraded instance should stay ready, got %d", rec.Code)
	}
	var report Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.Components["redis"].Status != StatusDegraded {
		t.Errorf("report = %+v", report)
	}

	c.Register("index", constant(StatusDown))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("down index should fail readiness, got %d", rec.Code)
	}
}

func TestLiveHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewChecker().LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("live = %d", rec.Code)
	}
}
