package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.IncCacheHit("sessions")
	r.IncCacheMiss("pursuits")
	r.AddEvictions("sessions", 3)
	r.SetCacheSize("sessions", 10)
	r.ObserveStoreOp("save_session", time.Millisecond, true)
	r.IncHydration(HydrationOK)
}

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.IncCacheHit("sessions")
	r.IncCacheHit("sessions")
	r.IncCacheMiss("sessions")
	r.AddEvictions("sessions", 4)
	r.SetCacheSize("sessions", 7)
	r.ObserveStoreOp("save_session", 5*time.Millisecond, true)
	r.ObserveStoreOp("save_session", 5*time.Millisecond, false)
	r.IncHydration(HydrationTimeout)

	if got := testutil.ToFloat64(r.cacheHits.WithLabelValues("sessions")); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(r.evictions.WithLabelValues("sessions")); got != 4 {
		t.Fatalf("expected 4 evictions, got %v", got)
	}
	if got := testutil.ToFloat64(r.cacheSize.WithLabelValues("sessions")); got != 7 {
		t.Fatalf("expected gauge 7, got %v", got)
	}
	if got := testutil.ToFloat64(r.storeOpsTotal.WithLabelValues("save_session", "failure")); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var p *PrometheusRecorder
	p.IncCacheHit("sessions")
	p.ObserveStoreOp("save_session", time.Millisecond, true)
}
