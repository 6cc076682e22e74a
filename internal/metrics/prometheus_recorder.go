package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once          sync.Once
	cacheHits     *prom.CounterVec
	cacheMisses   *prom.CounterVec
	evictions     *prom.CounterVec
	cacheSize     *prom.GaugeVec
	storeOpsDur   *prom.HistogramVec
	storeOpsTotal *prom.CounterVec
	hydrations    *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.cacheHits = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wardstate",
			Name:      "cache_hits_total",
			Help:      "Cache hits by record domain",
		}, []string{"domain"})
		pr.cacheMisses = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wardstate",
			Name:      "cache_misses_total",
			Help:      "Cache misses by record domain",
		}, []string{"domain"})
		pr.evictions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wardstate",
			Name:      "cache_evictions_total",
			Help:      "Entries evicted by the periodic sweep",
		}, []string{"domain"})
		pr.cacheSize = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "wardstate",
			Name:      "cache_entries",
			Help:      "Current cache entry count by record domain",
		}, []string{"domain"})
		pr.storeOpsDur = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "wardstate",
			Name:      "store_op_duration_seconds",
			Help:      "Duration of durable store operations",
			Buckets:   prom.DefBuckets,
		}, []string{"op"})
		pr.storeOpsTotal = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wardstate",
			Name:      "store_ops_total",
			Help:      "Durable store operations by result",
		}, []string{"op", "result"})
		pr.hydrations = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wardstate",
			Name:      "hydrations_total",
			Help:      "Async cache hydration outcomes",
		}, []string{"result"})
		reg.MustRegister(pr.cacheHits, pr.cacheMisses, pr.evictions, pr.cacheSize, pr.storeOpsDur, pr.storeOpsTotal, pr.hydrations)
	})
	return pr
}

func (p *PrometheusRecorder) IncCacheHit(domain string) {
	if p == nil || p.cacheHits == nil {
		return
	}
	p.cacheHits.WithLabelValues(domain).Inc()
}

func (p *PrometheusRecorder) IncCacheMiss(domain string) {
	if p == nil || p.cacheMisses == nil {
		return
	}
	p.cacheMisses.WithLabelValues(domain).Inc()
}

func (p *PrometheusRecorder) AddEvictions(domain string, n int) {
	if p == nil || p.evictions == nil || n <= 0 {
		return
	}
	p.evictions.WithLabelValues(domain).Add(float64(n))
}

func (p *PrometheusRecorder) SetCacheSize(domain string, n int) {
	if p == nil || p.cacheSize == nil {
		return
	}
	p.cacheSize.WithLabelValues(domain).Set(float64(n))
}

func (p *PrometheusRecorder) ObserveStoreOp(op string, d time.Duration, success bool) {
	if p == nil || p.storeOpsDur == nil {
		return
	}
	p.storeOpsDur.WithLabelValues(op).Observe(d.Seconds())
	result := "success"
	if !success {
		result = "failure"
	}
	p.storeOpsTotal.WithLabelValues(op, result).Inc()
}

func (p *PrometheusRecorder) IncHydration(result HydrationResult) {
	if p == nil || p.hydrations == nil {
		return
	}
	p.hydrations.WithLabelValues(string(result)).Inc()
}
