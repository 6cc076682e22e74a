package metrics

import "time"

// HydrationResult enumerates async hydration outcomes for counters.
type HydrationResult string

const (
	HydrationOK      HydrationResult = "ok"
	HydrationMiss    HydrationResult = "miss"
	HydrationError   HydrationResult = "error"
	HydrationTimeout HydrationResult = "timeout"
)

// Recorder defines observability hooks for cache and store activity.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	IncCacheHit(domain string)
	IncCacheMiss(domain string)
	AddEvictions(domain string, n int)
	SetCacheSize(domain string, n int)
	ObserveStoreOp(op string, d time.Duration, success bool)
	IncHydration(result HydrationResult)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncCacheHit(string)                          {}
func (NoopRecorder) IncCacheMiss(string)                         {}
func (NoopRecorder) AddEvictions(string, int)                    {}
func (NoopRecorder) SetCacheSize(string, int)                    {}
func (NoopRecorder) ObserveStoreOp(string, time.Duration, bool)  {}
func (NoopRecorder) IncHydration(HydrationResult)                {}
