package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/wardenlabs/wardstate/internal/logfields"
	"github.com/wardenlabs/wardstate/internal/store"
)

// Diagnostics is the operational snapshot served on the admin endpoint.
type Diagnostics struct {
	SessionCacheSize int          `json:"session_cache_size"`
	PursuitCacheSize int          `json:"pursuit_cache_size"`
	CacheHitRate     float64      `json:"cache_hit_rate"`
	StoreHealthy     bool         `json:"store_healthy"`
	Store            *store.Stats `json:"store,omitempty"`
}

// Diagnostics reports cache sizes, hit rate and best-effort store statistics.
// A stats failure degrades the snapshot instead of failing it.
func (c *Coordinator) Diagnostics(ctx context.Context) Diagnostics {
	d := Diagnostics{
		SessionCacheSize: c.sessions.Len(),
		PursuitCacheSize: c.pursuits.Len(),
		CacheHitRate:     c.HitRate(),
		StoreHealthy:     c.storeHealthy.Load(),
	}
	if st, err := c.store.Stats(ctx); err == nil {
		d.Store = &st
	} else {
		slog.Warn("Store statistics unavailable", logfields.Error(err))
	}
	return d
}

// StoreHealthy reports the last observed store connectivity state.
func (c *Coordinator) StoreHealthy() bool { return c.storeHealthy.Load() }

// Maintain runs the periodic store maintenance task: backend compaction plus
// pursuit cleanup. Failures are logged and absorbed.
func (c *Coordinator) Maintain(ctx context.Context, pursuitRetention time.Duration) {
	start := time.Now()
	affected, err := c.store.CleanupPursuits(ctx, c.now(), pursuitRetention)
	if err != nil {
		slog.Warn("Pursuit cleanup failed", logfields.Error(err))
	}
	if err := c.store.Maintain(ctx); err != nil {
		slog.Warn("Store maintenance failed", logfields.Error(err))
		c.storeHealthy.Store(false)
		return
	}
	c.storeHealthy.Store(true)
	slog.Info("Store maintenance complete",
		slog.Int64("pursuits_cleaned", affected),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
}

// Backup delegates to the store's backup operation.
func (c *Coordinator) Backup(ctx context.Context, path string) error {
	return c.store.Backup(ctx, path)
}
