// Package coordinator wires the in-memory state cache to the durable store.
// It is the only surface other subsystems talk to.
//
// The contract: reads are always served from cache and never wait on storage;
// writes update the cache synchronously and persist asynchronously. The cache
// is the fast path of record and may be briefly ahead of the store (the
// consistency window); the shutdown flush is the recovery mechanism for that
// window. After a successful boot, no store failure ever propagates to a
// caller — everything is caught, logged and absorbed.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wardenlabs/wardstate/internal/cache"
	"github.com/wardenlabs/wardstate/internal/logfields"
	"github.com/wardenlabs/wardstate/internal/metrics"
	"github.com/wardenlabs/wardstate/internal/record"
	"github.com/wardenlabs/wardstate/internal/store"
	"github.com/wardenlabs/wardstate/internal/wserrors"
)

const (
	domainSessions = "sessions"
	domainPursuits = "pursuits"

	// storeOpTimeout bounds each async durable operation.
	storeOpTimeout = 10 * time.Second
)

// Config bounds the coordinator's cache and store interaction.
type Config struct {
	TTL            time.Duration
	MaxEntries     int
	StaleAfter     time.Duration
	HydrateTimeout time.Duration
	FlushTimeout   time.Duration
}

// Coordinator orchestrates the state cache and the persistent store.
// Construct one per process and inject it; it is safe for concurrent use.
type Coordinator struct {
	store    store.Store
	recorder metrics.Recorder

	sessions *cache.Domain[*record.SessionRecord]
	pursuits *cache.Domain[*record.PursuitRecord]

	staleAfter     atomic.Int64 // nanoseconds, reloadable
	hydrateTimeout time.Duration
	flushTimeout   time.Duration

	hits         atomic.Int64
	misses       atomic.Int64
	storeHealthy atomic.Bool

	// closeMu orders every wg.Add before Shutdown's wg.Wait: once closed
	// is set under the lock, no further dispatch can slip in.
	closeMu sync.Mutex
	closed  bool

	// pursuitMu serializes start/end so the exclusivity check and the
	// insert are one step.
	pursuitMu sync.Mutex

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a coordinator over the given store. Call Initialize before use.
func New(st store.Store, rec metrics.Recorder, cfg Config) *Coordinator {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	c := &Coordinator{
		store:          st,
		recorder:       rec,
		sessions:       cache.NewDomain[*record.SessionRecord](domainSessions, cfg.TTL, cfg.MaxEntries),
		pursuits:       cache.NewDomain[*record.PursuitRecord](domainPursuits, cfg.TTL, cfg.MaxEntries),
		hydrateTimeout: cfg.HydrateTimeout,
		flushTimeout:   cfg.FlushTimeout,
		now:            time.Now,
	}
	c.staleAfter.Store(int64(cfg.StaleAfter))
	return c
}

// Initialize verifies store connectivity and bulk-hydrates the cache.
// A connectivity failure is the only fatal error in the system; a hydration
// timeout is logged and the daemon proceeds with a partial cache.
func (c *Coordinator) Initialize(ctx context.Context) error {
	if err := c.store.Ping(ctx); err != nil {
		return wserrors.Wrap(wserrors.CategoryStore, wserrors.SeverityFatal, "store unreachable at boot", err)
	}
	c.storeHealthy.Store(true)

	hctx, cancel := context.WithTimeout(ctx, c.hydrateTimeout)
	defer cancel()

	now := c.now()
	start := now

	sessions, err := c.store.LoadAllSessions(hctx)
	if err != nil {
		slog.Warn("Boot hydration of sessions incomplete; continuing with partial cache",
			logfields.Error(err))
	}
	for _, r := range sessions {
		c.sessions.Put(r.ActorID, r, now)
	}

	pursuits, err := c.store.LoadActivePursuits(hctx)
	if err != nil {
		slog.Warn("Boot hydration of pursuits incomplete; continuing with partial cache",
			logfields.Error(err))
	}
	for _, p := range pursuits {
		c.pursuits.Put(p.ChaseID, p, now)
	}

	slog.Info("State cache hydrated",
		slog.Int("sessions", len(sessions)),
		slog.Int("pursuits", len(pursuits)),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))
	return nil
}

// async dispatches a durable operation to the background. Failures are
// logged and absorbed; the cache remains authoritative.
func (c *Coordinator) async(op string, fn func(ctx context.Context) error) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.wg.Add(1)
	c.closeMu.Unlock()
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()

		start := time.Now()
		err := fn(ctx)
		c.recorder.ObserveStoreOp(op, time.Since(start), err == nil)
		if err != nil {
			c.storeHealthy.Store(false)
			slog.Warn("Store operation failed; cache remains authoritative",
				logfields.Op(op), logfields.Error(err))
			return
		}
		c.storeHealthy.Store(true)
	}()
}

// Get returns the best available record for the actor without ever waiting
// on storage: a fresh cached value, a stale cached value (with an async
// rehydrate behind it), or a fresh default for an unknown actor.
func (c *Coordinator) Get(actorID string) *record.SessionRecord {
	now := c.now()
	if r, age, ok := c.sessions.Get(actorID, now); ok {
		c.hits.Add(1)
		c.recorder.IncCacheHit(domainSessions)
		if age > time.Duration(c.staleAfter.Load()) {
			c.hydrateSession(actorID)
		}
		return r.Clone()
	}
	c.misses.Add(1)
	c.recorder.IncCacheMiss(domainSessions)
	c.hydrateSession(actorID)
	return record.NewSession(actorID, "")
}

// GetOrCreate is Get with a guarantee: a record for the actor is cached when
// it returns, and if the store had none, an async durable save of the default
// is already underway.
func (c *Coordinator) GetOrCreate(actorID, name string) *record.SessionRecord {
	now := c.now()
	if r, _, ok := c.sessions.Get(actorID, now); ok {
		c.hits.Add(1)
		c.recorder.IncCacheHit(domainSessions)
		if r.Name == "" && name != "" {
			r = r.Clone()
			r.Name = name
			c.sessions.Put(actorID, r, now)
			c.async("save_session", func(ctx context.Context) error {
				return c.store.SaveSession(ctx, r)
			})
		}
		return r.Clone()
	}

	c.misses.Add(1)
	c.recorder.IncCacheMiss(domainSessions)

	fresh := record.NewSession(actorID, name)
	c.sessions.Put(actorID, fresh, now)

	c.async("load_or_create_session", func(ctx context.Context) error {
		stored, err := c.store.LoadSession(ctx, actorID)
		if errors.Is(err, store.ErrNotFound) {
			c.recorder.IncHydration(metrics.HydrationMiss)
			return c.store.SaveSession(ctx, fresh)
		}
		if err != nil {
			c.recorder.IncHydration(metrics.HydrationError)
			return err
		}
		c.recorder.IncHydration(metrics.HydrationOK)
		if stored.Name == "" {
			stored.Name = name
		}
		c.sessions.Put(actorID, stored, c.now())
		return nil
	})
	return fresh.Clone()
}

// hydrateSession refreshes one cache entry from the store in the background.
// The caller already has the best available value; a hydrate failure leaves
// that value in place.
func (c *Coordinator) hydrateSession(actorID string) {
	c.async("load_session", func(ctx context.Context) error {
		stored, err := c.store.LoadSession(ctx, actorID)
		if errors.Is(err, store.ErrNotFound) {
			c.recorder.IncHydration(metrics.HydrationMiss)
			return nil
		}
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				c.recorder.IncHydration(metrics.HydrationTimeout)
			} else {
				c.recorder.IncHydration(metrics.HydrationError)
			}
			return err
		}
		c.recorder.IncHydration(metrics.HydrationOK)
		c.sessions.Put(actorID, stored, c.now())
		return nil
	})
}

// Save writes the record through the cache synchronously and persists it
// asynchronously. A persistence failure does not roll back the cache value.
func (c *Coordinator) Save(r *record.SessionRecord) {
	cp := r.Clone()
	c.sessions.Put(cp.ActorID, cp, c.now())
	c.async("save_session", func(ctx context.Context) error {
		return c.store.SaveSession(ctx, cp)
	})
}

// Delete removes the actor's record from the cache synchronously and from
// the store asynchronously.
func (c *Coordinator) Delete(actorID string) {
	c.sessions.Delete(actorID)
	c.async("delete_session", func(ctx context.Context) error {
		return c.store.DeleteSession(ctx, actorID)
	})
}

// Release flushes the actor's record to the store and evicts it from the
// cache. Called on session end so the entry doesn't linger until the sweep.
func (c *Coordinator) Release(actorID string) {
	now := c.now()
	r, _, ok := c.sessions.Get(actorID, now)
	if !ok {
		return
	}
	cp := r.Clone()
	c.sessions.Delete(actorID)
	c.async("save_session", func(ctx context.Context) error {
		return c.store.SaveSession(ctx, cp)
	})
}

// IsOnDuty reports the actor's duty flag from cache; never performs I/O.
func (c *Coordinator) IsOnDuty(actorID string) bool {
	return c.Get(actorID).OnDuty
}

// IsWanted reports whether the actor is currently wanted, computed lazily
// from the cached record's timestamps.
func (c *Coordinator) IsWanted(actorID string) bool {
	return c.Get(actorID).IsWantedAt(c.now())
}

// IsBeingChased reports the actor's pursuit linkage flag from cache.
func (c *Coordinator) IsBeingChased(actorID string) bool {
	return c.Get(actorID).BeingChased
}

// HitRate returns the cache hit fraction since boot (0 when no reads yet).
func (c *Coordinator) HitRate() float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// ApplyCacheLimits reconfigures the cache bounds live (config reload).
func (c *Coordinator) ApplyCacheLimits(ttl, staleAfter time.Duration, maxEntries int) {
	c.sessions.SetLimits(ttl, maxEntries)
	c.pursuits.SetLimits(ttl, maxEntries)
	c.staleAfter.Store(int64(staleAfter))
	slog.Info("Cache limits updated",
		slog.Duration("ttl", ttl),
		slog.Int("max_entries", maxEntries))
}

// Sweep evicts idle cache entries, clears expired wanted levels for hygiene
// and drops terminated pursuits from the active view. Runs on a fixed period;
// correctness of wanted state never depends on it.
func (c *Coordinator) Sweep() {
	now := c.now()

	// Wanted hygiene: IsWantedAt is the source of truth, this just keeps
	// stale levels out of diagnostics and the store.
	for id, r := range c.sessions.Snapshot() {
		if r.WantedLevel > 0 && !r.IsWantedAt(now) {
			cp := r.Clone()
			cp.ClearWanted()
			c.sessions.Put(id, cp, now)
			c.async("save_session", func(ctx context.Context) error {
				return c.store.SaveSession(ctx, cp)
			})
			slog.Debug("Cleared expired wanted level", logfields.ActorID(id))
		}
	}

	// Terminated and overdue pursuits leave the active view here. A live
	// chase is re-touched so the TTL eviction below can never drop it,
	// however many sweeps it outlasts.
	for id, p := range c.pursuits.Snapshot() {
		if !p.Active {
			c.pursuits.Delete(id)
			continue
		}
		if p.ExpiredAt(now) {
			c.expirePursuit(p)
			continue
		}
		c.pursuits.Put(id, p, now)
	}

	evictedSessions := c.sessions.Sweep(now)
	evictedPursuits := c.pursuits.Sweep(now)
	c.recorder.AddEvictions(domainSessions, evictedSessions)
	c.recorder.AddEvictions(domainPursuits, evictedPursuits)
	c.recorder.SetCacheSize(domainSessions, c.sessions.Len())
	c.recorder.SetCacheSize(domainPursuits, c.pursuits.Len())

	if evictedSessions+evictedPursuits > 0 {
		slog.Debug("Cache sweep complete",
			slog.Int("evicted_sessions", evictedSessions),
			slog.Int("evicted_pursuits", evictedPursuits))
	}
}

// Shutdown drains in-flight async saves, flushes the entire cache to the
// store and closes it, the drain and the flush each bounded by their own
// timeout. A timeout is logged and accepted as potential loss of the most
// recent unflushed writes.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.closeMu.Lock()
	c.closed = true
	c.closeMu.Unlock()

	dctx, dcancel := context.WithTimeout(ctx, c.flushTimeout)
	defer dcancel()

	// Drain in-flight async saves first so the flush below is the last
	// writer and cannot be overtaken by a straggler.
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-dctx.Done():
		slog.Warn("Shutdown drain timed out; a stuck store operation may still be in flight")
	}

	// The flush gets its own budget: a drain that ate the whole deadline
	// must not leave the flush with an already-expired context.
	fctx, fcancel := context.WithTimeout(context.Background(), c.flushTimeout)
	defer fcancel()

	sessions := make([]*record.SessionRecord, 0, c.sessions.Len())
	for _, r := range c.sessions.Snapshot() {
		sessions = append(sessions, r)
	}
	if err := c.store.SaveSessions(fctx, sessions); err != nil {
		slog.Warn("Shutdown flush of sessions failed; recent writes may be lost",
			logfields.Count(len(sessions)), logfields.Error(err))
	}
	for _, p := range c.pursuits.Snapshot() {
		if err := c.store.SavePursuit(fctx, p); err != nil {
			slog.Warn("Shutdown flush of pursuit failed",
				logfields.ChaseID(p.ChaseID), logfields.Error(err))
		}
	}

	if err := c.store.Close(); err != nil {
		slog.Warn("Store close failed", logfields.Error(err))
	}
	slog.Info("State coordinator stopped", logfields.Count(len(sessions)))
}
