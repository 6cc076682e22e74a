package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/wardstate/internal/record"
	"github.com/wardenlabs/wardstate/internal/store"
)

func testConfig() Config {
	return Config{
		TTL:            5 * time.Minute,
		MaxEntries:     1000,
		StaleAfter:     time.Minute,
		HydrateTimeout: 2 * time.Second,
		FlushTimeout:   2 * time.Second,
	}
}

func newTestCoordinator(t *testing.T, st store.Store) *Coordinator {
	t.Helper()
	c := New(st, nil, testConfig())
	require.NoError(t, c.Initialize(t.Context()))
	return c
}

// drain waits for all dispatched async store operations to finish.
func (c *Coordinator) drain() { c.wg.Wait() }

// slowStore delays session loads to simulate storage latency.
type slowStore struct {
	*store.MemoryStore
	delay time.Duration
}

func (s *slowStore) sleep(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *slowStore) LoadSession(ctx context.Context, id string) (*record.SessionRecord, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	return s.MemoryStore.LoadSession(ctx, id)
}

func (s *slowStore) LoadAllSessions(ctx context.Context) ([]*record.SessionRecord, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, err
	}
	return s.MemoryStore.LoadAllSessions(ctx)
}

// failStore rejects session saves.
type failStore struct {
	*store.MemoryStore
	fails atomic.Int64
}

func (s *failStore) SaveSession(context.Context, *record.SessionRecord) error {
	s.fails.Add(1)
	return errors.New("disk on fire")
}

func TestGetReturnsDefaultWithoutWaiting(t *testing.T) {
	st := &slowStore{MemoryStore: store.NewMemoryStore(), delay: 300 * time.Millisecond}
	c := newTestCoordinator(t, st)

	start := time.Now()
	r := c.Get("unknown")
	elapsed := time.Since(start)

	require.NotNil(t, r)
	assert.Equal(t, "unknown", r.ActorID)
	assert.False(t, r.OnDuty)
	// The read must not have waited on the slow store.
	assert.Less(t, elapsed, 100*time.Millisecond)
	c.drain()
}

func TestReadYourWrites(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore())

	r := c.GetOrCreate("a1", "Alice")
	r.WantedLevel = 2
	r.WantedExpiry = time.Now().Add(time.Hour).UnixMilli()
	r.TotalArrests = 3
	c.Save(r)

	got := c.Get("a1")
	assert.Equal(t, 2, got.WantedLevel)
	assert.Equal(t, 3, got.TotalArrests)
	assert.Equal(t, "Alice", got.Name)
	c.drain()
}

func TestGetOrCreateColdDefault(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestCoordinator(t, st)

	r := c.GetOrCreate("new1", "Alice")
	assert.Equal(t, "Alice", r.Name)
	assert.False(t, r.OnDuty)
	assert.Equal(t, 0, r.WantedLevel)
	assert.Equal(t, 0, r.TotalArrests)

	// Visible to a concurrent get from another context.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		got := c.Get("new1")
		assert.Equal(t, "new1", got.ActorID)
		assert.Equal(t, "Alice", got.Name)
	}()
	wg.Wait()

	// The default reaches the store.
	c.drain()
	stored, err := st.LoadSession(t.Context(), "new1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.Name)
}

func TestGetOrCreatePrefersStoredRecord(t *testing.T) {
	st := store.NewMemoryStore()
	seeded := record.NewSession("a1", "Alice")
	seeded.TotalArrests = 9
	require.NoError(t, st.SaveSession(t.Context(), seeded))

	c := New(st, nil, testConfig())
	require.NoError(t, c.Initialize(t.Context()))

	// Hydrated at boot, so the stored counters are there immediately.
	got := c.GetOrCreate("a1", "Alice")
	assert.Equal(t, 9, got.TotalArrests)
	c.drain()
}

func TestSaveFailureKeepsCacheAuthoritative(t *testing.T) {
	st := &failStore{MemoryStore: store.NewMemoryStore()}
	c := newTestCoordinator(t, st)

	r := c.GetOrCreate("a1", "Alice")
	r.TotalViolations = 5
	c.Save(r)
	c.drain()

	assert.Greater(t, st.fails.Load(), int64(0))
	// The cache value survives the persistence failure.
	assert.Equal(t, 5, c.Get("a1").TotalViolations)
	assert.False(t, c.StoreHealthy())
}

func TestDeleteRemovesFromCacheAndStore(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestCoordinator(t, st)

	c.Save(record.NewSession("a1", "Alice"))
	c.drain()
	c.Delete("a1")
	c.drain()

	if _, err := st.LoadSession(t.Context(), "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected store delete, got %v", err)
	}
	// A fresh get yields a default again.
	assert.Equal(t, 0, c.Get("a1").TotalArrests)
}

func TestInitializeHydratesExistingRecords(t *testing.T) {
	st := store.NewMemoryStore()
	seeded := record.NewSession("a1", "Alice")
	seeded.TotalArrests = 4
	require.NoError(t, st.SaveSession(t.Context(), seeded))

	c := newTestCoordinator(t, st)
	assert.Equal(t, 4, c.Get("a1").TotalArrests)
	assert.InDelta(t, 1.0, c.HitRate(), 0.001)
}

func TestInitializeHydrationTimeout(t *testing.T) {
	st := &slowStore{MemoryStore: store.NewMemoryStore(), delay: time.Second}
	seeded := record.NewSession("a1", "Alice")
	require.NoError(t, st.MemoryStore.SaveSession(t.Context(), seeded))

	cfg := testConfig()
	cfg.HydrateTimeout = 50 * time.Millisecond
	c := New(st, nil, cfg)

	start := time.Now()
	err := c.Initialize(t.Context())
	require.NoError(t, err, "hydration timeout must not fail startup")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	// Cache is simply empty at this point.
	assert.Equal(t, 0, c.Diagnostics(t.Context()).SessionCacheSize)
}

func TestInitializeFatalWhenStoreUnreachable(t *testing.T) {
	st := &pingFailStore{MemoryStore: store.NewMemoryStore()}
	c := New(st, nil, testConfig())
	err := c.Initialize(t.Context())
	require.Error(t, err)
}

type pingFailStore struct {
	*store.MemoryStore
}

func (s *pingFailStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestShutdownFlushSurvivesRestart(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestCoordinator(t, st)

	ids := []string{"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9"}
	for i, id := range ids {
		r := c.GetOrCreate(id, "actor-"+id)
		r.TotalArrests = i + 1
		c.Save(r)
	}
	c.Shutdown(t.Context())

	c2 := New(st, nil, testConfig())
	require.NoError(t, c2.Initialize(t.Context()))
	for i, id := range ids {
		got := c2.Get(id)
		assert.Equal(t, i+1, got.TotalArrests, "id %s", id)
	}
	assert.True(t, st.Closed())
}

// stuckSaveStore blocks single-record saves until released; batch saves
// pass through.
type stuckSaveStore struct {
	*store.MemoryStore
	release chan struct{}
}

func (s *stuckSaveStore) SaveSession(ctx context.Context, r *record.SessionRecord) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return s.MemoryStore.SaveSession(ctx, r)
}

func TestShutdownFlushesDespiteStuckSave(t *testing.T) {
	st := &stuckSaveStore{MemoryStore: store.NewMemoryStore(), release: make(chan struct{})}
	defer close(st.release)

	cfg := testConfig()
	cfg.FlushTimeout = 100 * time.Millisecond
	c := New(st, nil, cfg)
	require.NoError(t, c.Initialize(t.Context()))

	r := c.GetOrCreate("a1", "Alice")
	r.TotalArrests = 7
	c.Save(r)

	// The drain times out on the stuck async saves; the flush still runs
	// on its own budget and lands the cached value.
	c.Shutdown(t.Context())

	stored, err := st.MemoryStore.LoadSession(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 7, stored.TotalArrests)
}

// failingPursuitStore rejects every pursuit save and records the attempts.
type failingPursuitStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	attempts []string
}

func (s *failingPursuitStore) SavePursuit(_ context.Context, p *record.PursuitRecord) error {
	s.mu.Lock()
	s.attempts = append(s.attempts, p.ChaseID)
	s.mu.Unlock()
	return errors.New("disk full")
}

func TestShutdownFlushesAllPursuitsPastFailures(t *testing.T) {
	st := &failingPursuitStore{MemoryStore: store.NewMemoryStore()}
	c := newTestCoordinator(t, st)

	p1, err := c.StartPursuit("guard1", "target1", time.Hour)
	require.NoError(t, err)
	p2, err := c.StartPursuit("guard2", "target2", time.Hour)
	require.NoError(t, err)
	c.drain()

	st.mu.Lock()
	before := len(st.attempts)
	st.mu.Unlock()

	// One failed pursuit save must not abandon the rest of the flush.
	c.Shutdown(t.Context())

	st.mu.Lock()
	flushed := append([]string(nil), st.attempts[before:]...)
	st.mu.Unlock()
	assert.ElementsMatch(t, []string{p1.ChaseID, p2.ChaseID}, flushed)
}

func TestShutdownConcurrentWithSaves(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.Save(record.NewSession(fmt.Sprintf("a%d", n), ""))
				}
			}
		}(i)
	}

	time.Sleep(10 * time.Millisecond)
	c.Shutdown(t.Context())
	close(stop)
	wg.Wait()
}

func TestSweepEvictsIdleAndRehydrates(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestCoordinator(t, st)

	var clock atomic.Int64
	clock.Store(time.Now().UnixMilli())
	c.now = func() time.Time { return time.UnixMilli(clock.Load()) }

	r := c.GetOrCreate("a1", "Alice")
	c.drain()
	r.TotalArrests = 6
	c.Save(r)
	c.drain()

	// Advance past the TTL; the sweep evicts the idle entry.
	clock.Add((6 * time.Minute).Milliseconds())
	c.Sweep()
	c.drain()
	assert.Equal(t, 0, c.sessions.Len())

	// The next get serves a default immediately and rehydrates behind it.
	got := c.Get("a1")
	assert.Equal(t, 0, got.TotalArrests)
	c.drain()

	touched, ok := c.sessions.LastTouched("a1")
	require.True(t, ok, "rehydration must repopulate the cache")
	assert.Equal(t, clock.Load(), touched.UnixMilli())
	assert.Equal(t, 6, c.Get("a1").TotalArrests)
}

func TestSweepClearsExpiredWanted(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestCoordinator(t, st)

	var clock atomic.Int64
	clock.Store(time.Now().UnixMilli())
	c.now = func() time.Time { return time.UnixMilli(clock.Load()) }

	r := c.GetOrCreate("a1", "Alice")
	c.drain()
	r.SetWanted(3, time.Minute, "theft", c.now())
	c.Save(r)
	c.drain()

	clock.Add((2 * time.Minute).Milliseconds())
	// Lazily already not wanted, even before any sweep.
	assert.False(t, c.IsWanted("a1"))

	c.Sweep()
	c.drain()

	// Hygiene: the cleared level reached both cache and store.
	assert.Equal(t, 0, c.Get("a1").WantedLevel)
	stored, err := st.LoadSession(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.WantedLevel)
}

func TestStalenessTriggersBackgroundRefresh(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestCoordinator(t, st)

	var clock atomic.Int64
	clock.Store(time.Now().UnixMilli())
	c.now = func() time.Time { return time.UnixMilli(clock.Load()) }

	r := c.GetOrCreate("a1", "Alice")
	c.drain()
	c.Save(r)
	c.drain()

	// Mutate the store behind the cache's back.
	behind := r.Clone()
	behind.TotalKills = 3
	require.NoError(t, st.SaveSession(t.Context(), behind))

	// Within the staleness window the cached value is served as-is.
	assert.Equal(t, 0, c.Get("a1").TotalKills)

	clock.Add((2 * time.Minute).Milliseconds())
	stale := c.Get("a1")
	// Still served immediately (possibly stale)...
	assert.Equal(t, 0, stale.TotalKills)
	c.drain()
	// ...and refreshed behind the caller.
	assert.Equal(t, 3, c.Get("a1").TotalKills)
}

func TestReleaseFlushesAndEvicts(t *testing.T) {
	st := store.NewMemoryStore()
	c := newTestCoordinator(t, st)

	r := c.GetOrCreate("a1", "Alice")
	c.drain()
	r.TotalDutyTime = 120_000
	c.Save(r)
	c.Release("a1")
	c.drain()

	assert.Equal(t, 0, c.sessions.Len())
	stored, err := st.LoadSession(t.Context(), "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(120_000), stored.TotalDutyTime)
}

func TestHitRate(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore())
	c.GetOrCreate("a1", "Alice") // miss
	c.Get("a1")                  // hit
	c.Get("a1")                  // hit
	c.Get("ghost")               // miss
	assert.InDelta(t, 0.5, c.HitRate(), 0.001)
	c.drain()
}
