package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/wardstate/internal/config"
	"github.com/wardenlabs/wardstate/internal/store"
)

func testDaemonConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Path = "test.db"
	return cfg
}

func TestNewDaemonWiresCoordinator(t *testing.T) {
	d := New(testDaemonConfig(), "wardstate.yaml", store.NewMemoryStore())
	require.NotNil(t, d.Coordinator())
	require.NoError(t, d.Coordinator().Initialize(t.Context()))

	d.Coordinator().GetOrCreate("a1", "Alice")
	assert.True(t, d.Coordinator().Diagnostics(t.Context()).StoreHealthy)
	d.Coordinator().Shutdown(t.Context())
}

func TestReloadConfigAppliesCacheLimits(t *testing.T) {
	d := New(testDaemonConfig(), "wardstate.yaml", store.NewMemoryStore())
	require.NoError(t, d.Coordinator().Initialize(t.Context()))

	newCfg := testDaemonConfig()
	newCfg.Cache.TTL = config.Duration(10 * time.Minute)
	newCfg.Cache.MaxEntries = 50
	d.ReloadConfig(newCfg)

	assert.Equal(t, 50, d.cfg.Cache.MaxEntries)
	assert.Equal(t, config.Duration(10*time.Minute), d.cfg.Cache.TTL)
	d.Coordinator().Shutdown(t.Context())
}

func TestSchedulerStartStop(t *testing.T) {
	d := New(testDaemonConfig(), "wardstate.yaml", store.NewMemoryStore())
	require.NoError(t, d.Coordinator().Initialize(t.Context()))

	s, err := NewScheduler(d.Coordinator(), time.Hour, time.Hour, time.Hour)
	require.NoError(t, err)
	s.Start(t.Context())
	require.NoError(t, s.Stop())
	d.Coordinator().Shutdown(t.Context())
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	_, err := OpenStore(t.Context(), config.StoreConfig{Backend: "etcd"})
	assert.Error(t, err)
}

func TestOpenStoreSQLite(t *testing.T) {
	st, err := OpenStore(t.Context(), config.StoreConfig{
		Backend: config.BackendSQLite,
		Path:    t.TempDir() + "/ward.db",
	})
	require.NoError(t, err)
	require.NoError(t, st.Ping(t.Context()))
	require.NoError(t, st.Close())
}
