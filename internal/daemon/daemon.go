// Package daemon assembles the long-running wardstated process: durable
// store, state coordinator, session event consumer, periodic jobs, config
// watcher and the admin HTTP server.
package daemon

import (
	"context"
	"fmt"
	"log/slog"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/wardenlabs/wardstate/internal/config"
	"github.com/wardenlabs/wardstate/internal/coordinator"
	"github.com/wardenlabs/wardstate/internal/events"
	"github.com/wardenlabs/wardstate/internal/logfields"
	"github.com/wardenlabs/wardstate/internal/metrics"
	"github.com/wardenlabs/wardstate/internal/store"
	"github.com/wardenlabs/wardstate/internal/wserrors"
)

// OpenStore opens the durable backend the configuration selects.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, wserrors.Wrap(wserrors.CategoryStore, wserrors.SeverityFatal,
				fmt.Sprintf("open sqlite store at %s", cfg.Path), err)
		}
		return st, nil
	case config.BackendPostgres:
		st, err := store.NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, wserrors.Wrap(wserrors.CategoryStore, wserrors.SeverityFatal,
				"open postgres store", err)
		}
		return st, nil
	default:
		return nil, wserrors.New(wserrors.CategoryConfig, wserrors.SeverityFatal,
			fmt.Sprintf("unknown store backend %q", cfg.Backend))
	}
}

// Daemon owns the lifecycle of all wardstated subsystems.
type Daemon struct {
	cfg         *config.Config
	configPath  string
	coordinator *coordinator.Coordinator
	consumer    *events.Consumer
	scheduler   *Scheduler
	watcher     *ConfigWatcher
	httpServer  *HTTPServer
	registry    *prom.Registry
}

// New builds a daemon from configuration. The store must already be open;
// Start performs the remaining wiring.
func New(cfg *config.Config, configPath string, st store.Store) *Daemon {
	registry := prom.NewRegistry()
	rec := metrics.NewPrometheusRecorder(registry)

	coord := coordinator.New(st, rec, coordinator.Config{
		TTL:            cfg.Cache.TTL.Std(),
		MaxEntries:     cfg.Cache.MaxEntries,
		StaleAfter:     cfg.Cache.StaleAfter.Std(),
		HydrateTimeout: cfg.Cache.HydrateTimeout.Std(),
		FlushTimeout:   cfg.Cache.FlushTimeout.Std(),
	})

	return &Daemon{
		cfg:         cfg,
		configPath:  configPath,
		coordinator: coord,
		registry:    registry,
	}
}

// Coordinator exposes the state coordinator to callers embedding the daemon.
func (d *Daemon) Coordinator() *coordinator.Coordinator { return d.coordinator }

// Start brings up every subsystem in dependency order. A store connectivity
// failure aborts startup; everything after that is degraded-but-running.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.coordinator.Initialize(ctx); err != nil {
		return err
	}

	scheduler, err := NewScheduler(d.coordinator, d.cfg.Cache.SweepInterval.Std(),
		d.cfg.Maintenance.Interval.Std(), d.cfg.Maintenance.PursuitRetention.Std())
	if err != nil {
		return wserrors.Wrap(wserrors.CategoryDaemon, wserrors.SeverityFatal,
			"create scheduler", err)
	}
	d.scheduler = scheduler
	d.scheduler.Start(ctx)

	if d.cfg.Events.Enabled {
		consumer, err := events.NewConsumer(d.cfg.Events.NATSURL, d.cfg.Events.SubjectPrefix, d.coordinator)
		if err != nil {
			// Event delivery is a freshness optimization, not a correctness
			// dependency. Run without it.
			slog.Warn("Session event consumer unavailable; continuing without events",
				logfields.Error(err))
		} else {
			d.consumer = consumer
		}
	}

	watcher, err := NewConfigWatcher(d.configPath, d)
	if err != nil {
		slog.Warn("Config watcher unavailable; live reload disabled", logfields.Error(err))
	} else {
		d.watcher = watcher
		if err := d.watcher.Start(ctx); err != nil {
			slog.Warn("Config watcher failed to start", logfields.Error(err))
			d.watcher = nil
		}
	}

	d.httpServer = NewHTTPServer(d.cfg.Server.Addr, d.coordinator, d.registry)
	d.httpServer.Start()

	slog.Info("wardstated running",
		slog.String("backend", string(d.cfg.Store.Backend)),
		slog.String("addr", d.cfg.Server.Addr),
		slog.Bool("events", d.consumer != nil))
	return nil
}

// Stop tears subsystems down in reverse order. The coordinator goes last so
// late events and scheduled jobs still land in a live cache, and its shutdown
// flush closes the store.
func (d *Daemon) Stop(ctx context.Context) {
	if d.httpServer != nil {
		d.httpServer.Stop(ctx)
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}
	if d.consumer != nil {
		if err := d.consumer.Close(); err != nil {
			slog.Warn("Event consumer close failed", logfields.Error(err))
		}
	}
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			slog.Warn("Scheduler shutdown failed", logfields.Error(err))
		}
	}
	d.coordinator.Shutdown(ctx)
	slog.Info("wardstated stopped")
}

// ReloadConfig applies a changed configuration file. Only cache bounds take
// effect live; connection-level changes are logged as restart-required.
func (d *Daemon) ReloadConfig(newCfg *config.Config) {
	old := d.cfg

	if newCfg.Store != old.Store {
		slog.Warn("Store configuration changed; restart required to take effect")
	}
	if newCfg.Events != old.Events {
		slog.Warn("Events configuration changed; restart required to take effect")
	}
	if newCfg.Server.Addr != old.Server.Addr {
		slog.Warn("Server address changed; restart required to take effect")
	}

	if newCfg.Cache != old.Cache {
		d.coordinator.ApplyCacheLimits(newCfg.Cache.TTL.Std(), newCfg.Cache.StaleAfter.Std(),
			newCfg.Cache.MaxEntries)
		if newCfg.Cache.SweepInterval != old.Cache.SweepInterval {
			slog.Warn("Sweep interval changed; restart required to take effect")
		}
	}

	d.cfg = newCfg
	slog.Info("Configuration reloaded", logfields.Path(d.configPath))
}
