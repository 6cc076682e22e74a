package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/wardenlabs/wardstate/internal/coordinator"
)

// Scheduler wraps gocron for the two periodic jobs: the cache sweep and
// store maintenance. Both jobs are hygiene; no read depends on their timing.
type Scheduler struct {
	scheduler        gocron.Scheduler
	coordinator      *coordinator.Coordinator
	pursuitRetention time.Duration
}

// NewScheduler creates the scheduler with both jobs registered.
func NewScheduler(coord *coordinator.Coordinator, sweepInterval, maintInterval, pursuitRetention time.Duration) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler:        gs,
		coordinator:      coord,
		pursuitRetention: pursuitRetention,
	}

	if _, err := gs.NewJob(
		gocron.DurationJob(sweepInterval),
		gocron.NewTask(s.runSweep),
		gocron.WithName("cache-sweep"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sweep job: %w", err)
	}

	if _, err := gs.NewJob(
		gocron.DurationJob(maintInterval),
		gocron.NewTask(s.runMaintenance),
		gocron.WithName("store-maintenance"),
	); err != nil {
		return nil, fmt.Errorf("failed to create maintenance job: %w", err)
	}

	return s, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start(_ context.Context) {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}

func (s *Scheduler) runSweep() {
	s.coordinator.Sweep()
}

func (s *Scheduler) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.coordinator.Maintain(ctx, s.pursuitRetention)
}
