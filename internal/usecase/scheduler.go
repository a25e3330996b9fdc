package usecase

import (
	"context"
	"log/slog"
	"time"

	"DiscoveryFeed/internal/lifecycle"
	"DiscoveryFeed/internal/ports"
)

// Sweeper runs one health sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (lifecycle.SweepReport, error)
}

// Scheduler wires the cron-like driver with the run health sweep.
type Scheduler struct {
	driver  ports.Scheduler
	sweeper Sweeper
	logger  *slog.Logger
}

// NewScheduler returns a helper to start/stop the recurring health sweep.
func NewScheduler(driver ports.Scheduler, sweeper Sweeper, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{driver: driver, sweeper: sweeper, logger: logger}
}

// Start registers the sweep with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.sweeper == nil {
		return nil
	}

	job := func(trigger time.Time) {
		report, err := s.sweeper.Sweep(ctx)
		if err != nil {
			s.logger.Error("health sweep failed", "trigger", trigger, "error", err)
			return
		}
		if report.Suspended > 0 || report.Failed > 0 {
			s.logger.Info("health sweep", "examined", report.Examined, "suspended", report.Suspended, "failed", report.Failed)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
