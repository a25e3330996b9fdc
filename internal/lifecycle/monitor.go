package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/metrics"
	"DiscoveryFeed/internal/ports"
)

// Cleanup reasons recorded on suspended runs.
const (
	CleanupNoAuditEvents = "no_audit_events"
	CleanupInactive      = "inactive"
)

// StuckRun is a live run the monitor intends to suspend.
type StuckRun struct {
	Run         domain.Run
	Reason      string
	Age         time.Duration
	Idle        time.Duration
	LastEventAt *time.Time
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Examined  int        `json:"examined"`
	Suspended int        `json:"suspended"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	Runs      []StuckRun `json:"-"`
}

// Monitor detects runs that are old and silent, and suspends them.
type Monitor struct {
	runs    ports.RunStore
	audit   ports.AuditStore
	manager *Manager
	cfg     config.HealthConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewMonitor wires the monitor. Zero thresholds fall back to 2h and 6h.
func NewMonitor(runs ports.RunStore, audit ports.AuditStore, manager *Manager, cfg config.HealthConfig, logger *slog.Logger) *Monitor {
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = 2 * time.Hour
	}
	if cfg.InactiveAfter <= 0 {
		cfg.InactiveAfter = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{runs: runs, audit: audit, manager: manager, cfg: cfg, logger: logger, now: time.Now}
}

// FindStuckRuns lists live runs older than StuckAfter whose log is empty or idle longer than InactiveAfter.
func (m *Monitor) FindStuckRuns(ctx context.Context, now time.Time) ([]StuckRun, error) {
	cutoff := now.Add(-m.cfg.StuckAfter)
	runs, err := m.runs.ListRuns(ctx, ports.RunFilter{
		Statuses:      []domain.RunStatus{domain.RunLive},
		StartedBefore: &cutoff,
		Limit:         m.cfg.SweepLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("list live runs: %w", err)
	}

	var stuck []StuckRun
	for _, run := range runs {
		age := run.Age(now)
		if age <= m.cfg.StuckAfter {
			continue
		}
		last, err := m.audit.LastEventAt(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("last event of %s: %w", run.ID, err)
		}
		switch {
		case last == nil:
			stuck = append(stuck, StuckRun{Run: run, Reason: CleanupNoAuditEvents, Age: age, Idle: age})
		case now.Sub(*last) > m.cfg.InactiveAfter:
			stuck = append(stuck, StuckRun{Run: run, Reason: CleanupInactive, Age: age, Idle: now.Sub(*last), LastEventAt: last})
		}
	}
	return stuck, nil
}

// Sweep suspends every stuck run. Runs that changed state in the meantime are skipped,
// so re-sweeping and racing an orchestrator are both harmless.
func (m *Monitor) Sweep(ctx context.Context) (SweepReport, error) {
	now := m.now().UTC()
	stuck, err := m.FindStuckRuns(ctx, now)
	if err != nil {
		metrics.HealthSweeps.WithLabelValues("error").Inc()
		return SweepReport{}, err
	}

	report := SweepReport{Examined: len(stuck)}
	for _, s := range stuck {
		s := s
		_, changed, err := m.manager.Suspend(ctx, s.Run.ID, func(rm *domain.RunMetrics) {
			rm.CleanupReason = s.Reason
			rm.CleanupAgeMs = s.Age.Milliseconds()
			rm.CleanupIdleMs = s.Idle.Milliseconds()
			cleaned := now
			rm.CleanedAt = &cleaned
			if rm.EndReason == "" {
				rm.EndReason = "suspended:" + s.Reason
			}
		})
		switch {
		case errors.Is(err, ErrInvalidTransition):
			report.Skipped++
			metrics.HealthSweeps.WithLabelValues("skipped").Inc()
		case err != nil:
			report.Failed++
			metrics.HealthSweeps.WithLabelValues("error").Inc()
			m.logger.Error("suspend stuck run", "run_id", s.Run.ID, "error", err)
		case !changed:
			report.Skipped++
			metrics.HealthSweeps.WithLabelValues("skipped").Inc()
		default:
			report.Suspended++
			report.Runs = append(report.Runs, s)
			metrics.HealthSweeps.WithLabelValues("suspended").Inc()
			m.logger.Info("suspended stuck run",
				"run_id", s.Run.ID, "patch_id", s.Run.PatchID, "reason", s.Reason,
				"age", s.Age.Round(time.Second), "idle", s.Idle.Round(time.Second))
		}
	}
	return report, nil
}
