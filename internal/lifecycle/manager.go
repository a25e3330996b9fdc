// Package lifecycle owns run state: the transition rules, compare-and-set writes against the
// durable store, and the periodic sweep that reclaims stuck runs.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/metrics"
	"DiscoveryFeed/internal/ports"
)

// ErrInvalidTransition is returned when the current status does not allow the requested one.
var ErrInvalidTransition = errors.New("invalid run transition")

const (
	maxCASAttempts = 5
	// metric bumps come from every worker of a run, so they contend far more than transitions
	maxMetricsAttempts = 64
)

var transitions = map[domain.RunStatus][]domain.RunStatus{
	domain.RunLive:   {domain.RunPaused, domain.RunSuspended, domain.RunStopped},
	domain.RunPaused: {domain.RunLive, domain.RunStopped},
}

// CanTransition reports whether from -> to is allowed. Nothing leaves suspended or stopped.
func CanTransition(from, to domain.RunStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Manager performs run transitions. The durable store is authoritative; cache writes are best effort.
type Manager struct {
	runs   ports.RunStore
	cache  ports.RunStateCache
	logger *slog.Logger
	now    func() time.Time
}

// NewManager wires the durable store and an optional cache.
func NewManager(runs ports.RunStore, cache ports.RunStateCache, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{runs: runs, cache: cache, logger: logger, now: time.Now}
}

// Start creates a live run for patchID.
func (m *Manager) Start(ctx context.Context, patchID string) (domain.Run, error) {
	run := domain.Run{
		ID:        uuid.NewString(),
		PatchID:   patchID,
		Status:    domain.RunLive,
		StartedAt: m.now().UTC(),
	}
	if err := m.runs.CreateRun(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}
	metrics.RunTransitions.WithLabelValues("", string(domain.RunLive)).Inc()
	m.setCache(ctx, run.PatchID, run.Status)
	return run, nil
}

// Pause moves a live run to paused.
func (m *Manager) Pause(ctx context.Context, runID string) (domain.Run, error) {
	run, _, err := m.transition(ctx, runID, domain.RunPaused, nil)
	return run, err
}

// Resume moves a paused run back to live.
func (m *Manager) Resume(ctx context.Context, runID string) (domain.Run, error) {
	run, _, err := m.transition(ctx, runID, domain.RunLive, nil)
	return run, err
}

// Stop ends a live or paused run, recording reason as end_reason.
func (m *Manager) Stop(ctx context.Context, runID, reason string) (domain.Run, error) {
	run, _, err := m.transition(ctx, runID, domain.RunStopped, func(rm *domain.RunMetrics) {
		if reason != "" {
			rm.EndReason = reason
		}
	})
	return run, err
}

// Suspend force-ends a live run. Suspending an already suspended run is a no-op.
func (m *Manager) Suspend(ctx context.Context, runID string, mutate func(*domain.RunMetrics)) (domain.Run, bool, error) {
	return m.transition(ctx, runID, domain.RunSuspended, mutate)
}

// Current reads the authoritative status of a run.
func (m *Manager) Current(ctx context.Context, runID string) (domain.RunStatus, error) {
	run, err := m.runs.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

// Get loads a run.
func (m *Manager) Get(ctx context.Context, runID string) (domain.Run, error) {
	return m.runs.GetRun(ctx, runID)
}

// UpdateMetrics applies fn to the freshest metrics blob and writes it back with compare-and-set,
// re-reading and re-applying fn when another writer changed the blob in between. fn may run
// more than once and must only depend on the metrics it is given.
func (m *Manager) UpdateMetrics(ctx context.Context, runID string, fn func(*domain.RunMetrics)) (domain.RunMetrics, error) {
	for attempt := 0; attempt < maxMetricsAttempts; attempt++ {
		run, err := m.runs.GetRun(ctx, runID)
		if err != nil {
			return domain.RunMetrics{}, err
		}
		next := run.Metrics.Clone()
		fn(&next)
		ok, err := m.runs.UpdateMetrics(ctx, runID, run.Metrics, next)
		if err != nil {
			return domain.RunMetrics{}, fmt.Errorf("update run metrics: %w", err)
		}
		if ok {
			return next, nil
		}
		if err := ctx.Err(); err != nil {
			return domain.RunMetrics{}, err
		}
	}
	return domain.RunMetrics{}, fmt.Errorf("update run metrics %s: metrics kept changing", runID)
}

// SnapshotMetrics copies metrics into the cache; failures are logged only.
func (m *Manager) SnapshotMetrics(ctx context.Context, runID string, rm domain.RunMetrics, ttl time.Duration) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SnapshotMetrics(ctx, runID, rm, ttl); err != nil {
		m.logger.Warn("snapshot run metrics", "run_id", runID, "error", err)
	}
}

// transition re-reads the run and writes the new status conditionally on the status it read.
// changed is false when the run was already in the target state.
func (m *Manager) transition(ctx context.Context, runID string, to domain.RunStatus, mutate func(*domain.RunMetrics)) (domain.Run, bool, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		run, err := m.runs.GetRun(ctx, runID)
		if err != nil {
			return domain.Run{}, false, fmt.Errorf("load run %s: %w", runID, err)
		}
		if run.Status == to {
			return run, false, nil
		}
		if !CanTransition(run.Status, to) {
			return run, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, to)
		}

		var endedAt *time.Time
		if to.Terminal() {
			t := m.now().UTC()
			endedAt = &t
		}
		ok, err := m.runs.UpdateStatus(ctx, runID, run.Status, to, endedAt)
		if err != nil {
			return domain.Run{}, false, fmt.Errorf("update run %s: %w", runID, err)
		}
		if !ok {
			continue
		}

		from := run.Status
		run.Status = to
		if endedAt != nil {
			run.EndedAt = endedAt
		}
		metrics.RunTransitions.WithLabelValues(string(from), string(to)).Inc()

		if mutate != nil {
			updated, err := m.UpdateMetrics(ctx, runID, mutate)
			if err != nil {
				m.logger.Warn("record transition metrics", "run_id", runID, "to", to, "error", err)
			} else {
				run.Metrics = updated
			}
		}
		m.setCache(ctx, run.PatchID, to)
		m.logger.Info("run transition", "run_id", runID, "patch_id", run.PatchID, "from", from, "to", to)
		return run, true, nil
	}
	return domain.Run{}, false, fmt.Errorf("update run %s: status kept changing", runID)
}

func (m *Manager) setCache(ctx context.Context, patchID string, status domain.RunStatus) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetRunState(ctx, patchID, status); err != nil {
		m.logger.Warn("cache run state", "patch_id", patchID, "status", status, "error", err)
	}
}
