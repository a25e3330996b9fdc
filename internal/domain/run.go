package domain

import "time"

// RunStatus enumerates the lifecycle states of a discovery run.
type RunStatus string

const (
	RunLive      RunStatus = "live"
	RunPaused    RunStatus = "paused"
	RunSuspended RunStatus = "suspended"
	RunStopped   RunStatus = "stopped"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunSuspended || s == RunStopped
}

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunLive, RunPaused, RunSuspended, RunStopped:
		return true
	}
	return false
}

// Run is one discovery session scoped to a target collection (patch).
type Run struct {
	ID        string
	PatchID   string
	Status    RunStatus
	StartedAt time.Time
	EndedAt   *time.Time
	Metrics   RunMetrics
}

// Age returns the wall-clock age of the run at now.
func (r Run) Age(now time.Time) time.Duration {
	return now.Sub(r.StartedAt)
}

// RunMetrics is the free-form counters/timings blob persisted with a run.
type RunMetrics struct {
	TimeToFirstMs       *int64            `json:"time_to_first_ms,omitempty"`
	FrontierDepth       int               `json:"frontier_depth"`
	Attempts            int               `json:"attempts"`
	Saves               int               `json:"saves"`
	ControversyAttempts int               `json:"controversy_attempts"`
	ControversySaves    int               `json:"controversy_saves"`
	EndReason           string            `json:"end_reason,omitempty"`
	CleanupReason       string            `json:"cleanup_reason,omitempty"`
	CleanupAgeMs        int64             `json:"cleanup_age_ms,omitempty"`
	CleanupIdleMs       int64             `json:"cleanup_idle_ms,omitempty"`
	CleanedAt           *time.Time        `json:"cleaned_at,omitempty"`
	Acceptance          *AcceptanceResult `json:"acceptance,omitempty"`
	Extra               map[string]any    `json:"extra,omitempty"`
}

// Clone returns a copy that shares no pointers or maps with m.
func (m RunMetrics) Clone() RunMetrics {
	out := m
	if m.TimeToFirstMs != nil {
		v := *m.TimeToFirstMs
		out.TimeToFirstMs = &v
	}
	if m.CleanedAt != nil {
		t := *m.CleanedAt
		out.CleanedAt = &t
	}
	if m.Acceptance != nil {
		a := *m.Acceptance
		a.Failures = append([]string(nil), m.Acceptance.Failures...)
		out.Acceptance = &a
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Plan is what a planner provides for a run: topic angles, generated queries and contested claims.
type Plan struct {
	Topic           string   `json:"topic"`
	Angles          []string `json:"angles"`
	Queries         []string `json:"queries"`
	ContestedClaims []string `json:"contested_claims"`
}
