package audit

import (
	"sort"
	"strings"

	"DiscoveryFeed/internal/domain"
)

// Analytics statuses.
const (
	StatusOK       = "ok"
	StatusZeroSave = "zero_save"
)

// ReasonCount is one row of the rejection breakdown.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// OriginSplit counts candidates by where they came from.
type OriginSplit struct {
	Seeds   int `json:"seeds"`
	Queries int `json:"queries"`
}

// RobotsDecision is one candidate blocked by robots exclusion.
type RobotsDecision struct {
	URL  string `json:"url"`
	Rule string `json:"rule"`
}

// Precomputed lets callers pass folds they already hold; nil fields are computed.
type Precomputed struct {
	WhyRejected     []ReasonCount
	SeedsVsQueries  *OriginSplit
	RobotsDecisions []RobotsDecision
}

// Summary is the dashboard/health-check view of one run.
type Summary struct {
	RunID              string           `json:"run_id,omitempty"`
	Status             string           `json:"status"`
	Diagnostic         string           `json:"diagnostic,omitempty"`
	TotalEvents        int              `json:"total_events"`
	FailedEvents       int              `json:"failed_events"`
	Saves              int              `json:"saves"`
	WhyRejected        []ReasonCount    `json:"why_rejected"`
	SeedsVsQueries     OriginSplit      `json:"seeds_vs_queries"`
	RobotsDecisions    []RobotsDecision `json:"robots_decisions"`
	TimeToFirstSeconds *float64         `json:"time_to_first_seconds,omitempty"`
	FrontierDepth      int              `json:"frontier_depth"`
	ControversyWindow  ControversyStats `json:"controversy_window"`
	PaywallBranches    map[string]int   `json:"paywall_branches"`
	StepCounts         map[string]int   `json:"step_counts"`
	ProviderCounts     map[string]int   `json:"provider_counts"`
}

// ControversyStats reports attempts vs saves inside the contested window.
type ControversyStats struct {
	Attempts int      `json:"attempts"`
	Saves    int      `json:"saves"`
	Ratio    *float64 `json:"ratio,omitempty"`
}

// WhyRejected groups non-ok decision reasons, most frequent first.
func WhyRejected(events []domain.AuditEvent) []ReasonCount {
	counts := map[string]int{}
	for _, ev := range events {
		if ev.OK() {
			continue
		}
		if reason := ev.Reason(); reason != "" {
			counts[reason]++
		}
	}

	out := make([]ReasonCount, 0, len(counts))
	for reason, n := range counts {
		out = append(out, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

// SeedsVsQueries classifies candidate-producing events by origin.
func SeedsVsQueries(events []domain.AuditEvent) OriginSplit {
	var split OriginSplit
	for _, ev := range events {
		if ev.Step != domain.StepSeed || ev.Decision == nil {
			continue
		}
		switch ev.Decision.Origin {
		case domain.OriginSeed:
			split.Seeds++
		case domain.OriginQuery:
			split.Queries++
		}
	}
	return split
}

// RobotsDecisions lists every candidate blocked by a robots rule.
func RobotsDecisions(events []domain.AuditEvent) []RobotsDecision {
	out := make([]RobotsDecision, 0)
	for _, ev := range events {
		if !strings.HasPrefix(ev.Reason(), "robots") {
			continue
		}
		u := ev.CandidateURL
		if u == "" {
			u = ev.FinalURL
		}
		out = append(out, RobotsDecision{URL: u, Rule: ev.Decision.Rule})
	}
	return out
}

// BuildAnalytics composes the folds with run-level metrics. It never fails: an empty log or a
// run without saves yields the zero_save status.
func BuildAnalytics(events []domain.AuditEvent, metrics domain.RunMetrics, pre *Precomputed) Summary {
	if pre == nil {
		pre = &Precomputed{}
	}

	s := Summary{
		Status:          StatusOK,
		TotalEvents:     len(events),
		FrontierDepth:   metrics.FrontierDepth,
		PaywallBranches: map[string]int{},
		StepCounts:      map[string]int{},
		ProviderCounts:  map[string]int{},
	}
	if len(events) > 0 {
		s.RunID = events[0].RunID
	}

	for _, ev := range events {
		s.StepCounts[ev.Step]++
		if !ev.OK() {
			s.FailedEvents++
		}
		if ev.Step == domain.StepSave && ev.OK() {
			s.Saves++
		}
		if ev.Provider != "" {
			s.ProviderCounts[ev.Provider]++
		}
		if ev.Decision != nil && ev.Decision.Paywall != "" {
			s.PaywallBranches[ev.Decision.Paywall]++
		}
	}
	if metrics.Saves > s.Saves {
		s.Saves = metrics.Saves
	}

	s.WhyRejected = pre.WhyRejected
	if s.WhyRejected == nil {
		s.WhyRejected = WhyRejected(events)
	}
	if pre.SeedsVsQueries != nil {
		s.SeedsVsQueries = *pre.SeedsVsQueries
	} else {
		s.SeedsVsQueries = SeedsVsQueries(events)
	}
	s.RobotsDecisions = pre.RobotsDecisions
	if s.RobotsDecisions == nil {
		s.RobotsDecisions = RobotsDecisions(events)
	}

	if metrics.TimeToFirstMs != nil {
		secs := float64(*metrics.TimeToFirstMs) / 1000
		s.TimeToFirstSeconds = &secs
	}

	s.ControversyWindow = ControversyStats{Attempts: metrics.ControversyAttempts, Saves: metrics.ControversySaves}
	if metrics.ControversyAttempts > 0 {
		ratio := float64(metrics.ControversySaves) / float64(metrics.ControversyAttempts)
		s.ControversyWindow.Ratio = &ratio
	}

	if s.Saves == 0 {
		s.Status = StatusZeroSave
		s.Diagnostic = zeroSaveDiagnostic(len(events), s.WhyRejected)
	}
	return s
}

func zeroSaveDiagnostic(total int, rejected []ReasonCount) string {
	switch {
	case total == 0:
		return "no_events_recorded"
	case len(rejected) > 0:
		return "top_rejection:" + rejected[0].Reason
	default:
		return "no_saves"
	}
}
