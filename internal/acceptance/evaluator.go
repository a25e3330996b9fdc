// Package acceptance validates a completed run's saved set against quality bars.
package acceptance

import (
	"fmt"
	"strings"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
)

// Failure reason codes.
const (
	FailTimeToFirstExceeded = "time_to_first_exceeded"
	FailAngleCoverage       = "angle_coverage_missing"
	FailDuplicateCanonical  = "duplicate_canonical_url"
	FailViewSource          = "view_source_failed"
	FailContestedMissing    = "contested_missing_within_window"
)

// Input is a run's final output as seen by the evaluator. Cards are in save order.
type Input struct {
	TimeToFirstMs   *int64
	PlannerAngles   []string
	ContestedClaims []string
	Cards           []domain.AcceptanceCard
}

// Evaluator checks runs against configured thresholds.
type Evaluator struct {
	ceilingMs int64
	window    int
}

// New builds an evaluator; non-positive settings fall back to 4000ms and a window of 10.
func New(cfg config.AcceptanceConfig) *Evaluator {
	e := &Evaluator{ceilingMs: cfg.TimeToFirstCeilingMs, window: cfg.ContestedWindow}
	if e.ceilingMs <= 0 {
		e.ceilingMs = 4000
	}
	if e.window <= 0 {
		e.window = 10
	}
	return e
}

// Evaluate collects every failed check. The run passes iff no failure is reported.
func (e *Evaluator) Evaluate(in Input) domain.AcceptanceResult {
	failures := make([]string, 0)

	if in.TimeToFirstMs != nil && *in.TimeToFirstMs > e.ceilingMs {
		failures = append(failures, FailTimeToFirstExceeded)
	}

	covered := make(map[string]struct{}, len(in.Cards))
	for _, card := range in.Cards {
		if angle := normalizeAngle(card.Angle); angle != "" {
			covered[angle] = struct{}{}
		}
	}
	seenAngles := make(map[string]struct{}, len(in.PlannerAngles))
	for _, angle := range in.PlannerAngles {
		key := normalizeAngle(angle)
		if key == "" {
			continue
		}
		if _, dup := seenAngles[key]; dup {
			continue
		}
		seenAngles[key] = struct{}{}
		if _, ok := covered[key]; !ok {
			failures = append(failures, fmt.Sprintf("%s:%s", FailAngleCoverage, strings.TrimSpace(angle)))
		}
	}

	counts := make(map[string]int, len(in.Cards))
	order := make([]string, 0, len(in.Cards))
	for _, card := range in.Cards {
		u := strings.TrimSpace(card.CanonicalURL)
		if u == "" {
			continue
		}
		if counts[u] == 0 {
			order = append(order, u)
		}
		counts[u]++
	}
	for _, u := range order {
		if counts[u] > 1 {
			failures = append(failures, fmt.Sprintf("%s:%s", FailDuplicateCanonical, u))
		}
	}

	for _, card := range in.Cards {
		if !card.SourceVerified {
			failures = append(failures, FailViewSource)
			break
		}
	}

	if hasClaims(in.ContestedClaims) {
		limit := e.window
		if limit > len(in.Cards) {
			limit = len(in.Cards)
		}
		found := false
		for _, card := range in.Cards[:limit] {
			if card.Contested {
				found = true
				break
			}
		}
		if !found {
			failures = append(failures, FailContestedMissing)
		}
	}

	return domain.AcceptanceResult{Passes: len(failures) == 0, Failures: failures}
}

// CardsFromContent builds ephemeral cards from saved content in save order.
func CardsFromContent(items []domain.ContentItem) []domain.AcceptanceCard {
	cards := make([]domain.AcceptanceCard, 0, len(items))
	for _, item := range items {
		cards = append(cards, domain.AcceptanceCard{
			ID:             item.ID,
			CanonicalURL:   item.SourceURL(),
			Angle:          item.Angle,
			SourceVerified: item.SourceVerified,
			Contested:      item.Contested,
		})
	}
	return cards
}

func normalizeAngle(angle string) string {
	return strings.ToLower(strings.TrimSpace(angle))
}

func hasClaims(claims []string) bool {
	for _, c := range claims {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}
