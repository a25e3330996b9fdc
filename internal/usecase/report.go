package usecase

import (
	"context"
	"fmt"
	"strings"

	"DiscoveryFeed/internal/acceptance"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/metrics"
)

const digestItems = 10

// evaluate checks the run's saved set, stores the result in run metrics and sends the digest.
func (o *Orchestrator) evaluate(ctx context.Context, st *runState, m domain.RunMetrics) (domain.AcceptanceResult, error) {
	items, err := o.content.ListContentByRun(ctx, st.run.ID)
	if err != nil {
		return domain.AcceptanceResult{}, fmt.Errorf("list run content: %w", err)
	}

	var result domain.AcceptanceResult
	if o.acceptance != nil {
		result = o.acceptance.Evaluate(acceptance.Input{
			TimeToFirstMs:   m.TimeToFirstMs,
			PlannerAngles:   st.plan.Angles,
			ContestedClaims: st.plan.ContestedClaims,
			Cards:           acceptance.CardsFromContent(items),
		})
		label := "pass"
		if !result.Passes {
			label = "fail"
		}
		metrics.AcceptanceResults.WithLabelValues(label).Inc()

		if _, err := o.runs.UpdateMetrics(ctx, st.run.ID, func(rm *domain.RunMetrics) {
			r := result
			rm.Acceptance = &r
		}); err != nil {
			return result, fmt.Errorf("store acceptance: %w", err)
		}
		if !result.Passes {
			o.logger.Warn("run failed acceptance", "run_id", st.run.ID, "failures", strings.Join(result.Failures, ","))
		}
	}

	if o.notifier != nil && (len(items) > 0 || !result.Passes) {
		if err := o.notifier.PublishDigest(ctx, buildRunDigest(st, result, items)); err != nil {
			o.logger.Warn("publish run digest", "run_id", st.run.ID, "error", err)
		}
	}
	return result, nil
}

func buildRunDigest(st *runState, result domain.AcceptanceResult, items []domain.ContentItem) string {
	var b strings.Builder
	topic := st.plan.Topic
	if topic == "" {
		topic = st.run.PatchID
	}
	fmt.Fprintf(&b, "Discovery run %s (%s)\n", st.run.ID, topic)

	st.mu.Lock()
	fmt.Fprintf(&b, "Saved %d of %d attempts\n", st.saves, st.attempts)
	st.mu.Unlock()

	if result.Passes {
		b.WriteString("Acceptance: pass\n")
	} else {
		fmt.Fprintf(&b, "Acceptance: fail (%s)\n", strings.Join(result.Failures, ", "))
	}

	if len(items) > 0 {
		b.WriteString("\n")
	}
	for i, item := range items {
		if i == digestItems {
			fmt.Fprintf(&b, "... and %d more\n", len(items)-digestItems)
			break
		}
		title := item.Title
		if title == "" {
			title = item.SourceURL()
		}
		fmt.Fprintf(&b, "- %s\nQuality: %.2f Relevance: %.2f\n%s\n\n", title, item.Quality, item.Relevance, item.SourceURL())
	}
	return strings.TrimRight(b.String(), "\n")
}
