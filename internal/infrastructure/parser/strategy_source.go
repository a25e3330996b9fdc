package parser

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
	"DiscoveryFeed/internal/scanner"
)

const defaultSinceDays = 7

// StrategySource implements SeedSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	logger   *slog.Logger
	now      func() time.Time
}

var _ ports.SeedSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sites:    sites,
		logger:   log,
		now:      time.Now,
	}
}

// Seeds runs every site configured for patchID (or for all patches) and merges the results,
// dropping repeated URLs. A failing site is logged and skipped; only a total failure is an error.
func (s *StrategySource) Seeds(ctx context.Context, patchID string, plan domain.Plan) ([]domain.Candidate, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	sites := s.sitesFor(patchID)
	s.debug("collect seeds", "patch_id", patchID, "sites", len(sites), "queries", len(plan.Queries))

	var (
		aggregated []domain.Candidate
		seen       = map[string]struct{}{}
		failures   []string
	)
	for _, site := range sites {
		strategy, err := s.registry.Resolve(site.Scanner)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", site.Name, err)
		}

		req := scanner.Request{
			PatchID:    patchID,
			SiteName:   site.Name,
			Options:    site.Options,
			Categories: toScannerCategories(site.Categories),
			Plan:       plan,
			Since:      s.now().AddDate(0, 0, -sinceDays(site.Options)),
		}

		results, err := strategy.Scan(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures = append(failures, fmt.Sprintf("%s: %v", site.Name, err))
			if s.logger != nil {
				s.logger.Warn("seed site failed", "site", site.Name, "scanner", site.Scanner, "error", err)
			}
			continue
		}

		for _, c := range results {
			if _, dup := seen[c.URL]; dup {
				continue
			}
			seen[c.URL] = struct{}{}
			if c.Provider == "" {
				c.Provider = site.Name
			}
			aggregated = append(aggregated, c)
		}
		s.debug("site produced seeds", "site", site.Name, "count", len(results))
	}

	if len(aggregated) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("every seed site failed: %s", strings.Join(failures, "; "))
	}
	s.debug("strategy source done", "total_seeds", len(aggregated))
	return aggregated, nil
}

func (s *StrategySource) sitesFor(patchID string) []config.SiteConfig {
	out := make([]config.SiteConfig, 0, len(s.sites))
	for _, site := range s.sites {
		if site.PatchID == "" || site.PatchID == patchID {
			out = append(out, site)
		}
	}
	return out
}

func sinceDays(options map[string]string) int {
	if v, ok := options["sinceDays"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultSinceDays
}

func toScannerCategories(cfg []config.CategoryConfig) []scanner.Category {
	categories := make([]scanner.Category, 0, len(cfg))
	for _, cat := range cfg {
		categories = append(categories, scanner.Category{
			Name: cat.Name,
			URL:  cat.URL,
		})
	}
	return categories
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
