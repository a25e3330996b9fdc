package scanner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"DiscoveryFeed/internal/domain"
)

// Category describes a concrete endpoint provided by config: a listing page, a feed or a
// search template.
type Category struct {
	Name string
	URL  string
}

// Request carries all parameters required to produce seeds for one run.
type Request struct {
	PatchID    string
	SiteName   string
	Categories []Category
	Options    map[string]string
	Plan       domain.Plan
	Since      time.Time
}

// Scanner captures a single seed strategy implementation (static, rss, arxiv, query).
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.Candidate, error)
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds a registry holding the given scanners.
func NewRegistry(scanners ...Scanner) *Registry {
	r := &Registry{scanners: map[string]Scanner{}}
	for _, s := range scanners {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}

// Names lists registered strategies, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
