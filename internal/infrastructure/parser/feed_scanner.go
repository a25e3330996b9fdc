package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/scanner"
)

const (
	maxFeedBytes       = 4 << 20
	defaultFeedTimeout = 20 * time.Second
)

// QueryPlaceholder is replaced by the URL-escaped planner query in query search templates.
const QueryPlaceholder = "{query}"

// feedReader fetches and parses RSS/Atom/JSON feeds. Every read is bounded by timeout
// whatever the client's own settings.
type feedReader struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

func (f feedReader) read(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned %s", feedURL, resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	return feed, nil
}

func feedCandidates(feed *gofeed.Feed, provider, origin, query string, since time.Time) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published != nil && !since.IsZero() && published.Before(since) {
			continue
		}
		out = append(out, domain.Candidate{
			URL:         link,
			Title:       strings.TrimSpace(item.Title),
			Provider:    provider,
			Origin:      origin,
			Query:       query,
			PublishedAt: published,
		})
	}
	return out
}

// RSSScanner reads site feeds listed as categories.
type RSSScanner struct {
	reader feedReader
}

// NewRSSScanner builds the rss strategy.
func NewRSSScanner(client *http.Client, userAgent string) *RSSScanner {
	return &RSSScanner{reader: newFeedReader(client, userAgent)}
}

// Name identifies the strategy inside the registry.
func (s *RSSScanner) Name() string { return "rss" }

// Scan returns feed items newer than req.Since from every category feed.
func (s *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Candidate, error) {
	if len(req.Categories) == 0 {
		return nil, fmt.Errorf("no feeds provided for site %s", req.SiteName)
	}
	var out []domain.Candidate
	for _, cat := range req.Categories {
		feed, err := s.reader.read(ctx, cat.URL)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", cat.Name, err)
		}
		out = append(out, feedCandidates(feed, providerName(req.SiteName, cat.Name), domain.OriginSeed, "", req.Since)...)
	}
	return out, nil
}

// QueryScanner runs planner queries against search feeds. Each category URL is a template
// containing QueryPlaceholder.
type QueryScanner struct {
	reader     feedReader
	maxQueries int
}

// NewQueryScanner builds the query strategy.
func NewQueryScanner(client *http.Client, userAgent string) *QueryScanner {
	return &QueryScanner{reader: newFeedReader(client, userAgent), maxQueries: 12}
}

// Name identifies the strategy inside the registry.
func (s *QueryScanner) Name() string { return "query" }

// Scan expands each planner query (and each contested claim) into every search template.
// A failing query is skipped so one bad template does not lose the others.
func (s *QueryScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.Candidate, error) {
	queries := append(append([]string{}, req.Plan.Queries...), req.Plan.ContestedClaims...)
	if len(queries) > s.maxQueries {
		queries = queries[:s.maxQueries]
	}

	var (
		out      []domain.Candidate
		failures []string
	)
	for _, cat := range req.Categories {
		if !strings.Contains(cat.URL, QueryPlaceholder) {
			return nil, fmt.Errorf("category %s: search url lacks %s", cat.Name, QueryPlaceholder)
		}
		for _, q := range queries {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			feedURL := strings.ReplaceAll(cat.URL, QueryPlaceholder, url.QueryEscape(q))
			feed, err := s.reader.read(ctx, feedURL)
			if err != nil {
				failures = append(failures, err.Error())
				continue
			}
			out = append(out, feedCandidates(feed, providerName(req.SiteName, cat.Name), domain.OriginQuery, q, req.Since)...)
		}
	}
	if len(out) == 0 && len(failures) > 0 {
		return nil, fmt.Errorf("all queries failed: %s", strings.Join(failures, "; "))
	}
	return out, nil
}

// StaticScanner emits the configured category URLs as-is.
type StaticScanner struct{}

// Name identifies the strategy inside the registry.
func (StaticScanner) Name() string { return "static" }

// Scan returns one candidate per category.
func (StaticScanner) Scan(_ context.Context, req scanner.Request) ([]domain.Candidate, error) {
	out := make([]domain.Candidate, 0, len(req.Categories))
	for _, cat := range req.Categories {
		if strings.TrimSpace(cat.URL) == "" {
			continue
		}
		out = append(out, domain.Candidate{
			URL:      strings.TrimSpace(cat.URL),
			Title:    cat.Name,
			Provider: req.SiteName,
			Origin:   domain.OriginSeed,
		})
	}
	return out, nil
}

func newFeedReader(client *http.Client, userAgent string) feedReader {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if userAgent == "" {
		userAgent = "DiscoveryFeed/1.0"
	}
	return feedReader{client: client, userAgent: userAgent, timeout: defaultFeedTimeout}
}

func providerName(site, category string) string {
	if category == "" {
		return site
	}
	return site + "/" + category
}
