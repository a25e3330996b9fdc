// Package deeplink decides whether a candidate URL is worth fetching.
//
// The filter is a pure heuristic classifier: no I/O, no shared state. Ambiguous URLs are
// accepted and left to content vetting downstream, so the rules only reject what is
// clearly not an article.
package deeplink

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"DiscoveryFeed/internal/config"
)

// Reason codes returned by Decide.
const (
	ReasonAccepted        = ""
	ReasonUnparseable     = "unparseable_url"
	ReasonExcludedHost    = "excluded_host"
	ReasonBoilerplateHost = "boilerplate_host"
	ReasonNonContent      = "non_content"
	ReasonShallowPath     = "shallow_path"
	ReasonStale           = "stale"
)

var (
	dateSegmentExpr = regexp.MustCompile(`^(19|20)\d{2}([-_/]?(0[1-9]|1[0-2]))?([-_/]?(0[1-9]|[12]\d|3[01]))?$`)
	dateInSlugExpr  = regexp.MustCompile(`(19|20)\d{2}[-_](0[1-9]|1[0-2])[-_](0[1-9]|[12]\d|3[01])`)
	numericIDExpr   = regexp.MustCompile(`^\d{5,}$`)
)

// Decision is the outcome of evaluating one URL.
type Decision struct {
	Accept bool
	Reason string
	Depth  int
}

// Filter holds the configured host lists and thresholds.
type Filter struct {
	excludedHosts    []string
	boilerplateHosts []string
	officialSuffixes []string
	contentPrefixes  map[string]struct{}
	nonContent       map[string]struct{}
	minDepth         int
	recencyMonths    int
	longSlug         int
	now              func() time.Time
}

// New builds a filter from configuration.
func New(cfg config.DeepLinkConfig) *Filter {
	f := &Filter{
		excludedHosts:    normalizeHosts(cfg.ExcludedHosts),
		boilerplateHosts: normalizeHosts(cfg.BoilerplateHosts),
		officialSuffixes: normalizeHosts(cfg.OfficialSuffixes),
		contentPrefixes:  toSet(cfg.ContentPrefixes),
		nonContent:       toSet(cfg.NonContentPatterns),
		minDepth:         cfg.MinPathDepth,
		recencyMonths:    cfg.RecencyMonths,
		longSlug:         cfg.LongSlugLength,
		now:              time.Now,
	}
	if f.minDepth <= 0 {
		f.minDepth = 2
	}
	if f.longSlug <= 0 {
		f.longSlug = 24
	}
	return f
}

// WithClock replaces the time source used for the recency window.
func (f *Filter) WithClock(now func() time.Time) *Filter {
	f.now = now
	return f
}

// Accepts reports whether the URL should be fetched. host may be empty, in which case it is
// taken from the URL.
func (f *Filter) Accepts(rawURL, host string, published *time.Time) bool {
	return f.Decide(rawURL, host, published).Accept
}

// Decide runs the full rule set and returns the reason code for a rejection.
func (f *Filter) Decide(rawURL, host string, published *time.Time) Decision {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return Decision{Reason: ReasonUnparseable}
	}
	if host == "" {
		host = u.Hostname()
	}
	host = normalizeHost(host)
	depth := segmentCount(u.Path)

	if matchesHost(host, f.excludedHosts) {
		return Decision{Reason: ReasonExcludedHost, Depth: depth}
	}
	if matchesHost(host, f.boilerplateHosts) {
		return Decision{Reason: ReasonBoilerplateHost, Depth: depth}
	}
	articleLike := f.isArticleLike(u.Path)
	if isFeedDocument(u) || (!articleLike && f.isNonContent(u)) {
		return Decision{Reason: ReasonNonContent, Depth: depth}
	}
	if !articleLike && depth < f.minDepth {
		return Decision{Reason: ReasonShallowPath, Depth: depth}
	}
	if f.Stale(host, published) {
		return Decision{Reason: ReasonStale, Depth: depth}
	}
	return Decision{Accept: true, Depth: depth}
}

// Stale reports whether published falls outside the recency window. Official hosts never go stale.
func (f *Filter) Stale(host string, published *time.Time) bool {
	if published == nil || published.IsZero() || f.recencyMonths <= 0 {
		return false
	}
	if matchesHost(normalizeHost(host), f.officialSuffixes) {
		return false
	}
	return published.Before(f.now().AddDate(0, -f.recencyMonths, 0))
}

// IsLikelyDeepLink reports whether the URL looks like a content page rather than a
// navigation or listing page.
func (f *Filter) IsLikelyDeepLink(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	if isFeedDocument(u) {
		return false
	}
	if f.isArticleLike(u.Path) {
		return true
	}
	return !f.isNonContent(u) && segmentCount(u.Path) >= f.minDepth
}

// PathDepth counts the non-empty path segments of rawURL. Unparseable URLs have depth 0.
func PathDepth(rawURL string) int {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return 0
	}
	return segmentCount(u.Path)
}

func (f *Filter) isArticleLike(p string) bool {
	segments := splitPath(p)
	if len(segments) == 0 {
		return false
	}
	if strings.EqualFold(path.Ext(p), ".pdf") {
		return true
	}
	if _, ok := f.contentPrefixes[strings.ToLower(segments[0])]; ok && len(segments) > 1 {
		return true
	}
	for _, seg := range segments {
		lower := strings.ToLower(seg)
		if dateSegmentExpr.MatchString(lower) || dateInSlugExpr.MatchString(lower) {
			return true
		}
		if numericIDExpr.MatchString(lower) {
			return true
		}
		slug := strings.TrimSuffix(lower, path.Ext(lower))
		if len(slug) >= f.longSlug && strings.Count(slug, "-")+strings.Count(slug, "_") >= 2 {
			return true
		}
	}
	return false
}

// isNonContent matches navigation and policy pages. Article-like URLs are never checked against
// it, so a dated story under /legal/ or /help/ still passes.
func (f *Filter) isNonContent(u *url.URL) bool {
	segments := splitPath(u.Path)
	for _, seg := range segments {
		name := strings.ToLower(strings.TrimSuffix(seg, path.Ext(seg)))
		if _, ok := f.nonContent[name]; ok {
			return true
		}
		// short compound slugs only: "privacy-policy", "terms-of-service"
		parts := strings.Split(name, "-")
		if len(parts) > 1 && len(parts) <= 3 {
			_, first := f.nonContent[parts[0]]
			_, last := f.nonContent[parts[len(parts)-1]]
			if first || last {
				return true
			}
		}
	}
	return false
}

func isFeedDocument(u *url.URL) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	return ext == ".xml" || ext == ".rss" || ext == ".atom"
}

func segmentCount(p string) int {
	return len(splitPath(p))
}

func splitPath(p string) []string {
	raw := strings.Split(p, "/")
	out := raw[:0]
	for _, seg := range raw {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func matchesHost(host string, list []string) bool {
	if host == "" {
		return false
	}
	for _, entry := range list {
		if strings.HasPrefix(entry, ".") {
			if strings.HasSuffix(host, entry) {
				return true
			}
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

func normalizeHosts(hosts []string) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if n := normalizeHost(h); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")
	return strings.TrimPrefix(host, "www.")
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.Trim(strings.TrimSpace(v), "/"))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
