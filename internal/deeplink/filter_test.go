package deeplink

import (
	"testing"
	"time"

	"DiscoveryFeed/internal/config"
)

func newTestFilter() *Filter {
	now := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	return New(config.Default().DeepLink).WithClock(func() time.Time { return now })
}

func TestPathDepth(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"https://example.com/a/b":       2,
		"https://example.com/":          0,
		"https://example.com":           0,
		"https://example.com//a///b/c/": 3,
	}
	for raw, want := range cases {
		if got := PathDepth(raw); got != want {
			t.Fatalf("PathDepth(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestIsLikelyDeepLink(t *testing.T) {
	t.Parallel()

	f := newTestFilter()
	cases := map[string]bool{
		"https://example.com/":                                 false,
		"https://example.com/files/report.pdf":                 true,
		"https://example.com/report.pdf":                       true,
		"https://example.com/news":                             false,
		"https://example.com/news/climate-deal-reached":        true,
		"https://example.com/2024/05/12/story":                 true,
		"https://example.com/why-the-grid-needs-storage-today": true,
		"https://example.com/privacy-policy":                   false,
		"https://example.com/about":                            false,
	}
	for raw, want := range cases {
		if got := f.IsLikelyDeepLink(raw); got != want {
			t.Fatalf("IsLikelyDeepLink(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestAcceptsRejectsExcludedHosts(t *testing.T) {
	t.Parallel()

	f := newTestFilter()
	urls := []string{
		"https://en.wikipedia.org/wiki/Battery_storage_power_station",
		"https://wikipedia.org/wiki/Grid",
		"https://www.wikiwand.com/en/articles/Energy_storage/2024/05/long-read",
	}
	for _, raw := range urls {
		if f.Accepts(raw, "", nil) {
			t.Fatalf("expected %s to be rejected", raw)
		}
		if d := f.Decide(raw, "", nil); d.Reason != ReasonExcludedHost {
			t.Fatalf("expected excluded_host for %s, got %q", raw, d.Reason)
		}
	}
}

func TestDecideReasons(t *testing.T) {
	t.Parallel()

	f := newTestFilter()
	old := time.Date(2022, time.January, 10, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, time.December, 10, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name      string
		url       string
		published *time.Time
		want      string
	}{
		{"non content", "https://example.com/legal/terms", nil, ReasonNonContent},
		{"cookie page", "https://example.com/help/cookie-policy", nil, ReasonNonContent},
		{"sitemap", "https://example.com/sitemap.xml", nil, ReasonNonContent},
		{"boilerplate host", "https://twitter.com/someone/status/123456789", nil, ReasonBoilerplateHost},
		{"shallow", "https://example.com/topics", nil, ReasonShallowPath},
		{"stale", "https://example.com/news/old-battery-news", &old, ReasonStale},
		{"recent", "https://example.com/news/new-battery-news", &recent, ReasonAccepted},
		{"official stays", "https://energy.gov/articles/grid-storage-report", &old, ReasonAccepted},
		{"intl org", "https://www.who.int/news/item/air-quality-update", &old, ReasonAccepted},
		{"unparseable", "::not a url", nil, ReasonUnparseable},
	}

	for _, tc := range cases {
		d := f.Decide(tc.url, "", tc.published)
		if d.Reason != tc.want {
			t.Fatalf("%s: Decide(%q) reason = %q, want %q", tc.name, tc.url, d.Reason, tc.want)
		}
		if (tc.want == ReasonAccepted) != d.Accept {
			t.Fatalf("%s: accept = %v for reason %q", tc.name, d.Accept, d.Reason)
		}
	}
}

func TestAmbiguousURLsAreAccepted(t *testing.T) {
	t.Parallel()

	f := newTestFilter()
	// two segments, no article signal: deferred to content vetting
	if !f.Accepts("https://example.org/section/item", "", nil) {
		t.Fatalf("expected ambiguous two-segment URL to be accepted")
	}
	// slug containing a content word is not mistaken for a boilerplate page
	if !f.Accepts("https://example.org/news/feed-the-world-programme-expands-to-new-regions", "", nil) {
		t.Fatalf("expected long slug to be accepted")
	}
}

func TestDatedArticlesUnderSectionPathsAreAccepted(t *testing.T) {
	t.Parallel()

	f := newTestFilter()
	cases := map[string]bool{
		"https://www.reuters.com/legal/litigation/judge-blocks-merger-of-grid-operators-2024-05-01/": true,
		"https://example.com/news/2024/05/01/cookie-recipes":                                        true,
		"https://example.com/help/2024/03/how-we-audited-grid-storage-claims":                       true,
		"https://example.com/legal/privacy-policy":                                                  false,
		"https://example.com/news/2024/05/feed.xml":                                                 false,
	}
	for raw, want := range cases {
		d := f.Decide(raw, "", nil)
		if d.Accept != want {
			t.Fatalf("Decide(%q) = %v (%s), want %v", raw, d.Accept, d.Reason, want)
		}
		if !want && d.Reason != ReasonNonContent {
			t.Fatalf("Decide(%q) reason = %q, want %q", raw, d.Reason, ReasonNonContent)
		}
		if f.IsLikelyDeepLink(raw) != want {
			t.Fatalf("IsLikelyDeepLink(%q) = %v, want %v", raw, !want, want)
		}
	}
}

func TestStale(t *testing.T) {
	t.Parallel()

	f := newTestFilter()
	old := time.Date(2022, time.January, 10, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, time.December, 10, 0, 0, 0, 0, time.UTC)

	if !f.Stale("example.com", &old) {
		t.Fatal("expected old document to be stale")
	}
	if f.Stale("example.com", &recent) {
		t.Fatal("recent document reported stale")
	}
	if f.Stale("example.com", nil) {
		t.Fatal("undated document reported stale")
	}
	if f.Stale("www.energy.gov", &old) {
		t.Fatal("official host reported stale")
	}
}
