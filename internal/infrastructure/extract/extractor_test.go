package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/logging"
)

const articleHTML = `<!doctype html>
<html><head>
<title>Fallback title</title>
<meta property="og:title" content="Grid storage &amp; the winter peak">
<meta property="og:image" content="/img/hero.jpg">
<meta property="article:published_time" content="2026-02-10T08:30:00Z">
<link rel="canonical" href="https://example.com/news/2026/grid-storage">
</head><body>
<nav><a href="/about">About</a></nav>
<article>
<h1>Grid storage and the winter peak</h1>
<p>Utilities across the region leaned on battery storage during the coldest week of the year, a first for several operators.</p>
<p>Operators said the batteries covered the evening ramp while gas plants struggled with frozen supply lines and delayed deliveries.</p>
<p>Analysts cautioned that the fleet is still small relative to peak demand and that longer duration storage remains expensive.</p>
<figure><img src="/img/chart.png"></figure>
<iframe src="https://www.youtube.com/embed/dQw4w9WgXcQ"></iframe>
<p>The full report is <a href="/files/winter-report.pdf">available here</a>, with a <a href="https://other.example.org/analysis#top">companion analysis</a>.</p>
</article>
</body></html>`

func TestExtractHTML(t *testing.T) {
	t.Parallel()

	e := New(logging.Discard())
	ext, err := e.Extract(context.Background(), domain.FetchResult{
		RequestURL:  "https://example.com/old-link",
		FinalURL:    "https://example.com/news/2026/grid-storage?utm=1",
		ContentType: "text/html; charset=utf-8",
		Body:        []byte(articleHTML),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if ext.Title != "Grid storage & the winter peak" {
		t.Fatalf("unexpected title %q", ext.Title)
	}
	if ext.CanonicalURL != "https://example.com/news/2026/grid-storage" {
		t.Fatalf("unexpected canonical %q", ext.CanonicalURL)
	}
	if ext.PublishedAt == nil || ext.PublishedAt.Year() != 2026 || ext.PublishedAt.Month() != 2 {
		t.Fatalf("unexpected published date %v", ext.PublishedAt)
	}
	if !strings.Contains(ext.Text, "battery storage") {
		t.Fatalf("expected article text, got %q", ext.Text)
	}
	if ext.Media.HeroImageURL != "https://example.com/img/hero.jpg" {
		t.Fatalf("unexpected hero image %q", ext.Media.HeroImageURL)
	}
	if ext.Media.DocumentURL != "https://example.com/files/winter-report.pdf" {
		t.Fatalf("unexpected document %q", ext.Media.DocumentURL)
	}
	if ext.Media.VideoThumbnailURL != "https://img.youtube.com/vi/dQw4w9WgXcQ/hqdefault.jpg" {
		t.Fatalf("unexpected video thumbnail %q", ext.Media.VideoThumbnailURL)
	}
	if len(ext.Media.Gallery) != 1 || ext.Media.Gallery[0] != "https://example.com/img/chart.png" {
		t.Fatalf("unexpected gallery %v", ext.Media.Gallery)
	}
	if ext.Paywall != PaywallNone {
		t.Fatalf("unexpected paywall %q", ext.Paywall)
	}

	var sawCompanion bool
	for _, l := range ext.Links {
		if l == "https://other.example.org/analysis" {
			sawCompanion = true
		}
	}
	if !sawCompanion {
		t.Fatalf("expected fragment-free companion link in %v", ext.Links)
	}
}

func TestExtractPaywall(t *testing.T) {
	t.Parallel()

	e := New(logging.Discard())
	hard := `<html><head><script type="application/ld+json">{"@type":"NewsArticle","isAccessibleForFree": false}</script></head><body><p>x</p></body></html>`
	soft := `<html><body><div class="article-paywall-banner">Subscribe</div><p>x</p></body></html>`

	for name, tc := range map[string]struct {
		body string
		want string
	}{
		"hard": {hard, PaywallHard},
		"soft": {soft, PaywallSoft},
	} {
		ext, err := e.Extract(context.Background(), domain.FetchResult{FinalURL: "https://example.com/a", ContentType: "text/html", Body: []byte(tc.body)})
		if err != nil {
			t.Fatalf("%s: Extract: %v", name, err)
		}
		if ext.Paywall != tc.want {
			t.Fatalf("%s: expected paywall %q, got %q", name, tc.want, ext.Paywall)
		}
	}
}

func TestExtractPDF(t *testing.T) {
	t.Parallel()

	e := New(logging.Discard())
	ext, err := e.Extract(context.Background(), domain.FetchResult{
		FinalURL:    "https://agency.gov/reports/annual_energy-review.pdf",
		ContentType: "application/pdf",
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ext.Media.DocumentURL != "https://agency.gov/reports/annual_energy-review.pdf" {
		t.Fatalf("unexpected document url %q", ext.Media.DocumentURL)
	}
	if ext.Title != "annual energy review" {
		t.Fatalf("unexpected title %q", ext.Title)
	}
}

func TestExtractUnsupported(t *testing.T) {
	t.Parallel()

	e := New(logging.Discard())
	_, err := e.Extract(context.Background(), domain.FetchResult{FinalURL: "https://example.com/a.zip", ContentType: "application/zip"})
	if !errors.Is(err, ErrUnsupportedContent) {
		t.Fatalf("expected ErrUnsupportedContent, got %v", err)
	}
}

func TestContentStreamText(t *testing.T) {
	t.Parallel()

	stream := []byte(`BT
/F1 12 Tf 72 712 Td
(Grid storage \(2024\) review) Tj
0 -14 Td
[(Batt)-20(eries)-300(doubled)] TJ
% comment (ignored) Tj
<48656C6C6F> Tj
(caf\351) Tj
ET`)
	got := contentStreamText(stream)
	for _, want := range []string{"Grid storage (2024) review", "Batteries doubled", "caf\xe9"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in %q", want, got)
		}
	}
	if strings.Contains(got, "ignored") {
		t.Fatalf("comment leaked into text: %q", got)
	}
}

func TestExtractUnreadablePDFKeepsDocument(t *testing.T) {
	t.Parallel()

	e := New(logging.Discard())
	ext, err := e.Extract(context.Background(), domain.FetchResult{
		FinalURL:    "https://agency.gov/files/annual-energy-report.pdf",
		ContentType: "application/pdf",
		Body:        []byte("%PDF-1.4 truncated"),
	})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ext.Text != "" {
		t.Fatalf("expected no text from a truncated pdf, got %q", ext.Text)
	}
	if ext.Media.DocumentURL == "" || ext.Title != "annual energy report" {
		t.Fatalf("document metadata lost: %+v", ext)
	}
}
