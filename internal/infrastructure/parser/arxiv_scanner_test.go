package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/scanner"
)

func TestBuildPageURL(t *testing.T) {
	t.Parallel()

	base := "https://export.arxiv.org/list/cs.AI/pastweek"
	u, err := buildPageURL(base, 200, 100)
	if err != nil {
		t.Fatalf("buildPageURL returned error: %v", err)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}

	if parsed.Scheme != "https" || parsed.Host != "export.arxiv.org" {
		t.Fatalf("unexpected host: %s", parsed.Host)
	}

	q := parsed.Query()
	if q.Get("skip") != "200" {
		t.Fatalf("expected skip=200, got %s", q.Get("skip"))
	}
	if q.Get("show") != "100" {
		t.Fatalf("expected show=100, got %s", q.Get("show"))
	}
}

func TestParseEntry(t *testing.T) {
	t.Parallel()

	html := `
	<dl>
	  <dt>
	    <span class="list-identifier"><a href="/abs/1234.56789">arXiv:1234.56789</a></span>
	  </dt>
	  <dd>
	    <div class="list-date">Date: 8 Nov 2025</div>
	    <div class="list-title mathjax">Title: Sample Title</div>
	    <p class="mathjax">Abstract: Sample abstract text.</p>
	  </dd>
	</dl>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	entry, err := parseEntry(doc.Find("dt").First(), doc.Find("dd").First(), "arxiv-ai", "cs.AI")
	if err != nil {
		t.Fatalf("parseEntry error: %v", err)
	}

	if entry.id != "arXiv:1234.56789" {
		t.Fatalf("unexpected id: %s", entry.id)
	}
	if entry.url != "https://arxiv.org/abs/1234.56789" {
		t.Fatalf("unexpected url: %s", entry.url)
	}
	if entry.title != "Sample Title" {
		t.Fatalf("unexpected title: %s", entry.title)
	}
	if entry.source != "arxiv-ai/cs.AI" {
		t.Fatalf("unexpected source: %s", entry.source)
	}
	if entry.publishedAt.Format("2006-01-02") != "2025-11-08" {
		t.Fatalf("unexpected published date: %v", entry.publishedAt)
	}
}

func TestParseEntryWithoutLink(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<dl><dt>nothing</dt><dd></dd></dl>`))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}
	if _, err := parseEntry(doc.Find("dt").First(), doc.Find("dd").First(), "s", ""); err == nil {
		t.Fatalf("expected error for entry without link")
	}
}

func TestArxivScannerScan(t *testing.T) {
	t.Parallel()

	since := time.Date(2025, time.November, 8, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("unexpected user agent %q", ua)
		}
		_, _ = w.Write([]byte(`
		<dl>
		  <dt>
		    <span class="list-identifier"><a href="/abs/2501.00001">arXiv:2501.00001</a></span>
		  </dt>
		  <dd>
		    <div class="list-date">Date: 9 Nov 2025</div>
		    <div class="list-title mathjax">Title: Fresh Article</div>
		    <p class="mathjax">Abstract: brand new.</p>
		  </dd>
		  <dt>
		    <span class="list-identifier"><a href="/abs/2501.00002">arXiv:2501.00002</a></span>
		  </dt>
		  <dd>
		    <div class="list-date">Date: 7 Nov 2025</div>
		    <div class="list-title mathjax">Title: Old Article</div>
		    <p class="mathjax">Abstract: older.</p>
		  </dd>
		</dl>`))
	}))
	defer server.Close()

	sc := NewArxivScanner(server.Client(), "test-agent")
	sc.pageSize = 10

	req := scanner.Request{
		Since:    since,
		SiteName: "arxiv-ai",
		Categories: []scanner.Category{
			{Name: "cs.AI", URL: server.URL + "/list/cs.AI"},
		},
	}

	seeds, err := sc.Scan(context.Background(), req)
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}

	if len(seeds) != 1 {
		t.Fatalf("expected 1 seed, got %d", len(seeds))
	}
	if seeds[0].URL != "https://arxiv.org/abs/2501.00001" {
		t.Fatalf("unexpected seed url: %s", seeds[0].URL)
	}
	if seeds[0].Title != "Fresh Article" || seeds[0].Origin != domain.OriginSeed {
		t.Fatalf("unexpected seed: %+v", seeds[0])
	}
	if seeds[0].PublishedAt == nil || seeds[0].PublishedAt.Day() != 9 {
		t.Fatalf("unexpected published date: %v", seeds[0].PublishedAt)
	}
}

func TestArxivScannerRequiresCategories(t *testing.T) {
	t.Parallel()

	if _, err := NewArxivScanner(nil, "").Scan(context.Background(), scanner.Request{SiteName: "x"}); err == nil {
		t.Fatalf("expected error without categories")
	}
}
