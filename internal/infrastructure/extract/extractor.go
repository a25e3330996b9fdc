// Package extract turns fetched documents into text, metadata and media references.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

const maxLinks = 200

// ErrUnsupportedContent is returned for payloads that are neither HTML nor PDF.
var ErrUnsupportedContent = errors.New("unsupported content type")

var (
	whitespace = regexp.MustCompile(`[ \t\f\r]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Extractor uses readability for the article body and goquery for page metadata.
type Extractor struct {
	strict *bluemonday.Policy
	logger *slog.Logger
}

var _ ports.Extractor = (*Extractor)(nil)

// New builds an extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{strict: bluemonday.StrictPolicy(), logger: logger}
}

// Extract dispatches on content type.
func (e *Extractor) Extract(ctx context.Context, res domain.FetchResult) (domain.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Extraction{}, err
	}

	target := res.FinalURL
	if target == "" {
		target = res.RequestURL
	}
	base, err := url.Parse(target)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("parse document url: %w", err)
	}

	ct := strings.ToLower(res.ContentType)
	switch {
	case strings.Contains(ct, "application/pdf") || strings.HasSuffix(strings.ToLower(base.Path), ".pdf"):
		return e.extractPDF(res.Body, base), nil
	case ct == "" || strings.Contains(ct, "html") || strings.Contains(ct, "xml"):
		return e.extractHTML(res.Body, base)
	default:
		return domain.Extraction{}, fmt.Errorf("%s: %w", ct, ErrUnsupportedContent)
	}
}

// extractPDF titles the document after its file name. Text is best effort; a document whose
// streams cannot be read still carries its URL for the preview tier.
func (e *Extractor) extractPDF(body []byte, base *url.URL) domain.Extraction {
	name := strings.TrimSuffix(path.Base(base.Path), path.Ext(base.Path))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	out := domain.Extraction{
		Title:        strings.TrimSpace(name),
		CanonicalURL: base.String(),
		Media:        domain.Media{DocumentURL: base.String()},
	}
	if len(body) == 0 {
		return out
	}
	text, err := pdfText(body)
	if err != nil {
		e.logger.Debug("pdf text unavailable", "url", base.String(), "error", err)
		return out
	}
	out.Text = text
	return out
}

func (e *Extractor) extractHTML(body []byte, base *url.URL) (domain.Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("parse document: %w", err)
	}

	out := domain.Extraction{
		Title:        e.clean(pageTitle(doc)),
		CanonicalURL: canonicalURL(doc, base),
		PublishedAt:  publishedAt(doc),
		Media:        collectMedia(doc, base),
		Paywall:      detectPaywall(doc),
		Links:        collectLinks(doc, base),
	}

	text, err := readableText(body, base)
	if err != nil || text == "" {
		if err != nil {
			e.logger.Debug("readability failed, falling back to paragraphs", "url", base.String(), "error", err)
		}
		text = e.paragraphText(doc)
	}
	out.Text = text
	return out, nil
}

func readableText(body []byte, base *url.URL) (string, error) {
	article, err := readability.FromReader(bytes.NewReader(body), base)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := article.RenderText(&buf); err != nil {
		return "", err
	}
	return normalize(buf.String()), nil
}

func (e *Extractor) paragraphText(doc *goquery.Document) string {
	var parts []string
	doc.Find("article p, main p, p").Each(func(_ int, s *goquery.Selection) {
		if t := e.clean(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return normalize(strings.Join(parts, "\n\n"))
}

// clean strips any markup that survived and unescapes entities.
func (e *Extractor) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(e.strict.Sanitize(s)))
}

func normalize(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankLines.ReplaceAllString(s, "\n\n"))
}

func pageTitle(doc *goquery.Document) string {
	if v := metaContent(doc, `meta[property="og:title"]`); v != "" {
		return v
	}
	if v := strings.TrimSpace(doc.Find("title").First().Text()); v != "" {
		return v
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func canonicalURL(doc *goquery.Document, base *url.URL) string {
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if abs := resolve(base, href); abs != "" {
			return abs
		}
	}
	if v := metaContent(doc, `meta[property="og:url"]`); v != "" {
		if abs := resolve(base, v); abs != "" {
			return abs
		}
	}
	return base.String()
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02", "January 2, 2006", "2 January 2006"}

func publishedAt(doc *goquery.Document) *time.Time {
	candidates := []string{
		metaContent(doc, `meta[property="article:published_time"]`),
		metaContent(doc, `meta[name="pubdate"]`),
		metaContent(doc, `meta[name="date"]`),
		metaContent(doc, `meta[itemprop="datePublished"]`),
	}
	if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
		candidates = append(candidates, v)
	}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func collectLinks(doc *goquery.Document, base *url.URL) []string {
	seen := map[string]struct{}{}
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		abs := resolve(base, href)
		if abs == "" {
			return true
		}
		if _, ok := seen[abs]; ok {
			return true
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
		return len(links) < maxLinks
	})
	return links
}

// resolve returns an absolute http(s) URL without fragment, or "".
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}
