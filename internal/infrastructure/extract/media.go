package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"DiscoveryFeed/internal/domain"
)

const (
	maxGallery = 6

	PaywallNone = ""
	PaywallSoft = "soft"
	PaywallHard = "hard"
)

var (
	notFreeJSONLD  = regexp.MustCompile(`"isAccessibleForFree"\s*:\s*"?(?i:false)"?`)
	paywallClasses = []string{"paywall", "subscriber-only", "premium-content", "meteredContent", "piano-offer"}
)

func collectMedia(doc *goquery.Document, base *url.URL) domain.Media {
	var m domain.Media

	for _, sel := range []string{`meta[property="og:image"]`, `meta[property="og:image:url"]`, `meta[name="twitter:image"]`} {
		if v := resolve(base, metaContent(doc, sel)); v != "" {
			m.HeroImageURL = v
			break
		}
	}

	m.VideoURL = videoURL(doc, base)
	m.VideoThumbnailURL = m.VideoThumbnail()

	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		abs := resolve(base, href)
		if abs != "" && strings.HasSuffix(strings.ToLower(strings.SplitN(abs, "?", 2)[0]), ".pdf") {
			m.DocumentURL = abs
			return false
		}
		return true
	})

	seen := map[string]struct{}{}
	doc.Find("article img[src], main img[src], figure img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		abs := resolve(base, src)
		if abs == "" || abs == m.HeroImageURL {
			return true
		}
		if _, ok := seen[abs]; ok {
			return true
		}
		seen[abs] = struct{}{}
		m.Gallery = append(m.Gallery, abs)
		return len(m.Gallery) < maxGallery
	})
	return m
}

func videoURL(doc *goquery.Document, base *url.URL) string {
	for _, sel := range []string{`meta[property="og:video"]`, `meta[property="og:video:url"]`, `meta[property="og:video:secure_url"]`} {
		if v := resolve(base, metaContent(doc, sel)); v != "" {
			return v
		}
	}
	if src, ok := doc.Find("video source[src], video[src]").First().Attr("src"); ok {
		if v := resolve(base, src); v != "" {
			return v
		}
	}
	var found string
	doc.Find("iframe[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if domain.YouTubeID(src) != "" {
			found = resolve(base, src)
			return false
		}
		return true
	})
	return found
}

func detectPaywall(doc *goquery.Document) string {
	hard := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if notFreeJSONLD.MatchString(s.Text()) {
			hard = true
			return false
		}
		return true
	})
	if hard || strings.EqualFold(metaContent(doc, `meta[name="isAccessibleForFree"]`), "false") {
		return PaywallHard
	}
	for _, cls := range paywallClasses {
		if doc.Find("[class*='"+cls+"'], [id*='"+cls+"']").Length() > 0 {
			return PaywallSoft
		}
	}
	return PaywallNone
}
