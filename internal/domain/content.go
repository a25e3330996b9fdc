package domain

import (
	"regexp"
	"time"
)

// ContentItem is a saved piece of discovered content.
type ContentItem struct {
	ID             string
	RunID          string
	PatchID        string
	Title          string
	URL            string
	CanonicalURL   string
	Text           string
	ContentHash    string
	Quality        float64
	Relevance      float64
	Angle          string
	Contested      bool
	SourceVerified bool
	PublishedAt    *time.Time
	Media          Media
	HeroID         *string
	CreatedAt      time.Time
}

// SourceURL returns the canonical URL when known, otherwise the fetched URL.
func (c ContentItem) SourceURL() string {
	if c.CanonicalURL != "" {
		return c.CanonicalURL
	}
	return c.URL
}

// Media lists image-bearing assets found during extraction.
type Media struct {
	HeroImageURL      string   `json:"hero_image_url,omitempty"`
	VideoURL          string   `json:"video_url,omitempty"`
	VideoThumbnailURL string   `json:"video_thumbnail_url,omitempty"`
	DocumentURL       string   `json:"document_url,omitempty"`
	Gallery           []string `json:"gallery,omitempty"`
}

var youtubeID = regexp.MustCompile(`(?:youtube\.com/(?:watch\?v=|embed/|shorts/)|youtu\.be/)([A-Za-z0-9_-]{11})`)

// YouTubeID extracts the 11-character video id from a YouTube watch, embed, shorts or short link.
func YouTubeID(raw string) string {
	if m := youtubeID.FindStringSubmatch(raw); len(m) == 2 {
		return m[1]
	}
	return ""
}

// VideoThumbnail returns the explicit thumbnail, or one derived from a YouTube video URL.
func (m Media) VideoThumbnail() string {
	if m.VideoThumbnailURL != "" {
		return m.VideoThumbnailURL
	}
	if id := YouTubeID(m.VideoURL); id != "" {
		return "https://img.youtube.com/vi/" + id + "/hqdefault.jpg"
	}
	return ""
}

// HeroStatus enumerates hero lifecycle states.
type HeroStatus string

const (
	HeroDraft HeroStatus = "draft"
	HeroReady HeroStatus = "ready"
	HeroError HeroStatus = "error"
)

// HeroSource names the tier that produced a hero.
type HeroSource string

const (
	HeroSourceMedia     HeroSource = "media"
	HeroSourceVideo     HeroSource = "video"
	HeroSourceDocument  HeroSource = "document"
	HeroSourceGallery   HeroSource = "gallery"
	HeroSourceGenerated HeroSource = "generated"
)

// LicenseGenerated tags synthetic covers.
const LicenseGenerated = "generated"

// Hero is the resolved representative image for a content item.
type Hero struct {
	ID              string
	ContentID       string
	Status          HeroStatus
	ImageURL        string
	DominantColor   string
	BlurPlaceholder string
	Source          HeroSource
	License         string
	LastError       string
	UpdatedAt       time.Time
}

// ImagePrompt is a text-to-image request for a synthetic hero.
type ImagePrompt struct {
	Positive string
	Negative string
	Width    int
	Height   int
	Steps    int
	CFGScale float64
	Seed     int64
}
