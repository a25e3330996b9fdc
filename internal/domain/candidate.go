package domain

import (
	"strconv"
	"time"
)

// Candidate is a URL under evaluation before it is accepted or rejected.
type Candidate struct {
	URL         string
	Title       string
	Provider    string
	Origin      string
	Query       string
	PublishedAt *time.Time
	Depth       int
}

// FetchResult is the raw payload returned by a fetcher.
type FetchResult struct {
	RequestURL  string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Extraction is what the extractor pulls out of a fetched document.
type Extraction struct {
	Title        string
	Text         string
	CanonicalURL string
	PublishedAt  *time.Time
	Media        Media
	Paywall      string
	Links        []string
}

// Score is what a scorer assigns to extracted content.
type Score struct {
	Quality   float64 `json:"quality"`
	Relevance float64 `json:"relevance"`
}

// BlockedError reports a fetch refused by crawl policy rather than by the network.
type BlockedError struct {
	URL    string
	Reason string
	Rule   string
}

func (e *BlockedError) Error() string {
	return "fetch " + e.URL + " blocked: " + e.Reason
}

// HTTPStatusError reports a non-success response status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return "fetch " + e.URL + ": unexpected status " + strconv.Itoa(e.StatusCode)
}
