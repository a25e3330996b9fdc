package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

const maxScoredText = 8000

// Client talks to an external ML service for quality and relevance scoring.
// Without an endpoint it falls back to a local lexical heuristic.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Scorer = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string) *Client {
	c := &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
	}
	if c.endpoint != "" {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	return c
}

// Score sends the extracted text for scoring against the plan.
func (c *Client) Score(ctx context.Context, plan domain.Plan, ext domain.Extraction) (domain.Score, error) {
	if c.http == nil {
		return Heuristic(plan, ext), nil
	}

	text := ext.Text
	if len(text) > maxScoredText {
		text = text[:maxScoredText]
	}
	payload := map[string]any{
		"title":  ext.Title,
		"text":   text,
		"topic":  plan.Topic,
		"angles": plan.Angles,
	}

	var score domain.Score
	if err := c.post(ctx, "/score", payload, &score); err != nil {
		return domain.Score{}, err
	}
	return clampScore(score), nil
}

// Heuristic scores by body length and by how many topic and angle terms the document mentions.
func Heuristic(plan domain.Plan, ext domain.Extraction) domain.Score {
	words := strings.FieldsFunc(strings.ToLower(ext.Title+" "+ext.Text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	present := make(map[string]struct{}, len(words))
	for _, w := range words {
		present[w] = struct{}{}
	}

	quality := math.Min(1, math.Log10(float64(len(words))+1)/3.5)

	terms := planTerms(plan)
	if len(terms) == 0 {
		return clampScore(domain.Score{Quality: quality, Relevance: 0.5})
	}
	hits := 0
	for _, t := range terms {
		if _, ok := present[t]; ok {
			hits++
		}
	}
	return clampScore(domain.Score{Quality: quality, Relevance: float64(hits) / float64(len(terms))})
}

func planTerms(plan domain.Plan) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, phrase := range append([]string{plan.Topic}, plan.Angles...) {
		for _, w := range strings.Fields(strings.ToLower(phrase)) {
			w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
			if len(w) < 3 {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	return out
}

func clampScore(s domain.Score) domain.Score {
	clamp := func(v float64) float64 {
		if math.IsNaN(v) || v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return math.Round(v*1000) / 1000
	}
	return domain.Score{Quality: clamp(s.Quality), Relevance: clamp(s.Relevance)}
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
