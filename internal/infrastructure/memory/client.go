// Package memory is the HTTP adapter for consumer memory APIs.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

// Client feeds content items to a consumer's memory store.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.MemoryClient = (*Client)(nil)

// NewClient builds a client from configuration.
func NewClient(cfg config.MemoryConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
	}
}

type feedRequest struct {
	ContentID   string     `json:"content_id"`
	ContentHash string     `json:"content_hash"`
	PatchID     string     `json:"patch_id"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Text        string     `json:"text"`
	Angle       string     `json:"angle,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Feed posts one item. The content hash doubles as the idempotency key, so replays return the
// original receipt. A 422 is a rejection, reported as an unaccepted receipt rather than an error.
func (c *Client) Feed(ctx context.Context, consumerID string, item domain.ContentItem) (domain.MemoryReceipt, error) {
	if c.endpoint == "" {
		return domain.MemoryReceipt{}, fmt.Errorf("memory endpoint is not configured")
	}

	body, err := json.Marshal(feedRequest{
		ContentID:   item.ID,
		ContentHash: item.ContentHash,
		PatchID:     item.PatchID,
		Title:       item.Title,
		URL:         item.SourceURL(),
		Text:        item.Text,
		Angle:       item.Angle,
		PublishedAt: item.PublishedAt,
	})
	if err != nil {
		return domain.MemoryReceipt{}, fmt.Errorf("marshal feed payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/consumers/%s/memories", c.endpoint, url.PathEscape(consumerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.MemoryReceipt{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", consumerID+":"+item.ContentHash)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.MemoryReceipt{}, fmt.Errorf("feed %s: %w", consumerID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return domain.MemoryReceipt{Accepted: false}, nil
	case resp.StatusCode >= http.StatusBadRequest:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.MemoryReceipt{}, fmt.Errorf("memory api %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var receipt domain.MemoryReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return domain.MemoryReceipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return receipt, nil
}
