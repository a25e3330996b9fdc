// Package preview renders document first pages through an external render service.
package preview

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"DiscoveryFeed/internal/ports"
)

const maxPreviewBytes = 10 << 20

// Renderer calls GET <endpoint>?url=<document> and expects an image back.
type Renderer struct {
	endpoint string
	client   *http.Client
}

var _ ports.PreviewRenderer = (*Renderer)(nil)

// NewRenderer builds a renderer; a nil client gets a 30s timeout.
func NewRenderer(endpoint string, client *http.Client) *Renderer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Renderer{endpoint: endpoint, client: client}
}

// RenderPreview returns the rendered first page image bytes.
func (r *Renderer) RenderPreview(ctx context.Context, documentURL string) ([]byte, error) {
	if r.endpoint == "" {
		return nil, fmt.Errorf("preview endpoint is not configured")
	}
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid preview endpoint: %w", err)
	}
	q := u.Query()
	q.Set("url", documentURL)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "image/png, image/jpeg, image/webp")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", documentURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render %s: %s", documentURL, resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("render %s: unexpected content type %q", documentURL, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPreviewBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read preview: %w", err)
	}
	if len(data) > maxPreviewBytes {
		return nil, fmt.Errorf("render %s: preview exceeds %d bytes", documentURL, maxPreviewBytes)
	}
	return data, nil
}
