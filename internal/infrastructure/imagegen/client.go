// Package imagegen calls a Stable Diffusion compatible txt2img service for synthetic hero images.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

const (
	txt2imgPath     = "/sdapi/v1/txt2img"
	maxResponseSize = 32 << 20
)

// Client posts prompts to <endpoint>/sdapi/v1/txt2img and decodes the first returned image.
type Client struct {
	endpoint string
	http     *http.Client
}

var _ ports.ImageGenerator = (*Client)(nil)

type txt2imgRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	Steps          int     `json:"steps,omitempty"`
	CFGScale       float64 `json:"cfg_scale,omitempty"`
	Seed           int64   `json:"seed"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

// NewClient builds a generator client; a nil client gets a 2 minute timeout since sampling is slow.
func NewClient(endpoint string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{endpoint: strings.TrimSuffix(endpoint, "/"), http: client}
}

// Generate returns the decoded bytes of the first image in the response.
func (c *Client) Generate(ctx context.Context, prompt domain.ImagePrompt) ([]byte, error) {
	if c.endpoint == "" {
		return nil, errors.New("image generator endpoint is not configured")
	}
	if strings.TrimSpace(prompt.Positive) == "" {
		return nil, errors.New("empty prompt")
	}

	body, err := json.Marshal(txt2imgRequest{
		Prompt:         prompt.Positive,
		NegativePrompt: prompt.Negative,
		Width:          prompt.Width,
		Height:         prompt.Height,
		Steps:          prompt.Steps,
		CFGScale:       prompt.CFGScale,
		Seed:           prompt.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+txt2imgPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var out txt2imgResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Images) == 0 || out.Images[0] == "" {
		return nil, errors.New("generator returned no images")
	}
	return decodeImage(out.Images[0])
}

// decodeImage accepts bare base64 or a data URI.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ";base64,")
		if i < 0 {
			return nil, errors.New("image data uri is not base64")
		}
		s = s[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("generator returned an empty image")
	}
	return data, nil
}
