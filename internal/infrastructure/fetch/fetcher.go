// Package fetch retrieves candidate documents politely: bounded time, bounded size,
// one token bucket per host and robots.txt honoured when configured.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

// HTTPFetcher implements ports.Fetcher over net/http.
type HTTPFetcher struct {
	client        *http.Client
	timeout       time.Duration
	userAgent     string
	maxBodyBytes  int64
	respectRobots bool
	limiter       *hostLimiter
	robots        *robotsCache
	logger        *slog.Logger
}

var _ ports.Fetcher = (*HTTPFetcher)(nil)

// New wires a fetcher from discovery settings. A nil client gets a default transport.
func New(cfg config.DiscoveryConfig, client *http.Client, logger *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "DiscoveryFeed/1.0"
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	return &HTTPFetcher{
		client:        client,
		timeout:       timeout,
		userAgent:     ua,
		maxBodyBytes:  maxBody,
		respectRobots: cfg.ObeysRobots(),
		limiter:       newHostLimiter(cfg.PerHostRPS),
		robots:        newRobotsCache(client, ua, logger),
		logger:        logger,
	}
}

// Fetch GETs rawURL. Non-2xx responses return the partial result together with a *domain.HTTPStatusError,
// robots refusals a *domain.BlockedError.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (domain.FetchResult, error) {
	res := domain.FetchResult{RequestURL: rawURL}

	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return res, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.respectRobots {
		if ok, rule := f.robots.allowed(ctx, u); !ok {
			return res, &domain.BlockedError{URL: rawURL, Reason: domain.ReasonRobotsDisallowed, Rule: rule}
		}
	}
	if err := f.limiter.wait(ctx, u.Host); err != nil {
		return res, fmt.Errorf("rate limit %s: %w", u.Host, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return res, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return res, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	res.StatusCode = resp.StatusCode
	res.ContentType = resp.Header.Get("Content-Type")
	res.FinalURL = resp.Request.URL.String()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return res, &domain.HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return res, fmt.Errorf("read body: %w", err)
	}
	res.Body = body
	return res, nil
}

// Verify checks that rawURL answers below 400, trying HEAD first and falling back to GET
// for servers that refuse HEAD.
func (f *HTTPFetcher) Verify(ctx context.Context, rawURL string) (bool, error) {
	u, err := parseHTTPURL(rawURL)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.limiter.wait(ctx, u.Host); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", u.Host, err)
	}

	status, err := f.statusOf(ctx, http.MethodHead, u.String())
	if err == nil && status < 400 {
		return true, nil
	}
	if err == nil && status != http.StatusMethodNotAllowed && status != http.StatusForbidden && status != http.StatusNotImplemented {
		return false, nil
	}

	status, err = f.statusOf(ctx, http.MethodGet, u.String())
	if err != nil {
		return false, err
	}
	return status < 400, nil
}

func (f *HTTPFetcher) statusOf(ctx context.Context, method, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, nil
}

var errUnsupportedScheme = errors.New("unsupported url scheme")

func parseHTTPURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s: %w", rawURL, errUnsupportedScheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%s: missing host", rawURL)
	}
	return u, nil
}
