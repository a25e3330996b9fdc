package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	maxRobotsBytes = 512 << 10
	// failureTTL bounds how long an unreachable robots.txt is treated as allow-all.
	failureTTL = 5 * time.Minute
)

// robotsEntry is a cached robots.txt. A nil data means allow-all; a zero expires never expires.
type robotsEntry struct {
	data    *robotstxt.RobotsData
	expires time.Time
}

// robotsCache fetches robots.txt once per origin. A parsed answer is kept for the process
// lifetime, a failed fetch for failureTTL, and a timed out or cancelled fetch not at all.
type robotsCache struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]robotsEntry
}

func newRobotsCache(client *http.Client, userAgent string, logger *slog.Logger) *robotsCache {
	return &robotsCache{client: client, userAgent: userAgent, logger: logger, now: time.Now, entries: map[string]robotsEntry{}}
}

// allowed reports whether u may be fetched and, when not, the robots.txt URL that forbids it.
func (r *robotsCache) allowed(ctx context.Context, u *url.URL) (bool, string) {
	origin := u.Scheme + "://" + u.Host
	robotsURL := origin + "/robots.txt"

	data := r.load(ctx, origin, robotsURL)
	if data == nil {
		return true, ""
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if data.TestAgent(path, r.userAgent) {
		return true, ""
	}
	return false, robotsURL
}

func (r *robotsCache) load(ctx context.Context, origin, robotsURL string) *robotstxt.RobotsData {
	r.mu.Lock()
	entry, ok := r.entries[origin]
	r.mu.Unlock()
	if ok && (entry.expires.IsZero() || r.now().Before(entry.expires)) {
		return entry.data
	}

	data, err := r.fetch(ctx, robotsURL)
	if err != nil {
		r.logger.Debug("robots.txt unavailable, allowing", "url", robotsURL, "error", err)
		if ctx.Err() != nil || isTimeout(err) {
			return nil
		}
		entry = robotsEntry{expires: r.now().Add(failureTTL)}
	} else {
		entry = robotsEntry{data: data}
	}

	r.mu.Lock()
	r.entries[origin] = entry
	r.mu.Unlock()
	return entry.data
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (r *robotsCache) fetch(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request robots.txt: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data, nil
}
