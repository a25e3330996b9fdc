package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/logging"
)

func testConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		FetchTimeout:  2 * time.Second,
		UserAgent:     "DiscoveryFeedTest/1.0",
		MaxBodyBytes:  64,
		RespectRobots: config.Bool(true),
	}
}

func TestFetchReturnsBodyAndMetadata(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			http.NotFound(w, r)
		case "/old":
			http.Redirect(w, r, "/news/2026/story", http.StatusMovedPermanently)
		default:
			if got := r.Header.Get("User-Agent"); got != "DiscoveryFeedTest/1.0" {
				t.Errorf("unexpected user agent %q", got)
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(strings.Repeat("a", 200)))
		}
	}))
	defer srv.Close()

	f := New(testConfig(), srv.Client(), logging.Discard())
	res, err := f.Fetch(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	if !strings.HasSuffix(res.FinalURL, "/news/2026/story") {
		t.Fatalf("expected redirect target as final url, got %s", res.FinalURL)
	}
	if len(res.Body) != 64 {
		t.Fatalf("expected body capped at 64 bytes, got %d", len(res.Body))
	}
	if !strings.HasPrefix(res.ContentType, "text/html") {
		t.Fatalf("unexpected content type %s", res.ContentType)
	}
}

func TestFetchHonoursRobots(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(testConfig(), srv.Client(), logging.Discard())

	_, err := f.Fetch(context.Background(), srv.URL+"/private/report")
	var blocked *domain.BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedError, got %v", err)
	}
	if blocked.Reason != domain.ReasonRobotsDisallowed || !strings.HasSuffix(blocked.Rule, "/robots.txt") {
		t.Fatalf("unexpected block details %+v", blocked)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("disallowed page must not be requested")
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/public/report"); err != nil {
		t.Fatalf("allowed page failed: %v", err)
	}
}

func TestRobotsCancelledFetchIsNotCached(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer srv.Close()

	rc := newRobotsCache(srv.Client(), "DiscoveryFeedTest/1.0", logging.Discard())
	u, _ := url.Parse(srv.URL + "/private/report")

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if ok, _ := rc.allowed(cancelled, u); !ok {
		t.Fatalf("a cancelled robots fetch should allow the request")
	}
	if ok, rule := rc.allowed(context.Background(), u); ok || rule == "" {
		t.Fatalf("robots.txt must be refetched after a cancelled attempt")
	}
}

func TestRobotsFailureExpires(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	}))
	defer srv.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rc := newRobotsCache(srv.Client(), "DiscoveryFeedTest/1.0", logging.Discard())
	rc.now = func() time.Time { return now }
	u, _ := url.Parse(srv.URL + "/private/report")

	if ok, _ := rc.allowed(context.Background(), u); !ok {
		t.Fatalf("unreachable robots.txt should allow")
	}
	if ok, _ := rc.allowed(context.Background(), u); !ok {
		t.Fatalf("failure should be cached within the ttl")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected one robots request inside the ttl, got %d", got)
	}

	now = now.Add(failureTTL + time.Second)
	if ok, _ := rc.allowed(context.Background(), u); ok {
		t.Fatalf("robots.txt should be refetched once the failure expires")
	}
	if ok, _ := rc.allowed(context.Background(), u); ok {
		t.Fatalf("a parsed robots.txt stays cached")
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected two robots requests, got %d", got)
	}
}

func TestFetchStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RespectRobots = config.Bool(false)
	f := New(cfg, srv.Client(), logging.Discard())

	res, err := f.Fetch(context.Background(), srv.URL+"/gone")
	var statusErr *domain.HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusGone {
		t.Fatalf("expected 410 status error, got %v", err)
	}
	if res.StatusCode != http.StatusGone {
		t.Fatalf("partial result should carry the status, got %d", res.StatusCode)
	}
}

func TestFetchRejectsNonHTTP(t *testing.T) {
	t.Parallel()

	f := New(testConfig(), nil, logging.Discard())
	if _, err := f.Fetch(context.Background(), "ftp://example.com/file"); err == nil {
		t.Fatalf("expected error for ftp url")
	}
}

func TestVerifyFallsBackToGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(testConfig(), srv.Client(), logging.Discard())

	ok, err := f.Verify(context.Background(), srv.URL+"/article")
	if err != nil || !ok {
		t.Fatalf("expected verified, ok=%v err=%v", ok, err)
	}
	ok, err = f.Verify(context.Background(), srv.URL+"/missing")
	if err != nil || ok {
		t.Fatalf("expected unverified, ok=%v err=%v", ok, err)
	}
}

func TestHostLimiterSharesBucketPerHost(t *testing.T) {
	t.Parallel()

	l := newHostLimiter(2)
	if l.get("a.example") != l.get("a.example") {
		t.Fatalf("expected the same limiter for the same host")
	}
	if l.get("a.example") == l.get("b.example") {
		t.Fatalf("expected different limiters per host")
	}
}
