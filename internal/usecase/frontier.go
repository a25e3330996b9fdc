package usecase

import (
	"net/url"
	"strings"
	"sync"

	"DiscoveryFeed/internal/domain"
)

// frontier is the FIFO of candidates still to visit. A URL is admitted at most once per run.
type frontier struct {
	mu       sync.Mutex
	queue    []domain.Candidate
	seen     map[string]struct{}
	admitted int
	limit    int
	maxDepth int
}

func newFrontier(limit int) *frontier {
	return &frontier{seen: map[string]struct{}{}, limit: limit}
}

// push admits c unless it was seen or the run's candidate budget is spent.
func (f *frontier) push(c domain.Candidate) bool {
	key := frontierKey(c.URL)
	if key == "" {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[key]; ok {
		return false
	}
	if f.limit > 0 && f.admitted >= f.limit {
		return false
	}
	f.seen[key] = struct{}{}
	f.admitted++
	f.queue = append(f.queue, c)
	if c.Depth > f.maxDepth {
		f.maxDepth = c.Depth
	}
	return true
}

func (f *frontier) pop() (domain.Candidate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return domain.Candidate{}, false
	}
	c := f.queue[0]
	f.queue[0] = domain.Candidate{}
	f.queue = f.queue[1:]
	return c, true
}

func (f *frontier) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

func (f *frontier) depth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxDepth
}

// frontierKey drops the fragment, default ports and a trailing slash so trivially different
// spellings of one page collapse.
func frontierKey(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = host
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}
