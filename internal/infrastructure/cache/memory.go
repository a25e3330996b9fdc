package cache

import (
	"context"
	"sync"
	"time"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

// MemoryCache is the in-process RunStateCache used when no Redis URL is configured.
type MemoryCache struct {
	mu       sync.RWMutex
	states   map[string]domain.RunStatus
	snapshot map[string]snapshot
	now      func() time.Time
}

type snapshot struct {
	metrics   domain.RunMetrics
	expiresAt time.Time
}

var _ ports.RunStateCache = (*MemoryCache)(nil)

// NewMemoryCache builds an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		states:   map[string]domain.RunStatus{},
		snapshot: map[string]snapshot{},
		now:      time.Now,
	}
}

func (c *MemoryCache) SetRunState(_ context.Context, patchID string, status domain.RunStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[patchID] = status
	return nil
}

func (c *MemoryCache) GetRunState(_ context.Context, patchID string) (domain.RunStatus, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[patchID]
	return st, ok, nil
}

func (c *MemoryCache) SnapshotMetrics(_ context.Context, runID string, m domain.RunMetrics, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.snapshot[runID] = snapshot{metrics: m, expiresAt: exp}
	return nil
}

// Metrics returns an unexpired snapshot.
func (c *MemoryCache) Metrics(runID string) (domain.RunMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshot[runID]
	if !ok {
		return domain.RunMetrics{}, false
	}
	if !s.expiresAt.IsZero() && c.now().After(s.expiresAt) {
		return domain.RunMetrics{}, false
	}
	return s.metrics, true
}
