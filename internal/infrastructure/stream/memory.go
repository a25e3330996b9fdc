// Package stream fans audit events out to live subscribers keyed by run id.
package stream

import (
	"context"
	"log/slog"
	"sync"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

const defaultDepth = 256

// MemoryStream is an in-process pub/sub. Slow subscribers drop events rather than block publishers;
// the durable log remains the source of truth.
type MemoryStream struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	depth  int
	logger *slog.Logger
}

var _ ports.EventStream = (*MemoryStream)(nil)

// NewMemoryStream builds a stream with per-subscriber buffers of depth events.
func NewMemoryStream(depth int, logger *slog.Logger) *MemoryStream {
	if depth <= 0 {
		depth = defaultDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStream{subs: map[string]map[*memorySub]struct{}{}, depth: depth, logger: logger}
}

// Publish delivers event to every current subscriber of its run.
func (s *MemoryStream) Publish(_ context.Context, event domain.AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs[event.RunID] {
		select {
		case sub.ch <- event:
		default:
			s.logger.Debug("dropping audit event for slow subscriber", "run_id", event.RunID, "seq", event.Seq)
		}
	}
	return nil
}

// Subscribe registers a subscriber; it is removed on Close or when ctx ends.
func (s *MemoryStream) Subscribe(ctx context.Context, runID string) (ports.Subscription, error) {
	sub := &memorySub{ch: make(chan domain.AuditEvent, s.depth), done: make(chan struct{}), stream: s, runID: runID}

	s.mu.Lock()
	if s.subs[runID] == nil {
		s.subs[runID] = map[*memorySub]struct{}{}
	}
	s.subs[runID][sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (s *MemoryStream) remove(sub *memorySub) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subs[sub.runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.subs, sub.runID)
		}
	}
}

type memorySub struct {
	ch     chan domain.AuditEvent
	done   chan struct{}
	stream *MemoryStream
	runID  string
	once   sync.Once
}

func (m *memorySub) Events() <-chan domain.AuditEvent {
	return m.ch
}

func (m *memorySub) Close() error {
	m.once.Do(func() {
		m.stream.remove(m)
		// removal holds the write lock, so no publisher can be sending here.
		close(m.ch)
		close(m.done)
	})
	return nil
}
