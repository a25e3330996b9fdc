package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

// MemoryStore keeps every durable record in process memory. It backs tests and the
// "memory" database driver.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[string]domain.Run
	events   map[string][]domain.AuditEvent
	seq      int64
	content  map[string]domain.ContentItem
	order    []string
	heroes   map[string]domain.Hero
	entries  map[string]domain.FeedEntry
	dedup    map[string]string
	controls map[domain.Lane]domain.ConsumerControl
	now      func() time.Time
}

var (
	_ ports.RunStore     = (*MemoryStore)(nil)
	_ ports.AuditStore   = (*MemoryStore)(nil)
	_ ports.ContentStore = (*MemoryStore)(nil)
	_ ports.HeroStore    = (*MemoryStore)(nil)
	_ ports.FeedStore    = (*MemoryStore)(nil)
	_ ports.ControlStore = (*MemoryStore)(nil)
)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     map[string]domain.Run{},
		events:   map[string][]domain.AuditEvent{},
		content:  map[string]domain.ContentItem{},
		heroes:   map[string]domain.Hero{},
		entries:  map[string]domain.FeedEntry{},
		dedup:    map[string]string{},
		controls: map[domain.Lane]domain.ConsumerControl{},
		now:      time.Now,
	}
}

// CreateRun stores a new run.
func (s *MemoryStore) CreateRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// GetRun returns a run or ports.ErrNotFound.
func (s *MemoryStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, ports.ErrNotFound
	}
	run.Metrics = run.Metrics.Clone()
	return run, nil
}

// ListRuns filters runs, oldest first.
func (s *MemoryStore) ListRuns(ctx context.Context, filter ports.RunFilter) ([]domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := map[domain.RunStatus]bool{}
	for _, st := range filter.Statuses {
		statuses[st] = true
	}

	var out []domain.Run
	for _, run := range s.runs {
		if len(statuses) > 0 && !statuses[run.Status] {
			continue
		}
		if filter.PatchID != "" && run.PatchID != filter.PatchID {
			continue
		}
		if filter.StartedBefore != nil && !run.StartedAt.Before(*filter.StartedBefore) {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateStatus moves a run from one status to another if it is still in from.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to domain.RunStatus, endedAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return false, ports.ErrNotFound
	}
	if run.Status != from {
		return false, nil
	}
	run.Status = to
	if endedAt != nil {
		t := *endedAt
		run.EndedAt = &t
	}
	s.runs[id] = run
	return true, nil
}

// UpdateMetrics replaces the metrics blob of a run if it still matches from. Blobs compare by
// their JSON encoding, the same way the jsonb column compares them.
func (s *MemoryStore) UpdateMetrics(ctx context.Context, id string, from, to domain.RunMetrics) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return false, ports.ErrNotFound
	}
	current, err := json.Marshal(run.Metrics)
	if err != nil {
		return false, fmt.Errorf("marshal metrics: %w", err)
	}
	expected, err := json.Marshal(from)
	if err != nil {
		return false, fmt.Errorf("marshal metrics: %w", err)
	}
	if !bytes.Equal(current, expected) {
		return false, nil
	}
	run.Metrics = to.Clone()
	s.runs[id] = run
	return true, nil
}

// AppendEvent appends to the run's log and returns the assigned sequence number.
func (s *MemoryStore) AppendEvent(ctx context.Context, event domain.AuditEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[event.RunID]; !ok {
		return 0, ports.ErrNotFound
	}
	s.seq++
	event.Seq = s.seq
	s.events[event.RunID] = append(s.events[event.RunID], event)
	return event.Seq, nil
}

// ListEvents pages through a run's events by sequence cursor.
func (s *MemoryStore) ListEvents(ctx context.Context, runID string, cursor int64, limit int) ([]domain.AuditEvent, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.events[runID]
	start := sort.Search(len(all), func(i int) bool { return all[i].Seq > cursor })
	if limit <= 0 {
		limit = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := make([]domain.AuditEvent, end-start)
	copy(page, all[start:end])

	var next int64
	if end < len(all) && len(page) > 0 {
		next = page[len(page)-1].Seq
	}
	return page, next, nil
}

// LastEventAt returns the timestamp of the newest event, nil when the log is empty.
func (s *MemoryStore) LastEventAt(ctx context.Context, runID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[runID]
	if len(all) == 0 {
		return nil, nil
	}
	latest := all[0].Timestamp
	for _, ev := range all[1:] {
		if ev.Timestamp.After(latest) {
			latest = ev.Timestamp
		}
	}
	return &latest, nil
}

// SaveContent inserts or replaces a content item.
func (s *MemoryStore) SaveContent(ctx context.Context, item domain.ContentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.content[item.ID]; !exists {
		s.order = append(s.order, item.ID)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now().UTC()
	}
	s.content[item.ID] = item
	return nil
}

// GetContent returns a content item or ports.ErrNotFound.
func (s *MemoryStore) GetContent(ctx context.Context, id string) (domain.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.content[id]
	if !ok {
		return domain.ContentItem{}, ports.ErrNotFound
	}
	return item, nil
}

// FindByHash looks up a saved item of the patch with the same content hash.
func (s *MemoryStore) FindByHash(ctx context.Context, patchID, hash string) (*domain.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		item := s.content[id]
		if item.PatchID == patchID && item.ContentHash == hash {
			return &item, nil
		}
	}
	return nil, nil
}

// ListContentByRun returns a run's items in save order.
func (s *MemoryStore) ListContentByRun(ctx context.Context, runID string) ([]domain.ContentItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ContentItem
	for _, id := range s.order {
		if item := s.content[id]; item.RunID == runID {
			out = append(out, item)
		}
	}
	return out, nil
}

// AttachHero links a hero to a content item.
func (s *MemoryStore) AttachHero(ctx context.Context, contentID, heroID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.content[contentID]
	if !ok {
		return ports.ErrNotFound
	}
	id := heroID
	item.HeroID = &id
	s.content[contentID] = item
	return nil
}

// GetHeroByContent returns the hero of a content item, nil when none exists.
func (s *MemoryStore) GetHeroByContent(ctx context.Context, contentID string) (*domain.Hero, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.heroes[contentID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// UpsertHero inserts or updates the single hero of a content item, keeping the first id.
func (s *MemoryStore) UpsertHero(ctx context.Context, hero domain.Hero) (domain.Hero, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.heroes[hero.ContentID]; ok {
		hero.ID = existing.ID
	}
	if hero.ID == "" {
		hero.ID = uuid.NewString()
	}
	hero.UpdatedAt = s.now().UTC()
	s.heroes[hero.ContentID] = hero
	return hero, nil
}

// InsertEntry inserts a feed entry unless (consumer, hash) is already queued.
func (s *MemoryStore) InsertEntry(ctx context.Context, entry domain.FeedEntry) (domain.FeedEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entry.ConsumerID + "\x00" + entry.ContentHash
	if id, ok := s.dedup[key]; ok {
		return s.entries[id], false, nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = now
	}
	entry.UpdatedAt = now
	s.entries[entry.ID] = entry
	s.dedup[key] = entry.ID
	return entry, true, nil
}

// GetEntry returns a feed entry or ports.ErrNotFound.
func (s *MemoryStore) GetEntry(ctx context.Context, id string) (domain.FeedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return domain.FeedEntry{}, ports.ErrNotFound
	}
	return e, nil
}

// ClaimNext moves the oldest pending entry of a lane to processing.
func (s *MemoryStore) ClaimNext(ctx context.Context, lane domain.Lane) (*domain.FeedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *domain.FeedEntry
	for _, e := range s.entries {
		if e.Status != domain.FeedPending || e.ConsumerID != lane.ConsumerID || e.PatchID != lane.PatchID {
			continue
		}
		if oldest == nil || e.EnqueuedAt.Before(oldest.EnqueuedAt) ||
			(e.EnqueuedAt.Equal(oldest.EnqueuedAt) && e.ID < oldest.ID) {
			candidate := e
			oldest = &candidate
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = domain.FeedProcessing
	oldest.UpdatedAt = s.now().UTC()
	s.entries[oldest.ID] = *oldest
	return oldest, nil
}

// CompleteEntry records the final status of a delivery attempt.
func (s *MemoryStore) CompleteEntry(ctx context.Context, id string, status domain.FeedStatus, memoryID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ports.ErrNotFound
	}
	e.Status = status
	e.MemoryID = memoryID
	e.LastError = lastError
	e.UpdatedAt = s.now().UTC()
	s.entries[id] = e
	return nil
}

// RequeueEntry puts a failed entry back to pending.
func (s *MemoryStore) RequeueEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ports.ErrNotFound
	}
	e.Status = domain.FeedPending
	e.LastError = ""
	e.UpdatedAt = s.now().UTC()
	s.entries[id] = e
	return nil
}

// PendingLanes lists lanes with pending work.
func (s *MemoryStore) PendingLanes(ctx context.Context) ([]domain.Lane, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[domain.Lane]bool{}
	var out []domain.Lane
	for _, e := range s.entries {
		if e.Status != domain.FeedPending {
			continue
		}
		lane := domain.Lane{ConsumerID: e.ConsumerID, PatchID: e.PatchID}
		if !seen[lane] {
			seen[lane] = true
			out = append(out, lane)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConsumerID != out[j].ConsumerID {
			return out[i].ConsumerID < out[j].ConsumerID
		}
		return out[i].PatchID < out[j].PatchID
	})
	return out, nil
}

// CountByStatus counts a lane's entries per status.
func (s *MemoryStore) CountByStatus(ctx context.Context, lane domain.Lane) (map[domain.FeedStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[domain.FeedStatus]int{}
	for _, e := range s.entries {
		if e.ConsumerID == lane.ConsumerID && e.PatchID == lane.PatchID {
			out[e.Status]++
		}
	}
	return out, nil
}

// GetControl returns the control of a lane, if any was stored.
func (s *MemoryStore) GetControl(ctx context.Context, lane domain.Lane) (domain.ConsumerControl, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.controls[lane]
	return c, ok, nil
}

// UpdateControl applies fn under the store lock.
func (s *MemoryStore) UpdateControl(ctx context.Context, lane domain.Lane, fn func(domain.ConsumerControl) domain.ConsumerControl) (domain.ConsumerControl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.controls[lane]
	if !ok {
		current = domain.ConsumerControl{ConsumerID: lane.ConsumerID, PatchID: lane.PatchID}
	}
	next := fn(current)
	next.ConsumerID = lane.ConsumerID
	next.PatchID = lane.PatchID
	s.controls[lane] = next
	return next, nil
}
