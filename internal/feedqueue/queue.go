// Package feedqueue moves saved content into consumer memory stores under per-lane pacing.
package feedqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/metrics"
	"DiscoveryFeed/internal/ports"
)

var (
	// ErrUnknownEntry is returned for entry ids the store does not know.
	ErrUnknownEntry = errors.New("unknown feed entry")
	// ErrNotRequeueable is returned when requeueing an entry that has not failed or been skipped.
	ErrNotRequeueable = errors.New("feed entry cannot be requeued")
	// ErrInvalidPacing is returned by SetPacing for non-positive task budgets or negative throttles.
	ErrInvalidPacing = errors.New("invalid pacing")
)

// Enqueue outcome reasons.
const (
	ReasonDuplicate        = "duplicate"
	ReasonQualityGate      = "quality_gate"
	ReasonDiscoveryPaused  = "discovery_paused"
	ReasonMissingConsumer  = "missing_consumer"
	ReasonConsumerRejected = "consumer_rejected"
)

// Request asks for one content item to be delivered to one consumer.
type Request struct {
	ConsumerID string
	Item       domain.ContentItem
	Source     domain.FeedSource
}

// Result describes what Enqueue did. Enqueued is true only when a new pending entry was created.
type Result struct {
	Enqueued bool              `json:"enqueued"`
	Status   domain.FeedStatus `json:"status,omitempty"`
	EntryID  string            `json:"entry_id,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

// Queue admits items into the feed store.
type Queue struct {
	entries  ports.FeedStore
	controls *Controls
	minText  int
	logger   *slog.Logger
}

// NewQueue wires the queue. controls may be nil, in which case discovery is never paused.
func NewQueue(entries ports.FeedStore, controls *Controls, cfg config.FeedConfig, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{entries: entries, controls: controls, minText: cfg.MinTextLength, logger: logger}
}

// Enqueue admits req. Duplicates, paused discovery and gated items are results, not errors.
func (q *Queue) Enqueue(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.ConsumerID) == "" {
		return Result{Reason: ReasonMissingConsumer}, fmt.Errorf("enqueue %s: empty consumer id", req.Item.ID)
	}
	if req.Item.ID == "" {
		return Result{}, fmt.Errorf("enqueue for %s: content item has no id", req.ConsumerID)
	}
	if req.Source == "" {
		req.Source = domain.FeedFromManual
	}
	lane := domain.Lane{ConsumerID: req.ConsumerID, PatchID: req.Item.PatchID}

	if req.Source == domain.FeedFromDiscovery && q.controls != nil {
		ctl, err := q.controls.Get(ctx, lane)
		if err != nil {
			return Result{}, fmt.Errorf("load control for %s/%s: %w", lane.ConsumerID, lane.PatchID, err)
		}
		if ctl.PauseDiscovery {
			metrics.FeedEnqueues.WithLabelValues(req.ConsumerID, ReasonDiscoveryPaused).Inc()
			return Result{Reason: ReasonDiscoveryPaused}, nil
		}
	}

	entry := domain.FeedEntry{
		ConsumerID:  req.ConsumerID,
		PatchID:     req.Item.PatchID,
		ContentID:   req.Item.ID,
		ContentHash: ContentHash(req.Item),
		Status:      domain.FeedPending,
		Source:      req.Source,
	}
	gated := utf8.RuneCountInString(strings.TrimSpace(req.Item.Text)) < q.minText
	if gated {
		entry.Status = domain.FeedSkipped
		entry.LastError = ReasonQualityGate
	}

	stored, created, err := q.entries.InsertEntry(ctx, entry)
	if err != nil {
		return Result{}, fmt.Errorf("insert feed entry: %w", err)
	}

	res := Result{Status: stored.Status, EntryID: stored.ID}
	switch {
	case !created:
		res.Reason = ReasonDuplicate
	case gated:
		res.Reason = ReasonQualityGate
	default:
		res.Enqueued = true
	}

	outcome := res.Reason
	if res.Enqueued {
		outcome = "enqueued"
	}
	metrics.FeedEnqueues.WithLabelValues(req.ConsumerID, outcome).Inc()
	q.logger.Debug("feed enqueue", "consumer_id", req.ConsumerID, "patch_id", req.Item.PatchID,
		"content_id", req.Item.ID, "outcome", outcome)
	return res, nil
}

// Requeue puts a failed or skipped entry back to pending.
func (q *Queue) Requeue(ctx context.Context, id string) (domain.FeedEntry, error) {
	entry, err := q.entries.GetEntry(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return domain.FeedEntry{}, fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	if err != nil {
		return domain.FeedEntry{}, fmt.Errorf("load feed entry: %w", err)
	}
	if entry.Status != domain.FeedFailed && entry.Status != domain.FeedSkipped {
		return entry, fmt.Errorf("%w: %s is %s", ErrNotRequeueable, id, entry.Status)
	}
	if err := q.entries.RequeueEntry(ctx, id); err != nil {
		return domain.FeedEntry{}, fmt.Errorf("requeue feed entry: %w", err)
	}
	entry.Status = domain.FeedPending
	entry.LastError = ""
	return entry, nil
}

// Entry loads one entry.
func (q *Queue) Entry(ctx context.Context, id string) (domain.FeedEntry, error) {
	entry, err := q.entries.GetEntry(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return domain.FeedEntry{}, fmt.Errorf("%w: %s", ErrUnknownEntry, id)
	}
	return entry, err
}

// Stats counts a lane's entries by status.
func (q *Queue) Stats(ctx context.Context, lane domain.Lane) (map[domain.FeedStatus]int, error) {
	return q.entries.CountByStatus(ctx, lane)
}

// ContentHash returns the item's stored hash, or hashes its normalised text.
func ContentHash(item domain.ContentItem) string {
	if item.ContentHash != "" {
		return item.ContentHash
	}
	return HashText(item.Text)
}

// HashText is the dedup hash over lower-cased, whitespace-collapsed text.
func HashText(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
