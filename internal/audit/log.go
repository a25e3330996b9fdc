// Package audit owns the append-only audit log and the pure analytics folds over it.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/metrics"
	"DiscoveryFeed/internal/ports"
)

const defaultPageSize = 500

// Log appends events to the durable tail and fans them out to live subscribers.
// Publishing is best effort; the durable append is what makes an event exist.
type Log struct {
	store    ports.AuditStore
	stream   ports.EventStream
	logger   *slog.Logger
	now      func() time.Time
	pageSize int
}

// NewLog wires the durable store with an optional event stream.
func NewLog(store ports.AuditStore, stream ports.EventStream, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, stream: stream, logger: logger, now: time.Now, pageSize: defaultPageSize}
}

// Record appends one event. The run id is mandatory.
func (l *Log) Record(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if event.RunID == "" {
		return event, fmt.Errorf("audit event without run id (step %s)", event.Step)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.Status == "" {
		event.Status = domain.EventOK
	}

	seq, err := l.store.AppendEvent(ctx, event)
	if err != nil {
		return event, fmt.Errorf("append audit event %s: %w", event.Step, err)
	}
	event.Seq = seq
	metrics.AuditEventsTotal.WithLabelValues(event.Step, string(event.Status)).Inc()

	if l.stream != nil {
		if err := l.stream.Publish(ctx, event); err != nil {
			metrics.StreamPublishErrors.Inc()
			l.logger.Warn("publish audit event", "run_id", event.RunID, "step", event.Step, "error", err)
		}
	}
	return event, nil
}

// Snapshot reads the whole durable tail for a run, page by page, in order.
func (l *Log) Snapshot(ctx context.Context, runID string) ([]domain.AuditEvent, error) {
	var (
		all    []domain.AuditEvent
		cursor int64
	)
	for {
		page, next, err := l.store.ListEvents(ctx, runID, cursor, l.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list audit events: %w", err)
		}
		all = append(all, page...)
		if next == 0 || len(page) == 0 {
			return all, nil
		}
		cursor = next
	}
}

// Page returns one page of events after cursor.
func (l *Log) Page(ctx context.Context, runID string, cursor int64, limit int) ([]domain.AuditEvent, int64, error) {
	if limit <= 0 || limit > l.pageSize {
		limit = l.pageSize
	}
	return l.store.ListEvents(ctx, runID, cursor, limit)
}

// Subscribe opens a live subscription for a run, if a stream is configured.
func (l *Log) Subscribe(ctx context.Context, runID string) (ports.Subscription, error) {
	if l.stream == nil {
		return nil, fmt.Errorf("event stream is not configured")
	}
	return l.stream.Subscribe(ctx, runID)
}
