package feedqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/metrics"
	"DiscoveryFeed/internal/ports"
)

// WorkerDeps wires the worker to its stores and sink.
type WorkerDeps struct {
	Entries  ports.FeedStore
	Content  ports.ContentStore
	Controls *Controls
	Memory   ports.MemoryClient
	Logger   *slog.Logger
}

// Worker drains pending entries lane by lane.
type Worker struct {
	entries  ports.FeedStore
	content  ports.ContentStore
	controls *Controls
	memory   ports.MemoryClient
	tick     time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastPull map[domain.Lane]time.Time
}

// TickReport counts what one tick delivered.
type TickReport struct {
	Lanes     int
	Delivered int
	Failed    int
}

// NewWorker builds a worker ticking every tick (one second when zero).
func NewWorker(tick time.Duration, deps WorkerDeps) *Worker {
	if tick <= 0 {
		tick = time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		entries:  deps.Entries,
		content:  deps.Content,
		controls: deps.Controls,
		memory:   deps.Memory,
		tick:     tick,
		logger:   logger,
		now:      time.Now,
		lastPull: map[domain.Lane]time.Time{},
	}
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		if _, err := w.Tick(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("feed tick", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick drains every lane with pending work once. Lanes run concurrently and pace independently.
func (w *Worker) Tick(ctx context.Context) (TickReport, error) {
	lanes, err := w.entries.PendingLanes(ctx)
	if err != nil {
		return TickReport{}, fmt.Errorf("list pending lanes: %w", err)
	}

	var (
		mu     sync.Mutex
		report = TickReport{Lanes: len(lanes)}
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range lanes {
		lane := lane
		g.Go(func() error {
			delivered, failed, err := w.drainLane(gctx, lane)
			mu.Lock()
			report.Delivered += delivered
			report.Failed += failed
			mu.Unlock()
			if err != nil && gctx.Err() == nil {
				w.logger.Warn("drain lane", "consumer_id", lane.ConsumerID, "patch_id", lane.PatchID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, nil
}

func (w *Worker) drainLane(ctx context.Context, lane domain.Lane) (delivered, failed int, err error) {
	ctl, err := w.controls.Get(ctx, lane)
	if err != nil {
		return 0, 0, fmt.Errorf("load control: %w", err)
	}

	for i := 0; i < ctl.Pacing.MaxTasksPerTick; i++ {
		if err := w.throttle(ctx, lane, ctl.Pacing.Throttle()); err != nil {
			return delivered, failed, err
		}
		entry, err := w.entries.ClaimNext(ctx, lane)
		if err != nil {
			return delivered, failed, fmt.Errorf("claim entry: %w", err)
		}
		if entry == nil {
			return delivered, failed, nil
		}
		w.markPulled(lane)

		if w.deliver(ctx, *entry) {
			delivered++
		} else {
			failed++
		}
	}
	return delivered, failed, nil
}

// deliver feeds one entry and records its outcome. No retry happens here.
func (w *Worker) deliver(ctx context.Context, entry domain.FeedEntry) bool {
	started := w.now()
	status, memoryID, lastError := domain.FeedDone, "", ""

	item, err := w.content.GetContent(ctx, entry.ContentID)
	if err != nil {
		status, lastError = domain.FeedFailed, fmt.Sprintf("load content: %v", err)
	} else {
		receipt, ferr := w.memory.Feed(ctx, entry.ConsumerID, item)
		metrics.FeedDeliveryDuration.WithLabelValues(entry.ConsumerID).Observe(time.Since(started).Seconds())
		switch {
		case ferr != nil:
			status, lastError = domain.FeedFailed, ferr.Error()
		case !receipt.Accepted:
			status, lastError = domain.FeedFailed, ReasonConsumerRejected
		default:
			memoryID = receipt.MemoryID
		}
	}

	if err := w.entries.CompleteEntry(ctx, entry.ID, status, memoryID, lastError); err != nil {
		w.logger.Error("complete feed entry", "entry_id", entry.ID, "error", err)
	}
	metrics.FeedDeliveries.WithLabelValues(entry.ConsumerID, string(status)).Inc()
	if status == domain.FeedFailed {
		w.logger.Warn("feed delivery failed", "entry_id", entry.ID, "consumer_id", entry.ConsumerID,
			"content_id", entry.ContentID, "error", lastError)
		return false
	}
	return true
}

// throttle waits until d has passed since the lane's previous dequeue, across ticks.
func (w *Worker) throttle(ctx context.Context, lane domain.Lane, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	w.mu.Lock()
	last, ok := w.lastPull[lane]
	w.mu.Unlock()
	if !ok {
		return nil
	}
	wait := d - w.now().Sub(last)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Worker) markPulled(lane domain.Lane) {
	w.mu.Lock()
	w.lastPull[lane] = w.now()
	w.mu.Unlock()
}
