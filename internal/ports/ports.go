package ports

import (
	"context"
	"errors"
	"time"

	"DiscoveryFeed/internal/domain"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// RunFilter narrows run listings.
type RunFilter struct {
	Statuses      []domain.RunStatus
	PatchID       string
	StartedBefore *time.Time
	Limit         int
}

// RunStore persists runs. UpdateStatus is a compare-and-set on the current status.
type RunStore interface {
	CreateRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.RunStatus, endedAt *time.Time) (bool, error)
	// UpdateMetrics writes to only while the stored metrics still equal from; false means another
	// writer got there first.
	UpdateMetrics(ctx context.Context, id string, from, to domain.RunMetrics) (bool, error)
}

// AuditStore is the durable tail of the append-only audit log.
type AuditStore interface {
	AppendEvent(ctx context.Context, event domain.AuditEvent) (int64, error)
	// ListEvents returns events with Seq > cursor ordered by Seq, and the cursor for the next page (0 when exhausted).
	ListEvents(ctx context.Context, runID string, cursor int64, limit int) ([]domain.AuditEvent, int64, error)
	LastEventAt(ctx context.Context, runID string) (*time.Time, error)
}

// ContentStore persists saved content items.
type ContentStore interface {
	SaveContent(ctx context.Context, item domain.ContentItem) error
	GetContent(ctx context.Context, id string) (domain.ContentItem, error)
	FindByHash(ctx context.Context, patchID, hash string) (*domain.ContentItem, error)
	ListContentByRun(ctx context.Context, runID string) ([]domain.ContentItem, error)
	AttachHero(ctx context.Context, contentID, heroID string) error
}

// HeroStore persists heroes, at most one per content item.
type HeroStore interface {
	GetHeroByContent(ctx context.Context, contentID string) (*domain.Hero, error)
	UpsertHero(ctx context.Context, hero domain.Hero) (domain.Hero, error)
}

// FeedStore persists feed queue entries.
type FeedStore interface {
	// InsertEntry inserts unless an entry for (consumer, content hash) exists; created reports which happened.
	InsertEntry(ctx context.Context, entry domain.FeedEntry) (existing domain.FeedEntry, created bool, err error)
	GetEntry(ctx context.Context, id string) (domain.FeedEntry, error)
	// ClaimNext atomically moves the oldest pending entry of a lane to processing.
	ClaimNext(ctx context.Context, lane domain.Lane) (*domain.FeedEntry, error)
	CompleteEntry(ctx context.Context, id string, status domain.FeedStatus, memoryID, lastError string) error
	RequeueEntry(ctx context.Context, id string) error
	PendingLanes(ctx context.Context) ([]domain.Lane, error)
	CountByStatus(ctx context.Context, lane domain.Lane) (map[domain.FeedStatus]int, error)
}

// ControlStore keeps consumer pause/pacing state keyed by consumer and patch.
type ControlStore interface {
	GetControl(ctx context.Context, lane domain.Lane) (domain.ConsumerControl, bool, error)
	// UpdateControl applies fn atomically; fn receives the current control (zero value with lane ids when absent).
	UpdateControl(ctx context.Context, lane domain.Lane, fn func(domain.ConsumerControl) domain.ConsumerControl) (domain.ConsumerControl, error)
}

// RunStateCache is the fast ephemeral run-state flag store; the durable store stays authoritative.
type RunStateCache interface {
	SetRunState(ctx context.Context, patchID string, status domain.RunStatus) error
	GetRunState(ctx context.Context, patchID string) (domain.RunStatus, bool, error)
	SnapshotMetrics(ctx context.Context, runID string, metrics domain.RunMetrics, ttl time.Duration) error
}

// Subscription is a live feed of audit events for one run.
type Subscription interface {
	Events() <-chan domain.AuditEvent
	Close() error
}

// EventStream fans audit events out to live subscribers keyed by run id.
type EventStream interface {
	Publish(ctx context.Context, event domain.AuditEvent) error
	Subscribe(ctx context.Context, runID string) (Subscription, error)
}

// ObjectStore uploads blobs and returns a stable reference URL.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// MemoryClient is the consumer memory sink the feed queue drains into.
type MemoryClient interface {
	Feed(ctx context.Context, consumerID string, item domain.ContentItem) (domain.MemoryReceipt, error)
}

// Fetcher retrieves candidate documents under a bounded timeout.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (domain.FetchResult, error)
	// Verify reports whether rawURL is independently reachable.
	Verify(ctx context.Context, rawURL string) (bool, error)
}

// Extractor pulls text and media out of fetched documents.
type Extractor interface {
	Extract(ctx context.Context, res domain.FetchResult) (domain.Extraction, error)
}

// Scorer assigns quality and relevance scores.
type Scorer interface {
	Score(ctx context.Context, plan domain.Plan, ext domain.Extraction) (domain.Score, error)
}

// Planner expands a topic into angles, queries and contested claims.
type Planner interface {
	Plan(ctx context.Context, patchID, topic string) (domain.Plan, error)
}

// SeedSource yields candidate URLs for a run.
type SeedSource interface {
	Seeds(ctx context.Context, patchID string, plan domain.Plan) ([]domain.Candidate, error)
}

// Notifier streams operator-facing reports to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// PreviewRenderer renders the first page of a document as an image.
type PreviewRenderer interface {
	RenderPreview(ctx context.Context, documentURL string) ([]byte, error)
}

// ImageGenerator renders an image from a text prompt and returns encoded image bytes.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt domain.ImagePrompt) ([]byte, error)
}

// Scheduler controls when recurring jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
