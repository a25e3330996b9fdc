package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/ports"
)

//go:embed schema.sql
var schemaSQL string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// DB is the subset of pgxpool.Pool used by the repository; pgxmock pools satisfy it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository persists runs, audit events, content, heroes and feed entries into Postgres.
type PostgresRepository struct {
	db DB
}

var (
	_ ports.RunStore     = (*PostgresRepository)(nil)
	_ ports.AuditStore   = (*PostgresRepository)(nil)
	_ ports.ContentStore = (*PostgresRepository)(nil)
	_ ports.HeroStore    = (*PostgresRepository)(nil)
	_ ports.FeedStore    = (*PostgresRepository)(nil)
)

// NewPostgresRepository wires a pool (or any DB implementation).
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Connect opens a pgx pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates missing tables and indexes.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

var runColumns = []string{"id", "patch_id", "status", "started_at", "ended_at", "metrics"}

// CreateRun inserts a new run.
func (r *PostgresRepository) CreateRun(ctx context.Context, run domain.Run) error {
	metrics, err := json.Marshal(run.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	query, args, err := psql.Insert("runs").
		Columns(runColumns...).
		Values(run.ID, run.PatchID, string(run.Status), run.StartedAt, run.EndedAt, metrics).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert run: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun loads one run.
func (r *PostgresRepository) GetRun(ctx context.Context, id string) (domain.Run, error) {
	query, args, err := psql.Select(runColumns...).From("runs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.Run{}, fmt.Errorf("build select run: %w", err)
	}
	run, err := scanRun(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Run{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("select run: %w", err)
	}
	return run, nil
}

// ListRuns filters runs, oldest first.
func (r *PostgresRepository) ListRuns(ctx context.Context, filter ports.RunFilter) ([]domain.Run, error) {
	b := psql.Select(runColumns...).From("runs").OrderBy("started_at ASC")
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		b = b.Where(sq.Eq{"status": statuses})
	}
	if filter.PatchID != "" {
		b = b.Where(sq.Eq{"patch_id": filter.PatchID})
	}
	if filter.StartedBefore != nil {
		b = b.Where(sq.Lt{"started_at": *filter.StartedBefore})
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list runs: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// UpdateStatus performs a compare-and-set on the run status.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, from, to domain.RunStatus, endedAt *time.Time) (bool, error) {
	b := psql.Update("runs").
		Set("status", string(to)).
		Where(sq.Eq{"id": id, "status": string(from)})
	if endedAt != nil {
		b = b.Set("ended_at", *endedAt)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return false, fmt.Errorf("build update status: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetRun(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateMetrics performs a compare-and-set on the metrics blob. jsonb equality ignores key order
// and whitespace, so from only has to match semantically.
func (r *PostgresRepository) UpdateMetrics(ctx context.Context, id string, from, to domain.RunMetrics) (bool, error) {
	prev, err := json.Marshal(from)
	if err != nil {
		return false, fmt.Errorf("marshal metrics: %w", err)
	}
	next, err := json.Marshal(to)
	if err != nil {
		return false, fmt.Errorf("marshal metrics: %w", err)
	}
	query, args, err := psql.Update("runs").
		Set("metrics", next).
		Where(sq.Eq{"id": id}).
		Where("metrics = ?::jsonb", prev).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build update metrics: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update metrics: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetRun(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

var eventColumns = []string{
	"seq", "run_id", "patch_id", "step", "status", "ts", "provider", "query", "candidate_url", "final_url",
	"http", "decision", "scores", "hash", "hero", "timing", "error",
}

// AppendEvent inserts an audit event and returns its sequence number.
func (r *PostgresRepository) AppendEvent(ctx context.Context, ev domain.AuditEvent) (int64, error) {
	metas := make([]any, 0, 7)
	for _, m := range []any{ev.HTTP, ev.Decision, ev.Scores, ev.Hash, ev.Hero, ev.Timing, ev.Error} {
		raw, err := jsonOrNull(m)
		if err != nil {
			return 0, fmt.Errorf("marshal event metadata: %w", err)
		}
		metas = append(metas, raw)
	}

	values := append([]any{
		ev.RunID, ev.PatchID, ev.Step, string(ev.Status), ev.Timestamp,
		ev.Provider, ev.Query, ev.CandidateURL, ev.FinalURL,
	}, metas...)

	query, args, err := psql.Insert("audit_events").
		Columns(eventColumns[1:]...).
		Values(values...).
		Suffix("RETURNING seq").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert event: %w", err)
	}

	var seq int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&seq); err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return seq, nil
}

// ListEvents pages through a run's events by sequence cursor.
func (r *PostgresRepository) ListEvents(ctx context.Context, runID string, cursor int64, limit int) ([]domain.AuditEvent, int64, error) {
	if limit <= 0 {
		limit = 500
	}
	query, args, err := psql.Select(eventColumns...).
		From("audit_events").
		Where(sq.Eq{"run_id": runID}).
		Where(sq.Gt{"seq": cursor}).
		OrderBy("seq ASC").
		Limit(uint64(limit + 1)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list events: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.AuditEvent, 0, limit)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration: %w", err)
	}

	var next int64
	if len(events) > limit {
		events = events[:limit]
		next = events[limit-1].Seq
	}
	return events, next, nil
}

// LastEventAt returns the newest event timestamp, nil when the run has none.
func (r *PostgresRepository) LastEventAt(ctx context.Context, runID string) (*time.Time, error) {
	query, args, err := psql.Select("MAX(ts)").From("audit_events").Where(sq.Eq{"run_id": runID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build last event: %w", err)
	}
	var ts *time.Time
	if err := r.db.QueryRow(ctx, query, args...).Scan(&ts); err != nil {
		return nil, fmt.Errorf("select last event: %w", err)
	}
	return ts, nil
}

var contentColumns = []string{
	"id", "run_id", "patch_id", "title", "url", "canonical_url", "body_text", "content_hash",
	"quality", "relevance", "angle", "contested", "source_verified", "published_at", "media", "hero_id", "created_at",
}

// SaveContent upserts a content item.
func (r *PostgresRepository) SaveContent(ctx context.Context, item domain.ContentItem) error {
	media, err := json.Marshal(item.Media)
	if err != nil {
		return fmt.Errorf("marshal media: %w", err)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	query, args, err := psql.Insert("content_items").
		Columns(contentColumns...).
		Values(item.ID, item.RunID, item.PatchID, item.Title, item.URL, item.CanonicalURL, item.Text, item.ContentHash,
			item.Quality, item.Relevance, item.Angle, item.Contested, item.SourceVerified, item.PublishedAt, media,
			item.HeroID, item.CreatedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
              title = EXCLUDED.title,
              body_text = EXCLUDED.body_text,
              quality = EXCLUDED.quality,
              relevance = EXCLUDED.relevance,
              angle = EXCLUDED.angle,
              contested = EXCLUDED.contested,
              source_verified = EXCLUDED.source_verified,
              media = EXCLUDED.media`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert content: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert content: %w", err)
	}
	return nil
}

// GetContent loads one content item.
func (r *PostgresRepository) GetContent(ctx context.Context, id string) (domain.ContentItem, error) {
	query, args, err := psql.Select(contentColumns...).From("content_items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("build select content: %w", err)
	}
	item, err := scanContent(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ContentItem{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("select content: %w", err)
	}
	return item, nil
}

// FindByHash returns the first item of the patch with the same content hash.
func (r *PostgresRepository) FindByHash(ctx context.Context, patchID, hash string) (*domain.ContentItem, error) {
	query, args, err := psql.Select(contentColumns...).
		From("content_items").
		Where(sq.Eq{"patch_id": patchID, "content_hash": hash}).
		OrderBy("created_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find by hash: %w", err)
	}
	item, err := scanContent(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by hash: %w", err)
	}
	return &item, nil
}

// ListContentByRun returns a run's items in save order.
func (r *PostgresRepository) ListContentByRun(ctx context.Context, runID string) ([]domain.ContentItem, error) {
	query, args, err := psql.Select(contentColumns...).
		From("content_items").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list content: %w", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query content: %w", err)
	}
	defer rows.Close()

	var out []domain.ContentItem
	for rows.Next() {
		item, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// AttachHero links a hero to a content item.
func (r *PostgresRepository) AttachHero(ctx context.Context, contentID, heroID string) error {
	query, args, err := psql.Update("content_items").Set("hero_id", heroID).Where(sq.Eq{"id": contentID}).ToSql()
	if err != nil {
		return fmt.Errorf("build attach hero: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("attach hero: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

var heroColumns = []string{
	"id", "content_id", "status", "image_url", "dominant_color", "blur_placeholder", "source", "license", "last_error", "updated_at",
}

// GetHeroByContent returns the hero of a content item, nil when none exists.
func (r *PostgresRepository) GetHeroByContent(ctx context.Context, contentID string) (*domain.Hero, error) {
	query, args, err := psql.Select(heroColumns...).From("heroes").Where(sq.Eq{"content_id": contentID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select hero: %w", err)
	}
	h, err := scanHero(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select hero: %w", err)
	}
	return &h, nil
}

// UpsertHero inserts or updates the single hero of a content item; the first id wins.
func (r *PostgresRepository) UpsertHero(ctx context.Context, h domain.Hero) (domain.Hero, error) {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	query, args, err := psql.Insert("heroes").
		Columns(heroColumns...).
		Values(h.ID, h.ContentID, string(h.Status), h.ImageURL, h.DominantColor, h.BlurPlaceholder,
			string(h.Source), h.License, h.LastError, sq.Expr("NOW()")).
		Suffix(`ON CONFLICT (content_id) DO UPDATE SET
              status = EXCLUDED.status,
              image_url = EXCLUDED.image_url,
              dominant_color = EXCLUDED.dominant_color,
              blur_placeholder = EXCLUDED.blur_placeholder,
              source = EXCLUDED.source,
              license = EXCLUDED.license,
              last_error = EXCLUDED.last_error,
              updated_at = NOW()
              RETURNING id, updated_at`).
		ToSql()
	if err != nil {
		return domain.Hero{}, fmt.Errorf("build upsert hero: %w", err)
	}
	if err := r.db.QueryRow(ctx, query, args...).Scan(&h.ID, &h.UpdatedAt); err != nil {
		return domain.Hero{}, fmt.Errorf("upsert hero: %w", err)
	}
	return h, nil
}

var feedColumns = []string{
	"id", "consumer_id", "patch_id", "content_id", "content_hash", "status", "source",
	"enqueued_at", "updated_at", "memory_id", "last_error",
}

// InsertEntry inserts unless (consumer, content hash) exists; the unique index makes this atomic.
func (r *PostgresRepository) InsertEntry(ctx context.Context, e domain.FeedEntry) (domain.FeedEntry, bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = now
	}
	e.UpdatedAt = now

	query, args, err := psql.Insert("feed_entries").
		Columns(feedColumns...).
		Values(e.ID, e.ConsumerID, e.PatchID, e.ContentID, e.ContentHash, string(e.Status), string(e.Source),
			e.EnqueuedAt, e.UpdatedAt, e.MemoryID, e.LastError).
		Suffix("ON CONFLICT (consumer_id, content_hash) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return domain.FeedEntry{}, false, fmt.Errorf("build insert entry: %w", err)
	}

	var id string
	err = r.db.QueryRow(ctx, query, args...).Scan(&id)
	if err == nil {
		return e, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.FeedEntry{}, false, fmt.Errorf("insert entry: %w", err)
	}

	query, args, err = psql.Select(feedColumns...).
		From("feed_entries").
		Where(sq.Eq{"consumer_id": e.ConsumerID, "content_hash": e.ContentHash}).
		ToSql()
	if err != nil {
		return domain.FeedEntry{}, false, fmt.Errorf("build select entry: %w", err)
	}
	existing, err := scanEntry(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.FeedEntry{}, false, fmt.Errorf("select existing entry: %w", err)
	}
	return existing, false, nil
}

// GetEntry loads one feed entry.
func (r *PostgresRepository) GetEntry(ctx context.Context, id string) (domain.FeedEntry, error) {
	query, args, err := psql.Select(feedColumns...).From("feed_entries").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return domain.FeedEntry{}, fmt.Errorf("build select entry: %w", err)
	}
	e, err := scanEntry(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeedEntry{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.FeedEntry{}, fmt.Errorf("select entry: %w", err)
	}
	return e, nil
}

// ClaimNext atomically moves the oldest pending entry of a lane to processing.
func (r *PostgresRepository) ClaimNext(ctx context.Context, lane domain.Lane) (*domain.FeedEntry, error) {
	query, args, err := psql.Update("feed_entries").
		Set("status", string(domain.FeedProcessing)).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Expr(`id = (
              SELECT id FROM feed_entries
              WHERE consumer_id = ? AND patch_id = ? AND status = ?
              ORDER BY enqueued_at, id
              LIMIT 1
              FOR UPDATE SKIP LOCKED)`, lane.ConsumerID, lane.PatchID, string(domain.FeedPending))).
		Suffix("RETURNING id, consumer_id, patch_id, content_id, content_hash, status, source, enqueued_at, updated_at, memory_id, last_error").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim: %w", err)
	}
	e, err := scanEntry(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim entry: %w", err)
	}
	return &e, nil
}

// CompleteEntry records the final status of a delivery attempt.
func (r *PostgresRepository) CompleteEntry(ctx context.Context, id string, status domain.FeedStatus, memoryID, lastError string) error {
	query, args, err := psql.Update("feed_entries").
		Set("status", string(status)).
		Set("memory_id", memoryID).
		Set("last_error", lastError).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build complete entry: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("complete entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// RequeueEntry puts an entry back to pending.
func (r *PostgresRepository) RequeueEntry(ctx context.Context, id string) error {
	query, args, err := psql.Update("feed_entries").
		Set("status", string(domain.FeedPending)).
		Set("last_error", "").
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build requeue: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("requeue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// PendingLanes lists lanes with pending work.
func (r *PostgresRepository) PendingLanes(ctx context.Context) ([]domain.Lane, error) {
	query, args, err := psql.Select("consumer_id", "patch_id").
		Distinct().
		From("feed_entries").
		Where(sq.Eq{"status": string(domain.FeedPending)}).
		OrderBy("consumer_id", "patch_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending lanes: %w", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending lanes: %w", err)
	}
	defer rows.Close()

	var out []domain.Lane
	for rows.Next() {
		var lane domain.Lane
		if err := rows.Scan(&lane.ConsumerID, &lane.PatchID); err != nil {
			return nil, fmt.Errorf("scan lane: %w", err)
		}
		out = append(out, lane)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// CountByStatus counts a lane's entries per status.
func (r *PostgresRepository) CountByStatus(ctx context.Context, lane domain.Lane) (map[domain.FeedStatus]int, error) {
	query, args, err := psql.Select("status", "COUNT(*)").
		From("feed_entries").
		Where(sq.Eq{"consumer_id": lane.ConsumerID, "patch_id": lane.PatchID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count: %w", err)
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	out := map[domain.FeedStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[domain.FeedStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (domain.Run, error) {
	var (
		run     domain.Run
		status  string
		metrics []byte
	)
	if err := row.Scan(&run.ID, &run.PatchID, &status, &run.StartedAt, &run.EndedAt, &metrics); err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.RunStatus(status)
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &run.Metrics); err != nil {
			return domain.Run{}, fmt.Errorf("decode metrics: %w", err)
		}
	}
	return run, nil
}

func scanEvent(row pgx.Row) (domain.AuditEvent, error) {
	var (
		ev                                    domain.AuditEvent
		status                                string
		httpRaw, decision, scores, hash, hero []byte
		timing, errRaw                        []byte
	)
	if err := row.Scan(&ev.Seq, &ev.RunID, &ev.PatchID, &ev.Step, &status, &ev.Timestamp, &ev.Provider, &ev.Query,
		&ev.CandidateURL, &ev.FinalURL, &httpRaw, &decision, &scores, &hash, &hero, &timing, &errRaw); err != nil {
		return domain.AuditEvent{}, err
	}
	ev.Status = domain.EventStatus(status)

	var err error
	if ev.HTTP, err = fromJSON[domain.HTTPMeta](httpRaw); err != nil {
		return ev, err
	}
	if ev.Decision, err = fromJSON[domain.DecisionMeta](decision); err != nil {
		return ev, err
	}
	if ev.Scores, err = fromJSON[domain.ScoreMeta](scores); err != nil {
		return ev, err
	}
	if ev.Hash, err = fromJSON[domain.HashMeta](hash); err != nil {
		return ev, err
	}
	if ev.Hero, err = fromJSON[domain.HeroMeta](hero); err != nil {
		return ev, err
	}
	if ev.Timing, err = fromJSON[domain.TimingMeta](timing); err != nil {
		return ev, err
	}
	if ev.Error, err = fromJSON[domain.ErrorMeta](errRaw); err != nil {
		return ev, err
	}
	return ev, nil
}

func scanContent(row pgx.Row) (domain.ContentItem, error) {
	var (
		item  domain.ContentItem
		media []byte
	)
	if err := row.Scan(&item.ID, &item.RunID, &item.PatchID, &item.Title, &item.URL, &item.CanonicalURL, &item.Text,
		&item.ContentHash, &item.Quality, &item.Relevance, &item.Angle, &item.Contested, &item.SourceVerified,
		&item.PublishedAt, &media, &item.HeroID, &item.CreatedAt); err != nil {
		return domain.ContentItem{}, err
	}
	if len(media) > 0 {
		if err := json.Unmarshal(media, &item.Media); err != nil {
			return domain.ContentItem{}, fmt.Errorf("decode media: %w", err)
		}
	}
	return item, nil
}

func scanHero(row pgx.Row) (domain.Hero, error) {
	var (
		h              domain.Hero
		status, source string
	)
	if err := row.Scan(&h.ID, &h.ContentID, &status, &h.ImageURL, &h.DominantColor, &h.BlurPlaceholder,
		&source, &h.License, &h.LastError, &h.UpdatedAt); err != nil {
		return domain.Hero{}, err
	}
	h.Status = domain.HeroStatus(status)
	h.Source = domain.HeroSource(source)
	return h, nil
}

func scanEntry(row pgx.Row) (domain.FeedEntry, error) {
	var (
		e              domain.FeedEntry
		status, source string
	)
	if err := row.Scan(&e.ID, &e.ConsumerID, &e.PatchID, &e.ContentID, &e.ContentHash, &status, &source,
		&e.EnqueuedAt, &e.UpdatedAt, &e.MemoryID, &e.LastError); err != nil {
		return domain.FeedEntry{}, err
	}
	e.Status = domain.FeedStatus(status)
	e.Source = domain.FeedSource(source)
	return e, nil
}

func jsonOrNull(v any) ([]byte, error) {
	switch m := v.(type) {
	case *domain.HTTPMeta:
		if m == nil {
			return nil, nil
		}
	case *domain.DecisionMeta:
		if m == nil {
			return nil, nil
		}
	case *domain.ScoreMeta:
		if m == nil {
			return nil, nil
		}
	case *domain.HashMeta:
		if m == nil {
			return nil, nil
		}
	case *domain.HeroMeta:
		if m == nil {
			return nil, nil
		}
	case *domain.TimingMeta:
		if m == nil {
			return nil, nil
		}
	case *domain.ErrorMeta:
		if m == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func fromJSON[T any](raw []byte) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return &v, nil
}
