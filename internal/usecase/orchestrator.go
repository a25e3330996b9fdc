package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"DiscoveryFeed/internal/acceptance"
	"DiscoveryFeed/internal/audit"
	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/deeplink"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/feedqueue"
	"DiscoveryFeed/internal/lifecycle"
	"DiscoveryFeed/internal/metrics"
	"DiscoveryFeed/internal/ports"
)

// End reasons recorded in run metrics.
const (
	EndExhausted = "exhausted"
	EndStopped   = "stopped"
	EndSuspended = "suspended"
	EndCancelled = "cancelled"
)

// ErrRunNotActive is returned by Wait for runs this process is not driving.
var ErrRunNotActive = errors.New("run is not active in this process")

// HeroResolver attaches a representative image to saved content.
type HeroResolver interface {
	Resolve(ctx context.Context, item domain.ContentItem, force bool) (domain.Hero, error)
}

// Enqueuer hands saved content to the agent feed queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, req feedqueue.Request) (feedqueue.Result, error)
}

// OrchestratorDeps wires all driven adapters into the discovery orchestrator.
type OrchestratorDeps struct {
	Runs       *lifecycle.Manager
	Audit      *audit.Log
	Content    ports.ContentStore
	Seeds      ports.SeedSource
	Planner    ports.Planner
	Fetcher    ports.Fetcher
	Extractor  ports.Extractor
	Scorer     ports.Scorer
	Heroes     HeroResolver
	Feed       Enqueuer
	Notifier   ports.Notifier
	Filter     *deeplink.Filter
	Acceptance *acceptance.Evaluator
	Tracer     trace.Tracer
	Logger     *slog.Logger
	// MetricsTTL bounds how long the final metrics snapshot stays in the run-state cache.
	MetricsTTL time.Duration
}

// StartRequest opens a run for a patch. Seeds are extra URLs on top of the configured strategies;
// Consumers receive every saved item in addition to the configured ones.
type StartRequest struct {
	PatchID   string   `json:"patch_id"`
	Topic     string   `json:"topic"`
	Seeds     []string `json:"seeds,omitempty"`
	Consumers []string `json:"consumers,omitempty"`
}

// Outcome is how a driven run ended.
type Outcome struct {
	Run        domain.Run               `json:"-"`
	EndReason  string                   `json:"end_reason"`
	Saves      int                      `json:"saves"`
	Attempts   int                      `json:"attempts"`
	Acceptance *domain.AcceptanceResult `json:"acceptance,omitempty"`
}

// Orchestrator drives discovery runs: seed, filter, fetch, extract, vet, score, save.
type Orchestrator struct {
	runs       *lifecycle.Manager
	audit      *audit.Log
	content    ports.ContentStore
	seeds      ports.SeedSource
	planner    ports.Planner
	fetcher    ports.Fetcher
	extractor  ports.Extractor
	scorer     ports.Scorer
	heroes     HeroResolver
	feed       Enqueuer
	notifier   ports.Notifier
	filter     *deeplink.Filter
	acceptance *acceptance.Evaluator
	tracer     trace.Tracer
	logger     *slog.Logger
	cfg        config.DiscoveryConfig
	metricsTTL time.Duration
	now        func() time.Time

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
	err     error
}

// NewOrchestrator constructs the orchestration component.
func NewOrchestrator(cfg config.DiscoveryConfig, deps OrchestratorDeps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("DiscoveryFeed/internal/usecase")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PauseCheckWait <= 0 {
		cfg.PauseCheckWait = time.Second
	}
	return &Orchestrator{
		runs:       deps.Runs,
		audit:      deps.Audit,
		content:    deps.Content,
		seeds:      deps.Seeds,
		planner:    deps.Planner,
		fetcher:    deps.Fetcher,
		extractor:  deps.Extractor,
		scorer:     deps.Scorer,
		heroes:     deps.Heroes,
		feed:       deps.Feed,
		notifier:   deps.Notifier,
		filter:     deps.Filter,
		acceptance: deps.Acceptance,
		tracer:     tracer,
		logger:     logger,
		cfg:        cfg,
		metricsTTL: deps.MetricsTTL,
		now:        time.Now,
		active:     map[string]*activeRun{},
	}
}

// Start opens a live run and drives it in the background. The run outlives ctx; use Stop to end it.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (domain.Run, error) {
	req.PatchID = strings.TrimSpace(req.PatchID)
	if req.PatchID == "" {
		return domain.Run{}, fmt.Errorf("start run: empty patch id")
	}
	run, err := o.runs.Start(ctx, req.PatchID)
	if err != nil {
		return domain.Run{}, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	o.mu.Lock()
	o.active[run.ID] = ar
	o.mu.Unlock()

	go func() {
		defer close(ar.done)
		defer cancel()
		ar.outcome, ar.err = o.drive(runCtx, run, req)
	}()

	o.logger.Info("run started", "run_id", run.ID, "patch_id", run.PatchID, "topic", req.Topic)
	return run, nil
}

// Run starts a run and blocks until it ends.
func (o *Orchestrator) Run(ctx context.Context, req StartRequest) (Outcome, error) {
	run, err := o.Start(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	outcome, err := o.Wait(ctx, run.ID)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if _, stopErr := o.Stop(context.WithoutCancel(ctx), run.ID); stopErr != nil {
			o.logger.Warn("stop run after cancel", "run_id", run.ID, "error", stopErr)
		}
		return o.Wait(context.WithoutCancel(ctx), run.ID)
	}
	return outcome, err
}

// Wait blocks until a run driven by this process ends.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (Outcome, error) {
	o.mu.Lock()
	ar, ok := o.active[runID]
	o.mu.Unlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	select {
	case <-ar.done:
		return ar.outcome, ar.err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Pause stops dequeuing for the run; in-flight candidates complete.
func (o *Orchestrator) Pause(ctx context.Context, runID string) (domain.Run, error) {
	return o.runs.Pause(ctx, runID)
}

// Resume lets a paused run dequeue again.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (domain.Run, error) {
	return o.runs.Resume(ctx, runID)
}

// Stop marks the run stopped and abandons its in-flight work.
func (o *Orchestrator) Stop(ctx context.Context, runID string) (domain.Run, error) {
	run, err := o.runs.Stop(ctx, runID, EndStopped)
	if err != nil {
		return run, err
	}
	o.mu.Lock()
	ar, ok := o.active[runID]
	o.mu.Unlock()
	if ok {
		ar.cancel()
	}
	return run, nil
}

// Active lists the ids of runs driven by this process that have not ended.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ids []string
	for id, ar := range o.active {
		select {
		case <-ar.done:
		default:
			ids = append(ids, id)
		}
	}
	return ids
}

// runState is the per-run bookkeeping shared by candidate workers.
type runState struct {
	run       domain.Run
	plan      domain.Plan
	consumers []string
	frontier  *frontier

	mu          sync.Mutex
	hashes      map[string]string
	attempts    int
	saves       int
	ctAttempts  int
	ctSaves     int
	timeToFirst *int64
}

func (st *runState) claimHash(hash, contentID string) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if owner, ok := st.hashes[hash]; ok {
		return owner, false
	}
	st.hashes[hash] = contentID
	return contentID, true
}

func (st *runState) setHashOwner(hash, contentID string) {
	st.mu.Lock()
	st.hashes[hash] = contentID
	st.mu.Unlock()
}

func (st *runState) releaseHash(hash string) {
	st.mu.Lock()
	delete(st.hashes, hash)
	st.mu.Unlock()
}

// applyTo writes the orchestrator-owned counters into m, leaving cleanup fields alone.
func (st *runState) applyTo(m *domain.RunMetrics, depth int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	m.Attempts = st.attempts
	m.Saves = st.saves
	m.ControversyAttempts = st.ctAttempts
	m.ControversySaves = st.ctSaves
	if st.timeToFirst != nil {
		v := *st.timeToFirst
		m.TimeToFirstMs = &v
	}
	if depth > m.FrontierDepth {
		m.FrontierDepth = depth
	}
}

func (o *Orchestrator) drive(ctx context.Context, run domain.Run, req StartRequest) (Outcome, error) {
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	ctx, span := o.tracer.Start(ctx, "discovery.run", trace.WithAttributes(runAttrs(run)...))
	defer span.End()

	st := &runState{
		run:       run,
		consumers: mergeConsumers(o.cfg.Consumers, req.Consumers),
		frontier:  newFrontier(o.cfg.MaxCandidates),
		hashes:    map[string]string{},
	}
	st.plan = o.plan(ctx, run, req.Topic)
	o.seed(ctx, st, req.Seeds)

	endReason := o.loop(ctx, st)

	// bookkeeping must land even when the run context was cancelled by Stop
	finalCtx := context.WithoutCancel(ctx)
	if endReason == EndExhausted {
		if _, err := o.runs.Stop(finalCtx, run.ID, EndExhausted); err != nil && !errors.Is(err, lifecycle.ErrInvalidTransition) {
			o.logger.Error("stop exhausted run", "run_id", run.ID, "error", err)
		}
	}

	final, err := o.runs.UpdateMetrics(finalCtx, run.ID, func(m *domain.RunMetrics) {
		st.applyTo(m, st.frontier.depth())
		if m.EndReason == "" {
			m.EndReason = endReason
		}
	})
	if err != nil {
		o.logger.Error("record run metrics", "run_id", run.ID, "error", err)
	}

	outcome := Outcome{EndReason: endReason}
	st.mu.Lock()
	outcome.Saves, outcome.Attempts = st.saves, st.attempts
	st.mu.Unlock()

	if endReason == EndExhausted || endReason == EndStopped {
		result, err := o.evaluate(finalCtx, st, final)
		if err != nil {
			o.logger.Error("evaluate acceptance", "run_id", run.ID, "error", err)
		} else {
			outcome.Acceptance = &result
		}
	}

	if latest, err := o.runs.Get(finalCtx, run.ID); err == nil {
		outcome.Run = latest
		o.runs.SnapshotMetrics(finalCtx, run.ID, latest.Metrics, o.metricsTTL)
	} else {
		outcome.Run = run
	}

	o.logger.Info("run ended", "run_id", run.ID, "patch_id", run.PatchID, "end_reason", endReason,
		"saves", outcome.Saves, "attempts", outcome.Attempts)
	return outcome, nil
}

// loop dequeues until the frontier is exhausted or the run leaves the live state.
// The durable status is re-read before every dequeue so pause, stop and health-monitor
// suspension are all observed. A worker slot is taken before the read, so nothing is handed
// out on a stale status.
func (o *Orchestrator) loop(ctx context.Context, st *runState) string {
	var (
		g        errgroup.Group
		inflight atomic.Int64
	)
	slots := make(chan struct{}, o.cfg.Concurrency)
	release := func() { <-slots }
	wake := make(chan struct{}, 1)
	signal := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	reason := EndExhausted
dequeue:
	for {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			reason = EndCancelled
			break dequeue
		}

		status, err := o.runs.Current(ctx, st.run.ID)
		if err != nil {
			release()
			if ctx.Err() != nil {
				reason = EndCancelled
				break
			}
			o.logger.Warn("read run status", "run_id", st.run.ID, "error", err)
			if !o.sleep(ctx, o.cfg.PauseCheckWait) {
				reason = EndCancelled
				break
			}
			continue
		}
		switch status {
		case domain.RunStopped:
			release()
			reason = EndStopped
			break dequeue
		case domain.RunSuspended:
			release()
			reason = EndSuspended
			break dequeue
		case domain.RunPaused:
			release()
			if !o.sleep(ctx, o.cfg.PauseCheckWait) {
				reason = EndCancelled
				break dequeue
			}
			continue
		}

		cand, ok := st.frontier.pop()
		if !ok {
			release()
			// workers push links before they finish, so an idle pool plus an empty
			// frontier means nothing more can arrive
			if inflight.Load() == 0 && st.frontier.len() == 0 {
				break
			}
			select {
			case <-wake:
			case <-time.After(o.cfg.PauseCheckWait):
			case <-ctx.Done():
			}
			continue
		}

		inflight.Add(1)
		g.Go(func() error {
			defer signal()
			defer inflight.Add(-1)
			defer release()
			o.process(ctx, st, cand)
			return nil
		})
	}

	_ = g.Wait()
	if reason == EndCancelled {
		// Stop cancels the context after writing the status; prefer the durable reason
		if status, err := o.runs.Current(context.WithoutCancel(ctx), st.run.ID); err == nil {
			switch status {
			case domain.RunStopped:
				reason = EndStopped
			case domain.RunSuspended:
				reason = EndSuspended
			}
		}
	}
	return reason
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (o *Orchestrator) plan(ctx context.Context, run domain.Run, topic string) domain.Plan {
	fallback := domain.Plan{Topic: topic}
	if strings.TrimSpace(topic) != "" {
		fallback.Queries = []string{topic}
	}
	if o.planner == nil || strings.TrimSpace(topic) == "" {
		return fallback
	}
	ctx, span := o.tracer.Start(ctx, "discovery.plan")
	defer span.End()

	plan, err := o.planner.Plan(ctx, run.PatchID, topic)
	if err != nil {
		span.RecordError(err)
		o.logger.Warn("planner failed, using topic as the only query", "run_id", run.ID, "error", err)
		return fallback
	}
	if len(plan.Queries) == 0 {
		plan.Queries = fallback.Queries
	}
	return plan
}

// seed fills the frontier from explicit URLs and the configured strategies, one audit event
// per seed.
func (o *Orchestrator) seed(ctx context.Context, st *runState, explicit []string) {
	ctx, span := o.tracer.Start(ctx, "discovery.seed")
	defer span.End()

	var seeds []domain.Candidate
	for _, u := range explicit {
		if u = strings.TrimSpace(u); u != "" {
			seeds = append(seeds, domain.Candidate{URL: u, Provider: "request", Origin: domain.OriginSeed})
		}
	}
	if o.seeds != nil {
		found, err := o.seeds.Seeds(ctx, st.run.PatchID, st.plan)
		if err != nil {
			span.RecordError(err)
			o.record(ctx, st, domain.AuditEvent{
				Step:   domain.StepSeed,
				Status: domain.EventFail,
				Error:  &domain.ErrorMeta{Kind: "seed_source", Message: err.Error()},
			})
		}
		seeds = append(seeds, found...)
	}

	for _, c := range seeds {
		if frontierKey(c.URL) == "" {
			o.record(ctx, st, domain.AuditEvent{
				Step:         domain.StepSeed,
				Status:       domain.EventFail,
				Provider:     c.Provider,
				Query:        c.Query,
				CandidateURL: c.URL,
				Decision:     &domain.DecisionMeta{Reason: domain.ReasonInvalidURL, Origin: c.Origin},
			})
			continue
		}
		if !st.frontier.push(c) {
			continue
		}
		o.record(ctx, st, domain.AuditEvent{
			Step:         domain.StepSeed,
			Status:       domain.EventOK,
			Provider:     c.Provider,
			Query:        c.Query,
			CandidateURL: c.URL,
			Decision:     &domain.DecisionMeta{Origin: c.Origin},
		})
	}
}

func (o *Orchestrator) record(ctx context.Context, st *runState, ev domain.AuditEvent) {
	ev.RunID = st.run.ID
	ev.PatchID = st.run.PatchID
	if _, err := o.audit.Record(context.WithoutCancel(ctx), ev); err != nil {
		o.logger.Warn("record audit event", "run_id", st.run.ID, "step", ev.Step, "error", err)
	}
}

func mergeConsumers(lists ...[]string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, list := range lists {
		for _, c := range list {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
