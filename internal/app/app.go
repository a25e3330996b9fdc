package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"DiscoveryFeed/internal/acceptance"
	"DiscoveryFeed/internal/audit"
	"DiscoveryFeed/internal/config"
	"DiscoveryFeed/internal/deeplink"
	"DiscoveryFeed/internal/feedqueue"
	"DiscoveryFeed/internal/hero"
	"DiscoveryFeed/internal/httpapi"
	"DiscoveryFeed/internal/infrastructure/cache"
	"DiscoveryFeed/internal/infrastructure/extract"
	"DiscoveryFeed/internal/infrastructure/fetch"
	"DiscoveryFeed/internal/infrastructure/imagegen"
	"DiscoveryFeed/internal/infrastructure/llm"
	"DiscoveryFeed/internal/infrastructure/memory"
	"DiscoveryFeed/internal/infrastructure/ml"
	"DiscoveryFeed/internal/infrastructure/objectstore"
	"DiscoveryFeed/internal/infrastructure/parser"
	"DiscoveryFeed/internal/infrastructure/preview"
	"DiscoveryFeed/internal/infrastructure/scheduler"
	"DiscoveryFeed/internal/infrastructure/storage"
	"DiscoveryFeed/internal/infrastructure/stream"
	"DiscoveryFeed/internal/infrastructure/telegram"
	"DiscoveryFeed/internal/lifecycle"
	"DiscoveryFeed/internal/logging"
	"DiscoveryFeed/internal/ports"
	"DiscoveryFeed/internal/scanner"
	"DiscoveryFeed/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

// stores groups the durable ports; one backend implements all of them.
type stores struct {
	runs     ports.RunStore
	audit    ports.AuditStore
	content  ports.ContentStore
	heroes   ports.HeroStore
	feed     ports.FeedStore
	controls ports.ControlStore
}

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	orchestrator *usecase.Orchestrator
	monitor      *lifecycle.Monitor
	worker       *feedqueue.Worker
	scheduler    *usecase.Scheduler
	server       *httpapi.Server

	closers []func()
}

// New builds every adapter selected by cfg.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	a := &Application{cfg: cfg, logger: baseLogger}

	st, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	runCache, events, err := a.openCache(ctx, &st)
	if err != nil {
		a.Close()
		return nil, err
	}

	auditLog := audit.NewLog(st.audit, events, baseLogger.With("component", "audit"))
	manager := lifecycle.NewManager(st.runs, runCache, baseLogger.With("component", "lifecycle"))
	a.monitor = lifecycle.NewMonitor(st.runs, st.audit, manager, cfg.Health, baseLogger.With("component", "health"))

	controls := feedqueue.NewControls(st.controls, cfg.Feed)
	queue := feedqueue.NewQueue(st.feed, controls, cfg.Feed, baseLogger.With("component", "feed"))
	a.worker = feedqueue.NewWorker(cfg.Feed.TickInterval, feedqueue.WorkerDeps{
		Entries:  st.feed,
		Content:  st.content,
		Controls: controls,
		Memory:   memory.NewClient(cfg.Memory),
		Logger:   baseLogger.With("component", "feed.worker"),
	})

	heroes, err := a.heroPipeline(st)
	if err != nil {
		a.Close()
		return nil, err
	}

	client := &http.Client{Timeout: cfg.Discovery.FetchTimeout}
	registry := scanner.NewRegistry(
		parser.StaticScanner{},
		parser.NewRSSScanner(client, cfg.Discovery.UserAgent),
		parser.NewArxivScanner(client, cfg.Discovery.UserAgent),
		parser.NewQueryScanner(client, cfg.Discovery.UserAgent),
	)

	var planner ports.Planner
	if cfg.ChatGPT.APIKey != "" {
		planner = llm.NewChatGPTPlanner(cfg.ChatGPT)
	}
	var notifier ports.Notifier
	if tg := telegram.NewNotifier(cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID); tg.Configured() {
		notifier = tg
	}

	a.orchestrator = usecase.NewOrchestrator(cfg.Discovery, usecase.OrchestratorDeps{
		Runs:       manager,
		Audit:      auditLog,
		Content:    st.content,
		Seeds:      parser.NewStrategySource(registry, cfg.Sites, baseLogger.With("component", "source")),
		Planner:    planner,
		Fetcher:    fetch.New(cfg.Discovery, client, baseLogger.With("component", "fetch")),
		Extractor:  extract.New(baseLogger.With("component", "extract")),
		Scorer:     ml.NewClient(cfg.ML.InferenceURL, cfg.ML.APIKey),
		Heroes:     heroes,
		Feed:       queue,
		Notifier:   notifier,
		Filter:     deeplink.New(cfg.DeepLink),
		Acceptance: acceptance.New(cfg.Acceptance),
		Tracer:     otel.Tracer("DiscoveryFeed"),
		Logger:     baseLogger.With("component", "orchestrator"),
		MetricsTTL: cfg.Redis.MetricsTTL,
	})

	if cfg.Scheduler.HealthSweepCron != "" {
		a.scheduler = usecase.NewScheduler(
			scheduler.NewCronScheduler(cfg.Scheduler.HealthSweepCron, cfg.Scheduler.Location()),
			a.monitor,
			baseLogger.With("component", "scheduler"),
		)
	}

	a.server = httpapi.NewServer(httpapi.Deps{
		Runs:         a.orchestrator,
		Store:        st.runs,
		Audit:        auditLog,
		Content:      st.content,
		Queue:        queue,
		Controls:     controls,
		Heroes:       heroes,
		Sweeper:      a.monitor,
		Logger:       baseLogger.With("component", "http"),
		StaticPrefix: staticPrefix(cfg.Hero.ObjectBaseURL),
		StaticDir:    cfg.Hero.ObjectDir,
	})
	return a, nil
}

func (a *Application) openStores(ctx context.Context) (stores, error) {
	switch strings.ToLower(a.cfg.Database.Driver) {
	case "", "memory":
		mem := storage.NewMemoryStore()
		return stores{runs: mem, audit: mem, content: mem, heroes: mem, feed: mem, controls: mem}, nil
	case "postgres":
		pool, err := storage.Connect(ctx, a.cfg.Database.DSN)
		if err != nil {
			return stores{}, err
		}
		a.closers = append(a.closers, pool.Close)
		repo := storage.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return stores{}, err
		}
		// consumer controls live next to the cache; in-process until Redis replaces them
		return stores{runs: repo, audit: repo, content: repo, heroes: repo, feed: repo, controls: storage.NewMemoryStore()}, nil
	default:
		return stores{}, fmt.Errorf("unknown database driver %q", a.cfg.Database.Driver)
	}
}

// openCache selects Redis for the run-state cache, event stream and consumer controls when a
// URL is configured, and in-process backends otherwise.
func (a *Application) openCache(ctx context.Context, st *stores) (ports.RunStateCache, ports.EventStream, error) {
	logger := a.logger.With("component", "stream")
	if a.cfg.Redis.URL == "" {
		return cache.NewMemoryCache(), stream.NewMemoryStream(a.cfg.Redis.StreamDepth, logger), nil
	}
	opts, err := redis.ParseURL(a.cfg.Redis.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	rc := cache.NewRedisCache(client, a.cfg.Redis.KeyPrefix)
	st.controls = rc
	return rc, stream.NewRedisStream(client, a.cfg.Redis.KeyPrefix, a.cfg.Redis.StreamDepth, logger), nil
}

func (a *Application) heroPipeline(st stores) (*hero.Pipeline, error) {
	objects, err := objectstore.NewFilesystem(a.cfg.Hero.ObjectDir, a.cfg.Hero.ObjectBaseURL)
	if err != nil {
		return nil, err
	}
	var renderer ports.PreviewRenderer
	if a.cfg.Hero.PreviewURL != "" {
		renderer = preview.NewRenderer(a.cfg.Hero.PreviewURL, nil)
	}
	var generator ports.ImageGenerator
	if a.cfg.Hero.GeneratorURL != "" {
		generator = imagegen.NewClient(a.cfg.Hero.GeneratorURL, nil)
	}
	return hero.NewPipeline(a.cfg.Hero, hero.Deps{
		Heroes:    st.heroes,
		Content:   st.content,
		Objects:   objects,
		Renderer:  renderer,
		Generator: generator,
		Logger:    a.logger.With("component", "hero"),
	}), nil
}

// Serve runs the HTTP surface, the feed worker and the health cron until ctx ends.
func (a *Application) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.worker.Run(gctx)
	})
	if a.scheduler != nil {
		if err := a.scheduler.Start(gctx); err != nil {
			return fmt.Errorf("start health sweep: %w", err)
		}
	}
	g.Go(func() error {
		a.logger.Info("http listening", "addr", a.cfg.HTTP.Addr)
		if err := a.server.Start(a.cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		for _, id := range a.orchestrator.Active() {
			if _, err := a.orchestrator.Stop(shutdownCtx, id); err != nil {
				a.logger.Warn("stop run on shutdown", "run_id", id, "error", err)
			}
		}
		if a.scheduler != nil {
			_ = a.scheduler.Stop(shutdownCtx)
		}
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Discover drives one run to completion.
func (a *Application) Discover(ctx context.Context, req usecase.StartRequest) (usecase.Outcome, error) {
	return a.orchestrator.Run(ctx, req)
}

// Sweep runs one health sweep.
func (a *Application) Sweep(ctx context.Context) (lifecycle.SweepReport, error) {
	return a.monitor.Sweep(ctx)
}

// Close releases pools and clients.
func (a *Application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func staticPrefix(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	return strings.TrimSuffix(u.Path, "/")
}
