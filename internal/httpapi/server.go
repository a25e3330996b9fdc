// Package httpapi is the thin HTTP surface over runs, analytics and consumer controls.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"DiscoveryFeed/internal/audit"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/feedqueue"
	"DiscoveryFeed/internal/lifecycle"
	"DiscoveryFeed/internal/ports"
	"DiscoveryFeed/internal/usecase"
)

// RunController starts and steers discovery runs.
type RunController interface {
	Start(ctx context.Context, req usecase.StartRequest) (domain.Run, error)
	Pause(ctx context.Context, runID string) (domain.Run, error)
	Resume(ctx context.Context, runID string) (domain.Run, error)
	Stop(ctx context.Context, runID string) (domain.Run, error)
}

// HeroResolver re-resolves a content item's hero on demand.
type HeroResolver interface {
	Resolve(ctx context.Context, item domain.ContentItem, force bool) (domain.Hero, error)
}

// Deps wires the use cases the handlers call.
type Deps struct {
	Runs     RunController
	Store    ports.RunStore
	Audit    *audit.Log
	Content  ports.ContentStore
	Queue    *feedqueue.Queue
	Controls *feedqueue.Controls
	Heroes   HeroResolver
	Sweeper  usecase.Sweeper
	Logger   *slog.Logger
	// Heartbeat is the SSE keep-alive interval; zero means 15s.
	Heartbeat time.Duration
	// StaticPrefix and StaticDir serve stored hero images when both are set.
	StaticPrefix string
	StaticDir    string
}

// Server owns the echo instance.
type Server struct {
	echo      *echo.Echo
	runs      RunController
	store     ports.RunStore
	audit     *audit.Log
	content   ports.ContentStore
	queue     *feedqueue.Queue
	controls  *feedqueue.Controls
	heroes    HeroResolver
	sweeper   usecase.Sweeper
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runs:      deps.Runs,
		store:     deps.Store,
		audit:     deps.Audit,
		content:   deps.Content,
		queue:     deps.Queue,
		controls:  deps.Controls,
		heroes:    deps.Heroes,
		sweeper:   deps.Sweeper,
		logger:    logger,
		heartbeat: deps.Heartbeat,
	}
	if s.heartbeat <= 0 {
		s.heartbeat = 15 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/healthz" || p == "/metrics"
		},
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error == nil {
				logger.Info("request completed", "method", v.Method, "uri", v.URI, "status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				logger.Error("request failed", "method", v.Method, "uri", v.URI, "status", v.Status,
					"latency_ms", v.Latency.Milliseconds(), "error", v.Error.Error())
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())

	if deps.StaticPrefix != "" && deps.StaticDir != "" {
		e.Static(deps.StaticPrefix, deps.StaticDir)
	}
	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	runs := e.Group("/runs")
	runs.POST("", s.startRun)
	runs.GET("/:id", s.getRun)
	runs.POST("/:id/pause", s.pauseRun)
	runs.POST("/:id/resume", s.resumeRun)
	runs.POST("/:id/stop", s.stopRun)
	runs.GET("/:id/analytics", s.analytics)
	runs.GET("/:id/audit", s.auditPage)
	runs.GET("/:id/events", s.events)

	consumers := e.Group("/consumers/:consumer/patches/:patch")
	consumers.POST("/pause", s.pauseConsumer)
	consumers.POST("/resume", s.resumeConsumer)
	consumers.PUT("/pacing", s.setPacing)
	consumers.GET("", s.consumerStatus)

	e.POST("/feed", s.enqueue)
	e.POST("/feed/:id/requeue", s.requeue)
	e.POST("/content/:id/hero", s.resolveHero)
	e.POST("/health/sweep", s.sweep)

	s.echo = e
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) sweep(c echo.Context) error {
	if s.sweeper == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "health monitor is not configured")
	}
	report, err := s.sweeper.Sweep(c.Request().Context())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, report)
}

var _ usecase.Sweeper = (*lifecycle.Monitor)(nil)
