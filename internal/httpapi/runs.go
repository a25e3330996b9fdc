package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"DiscoveryFeed/internal/audit"
	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/usecase"
)

type runView struct {
	ID        string            `json:"id"`
	PatchID   string            `json:"patch_id"`
	Status    domain.RunStatus  `json:"status"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   *time.Time        `json:"ended_at,omitempty"`
	Metrics   domain.RunMetrics `json:"metrics"`
}

func toRunView(r domain.Run) runView {
	return runView{
		ID:        r.ID,
		PatchID:   r.PatchID,
		Status:    r.Status,
		StartedAt: r.StartedAt,
		EndedAt:   r.EndedAt,
		Metrics:   r.Metrics,
	}
}

type analyticsResponse struct {
	Run       runView       `json:"run"`
	Analytics audit.Summary `json:"analytics"`
}

type auditPageResponse struct {
	Events     []domain.AuditEvent `json:"events"`
	NextCursor int64               `json:"next_cursor"`
}

func (s *Server) startRun(c echo.Context) error {
	var req usecase.StartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.PatchID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patch_id is required")
	}
	run, err := s.runs.Start(c.Request().Context(), req)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusAccepted, toRunView(run))
}

func (s *Server) getRun(c echo.Context) error {
	run, err := s.store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toRunView(run))
}

func (s *Server) pauseRun(c echo.Context) error {
	run, err := s.runs.Pause(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toRunView(run))
}

func (s *Server) resumeRun(c echo.Context) error {
	run, err := s.runs.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toRunView(run))
}

func (s *Server) stopRun(c echo.Context) error {
	run, err := s.runs.Stop(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, toRunView(run))
}

// analytics folds the whole audit log of a run. A run without events still answers, with the
// zero_save status.
func (s *Server) analytics(c echo.Context) error {
	ctx := c.Request().Context()
	run, err := s.store.GetRun(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	events, err := s.audit.Snapshot(ctx, run.ID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, analyticsResponse{
		Run:       toRunView(run),
		Analytics: audit.BuildAnalytics(events, run.Metrics, nil),
	})
}

func (s *Server) auditPage(c echo.Context) error {
	cursor, err := queryInt(c, "cursor")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	events, next, err := s.audit.Page(c.Request().Context(), c.Param("id"), cursor, int(limit))
	if err != nil {
		return mapError(err)
	}
	if events == nil {
		events = []domain.AuditEvent{}
	}
	return c.JSON(http.StatusOK, auditPageResponse{Events: events, NextCursor: next})
}

func queryInt(c echo.Context, name string) (int64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return v, nil
}
