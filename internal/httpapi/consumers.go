package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"DiscoveryFeed/internal/domain"
	"DiscoveryFeed/internal/feedqueue"
)

type consumerStatus struct {
	Control domain.ConsumerControl    `json:"control"`
	Counts  map[domain.FeedStatus]int `json:"counts"`
}

type enqueueRequest struct {
	ConsumerID string `json:"consumer_id"`
	ContentID  string `json:"content_id"`
}

type heroView struct {
	ID              string            `json:"id"`
	ContentID       string            `json:"content_id"`
	Status          domain.HeroStatus `json:"status"`
	ImageURL        string            `json:"image_url,omitempty"`
	DominantColor   string            `json:"dominant_color,omitempty"`
	BlurPlaceholder string            `json:"blur_placeholder,omitempty"`
	Source          domain.HeroSource `json:"source,omitempty"`
	License         string            `json:"license,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
}

func lane(c echo.Context) domain.Lane {
	return domain.Lane{ConsumerID: c.Param("consumer"), PatchID: c.Param("patch")}
}

func (s *Server) pauseConsumer(c echo.Context) error {
	ctl, err := s.controls.Pause(c.Request().Context(), lane(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, ctl)
}

func (s *Server) resumeConsumer(c echo.Context) error {
	ctl, err := s.controls.Resume(c.Request().Context(), lane(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, ctl)
}

func (s *Server) setPacing(c echo.Context) error {
	var p domain.Pacing
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctl, err := s.controls.SetPacing(c.Request().Context(), lane(c), p)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, ctl)
}

func (s *Server) consumerStatus(c echo.Context) error {
	ctx := c.Request().Context()
	l := lane(c)
	ctl, err := s.controls.Get(ctx, l)
	if err != nil {
		return mapError(err)
	}
	counts, err := s.queue.Stats(ctx, l)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, consumerStatus{Control: ctl, Counts: counts})
}

// enqueue feeds an already saved item to a consumer by hand; pauseDiscovery does not apply.
func (s *Server) enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.ConsumerID) == "" || strings.TrimSpace(req.ContentID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "consumer_id and content_id are required")
	}
	ctx := c.Request().Context()
	item, err := s.content.GetContent(ctx, req.ContentID)
	if err != nil {
		return mapError(err)
	}
	res, err := s.queue.Enqueue(ctx, feedqueue.Request{
		ConsumerID: req.ConsumerID,
		Item:       item,
		Source:     domain.FeedFromManual,
	})
	if err != nil {
		return mapError(err)
	}
	status := http.StatusOK
	if res.Enqueued {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

func (s *Server) requeue(c echo.Context) error {
	entry, err := s.queue.Requeue(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (s *Server) resolveHero(c echo.Context) error {
	if s.heroes == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "hero resolution is not configured")
	}
	ctx := c.Request().Context()
	item, err := s.content.GetContent(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	h, err := s.heroes.Resolve(ctx, item, c.QueryParam("force") == "true")
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, heroView{
		ID:              h.ID,
		ContentID:       h.ContentID,
		Status:          h.Status,
		ImageURL:        h.ImageURL,
		DominantColor:   h.DominantColor,
		BlurPlaceholder: h.BlurPlaceholder,
		Source:          h.Source,
		License:         h.License,
		LastError:       h.LastError,
	})
}
