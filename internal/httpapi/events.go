package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"DiscoveryFeed/internal/domain"
)

// events streams a run's audit events as server-sent events. Events after the Last-Event-ID
// header (or the cursor query) are replayed from the durable log before the live tail.
// The subscription is closed when the client disconnects.
func (s *Server) events(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("id")
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return mapError(err)
	}

	sub, err := s.audit.Subscribe(ctx, runID)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "live events are not available")
	}
	defer sub.Close()

	var cursor int64 = -1
	if raw := c.Request().Header.Get("Last-Event-ID"); raw != "" {
		cursor, _ = strconv.ParseInt(raw, 10, 64)
	} else if raw := c.QueryParam("cursor"); raw != "" {
		cursor, _ = strconv.ParseInt(raw, 10, 64)
	}

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	var last int64
	if cursor >= 0 {
		replay, err := s.audit.Snapshot(ctx, runID)
		if err != nil {
			s.logger.Warn("replay audit events", "run_id", runID, "error", err)
		}
		for _, ev := range replay {
			if ev.Seq <= cursor {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				return nil
			}
			last = ev.Seq
		}
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return nil
			}
			w.Flush()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			// the live tail may repeat what the replay already sent
			if ev.Seq != 0 && ev.Seq <= last {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				s.logger.Debug("sse client gone", "run_id", runID, "error", err)
				return nil
			}
		}
	}
}

func writeEvent(w *echo.Response, ev domain.AuditEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Step, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
