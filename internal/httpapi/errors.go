package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"DiscoveryFeed/internal/feedqueue"
	"DiscoveryFeed/internal/hero"
	"DiscoveryFeed/internal/lifecycle"
	"DiscoveryFeed/internal/ports"
	"DiscoveryFeed/internal/usecase"
)

// mapError converts a use-case error into an echo.HTTPError.
func mapError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ports.ErrNotFound),
		errors.Is(err, feedqueue.ErrUnknownEntry),
		errors.Is(err, usecase.ErrRunNotActive):
		return echo.NewHTTPError(http.StatusNotFound, "not found")

	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, feedqueue.ErrNotRequeueable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())

	case errors.Is(err, feedqueue.ErrInvalidPacing):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())

	case errors.Is(err, hero.ErrExhausted):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no hero could be resolved")

	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
