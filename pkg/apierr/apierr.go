// Package apierr maps the core error taxonomy of spec.md §7
// (models.Kind: NotFound/Conflict/Invalid/Transient/Fatal) to HTTP
// responses, the same role pkg/api/errors.go's mapServiceError plays in
// the teacher: errors.As/errors.Is-driven dispatch, falling back to a
// logged 500 for anything unclassified.
package apierr

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/digitaltwin/dtwind/pkg/models"
)

// statusFor maps a taxonomy Kind to its spec.md §7 HTTP status.
func statusFor(k models.Kind) int {
	switch k {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindInvalid:
		return http.StatusBadRequest
	case models.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Map converts err into an *echo.HTTPError per spec.md §7's taxonomy.
// A *models.Error carries its own Kind; a bare sentinel from pkg/models
// (ErrCycleDetected, ErrClaimConflict, ...) is classified by identity;
// anything else is logged and reported as an opaque 500 — the same
// fail-closed default pkg/api/errors.go's mapServiceError uses.
func Map(err error) *echo.HTTPError {
	var e *models.Error
	if errors.As(err, &e) {
		return echo.NewHTTPError(statusFor(e.Kind), e.Error())
	}

	switch {
	case errors.Is(err, models.ErrCycleDetected), errors.Is(err, models.ErrCrossOutcomeDep):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrClaimConflict), errors.Is(err, models.ErrJobAlreadyQueued), errors.Is(err, models.ErrParallelNotAllowed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrNoTaskReady):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrEscalationAnswered):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	slog.Error("unclassified internal error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
