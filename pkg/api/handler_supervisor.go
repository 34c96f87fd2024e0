package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// supervisorStatusHandler handles GET /api/v1/supervisor, returning every
// currently active alert across the fleet (spec.md §4.7).
func (s *Server) supervisorStatusHandler(c *echo.Context) error {
	var alerts []*models.Alert
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		alerts, err = store.ListActiveAlerts(ctx, q)
		return err
	})
	if err != nil {
		return fail(err)
	}
	if alerts == nil {
		alerts = []*models.Alert{}
	}
	return c.JSON(http.StatusOK, map[string]any{"active_alerts": alerts})
}
