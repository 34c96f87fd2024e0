package api

import (
	"context"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// listProgressHandler handles GET /api/v1/outcomes/:id/progress for the
// worker named by the required ?worker_id= (400 when absent), optionally
// limited by ?limit= (default: all, ordered).
func (s *Server) listProgressHandler(c *echo.Context) error {
	workerID := c.QueryParam("worker_id")
	if workerID == "" {
		return badRequest("worker_id query parameter is required")
	}

	limit := -1
	if n := c.QueryParam("limit"); n != "" {
		parsed, convErr := strconv.Atoi(n)
		if convErr != nil {
			return badRequest("limit must be an integer")
		}
		limit = parsed
	}

	var entries []*models.ProgressEntry
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		if limit >= 0 {
			entries, err = store.ListRecentProgressByWorker(ctx, q, workerID, limit)
			return err
		}
		entries, err = store.ListProgressByWorkerOrdered(ctx, q, workerID)
		return err
	})
	if err != nil {
		return fail(err)
	}
	if entries == nil {
		entries = []*models.ProgressEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
