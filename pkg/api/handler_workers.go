package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
	"github.com/digitaltwin/dtwind/pkg/workermanager"
)

// StartWorkerRequest is the body of POST /api/v1/outcomes/:id/workers.
type StartWorkerRequest struct {
	Name     string `json:"name"`
	Parallel bool   `json:"parallel"`
}

// PatchWorkerRequest is the body of PATCH /api/v1/workers/:workerId —
// "action" is the only field a caller sets; it drives pause/resume.
type PatchWorkerRequest struct {
	Action string `json:"action"` // "pause" or "resume"
}

// InterventionRequest is the body of POST /api/v1/workers/:workerId/interventions.
type InterventionRequest struct {
	Message string `json:"message"`
}

func (s *Server) startWorkerHandler(c *echo.Context) error {
	outcomeID := c.Param("id")
	var req StartWorkerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Name == "" {
		req.Name = "worker"
	}

	workerID, err := s.workers.StartWorker(c.Request().Context(), outcomeID, req.Name, workermanager.StartOptions{Parallel: req.Parallel})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": workerID})
}

func (s *Server) getWorkerHandler(c *echo.Context) error {
	workerID := c.Param("workerId")
	var w *models.Worker
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		w, err = store.GetWorker(ctx, q, workerID)
		return err
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) patchWorkerHandler(c *echo.Context) error {
	workerID := c.Param("workerId")
	var req PatchWorkerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	switch req.Action {
	case "pause":
		if err := s.workers.PauseWorker(workerID); err != nil {
			return fail(err)
		}
	case "resume":
		if err := s.workers.ResumeWorker(c.Request().Context(), workerID); err != nil {
			return fail(err)
		}
	default:
		return badRequest("action must be \"pause\" or \"resume\"")
	}

	var w *models.Worker
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		w, err = store.GetWorker(ctx, q, workerID)
		return err
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) sendInterventionHandler(c *echo.Context) error {
	workerID := c.Param("workerId")
	var req InterventionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Message == "" {
		return badRequest("message is required")
	}
	if err := s.workers.SendIntervention(workerID, req.Message); err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusAccepted)
}
