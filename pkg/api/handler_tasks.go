package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/scheduler"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// CreateTaskRequest is the body of POST /api/v1/outcomes/:id/tasks.
type CreateTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Phase       models.TaskPhase `json:"phase"`
	DependsOn   []string   `json:"depends_on"`
	MaxAttempts int        `json:"max_attempts"`
}

// PatchTaskRequest is the body of PATCH /api/v1/tasks/:taskId.
type PatchTaskRequest struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Priority    *int             `json:"priority,omitempty"`
	Status      *models.TaskStatus `json:"status,omitempty"`
}

func (s *Server) listTasksHandler(c *echo.Context) error {
	outcomeID := c.Param("id")
	var tasks []*models.Task
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		if status := c.QueryParam("status"); status != "" {
			tasks, err = store.ListTasksByOutcomeAndStatus(ctx, q, outcomeID, models.TaskStatus(status))
		} else {
			tasks, err = store.ListTasksByOutcome(ctx, q, outcomeID)
		}
		return err
	})
	if err != nil {
		return fail(err)
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) createTaskHandler(c *echo.Context) error {
	outcomeID := c.Param("id")
	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Title == "" {
		return badRequest("title is required")
	}
	if req.Phase == "" {
		req.Phase = models.TaskPhaseExecution
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = models.DefaultMaxAttempts
	}

	now := s.clock.NowMillis()
	t := &models.Task{
		ID:          s.ids.New(idgen.PrefixTask),
		OutcomeID:   outcomeID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      models.TaskStatusPending,
		Phase:       req.Phase,
		DependsOn:   req.DependsOn,
		MaxAttempts: req.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		if err := scheduler.CheckCycle(ctx, q, outcomeID, t.ID, t.DependsOn); err != nil {
			return err
		}
		if err := scheduler.CheckCrossOutcomeDep(ctx, q, outcomeID, t.DependsOn); err != nil {
			return err
		}
		return store.InsertTask(ctx, q, t)
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (s *Server) patchTaskHandler(c *echo.Context) error {
	taskID := c.Param("taskId")
	var req PatchTaskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	var t *models.Task
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		t, err = store.GetTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		if req.Title != nil {
			t.Title = *req.Title
		}
		if req.Description != nil {
			t.Description = *req.Description
		}
		if req.Priority != nil {
			t.Priority = *req.Priority
		}
		if req.Status != nil {
			if !req.Status.IsValid() {
				return models.Invalid("task", taskID, errInvalidStatus)
			}
			t.Status = *req.Status
		}
		t.UpdatedAt = s.clock.NowMillis()
		return store.UpdateTask(ctx, q, t)
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) deleteTaskHandler(c *echo.Context) error {
	taskID := c.Param("taskId")
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		t, err := store.GetTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		t.Status = models.TaskStatusFailed
		t.UpdatedAt = s.clock.NowMillis()
		return store.UpdateTask(ctx, q, t)
	})
	if err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}
