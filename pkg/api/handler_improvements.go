package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// AnalyzeRequest is the body of POST /api/v1/improvements/analyze.
type AnalyzeRequest struct {
	OutcomeID string `json:"outcome_id"`
}

func (s *Server) analyzeImprovementsHandler(c *echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.OutcomeID == "" {
		return badRequest("outcome_id is required")
	}

	job, err := s.jobs.Enqueue(c.Request().Context(), models.JobTypeRetroAnalyze, &req.OutcomeID, nil)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusAccepted, job)
}

func (s *Server) listActiveJobsHandler(c *echo.Context) error {
	return s.listJobsByStatus(c, models.JobStatusRunning)
}

func (s *Server) listRecentJobsHandler(c *echo.Context) error {
	return s.listJobsByStatus(c, "")
}

func (s *Server) listJobsByStatus(c *echo.Context, status models.JobStatus) error {
	var outcomeID *string
	if v := c.QueryParam("outcome_id"); v != "" {
		outcomeID = &v
	}

	limit := 50
	var jobs []*models.Job
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		jobs, err = store.ListJobs(ctx, q, outcomeID, status, limit)
		return err
	})
	if err != nil {
		return fail(err)
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	return c.JSON(http.StatusOK, jobs)
}

func (s *Server) getJobHandler(c *echo.Context) error {
	jobID := c.Param("jobId")
	var job *models.Job
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		job, err = store.GetJob(ctx, q, jobID)
		return err
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, job)
}
