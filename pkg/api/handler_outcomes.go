package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// CreateOutcomeRequest is the body of POST /api/v1/outcomes.
type CreateOutcomeRequest struct {
	Name        string                  `json:"name"`
	Brief       string                  `json:"brief"`
	Intent      models.Intent           `json:"intent"`
	ParentID    *string                 `json:"parent_id,omitempty"`
	IsOngoing   bool                    `json:"is_ongoing"`
	AutoResolve bool                    `json:"auto_resolve"`
	CostCapUSD  float64                 `json:"cost_cap_usd"`
	Git         models.GitConfig        `json:"git"`
	SaveTarget  models.SaveTargetConfig `json:"save_target"`
}

// PatchOutcomeRequest is the body of PATCH /api/v1/outcomes/:id. Only
// non-nil fields are applied.
type PatchOutcomeRequest struct {
	Name        *string               `json:"name,omitempty"`
	Brief       *string               `json:"brief,omitempty"`
	Status      *models.OutcomeStatus `json:"status,omitempty"`
	AutoResolve *bool                 `json:"auto_resolve,omitempty"`
	DesignDoc   *models.DesignDoc     `json:"design_doc,omitempty"`
}

func (s *Server) listOutcomesHandler(c *echo.Context) error {
	f := store.OutcomeFilter{Status: models.OutcomeStatus(c.QueryParam("status"))}
	if p := c.QueryParam("parent_id"); p != "" {
		f.ParentID = &p
	}

	var outcomes []*models.Outcome
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		outcomes, err = store.ListOutcomes(ctx, q, f)
		return err
	})
	if err != nil {
		return fail(err)
	}
	if outcomes == nil {
		outcomes = []*models.Outcome{}
	}
	return c.JSON(http.StatusOK, outcomes)
}

func (s *Server) createOutcomeHandler(c *echo.Context) error {
	var req CreateOutcomeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.Name == "" {
		return badRequest("name is required")
	}

	costCap := req.CostCapUSD
	if costCap == 0 {
		costCap = s.defaultCostCapUSD
	}

	now := s.clock.NowMillis()
	oc := &models.Outcome{
		ID:          s.ids.New(idgen.PrefixOutcome),
		Name:        req.Name,
		Brief:       req.Brief,
		Intent:      req.Intent,
		Status:      models.OutcomeStatusActive,
		ParentID:    req.ParentID,
		IsOngoing:   req.IsOngoing,
		AutoResolve: req.AutoResolve,
		CostCapUSD:  costCap,
		Git:         req.Git,
		SaveTarget:  req.SaveTarget,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		if req.ParentID != nil {
			parent, err := store.GetOutcome(ctx, q, *req.ParentID)
			if err != nil {
				return err
			}
			oc.Depth = parent.Depth + 1
		}
		return store.InsertOutcome(ctx, q, oc)
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, oc)
}

func (s *Server) getOutcomeHandler(c *echo.Context) error {
	id := c.Param("id")
	var oc *models.Outcome
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		oc, err = store.GetOutcome(ctx, q, id)
		return err
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, oc)
}

func (s *Server) patchOutcomeHandler(c *echo.Context) error {
	id := c.Param("id")
	var req PatchOutcomeRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	var oc *models.Outcome
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		oc, err = store.GetOutcome(ctx, q, id)
		if err != nil {
			return err
		}
		if req.Name != nil {
			oc.Name = *req.Name
		}
		if req.Brief != nil {
			oc.Brief = *req.Brief
		}
		if req.Status != nil {
			if !req.Status.IsValid() {
				return models.Invalid("outcome", id, errInvalidStatus)
			}
			oc.Status = *req.Status
		}
		if req.AutoResolve != nil {
			oc.AutoResolve = *req.AutoResolve
		}
		if req.DesignDoc != nil {
			oc.DesignDoc = *req.DesignDoc
		}
		oc.UpdatedAt = s.clock.NowMillis()
		return store.UpdateOutcome(ctx, q, oc)
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, oc)
}

func (s *Server) deleteOutcomeHandler(c *echo.Context) error {
	id := c.Param("id")
	now := s.clock.NowMillis()
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		return store.SoftDeleteOutcome(ctx, q, id, now)
	})
	if err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}
