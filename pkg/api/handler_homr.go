package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// homrContext bundles the ContextStore collections of spec.md §4.5 — the
// shape GET /outcomes/:id/homr/context returns. The handlers fill
// discoveries, decisions and constraints only; Injections is never
// populated here, so it is always omitted from the response.
type homrContext struct {
	Discoveries []*models.Discovery        `json:"discoveries"`
	Decisions   []*models.Decision         `json:"decisions"`
	Constraints []*models.Constraint       `json:"constraints"`
	Injections  []*models.ContextInjection `json:"injections,omitempty"`
}

func (s *Server) homrContextHandler(c *echo.Context) error {
	outcomeID := c.Param("id")
	var ctxOut homrContext
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		ctxOut.Discoveries, err = store.ListDiscoveriesByOutcome(ctx, q, outcomeID)
		if err != nil {
			return err
		}
		ctxOut.Decisions, err = store.ListDecisionsByOutcome(ctx, q, outcomeID)
		if err != nil {
			return err
		}
		ctxOut.Constraints, err = store.ListConstraintsByOutcome(ctx, q, outcomeID)
		return err
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, ctxOut)
}

// homrSummary bundles everything GET /outcomes/:id/homr returns: the
// context store plus the outcome's observations, a single-call view for
// a dashboard landing page.
func (s *Server) homrSummaryHandler(c *echo.Context) error {
	outcomeID := c.Param("id")
	var (
		ctxOut       homrContext
		observations []*models.Observation
		escalations  []*models.Escalation
	)
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		ctxOut.Discoveries, err = store.ListDiscoveriesByOutcome(ctx, q, outcomeID)
		if err != nil {
			return err
		}
		ctxOut.Decisions, err = store.ListDecisionsByOutcome(ctx, q, outcomeID)
		if err != nil {
			return err
		}
		ctxOut.Constraints, err = store.ListConstraintsByOutcome(ctx, q, outcomeID)
		if err != nil {
			return err
		}
		observations, err = store.ListObservationsByOutcome(ctx, q, outcomeID)
		if err != nil {
			return err
		}
		escalations, err = store.ListEscalationsByOutcomeAndStatus(ctx, q, outcomeID, models.EscalationStatusPending)
		return err
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"context":            ctxOut,
		"observations":       observations,
		"pending_escalations": escalations,
	})
}

func (s *Server) listEscalationsHandler(c *echo.Context) error {
	outcomeID := c.Param("id")
	status := models.EscalationStatus(c.QueryParam("status"))

	var escs []*models.Escalation
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		escs, err = store.ListEscalationsByOutcomeAndStatus(ctx, q, outcomeID, status)
		return err
	})
	if err != nil {
		return fail(err)
	}
	if escs == nil {
		escs = []*models.Escalation{}
	}
	return c.JSON(http.StatusOK, escs)
}

// AnswerEscalationRequest is the body of
// POST /outcomes/:id/homr/escalations/:escId/answer.
type AnswerEscalationRequest struct {
	SelectedOption    string `json:"selected_option"`
	AdditionalContext string `json:"additional_context"`
}

func (s *Server) answerEscalationHandler(c *echo.Context) error {
	escID := c.Param("escId")
	var req AnswerEscalationRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	if req.SelectedOption == "" {
		return badRequest("selected_option is required")
	}

	var e *models.Escalation
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		e, err = store.GetEscalation(ctx, q, escID)
		if err != nil {
			return err
		}
		if e.Status != models.EscalationStatusPending {
			return models.Conflict("escalation", escID, models.ErrEscalationAnswered)
		}
		now := s.clock.NowMillis()
		e.Status = models.EscalationStatusAnswered
		e.Answer = &models.EscalationAnswer{
			SelectedOption:    req.SelectedOption,
			AdditionalContext: req.AdditionalContext,
			AnsweredAt:        now,
		}
		e.UpdatedAt = now
		return store.UpdateEscalation(ctx, q, e)
	})
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) dismissEscalationHandler(c *echo.Context) error {
	escID := c.Param("escId")
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		e, err := store.GetEscalation(ctx, q, escID)
		if err != nil {
			return err
		}
		if e.Status != models.EscalationStatusPending {
			return models.Conflict("escalation", escID, models.ErrEscalationAnswered)
		}
		e.Status = models.EscalationStatusDismissed
		e.UpdatedAt = s.clock.NowMillis()
		return store.UpdateEscalation(ctx, q, e)
	})
	if err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) homrActivityHandler(c *echo.Context) error {
	outcomeID := c.Param("id")
	var entries []*store.ActivityEntry
	err := s.store.Transaction(c.Request().Context(), func(ctx context.Context, q store.Queryer) error {
		var err error
		entries, err = store.ListActivityByOutcome(ctx, q, outcomeID, 0)
		return err
	})
	if err != nil {
		return fail(err)
	}
	if entries == nil {
		entries = []*store.ActivityEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) autoResolveHandler(c *echo.Context) error {
	outcomeID := c.Param("id")
	if err := s.sv.AutoResolveOutcome(c.Request().Context(), outcomeID); err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusAccepted)
}
