package store

import (
	"context"
	"fmt"

	"github.com/digitaltwin/dtwind/pkg/models"
)

// InsertDiscovery appends a Discovery to an outcome's HOMЯ ContextStore.
func InsertDiscovery(ctx context.Context, q Queryer, d *models.Discovery) error {
	_, err := q.ExecContext(ctx, `INSERT INTO homr_discoveries (id, outcome_id, type, content, source_task_id, created_at)
		VALUES (?,?,?,?,?,?)`, d.ID, d.OutcomeID, string(d.Type), d.Content, d.SourceTaskID, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert discovery: %w", err)
	}
	return nil
}

// ListDiscoveriesByOutcome returns every discovery for an outcome, oldest first.
func ListDiscoveriesByOutcome(ctx context.Context, q Queryer, outcomeID string) ([]*models.Discovery, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, outcome_id, type, content, source_task_id, created_at
		FROM homr_discoveries WHERE outcome_id = ? ORDER BY created_at ASC`, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("list discoveries: %w", err)
	}
	defer rows.Close()
	var out []*models.Discovery
	for rows.Next() {
		var d models.Discovery
		var t string
		if err := rows.Scan(&d.ID, &d.OutcomeID, &t, &d.Content, &d.SourceTaskID, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Type = models.DiscoveryType(t)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// InsertDecision appends a Decision to an outcome's HOMЯ ContextStore.
func InsertDecision(ctx context.Context, q Queryer, d *models.Decision) error {
	_, err := q.ExecContext(ctx, `INSERT INTO homr_decisions (id, outcome_id, content, made_by, context, affected_areas_json, made_at)
		VALUES (?,?,?,?,?,?,?)`, d.ID, d.OutcomeID, d.Content, d.MadeBy, d.Context, toJSON(d.AffectedAreas), d.MadeAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// ListDecisionsByOutcome returns every decision for an outcome, oldest first.
func ListDecisionsByOutcome(ctx context.Context, q Queryer, outcomeID string) ([]*models.Decision, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, outcome_id, content, made_by, context, affected_areas_json, made_at
		FROM homr_decisions WHERE outcome_id = ? ORDER BY made_at ASC`, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()
	var out []*models.Decision
	for rows.Next() {
		var d models.Decision
		var areasJSON string
		if err := rows.Scan(&d.ID, &d.OutcomeID, &d.Content, &d.MadeBy, &d.Context, &areasJSON, &d.MadeAt); err != nil {
			return nil, err
		}
		_ = fromJSON(areasJSON, &d.AffectedAreas)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// InsertConstraint appends a Constraint to an outcome's HOMЯ ContextStore.
func InsertConstraint(ctx context.Context, q Queryer, c *models.Constraint) error {
	_, err := q.ExecContext(ctx, `INSERT INTO homr_constraints (id, outcome_id, rule, reason, added_at)
		VALUES (?,?,?,?,?)`, c.ID, c.OutcomeID, c.Rule, c.Reason, c.AddedAt)
	if err != nil {
		return fmt.Errorf("insert constraint: %w", err)
	}
	return nil
}

// ListConstraintsByOutcome returns every constraint for an outcome, oldest first.
func ListConstraintsByOutcome(ctx context.Context, q Queryer, outcomeID string) ([]*models.Constraint, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, outcome_id, rule, reason, added_at
		FROM homr_constraints WHERE outcome_id = ? ORDER BY added_at ASC`, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("list constraints: %w", err)
	}
	defer rows.Close()
	var out []*models.Constraint
	for rows.Next() {
		var c models.Constraint
		if err := rows.Scan(&c.ID, &c.OutcomeID, &c.Rule, &c.Reason, &c.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// InsertInjection records a ContextInjection for a downstream task.
func InsertInjection(ctx context.Context, q Queryer, inj *models.ContextInjection) error {
	_, err := q.ExecContext(ctx, `INSERT INTO homr_injections (id, outcome_id, task_id, content, injected_at)
		VALUES (?,?,?,?,?)`, inj.ID, inj.OutcomeID, inj.TaskID, inj.Content, inj.InjectedAt)
	if err != nil {
		return fmt.Errorf("insert injection: %w", err)
	}
	return nil
}

// ListInjectionsByTask returns every injection targeting a specific task,
// oldest first — the Iteration Driver prepends these into the prompt.
func ListInjectionsByTask(ctx context.Context, q Queryer, outcomeID, taskID string) ([]*models.ContextInjection, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, outcome_id, task_id, content, injected_at
		FROM homr_injections WHERE outcome_id = ? AND task_id = ? ORDER BY injected_at ASC`, outcomeID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list injections: %w", err)
	}
	defer rows.Close()
	var out []*models.ContextInjection
	for rows.Next() {
		var inj models.ContextInjection
		if err := rows.Scan(&inj.ID, &inj.OutcomeID, &inj.TaskID, &inj.Content, &inj.InjectedAt); err != nil {
			return nil, err
		}
		out = append(out, &inj)
	}
	return out, rows.Err()
}

// InsertObservation records the concerns/next_steps row HOMЯ produces for
// each iteration's output.
func InsertObservation(ctx context.Context, q Queryer, o *models.Observation) error {
	_, err := q.ExecContext(ctx, `INSERT INTO homr_observations (id, outcome_id, task_id, concerns_json, next_steps_json, created_at)
		VALUES (?,?,?,?,?,?)`, o.ID, o.OutcomeID, o.TaskID, toJSON(o.Concerns), toJSON(o.NextSteps), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// ListObservationsByOutcome returns every observation for an outcome, oldest first.
func ListObservationsByOutcome(ctx context.Context, q Queryer, outcomeID string) ([]*models.Observation, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, outcome_id, task_id, concerns_json, next_steps_json, created_at
		FROM homr_observations WHERE outcome_id = ? ORDER BY created_at ASC`, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer rows.Close()
	var out []*models.Observation
	for rows.Next() {
		var o models.Observation
		var concernsJSON, stepsJSON string
		if err := rows.Scan(&o.ID, &o.OutcomeID, &o.TaskID, &concernsJSON, &stepsJSON, &o.CreatedAt); err != nil {
			return nil, err
		}
		_ = fromJSON(concernsJSON, &o.Concerns)
		_ = fromJSON(stepsJSON, &o.NextSteps)
		out = append(out, &o)
	}
	return out, rows.Err()
}
