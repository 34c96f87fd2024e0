package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digitaltwin/dtwind/pkg/models"
)

const escalationColumns = `id, outcome_id, status, trigger_json, question_json, answer_json,
	affected_tasks_json, created_at, updated_at`

func scanEscalation(scan func(dest ...any) error) (*models.Escalation, error) {
	var e models.Escalation
	var status, triggerJSON, questionJSON, affectedJSON string
	var answerJSON sql.NullString
	if err := scan(&e.ID, &e.OutcomeID, &status, &triggerJSON, &questionJSON, &answerJSON, &affectedJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = models.EscalationStatus(status)
	_ = fromJSON(triggerJSON, &e.Trigger)
	_ = fromJSON(questionJSON, &e.Question)
	_ = fromJSON(affectedJSON, &e.AffectedTasks)
	if answerJSON.Valid {
		var a models.EscalationAnswer
		_ = fromJSON(answerJSON.String, &a)
		e.Answer = &a
	}
	return &e, nil
}

// InsertEscalation persists a new Escalation row.
func InsertEscalation(ctx context.Context, q Queryer, e *models.Escalation) error {
	_, err := q.ExecContext(ctx, `INSERT INTO escalations (
		id, outcome_id, status, trigger_json, question_json, answer_json,
		affected_tasks_json, created_at, updated_at
	) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.OutcomeID, string(e.Status), toJSON(e.Trigger), toJSON(e.Question), nullableJSON(e.Answer),
		toJSON(e.AffectedTasks), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escalation: %w", err)
	}
	return nil
}

func nullableJSON(v any) any {
	if v == nil {
		return nil
	}
	return toJSON(v)
}

// GetEscalation fetches one Escalation by id.
func GetEscalation(ctx context.Context, q Queryer, id string) (*models.Escalation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id)
	e, err := scanEscalation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("escalation", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get escalation: %w", err)
	}
	return e, nil
}

// UpdateEscalation overwrites the mutable fields of an existing Escalation row.
func UpdateEscalation(ctx context.Context, q Queryer, e *models.Escalation) error {
	res, err := q.ExecContext(ctx, `UPDATE escalations SET
		status=?, answer_json=?, updated_at=? WHERE id=?`,
		string(e.Status), nullableJSON(e.Answer), e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update escalation: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.NotFound("escalation", e.ID, sql.ErrNoRows)
	}
	return nil
}

// ListEscalationsByOutcomeAndStatus returns escalations matching a status
// filter (the escalations-by-outcome-and-status index). An empty status
// returns every escalation for the outcome.
func ListEscalationsByOutcomeAndStatus(ctx context.Context, q Queryer, outcomeID string, status models.EscalationStatus) ([]*models.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations WHERE outcome_id = ?`
	args := []any{outcomeID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list escalations: %w", err)
	}
	defer rows.Close()
	var out []*models.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListPendingAffectedTaskIDs returns the union of affected_tasks across
// every pending escalation for an outcome — the Scheduler excludes these
// from candidate selection (spec.md §3's escalation invariant).
func ListPendingAffectedTaskIDs(ctx context.Context, q Queryer, outcomeID string) (map[string]bool, error) {
	escalations, err := ListEscalationsByOutcomeAndStatus(ctx, q, outcomeID, models.EscalationStatusPending)
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]bool)
	for _, e := range escalations {
		for _, taskID := range e.AffectedTasks {
			blocked[taskID] = true
		}
	}
	return blocked, nil
}
