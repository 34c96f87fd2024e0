package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digitaltwin/dtwind/pkg/models"
)

// InsertTask persists a new Task row.
func InsertTask(ctx context.Context, q Queryer, t *models.Task) error {
	_, err := q.ExecContext(ctx, `INSERT INTO tasks (
		id, outcome_id, title, description, priority, status, phase, depends_on_json,
		attempts, max_attempts, claimed_by, claimed_at, completed_at,
		from_review, review_cycle, created_at, updated_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.OutcomeID, t.Title, t.Description, t.Priority, string(t.Status), string(t.Phase), toJSON(t.DependsOn),
		t.Attempts, t.MaxAttempts, t.ClaimedBy, t.ClaimedAt, t.CompletedAt,
		boolToInt(t.FromReview), t.ReviewCycle, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

const taskColumns = `id, outcome_id, title, description, priority, status, phase, depends_on_json,
	attempts, max_attempts, claimed_by, claimed_at, completed_at,
	from_review, review_cycle, created_at, updated_at`

func scanTask(scan func(dest ...any) error) (*models.Task, error) {
	var t models.Task
	var status, phase, dependsOnJSON string
	if err := scan(
		&t.ID, &t.OutcomeID, &t.Title, &t.Description, &t.Priority, &status, &phase, &dependsOnJSON,
		&t.Attempts, &t.MaxAttempts, &t.ClaimedBy, &t.ClaimedAt, &t.CompletedAt,
		boolScan(&t.FromReview), &t.ReviewCycle, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	t.Phase = models.TaskPhase(phase)
	_ = fromJSON(dependsOnJSON, &t.DependsOn)
	if t.DependsOn == nil {
		t.DependsOn = []string{}
	}
	return &t, nil
}

// GetTask fetches one Task by id.
func GetTask(ctx context.Context, q Queryer, id string) (*models.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("task", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask overwrites the mutable fields of an existing Task row.
func UpdateTask(ctx context.Context, q Queryer, t *models.Task) error {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET
		title=?, description=?, priority=?, status=?, phase=?, depends_on_json=?,
		attempts=?, max_attempts=?, claimed_by=?, claimed_at=?, completed_at=?,
		from_review=?, review_cycle=?, updated_at=?
		WHERE id=?`,
		t.Title, t.Description, t.Priority, string(t.Status), string(t.Phase), toJSON(t.DependsOn),
		t.Attempts, t.MaxAttempts, t.ClaimedBy, t.ClaimedAt, t.CompletedAt,
		boolToInt(t.FromReview), t.ReviewCycle, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.NotFound("task", t.ID, sql.ErrNoRows)
	}
	return nil
}

// ClaimTaskIfPending performs the optimistic claim: it only succeeds if the
// task is still status=pending, returning whether the update applied. This
// is the crux of Scheduler.ClaimNextTask's at-most-one-claim guarantee
// (spec.md §4.2): two concurrent claimers racing on the same row will see
// exactly one affected row between them.
func ClaimTaskIfPending(ctx context.Context, q Queryer, taskID, workerID string, claimedAt int64) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE tasks SET
		status = ?, claimed_by = ?, claimed_at = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		string(models.TaskStatusClaimed), workerID, claimedAt, claimedAt, taskID,
	)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListOutcomeTaskIDsByStatus is a thin helper used for dependency and
// capability-gate checks.
func ListOutcomeTaskIDsByStatus(ctx context.Context, q Queryer, outcomeID string, status models.TaskStatus) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM tasks WHERE outcome_id = ? AND status = ?`, outcomeID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListCandidateTasks returns pending tasks for outcomeID ordered exactly as
// spec.md §4.2 requires: ascending priority, ascending created_at,
// ascending id. Dependency/escalation/capability-gate filtering happens in
// the scheduler, which needs related rows this function doesn't have.
func ListCandidateTasks(ctx context.Context, q Queryer, outcomeID string) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE outcome_id = ? AND status = 'pending'
		ORDER BY priority ASC, created_at ASC, id ASC`, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("list candidate tasks: %w", err)
	}
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTasksByOutcomeAndStatus returns every task for an outcome in a given
// status, ordered by priority then created_at (the tasks-by-outcome-and-
// status / tasks-by-outcome-and-priority indexes of spec.md §4.1).
func ListTasksByOutcomeAndStatus(ctx context.Context, q Queryer, outcomeID string, status models.TaskStatus) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE outcome_id = ? AND status = ?
		ORDER BY priority ASC, created_at ASC, id ASC`, outcomeID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTasksByOutcome returns every task for an outcome, any status.
func ListTasksByOutcome(ctx context.Context, q Queryer, outcomeID string) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE outcome_id = ? ORDER BY priority ASC, created_at ASC, id ASC`, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("list tasks by outcome: %w", err)
	}
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListClaimedOrRunningByWorker returns tasks currently claimed/running
// under a given worker — used by the reclaim sweep.
func ListClaimedOrRunningByWorker(ctx context.Context, q Queryer, workerID string) ([]*models.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE claimed_by = ? AND status IN ('claimed', 'running')`, workerID)
	if err != nil {
		return nil, fmt.Errorf("list claimed tasks: %w", err)
	}
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTasksByOutcomePhaseNotStatus counts tasks in a phase whose status is
// not the given status — used to decide capability_ready transitions
// (spec.md §13's decision: capability_ready becomes 2 the instant zero
// capability-phase tasks remain incomplete).
func CountTasksByOutcomePhaseNotStatus(ctx context.Context, q Queryer, outcomeID string, phase models.TaskPhase, status models.TaskStatus) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks
		WHERE outcome_id = ? AND phase = ? AND status != ?`, outcomeID, string(phase), string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}
