package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digitaltwin/dtwind/pkg/models"
)

const workerColumns = `id, outcome_id, name, status, current_task_id, iteration,
	last_heartbeat, cost, pid, branch_name, worktree_path, created_at, updated_at`

func scanWorker(scan func(dest ...any) error) (*models.Worker, error) {
	var w models.Worker
	var status string
	if err := scan(
		&w.ID, &w.OutcomeID, &w.Name, &status, &w.CurrentTaskID, &w.Iteration,
		&w.LastHeartbeat, &w.Cost, &w.PID, &w.BranchName, &w.WorktreePath, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}
	w.Status = models.WorkerStatus(status)
	return &w, nil
}

// InsertWorker persists a new Worker row.
func InsertWorker(ctx context.Context, q Queryer, w *models.Worker) error {
	_, err := q.ExecContext(ctx, `INSERT INTO workers (
		id, outcome_id, name, status, current_task_id, iteration, last_heartbeat,
		cost, pid, branch_name, worktree_path, created_at, updated_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.OutcomeID, w.Name, string(w.Status), w.CurrentTaskID, w.Iteration, w.LastHeartbeat,
		w.Cost, w.PID, w.BranchName, w.WorktreePath, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert worker: %w", err)
	}
	return nil
}

// GetWorker fetches one Worker by id.
func GetWorker(ctx context.Context, q Queryer, id string) (*models.Worker, error) {
	row := q.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("worker", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	return w, nil
}

// UpdateWorker overwrites the mutable fields of an existing Worker row.
func UpdateWorker(ctx context.Context, q Queryer, w *models.Worker) error {
	res, err := q.ExecContext(ctx, `UPDATE workers SET
		name=?, status=?, current_task_id=?, iteration=?, last_heartbeat=?,
		cost=?, pid=?, branch_name=?, worktree_path=?, updated_at=?
		WHERE id=?`,
		w.Name, string(w.Status), w.CurrentTaskID, w.Iteration, w.LastHeartbeat,
		w.Cost, w.PID, w.BranchName, w.WorktreePath, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.NotFound("worker", w.ID, sql.ErrNoRows)
	}
	return nil
}

// ListWorkersByOutcome returns every worker for an outcome.
func ListWorkersByOutcome(ctx context.Context, q Queryer, outcomeID string) ([]*models.Worker, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE outcome_id = ? ORDER BY created_at ASC`, outcomeID)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()
	var out []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListWorkersByStatusOlderThan returns workers in a given status whose
// last_heartbeat predates the cutoff — the workers-by-status-and-heartbeat
// index backing the Supervisor's reclaim sweep (spec.md §4.2/§4.6).
func ListWorkersByStatusOlderThan(ctx context.Context, q Queryer, status models.WorkerStatus, cutoffMillis int64) ([]*models.Worker, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers
		WHERE status = ? AND last_heartbeat < ?
		ORDER BY last_heartbeat ASC`, string(status), cutoffMillis)
	if err != nil {
		return nil, fmt.Errorf("list stale workers: %w", err)
	}
	defer rows.Close()
	var out []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListWorkersByOutcomeAndStatus narrows ListWorkersByOutcome by status —
// used by StartWorker's parallel=false single-running-worker check.
func ListWorkersByOutcomeAndStatus(ctx context.Context, q Queryer, outcomeID string, status models.WorkerStatus) ([]*models.Worker, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE outcome_id = ? AND status = ?`, outcomeID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list workers by status: %w", err)
	}
	defer rows.Close()
	var out []*models.Worker
	for rows.Next() {
		w, err := scanWorker(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
