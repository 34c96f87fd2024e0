package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digitaltwin/dtwind/pkg/models"
)

const jobColumns = `id, outcome_id, job_type, status, progress_message, payload, result, error, created_at, started_at, completed_at`

func scanJob(scan func(dest ...any) error) (*models.Job, error) {
	var j models.Job
	var jobType, status string
	var payload, result sql.NullString
	if err := scan(&j.ID, &j.OutcomeID, &jobType, &status, &j.ProgressMessage, &payload, &result, &j.Error, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.JobType = models.JobType(jobType)
	j.Status = models.JobStatus(status)
	if payload.Valid {
		j.Payload = []byte(payload.String)
	}
	if result.Valid {
		j.Result = []byte(result.String)
	}
	return &j, nil
}

// InsertJob persists a new Job row.
func InsertJob(ctx context.Context, q Queryer, j *models.Job) error {
	_, err := q.ExecContext(ctx, `INSERT INTO jobs (
		id, outcome_id, job_type, status, progress_message, payload, result, error, created_at, started_at, completed_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.OutcomeID, string(j.JobType), string(j.Status), j.ProgressMessage, j.Payload, j.Result,
		j.Error, j.CreatedAt, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches one Job by id.
func GetJob(ctx context.Context, q Queryer, id string) (*models.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("job", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// UpdateJob overwrites the mutable fields of an existing Job row.
func UpdateJob(ctx context.Context, q Queryer, j *models.Job) error {
	res, err := q.ExecContext(ctx, `UPDATE jobs SET
		status=?, progress_message=?, result=?, error=?, started_at=?, completed_at=?
		WHERE id=?`,
		string(j.Status), j.ProgressMessage, j.Result, j.Error, j.StartedAt, j.CompletedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.NotFound("job", j.ID, sql.ErrNoRows)
	}
	return nil
}

// FindActiveJob returns a pending or running job for (outcomeID, jobType),
// or nil — backing the single-flight invariant of spec.md §3.
func FindActiveJob(ctx context.Context, q Queryer, outcomeID *string, jobType models.JobType) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_type = ? AND status IN ('pending','running')`
	args := []any{string(jobType)}
	if outcomeID != nil {
		query += ` AND outcome_id = ?`
		args = append(args, *outcomeID)
	} else {
		query += ` AND outcome_id IS NULL`
	}
	query += ` LIMIT 1`

	row := q.QueryRowContext(ctx, query, args...)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return j, nil
}

// ClaimOldestPendingJob selects the oldest pending job and transitions it
// to running, returning nil if none is pending. Call within a
// Store.Transaction for the poll-claim-execute loop of spec.md §4.8.
func ClaimOldestPendingJob(ctx context.Context, q Queryer, startedAt int64) (*models.Job, error) {
	row := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT 1`)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim oldest pending job: %w", err)
	}
	j.Status = models.JobStatusRunning
	j.StartedAt = &startedAt
	if err := UpdateJob(ctx, q, j); err != nil {
		return nil, err
	}
	return j, nil
}

// ListJobs returns jobs optionally filtered by outcome/status, newest first.
func ListJobs(ctx context.Context, q Queryer, outcomeID *string, status models.JobStatus, limit int) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if outcomeID != nil {
		query += ` AND outcome_id = ?`
		args = append(args, *outcomeID)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
