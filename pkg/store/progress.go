package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digitaltwin/dtwind/pkg/models"
)

const progressColumns = `id, outcome_id, worker_id, iteration, task_id, content,
	full_output, compacted, compacted_into, created_at`

func scanProgress(scan func(dest ...any) error) (*models.ProgressEntry, error) {
	var p models.ProgressEntry
	if err := scan(
		&p.ID, &p.OutcomeID, &p.WorkerID, &p.Iteration, &p.TaskID, &p.Content,
		&p.FullOutput, boolScan(&p.Compacted), &p.CompactedInto, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertProgressEntry appends a new ProgressEntry, letting sqlite assign
// the monotonic id (spec.md §3/§5's per-worker strictly-increasing-id
// guarantee falls straight out of AUTOINCREMENT).
func InsertProgressEntry(ctx context.Context, q Queryer, p *models.ProgressEntry) error {
	res, err := q.ExecContext(ctx, `INSERT INTO progress_entries (
		outcome_id, worker_id, iteration, task_id, content, full_output, compacted, compacted_into, created_at
	) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.OutcomeID, p.WorkerID, p.Iteration, p.TaskID, p.Content, p.FullOutput,
		boolToInt(p.Compacted), p.CompactedInto, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert progress entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

// ListProgressByWorkerOrdered returns every entry for a worker in strictly
// increasing id order (the progress-by-worker-ordered index).
func ListProgressByWorkerOrdered(ctx context.Context, q Queryer, workerID string) ([]*models.ProgressEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+progressColumns+` FROM progress_entries WHERE worker_id = ? ORDER BY id ASC`, workerID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()
	var out []*models.ProgressEntry
	for rows.Next() {
		p, err := scanProgress(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListUncompactedByWorkerTask returns uncompacted entries for a
// (worker, task) pair, ordered oldest-first — the set compaction summarizes.
func ListUncompactedByWorkerTask(ctx context.Context, q Queryer, workerID, taskID string) ([]*models.ProgressEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+progressColumns+` FROM progress_entries
		WHERE worker_id = ? AND task_id = ? AND compacted = 0 ORDER BY id ASC`, workerID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list uncompacted: %w", err)
	}
	defer rows.Close()
	var out []*models.ProgressEntry
	for rows.Next() {
		p, err := scanProgress(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountUncompactedByWorker counts every uncompacted entry for a worker
// across all of its tasks, the trigger spec.md §4.4 step 9 checks.
func CountUncompactedByWorker(ctx context.Context, q Queryer, workerID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM progress_entries WHERE worker_id = ? AND compacted = 0`, workerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count uncompacted: %w", err)
	}
	return n, nil
}

// MarkCompacted flips compacted=true and sets compacted_into on the given
// ids. Compaction never deletes rows (spec.md §3's compaction rule).
func MarkCompacted(ctx context.Context, q Queryer, ids []int64, compactedIntoID int64) error {
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, `UPDATE progress_entries SET compacted = 1, compacted_into = ? WHERE id = ?`, compactedIntoID, id); err != nil {
			return fmt.Errorf("mark compacted: %w", err)
		}
	}
	return nil
}

// LastProgressForWorkerTask returns the most recent entry for a
// (worker, task) pair, or nil if none exists — used by the Supervisor's
// iteration-loop-detection hash comparison (spec.md §4.6).
func LastProgressForWorkerTask(ctx context.Context, q Queryer, workerID, taskID string) (*models.ProgressEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+progressColumns+` FROM progress_entries
		WHERE worker_id = ? AND task_id = ? ORDER BY id DESC LIMIT 1`, workerID, taskID)
	p, err := scanProgress(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last progress: %w", err)
	}
	return p, nil
}

// ListRecentProgressByWorker returns the most recent n entries for a
// worker, newest first — used by the stuck-worker check.
func ListRecentProgressByWorker(ctx context.Context, q Queryer, workerID string, n int) ([]*models.ProgressEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+progressColumns+` FROM progress_entries
		WHERE worker_id = ? ORDER BY id DESC LIMIT ?`, workerID, n)
	if err != nil {
		return nil, fmt.Errorf("list recent progress: %w", err)
	}
	defer rows.Close()
	var out []*models.ProgressEntry
	for rows.Next() {
		p, err := scanProgress(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProgressEntriesOlderThan hard-deletes progress entries past their
// TTL (SPEC_FULL.md §12's ProgressEntryTTL) for outcomes that are
// themselves already soft-deleted — progress history for a live outcome is
// never pruned, only the tail end of a retired one.
func DeleteProgressEntriesOlderThan(ctx context.Context, q Queryer, cutoffMillis int64) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM progress_entries WHERE created_at < ?
		AND outcome_id IN (SELECT id FROM outcomes WHERE deleted_at IS NOT NULL)`, cutoffMillis)
	if err != nil {
		return 0, fmt.Errorf("delete stale progress entries: %w", err)
	}
	return res.RowsAffected(), nil
}
