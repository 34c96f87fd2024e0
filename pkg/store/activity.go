package store

import (
	"context"
	"fmt"
)

// ActivityEntry is a human-readable feed row recorded alongside a
// domain mutation (escalation raised, alert raised, worker paused, ...),
// backing the activity-by-outcome-and-time index of spec.md §4.1 and the
// GET /outcomes/{id}/homr/activity endpoint.
type ActivityEntry struct {
	ID        int64  `json:"id"`
	OutcomeID string `json:"outcome_id"`
	Kind      string `json:"kind"`
	RefID     string `json:"ref_id"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

// RecordActivity appends one feed entry.
func RecordActivity(ctx context.Context, q Queryer, e *ActivityEntry) error {
	res, err := q.ExecContext(ctx, `INSERT INTO activity_log (outcome_id, kind, ref_id, message, created_at)
		VALUES (?,?,?,?,?)`, e.OutcomeID, e.Kind, e.RefID, e.Message, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// ListActivityByOutcome returns the feed for an outcome, newest first.
func ListActivityByOutcome(ctx context.Context, q Queryer, outcomeID string, limit int) ([]*ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx, `SELECT id, outcome_id, kind, ref_id, message, created_at
		FROM activity_log WHERE outcome_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, outcomeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()
	var out []*ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.ID, &e.OutcomeID, &e.Kind, &e.RefID, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
