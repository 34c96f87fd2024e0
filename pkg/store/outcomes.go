package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digitaltwin/dtwind/pkg/models"
)

// InsertOutcome persists a new Outcome row.
func InsertOutcome(ctx context.Context, q Queryer, o *models.Outcome) error {
	_, err := q.ExecContext(ctx, `INSERT INTO outcomes (
		id, name, brief, intent_json, design_doc_json, status, capability_ready,
		parent_id, depth, is_ongoing, auto_resolve, cost_cap_usd, git_json,
		save_target_json, created_at, updated_at, deleted_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.Name, o.Brief, toJSON(o.Intent), toJSON(o.DesignDoc), string(o.Status), int(o.CapabilityReady),
		o.ParentID, o.Depth, boolToInt(o.IsOngoing), boolToInt(o.AutoResolve), o.CostCapUSD, toJSON(o.Git),
		toJSON(o.SaveTarget), o.CreatedAt, o.UpdatedAt, o.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// GetOutcome fetches one Outcome by id. Returns models.NotFound if absent.
func GetOutcome(ctx context.Context, q Queryer, id string) (*models.Outcome, error) {
	row := q.QueryRowContext(ctx, `SELECT
		id, name, brief, intent_json, design_doc_json, status, capability_ready,
		parent_id, depth, is_ongoing, auto_resolve, cost_cap_usd, git_json,
		save_target_json, created_at, updated_at, deleted_at
	FROM outcomes WHERE id = ?`, id)
	o, err := scanOutcome(row)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("outcome", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get outcome: %w", err)
	}
	return o, nil
}

func scanOutcome(row *sql.Row) (*models.Outcome, error) {
	var o models.Outcome
	var intentJSON, designDocJSON, gitJSON, saveTargetJSON string
	var status string
	var capReady int
	if err := row.Scan(
		&o.ID, &o.Name, &o.Brief, &intentJSON, &designDocJSON, &status, &capReady,
		&o.ParentID, &o.Depth, boolScan(&o.IsOngoing), boolScan(&o.AutoResolve), &o.CostCapUSD, &gitJSON,
		&saveTargetJSON, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt,
	); err != nil {
		return nil, err
	}
	o.Status = models.OutcomeStatus(status)
	o.CapabilityReady = models.CapabilityReady(capReady)
	if err := fromJSON(intentJSON, &o.Intent); err != nil {
		return nil, err
	}
	if err := fromJSON(designDocJSON, &o.DesignDoc); err != nil {
		return nil, err
	}
	if err := fromJSON(gitJSON, &o.Git); err != nil {
		return nil, err
	}
	if err := fromJSON(saveTargetJSON, &o.SaveTarget); err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOutcome overwrites the mutable fields of an existing Outcome row.
func UpdateOutcome(ctx context.Context, q Queryer, o *models.Outcome) error {
	res, err := q.ExecContext(ctx, `UPDATE outcomes SET
		name=?, brief=?, intent_json=?, design_doc_json=?, status=?, capability_ready=?,
		parent_id=?, depth=?, is_ongoing=?, auto_resolve=?, cost_cap_usd=?, git_json=?,
		save_target_json=?, updated_at=?, deleted_at=?
		WHERE id=?`,
		o.Name, o.Brief, toJSON(o.Intent), toJSON(o.DesignDoc), string(o.Status), int(o.CapabilityReady),
		o.ParentID, o.Depth, boolToInt(o.IsOngoing), boolToInt(o.AutoResolve), o.CostCapUSD, toJSON(o.Git),
		toJSON(o.SaveTarget), o.UpdatedAt, o.DeletedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update outcome: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.NotFound("outcome", o.ID, sql.ErrNoRows)
	}
	return nil
}

// OutcomeFilter narrows ListOutcomes.
type OutcomeFilter struct {
	Status          models.OutcomeStatus
	ParentID        *string
	IncludeDeleted  bool
}

// ListOutcomes returns outcomes matching filter, ordered by created_at asc.
func ListOutcomes(ctx context.Context, q Queryer, f OutcomeFilter) ([]*models.Outcome, error) {
	query := `SELECT
		id, name, brief, intent_json, design_doc_json, status, capability_ready,
		parent_id, depth, is_ongoing, auto_resolve, cost_cap_usd, git_json,
		save_target_json, created_at, updated_at, deleted_at
	FROM outcomes WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.ParentID != nil {
		query += " AND parent_id = ?"
		args = append(args, *f.ParentID)
	}
	if !f.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []*models.Outcome
	for rows.Next() {
		o, err := scanOutcomeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOutcomeRows(rows *sql.Rows) (*models.Outcome, error) {
	var o models.Outcome
	var intentJSON, designDocJSON, gitJSON, saveTargetJSON string
	var status string
	var capReady int
	if err := rows.Scan(
		&o.ID, &o.Name, &o.Brief, &intentJSON, &designDocJSON, &status, &capReady,
		&o.ParentID, &o.Depth, boolScan(&o.IsOngoing), boolScan(&o.AutoResolve), &o.CostCapUSD, &gitJSON,
		&saveTargetJSON, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt,
	); err != nil {
		return nil, err
	}
	o.Status = models.OutcomeStatus(status)
	o.CapabilityReady = models.CapabilityReady(capReady)
	_ = fromJSON(intentJSON, &o.Intent)
	_ = fromJSON(designDocJSON, &o.DesignDoc)
	_ = fromJSON(gitJSON, &o.Git)
	_ = fromJSON(saveTargetJSON, &o.SaveTarget)
	return &o, nil
}

// ListStaleOutcomeIDs returns ids of terminal-status (achieved/archived),
// not-yet-deleted outcomes last updated before cutoffMillis — the
// retention sweep's candidate set (SPEC_FULL.md §12).
func ListStaleOutcomeIDs(ctx context.Context, q Queryer, cutoffMillis int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM outcomes
		WHERE deleted_at IS NULL AND updated_at < ?
		AND status IN (?, ?)`,
		cutoffMillis, string(models.OutcomeStatusAchieved), string(models.OutcomeStatusArchived))
	if err != nil {
		return nil, fmt.Errorf("list stale outcomes: %w", err)
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

// SoftDeleteOutcome stamps deleted_at on an outcome still missing one.
func SoftDeleteOutcome(ctx context.Context, q Queryer, id string, deletedAtMillis int64) error {
	_, err := q.ExecContext(ctx, `UPDATE outcomes SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		deletedAtMillis, deletedAtMillis, id)
	if err != nil {
		return fmt.Errorf("soft delete outcome: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// boolScan adapts a *bool destination to database/sql's Scan, which cannot
// scan sqlite's 0/1 INTEGER directly into a bool on all drivers.
func boolScan(dst *bool) *intBoolScanner {
	return &intBoolScanner{dst: dst}
}

type intBoolScanner struct {
	dst *bool
}

func (s *intBoolScanner) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*s.dst = v != 0
	case bool:
		*s.dst = v
	case nil:
		*s.dst = false
	default:
		return fmt.Errorf("intBoolScanner: unsupported type %T", src)
	}
	return nil
}
