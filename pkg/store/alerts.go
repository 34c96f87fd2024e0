package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/digitaltwin/dtwind/pkg/models"
)

const alertColumns = `id, type, severity, target_kind, target_id, message, active, created_at, resolved_at`

func scanAlert(scan func(dest ...any) error) (*models.Alert, error) {
	var a models.Alert
	var typ, severity, targetKind string
	if err := scan(&a.ID, &typ, &severity, &targetKind, &a.TargetID, &a.Message, boolScan(&a.Active), &a.CreatedAt, &a.ResolvedAt); err != nil {
		return nil, err
	}
	a.Type = models.AlertType(typ)
	a.Severity = models.AlertSeverity(severity)
	a.TargetKind = models.AlertTargetKind(targetKind)
	return &a, nil
}

// InsertAlert persists a new Alert row.
func InsertAlert(ctx context.Context, q Queryer, a *models.Alert) error {
	_, err := q.ExecContext(ctx, `INSERT INTO alerts (id, type, severity, target_kind, target_id, message, active, created_at, resolved_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, string(a.Type), string(a.Severity), string(a.TargetKind), a.TargetID, a.Message,
		boolToInt(a.Active), a.CreatedAt, a.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// UpdateAlert overwrites the mutable fields of an existing Alert row.
func UpdateAlert(ctx context.Context, q Queryer, a *models.Alert) error {
	res, err := q.ExecContext(ctx, `UPDATE alerts SET active=?, resolved_at=? WHERE id=?`, boolToInt(a.Active), a.ResolvedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.NotFound("alert", a.ID, sql.ErrNoRows)
	}
	return nil
}

// GetAlert fetches one Alert by id.
func GetAlert(ctx context.Context, q Queryer, id string) (*models.Alert, error) {
	row := q.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row.Scan)
	if err == sql.ErrNoRows {
		return nil, models.NotFound("alert", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// FindActiveAlert returns the active alert for a given (type, target), or
// nil if none exists — used to avoid raising duplicate alerts for a
// condition that is already flagged (spec.md §4.6's alert lifecycle).
func FindActiveAlert(ctx context.Context, q Queryer, alertType models.AlertType, targetKind models.AlertTargetKind, targetID string) (*models.Alert, error) {
	row := q.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE type = ? AND target_kind = ? AND target_id = ? AND active = 1
		ORDER BY created_at DESC LIMIT 1`, string(alertType), string(targetKind), targetID)
	a, err := scanAlert(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active alert: %w", err)
	}
	return a, nil
}

// ListActiveAlerts returns every currently-active alert, newest first.
func ListActiveAlerts(ctx context.Context, q Queryer) ([]*models.Alert, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE active = 1 ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()
	var out []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
