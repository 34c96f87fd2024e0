package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one strictly-ordered schema step. Version numbers are
// dense and start at 1; there are no backward migrations (spec.md §4.1).
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE outcomes (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				brief TEXT NOT NULL,
				intent_json TEXT NOT NULL,
				design_doc_json TEXT NOT NULL,
				status TEXT NOT NULL,
				capability_ready INTEGER NOT NULL,
				parent_id TEXT,
				depth INTEGER NOT NULL DEFAULT 0,
				is_ongoing INTEGER NOT NULL DEFAULT 0,
				auto_resolve INTEGER NOT NULL DEFAULT 0,
				cost_cap_usd REAL NOT NULL DEFAULT 5.0,
				git_json TEXT NOT NULL DEFAULT '{}',
				save_target_json TEXT NOT NULL DEFAULT '{}',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				deleted_at INTEGER
			)`,
			`CREATE INDEX idx_outcomes_status ON outcomes(status)`,
			`CREATE INDEX idx_outcomes_parent ON outcomes(parent_id)`,
			`CREATE INDEX idx_outcomes_deleted ON outcomes(deleted_at) WHERE deleted_at IS NOT NULL`,

			`CREATE TABLE tasks (
				id TEXT PRIMARY KEY,
				outcome_id TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL,
				priority INTEGER NOT NULL,
				status TEXT NOT NULL,
				phase TEXT NOT NULL,
				depends_on_json TEXT NOT NULL DEFAULT '[]',
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				claimed_by TEXT,
				claimed_at INTEGER,
				completed_at INTEGER,
				from_review INTEGER NOT NULL DEFAULT 0,
				review_cycle INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_tasks_outcome_status ON tasks(outcome_id, status)`,
			`CREATE INDEX idx_tasks_outcome_priority ON tasks(outcome_id, priority, created_at, id)`,
			`CREATE INDEX idx_tasks_claimed_by ON tasks(claimed_by)`,

			`CREATE TABLE workers (
				id TEXT PRIMARY KEY,
				outcome_id TEXT NOT NULL,
				name TEXT NOT NULL,
				status TEXT NOT NULL,
				current_task_id TEXT,
				iteration INTEGER NOT NULL DEFAULT 0,
				last_heartbeat INTEGER NOT NULL DEFAULT 0,
				cost REAL NOT NULL DEFAULT 0,
				pid INTEGER NOT NULL DEFAULT 0,
				branch_name TEXT NOT NULL DEFAULT '',
				worktree_path TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_workers_status_heartbeat ON workers(status, last_heartbeat)`,
			`CREATE INDEX idx_workers_outcome ON workers(outcome_id)`,

			`CREATE TABLE progress_entries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				outcome_id TEXT NOT NULL,
				worker_id TEXT NOT NULL,
				iteration INTEGER NOT NULL,
				task_id TEXT NOT NULL,
				content TEXT NOT NULL,
				full_output TEXT NOT NULL,
				compacted INTEGER NOT NULL DEFAULT 0,
				compacted_into INTEGER,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_progress_worker_ordered ON progress_entries(worker_id, id)`,
			`CREATE INDEX idx_progress_worker_task ON progress_entries(worker_id, task_id, compacted)`,

			`CREATE TABLE activity_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				outcome_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				ref_id TEXT NOT NULL,
				message TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_activity_outcome_time ON activity_log(outcome_id, created_at)`,

			`CREATE TABLE homr_discoveries (
				id TEXT PRIMARY KEY,
				outcome_id TEXT NOT NULL,
				type TEXT NOT NULL,
				content TEXT NOT NULL,
				source_task_id TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_homr_discoveries_outcome ON homr_discoveries(outcome_id, created_at)`,

			`CREATE TABLE homr_decisions (
				id TEXT PRIMARY KEY,
				outcome_id TEXT NOT NULL,
				content TEXT NOT NULL,
				made_by TEXT NOT NULL,
				context TEXT NOT NULL,
				affected_areas_json TEXT NOT NULL DEFAULT '[]',
				made_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_homr_decisions_outcome ON homr_decisions(outcome_id, made_at)`,

			`CREATE TABLE homr_constraints (
				id TEXT PRIMARY KEY,
				outcome_id TEXT NOT NULL,
				rule TEXT NOT NULL,
				reason TEXT NOT NULL,
				added_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_homr_constraints_outcome ON homr_constraints(outcome_id, added_at)`,

			`CREATE TABLE homr_injections (
				id TEXT PRIMARY KEY,
				outcome_id TEXT NOT NULL,
				task_id TEXT NOT NULL,
				content TEXT NOT NULL,
				injected_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_homr_injections_task ON homr_injections(outcome_id, task_id)`,

			`CREATE TABLE homr_observations (
				id TEXT PRIMARY KEY,
				outcome_id TEXT NOT NULL,
				task_id TEXT NOT NULL,
				concerns_json TEXT NOT NULL DEFAULT '[]',
				next_steps_json TEXT NOT NULL DEFAULT '[]',
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_homr_observations_outcome ON homr_observations(outcome_id, created_at)`,

			`CREATE TABLE escalations (
				id TEXT PRIMARY KEY,
				outcome_id TEXT NOT NULL,
				status TEXT NOT NULL,
				trigger_json TEXT NOT NULL,
				question_json TEXT NOT NULL,
				answer_json TEXT,
				affected_tasks_json TEXT NOT NULL DEFAULT '[]',
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_escalations_outcome_status ON escalations(outcome_id, status)`,

			`CREATE TABLE alerts (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				severity TEXT NOT NULL,
				target_kind TEXT NOT NULL,
				target_id TEXT NOT NULL,
				message TEXT NOT NULL,
				active INTEGER NOT NULL DEFAULT 1,
				created_at INTEGER NOT NULL,
				resolved_at INTEGER
			)`,
			`CREATE INDEX idx_alerts_target_active ON alerts(target_kind, target_id, active)`,
			`CREATE INDEX idx_alerts_type_active ON alerts(type, active)`,

			`CREATE TABLE jobs (
				id TEXT PRIMARY KEY,
				outcome_id TEXT,
				job_type TEXT NOT NULL,
				status TEXT NOT NULL,
				progress_message TEXT NOT NULL DEFAULT '',
				payload BLOB,
				result BLOB,
				error TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				started_at INTEGER,
				completed_at INTEGER
			)`,
			`CREATE INDEX idx_jobs_outcome_type_status ON jobs(outcome_id, job_type, status)`,
		},
	},
}

// migrate applies every pending migration in order, each inside its own
// transaction, recording the new version in schema_migrations. No backward
// migrations are supported.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("stmt %q: %w", stmt, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)`, m.version, nowMillis()); err != nil {
		return err
	}
	return tx.Commit()
}
