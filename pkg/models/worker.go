package models

// Worker is a long-lived process that iteratively claims and advances
// Tasks for one Outcome (spec.md §3).
type Worker struct {
	ID        string       `json:"id"`
	OutcomeID string       `json:"outcome_id"`
	Name      string       `json:"name"`
	Status    WorkerStatus `json:"status"`

	CurrentTaskID *string `json:"current_task_id,omitempty"`
	Iteration     int     `json:"iteration"`
	LastHeartbeat int64   `json:"last_heartbeat"`
	Cost          float64 `json:"cost"`
	PID           int     `json:"pid"`
	BranchName    string  `json:"branch_name"`
	WorktreePath  string  `json:"worktree_path"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

const DefaultHeartbeatTimeoutMillis = 60_000
