package models

// Task is an atomic unit of work within an Outcome (spec.md §3).
type Task struct {
	ID          string     `json:"id"`
	OutcomeID   string     `json:"outcome_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Status      TaskStatus `json:"status"`
	Phase       TaskPhase  `json:"phase"`
	DependsOn   []string   `json:"depends_on"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"max_attempts"`

	ClaimedBy  *string `json:"claimed_by,omitempty"`
	ClaimedAt  *int64  `json:"claimed_at,omitempty"`
	CompletedAt *int64 `json:"completed_at,omitempty"`

	FromReview  bool `json:"from_review"`
	ReviewCycle int  `json:"review_cycle"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Score is the derived ordering key: lower sorts first. It mirrors the
// Scheduler's ORDER BY (priority asc, created_at asc, id asc) so callers
// that only need a comparable value (e.g. UI sort) don't reimplement the
// tie-break chain.
func (t Task) Score() (priority int, createdAt int64, id string) {
	return t.Priority, t.CreatedAt, t.ID
}

const DefaultMaxAttempts = 3
