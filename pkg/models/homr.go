package models

// Discovery is one entry in an Outcome's HOMЯ ContextStore (spec.md §3).
type Discovery struct {
	ID           string        `json:"id"`
	OutcomeID    string        `json:"outcome_id"`
	Type         DiscoveryType `json:"type"`
	Content      string        `json:"content"`
	SourceTaskID string        `json:"source_task_id"`
	CreatedAt    int64         `json:"created_at"`
}

// Decision is a recorded HOMЯ or human decision attached to an Outcome.
type Decision struct {
	ID            string   `json:"id"`
	OutcomeID     string   `json:"outcome_id"`
	Content       string   `json:"content"`
	MadeBy        string   `json:"made_by"`
	Context       string   `json:"context"`
	AffectedAreas []string `json:"affected_areas"`
	MadeAt        int64    `json:"made_at"`
}

// Constraint is a standing rule recorded against an Outcome.
type Constraint struct {
	ID      string `json:"id"`
	OutcomeID string `json:"outcome_id"`
	Rule    string `json:"rule"`
	Reason  string `json:"reason"`
	AddedAt int64  `json:"added_at"`
}

// ContextInjection is content to prepend into the prompt for a specific
// downstream task.
type ContextInjection struct {
	ID         string `json:"id"`
	OutcomeID  string `json:"outcome_id"`
	TaskID     string `json:"task_id"`
	Content    string `json:"content"`
	InjectedAt int64  `json:"injected_at"`
}

// Observation is the concerns/next_steps row HOMЯ records for each
// iteration's output (spec.md §4.5).
type Observation struct {
	ID        string   `json:"id"`
	OutcomeID string   `json:"outcome_id"`
	TaskID    string   `json:"task_id"`
	Concerns  []string `json:"concerns"`
	NextSteps []string `json:"next_steps"`
	CreatedAt int64    `json:"created_at"`
}
