package models

// EscalationOption is one choice the user (or auto-resolve) can pick.
type EscalationOption struct {
	ID             string `json:"id"`
	Label          string `json:"label"`
	Description    string `json:"description"`
	Implications   string `json:"implications"`
	Confidence     float64 `json:"confidence"`
}

// EscalationTrigger describes why HOMЯ raised the escalation.
type EscalationTrigger struct {
	Type     TriggerType `json:"type"`
	TaskID   string      `json:"task_id"`
	Evidence []string    `json:"evidence"`
}

// EscalationQuestion is the human-facing question HOMЯ is blocking on.
type EscalationQuestion struct {
	Text    string             `json:"text"`
	Context string             `json:"context"`
	Options []EscalationOption `json:"options"`
}

// EscalationAnswer is filled in once the escalation is resolved.
type EscalationAnswer struct {
	SelectedOption    string `json:"selected_option"`
	AdditionalContext string `json:"additional_context"`
	AnsweredAt        int64  `json:"answered_at"`
	AutoResolved      bool   `json:"auto_resolved"`
}

// Escalation is a user-blocking question raised by HOMЯ that pauses the
// affected Tasks until answered (spec.md §3).
type Escalation struct {
	ID            string            `json:"id"`
	OutcomeID     string            `json:"outcome_id"`
	Status        EscalationStatus  `json:"status"`
	Trigger       EscalationTrigger `json:"trigger"`
	Question      EscalationQuestion `json:"question"`
	Answer        *EscalationAnswer `json:"answer,omitempty"`
	AffectedTasks []string          `json:"affected_tasks"`
	CreatedAt     int64             `json:"created_at"`
	UpdatedAt     int64             `json:"updated_at"`
}
