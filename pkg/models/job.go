package models

// Job is a background-queue unit of work (spec.md §3).
type Job struct {
	ID              string    `json:"id"`
	OutcomeID       *string   `json:"outcome_id,omitempty"`
	JobType         JobType   `json:"job_type"`
	Status          JobStatus `json:"status"`
	ProgressMessage string    `json:"progress_message"`
	Payload         []byte    `json:"payload,omitempty"`
	Result          []byte    `json:"result,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       int64     `json:"created_at"`
	StartedAt       *int64    `json:"started_at,omitempty"`
	CompletedAt     *int64    `json:"completed_at,omitempty"`
}

// RetroAnalyzeResult is the structured result of a retro_analyze job
// (spec.md §4.8).
type RetroAnalyzeResult struct {
	Clusters  []EscalationCluster `json:"clusters"`
	Proposals []ImprovementProposal `json:"proposals"`
}

// EscalationCluster groups escalations by trigger type and text similarity.
type EscalationCluster struct {
	TriggerType   TriggerType `json:"trigger_type"`
	EscalationIDs []string    `json:"escalation_ids"`
	Summary       string      `json:"summary"`
}

// ImprovementProposal is a candidate follow-up outcome derived from a
// cluster of escalations.
type ImprovementProposal struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ClusterRef  int    `json:"cluster_ref"`
}
