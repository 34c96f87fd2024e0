package models

// Intent is the structured statement of what an Outcome should achieve.
type Intent struct {
	Summary         string   `json:"summary"`
	Items           []string `json:"items"`
	SuccessCriteria []string `json:"success_criteria"`
}

// DesignDoc is the versioned approach document attached to an Outcome.
type DesignDoc struct {
	Approach string `json:"approach"`
	Version  int    `json:"version"`
}

// GitConfig is opaque isolation/branching config passed through to workers.
type GitConfig struct {
	RepoURL      string `json:"repo_url,omitempty"`
	BaseBranch   string `json:"base_branch,omitempty"`
	WorktreeRoot string `json:"worktree_root,omitempty"`
}

// SaveTargetConfig is opaque save/publish config passed through to workers.
type SaveTargetConfig struct {
	Kind   string            `json:"kind,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// Outcome is a user-scoped unit of desired work (spec.md §3).
type Outcome struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Brief           string           `json:"brief"`
	Intent          Intent           `json:"intent"`
	DesignDoc       DesignDoc        `json:"design_doc"`
	Status          OutcomeStatus    `json:"status"`
	CapabilityReady CapabilityReady  `json:"capability_ready"`
	ParentID        *string          `json:"parent_id,omitempty"`
	Depth           int              `json:"depth"`
	IsOngoing       bool             `json:"is_ongoing"`
	AutoResolve     bool             `json:"auto_resolve"`
	CostCapUSD      float64          `json:"cost_cap_usd"`
	Git             GitConfig        `json:"git"`
	SaveTarget      SaveTargetConfig `json:"save_target"`
	CreatedAt       int64            `json:"created_at"`
	UpdatedAt       int64            `json:"updated_at"`
	DeletedAt       *int64           `json:"deleted_at,omitempty"`
}
