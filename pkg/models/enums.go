package models

// OutcomeStatus is the closed set of lifecycle states for an Outcome.
type OutcomeStatus string

const (
	OutcomeStatusActive   OutcomeStatus = "active"
	OutcomeStatusDormant  OutcomeStatus = "dormant"
	OutcomeStatusAchieved OutcomeStatus = "achieved"
	OutcomeStatusArchived OutcomeStatus = "archived"
)

func (s OutcomeStatus) IsValid() bool {
	switch s {
	case OutcomeStatusActive, OutcomeStatusDormant, OutcomeStatusAchieved, OutcomeStatusArchived:
		return true
	}
	return false
}

// CapabilityReady gates execution-phase tasks (spec.md §3).
type CapabilityReady int

const (
	CapabilityNotStarted CapabilityReady = 0
	CapabilityInProgress CapabilityReady = 1
	CapabilityComplete   CapabilityReady = 2
)

// TaskStatus is the closed set of lifecycle states for a Task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusClaimed   TaskStatus = "claimed"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusClaimed, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// TaskPhase distinguishes capability-building tasks from execution tasks.
type TaskPhase string

const (
	TaskPhaseCapability TaskPhase = "capability"
	TaskPhaseExecution  TaskPhase = "execution"
)

func (p TaskPhase) IsValid() bool {
	return p == TaskPhaseCapability || p == TaskPhaseExecution
}

// WorkerStatus is the closed set of lifecycle states for a Worker.
type WorkerStatus string

const (
	WorkerStatusIdle      WorkerStatus = "idle"
	WorkerStatusRunning   WorkerStatus = "running"
	WorkerStatusPaused    WorkerStatus = "paused"
	WorkerStatusCompleted WorkerStatus = "completed"
	WorkerStatusFailed    WorkerStatus = "failed"
)

func (s WorkerStatus) IsValid() bool {
	switch s {
	case WorkerStatusIdle, WorkerStatusRunning, WorkerStatusPaused, WorkerStatusCompleted, WorkerStatusFailed:
		return true
	}
	return false
}

// DiscoveryType closes the kind of thing HOMЯ can record about an outcome.
type DiscoveryType string

const (
	DiscoveryTypePattern    DiscoveryType = "pattern"
	DiscoveryTypeConstraint DiscoveryType = "constraint"
	DiscoveryTypeInsight    DiscoveryType = "insight"
	DiscoveryTypeBlocker    DiscoveryType = "blocker"
)

func (d DiscoveryType) IsValid() bool {
	switch d {
	case DiscoveryTypePattern, DiscoveryTypeConstraint, DiscoveryTypeInsight, DiscoveryTypeBlocker:
		return true
	}
	return false
}

// EscalationStatus is the closed set of lifecycle states for an Escalation.
type EscalationStatus string

const (
	EscalationStatusPending   EscalationStatus = "pending"
	EscalationStatusAnswered  EscalationStatus = "answered"
	EscalationStatusDismissed EscalationStatus = "dismissed"
)

func (s EscalationStatus) IsValid() bool {
	switch s {
	case EscalationStatusPending, EscalationStatusAnswered, EscalationStatusDismissed:
		return true
	}
	return false
}

// TriggerType closes the reasons HOMЯ may raise an Escalation.
type TriggerType string

const (
	TriggerUnclearRequirement TriggerType = "unclear_requirement"
	TriggerConflictingInfo    TriggerType = "conflicting_info"
	TriggerMissingContext     TriggerType = "missing_context"
	TriggerScopeAmbiguity     TriggerType = "scope_ambiguity"
	TriggerTechnicalDecision  TriggerType = "technical_decision"
	TriggerPriorityConflict   TriggerType = "priority_conflict"
	TriggerDependencyUnclear  TriggerType = "dependency_unclear"
	TriggerSuccessCriteria    TriggerType = "success_criteria"
)

func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerUnclearRequirement, TriggerConflictingInfo, TriggerMissingContext, TriggerScopeAmbiguity,
		TriggerTechnicalDecision, TriggerPriorityConflict, TriggerDependencyUnclear, TriggerSuccessCriteria:
		return true
	}
	return false
}

// AlertType is the closed set of conditions the Supervisor detects.
type AlertType string

const (
	AlertTypeStuckWorker      AlertType = "stuck_worker"
	AlertTypeCostOverrun      AlertType = "cost_overrun"
	AlertTypeIterationLoop    AlertType = "iteration_loop"
	AlertTypeRepeatedFailure  AlertType = "repeated_failure"
	AlertTypeNoProgress       AlertType = "no_progress"
)

func (a AlertType) IsValid() bool {
	switch a {
	case AlertTypeStuckWorker, AlertTypeCostOverrun, AlertTypeIterationLoop, AlertTypeRepeatedFailure, AlertTypeNoProgress:
		return true
	}
	return false
}

// AlertSeverity is the closed set of severities for an Alert.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

func (s AlertSeverity) IsValid() bool {
	switch s {
	case AlertSeverityInfo, AlertSeverityWarning, AlertSeverityCritical:
		return true
	}
	return false
}

// AlertTargetKind closes what kind of entity an Alert is about.
type AlertTargetKind string

const (
	AlertTargetWorker  AlertTargetKind = "worker"
	AlertTargetOutcome AlertTargetKind = "outcome"
)

func (k AlertTargetKind) IsValid() bool {
	return k == AlertTargetWorker || k == AlertTargetOutcome
}

// JobType is the closed set of background job kinds.
type JobType string

const (
	JobTypeRetroAnalyze     JobType = "retro_analyze"
	JobTypeProposalGenerate JobType = "proposal_generate"
)

func (j JobType) IsValid() bool {
	return j == JobTypeRetroAnalyze || j == JobTypeProposalGenerate
}

// JobStatus is the closed set of lifecycle states for a Job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// AgentResultStatus is the closed set the external agent reports per
// iteration (spec.md §6).
type AgentResultStatus string

const (
	AgentResultDone      AgentResultStatus = "done"
	AgentResultNeedsMore AgentResultStatus = "needs_more"
	AgentResultFailed    AgentResultStatus = "failed"
)

func (s AgentResultStatus) IsValid() bool {
	switch s {
	case AgentResultDone, AgentResultNeedsMore, AgentResultFailed:
		return true
	}
	return false
}

// ReleaseReason closes the reasons a claim can be released (spec.md §4.2).
type ReleaseReason string

const (
	ReleaseCompleted ReleaseReason = "completed"
	ReleaseFailed     ReleaseReason = "failed"
	ReleaseReclaimed  ReleaseReason = "reclaimed"
	ReleasePaused     ReleaseReason = "paused"
)

func (r ReleaseReason) IsValid() bool {
	switch r {
	case ReleaseCompleted, ReleaseFailed, ReleaseReclaimed, ReleasePaused:
		return true
	}
	return false
}
