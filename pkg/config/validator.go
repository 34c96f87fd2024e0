package config

import (
	"fmt"
	"os"
)

// Validator validates a loaded Config comprehensively, failing fast at the
// first invalid field — the same shape as the teacher's Validator, scaled
// down to this project's single component tree instead of a registry of
// agents/chains/MCP servers/LLM providers.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate is a convenience wrapper around NewValidator(cfg).ValidateAll(),
// used by Load after merging YAML and environment overrides.
func Validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

// ValidateAll validates every component's tuning knobs in turn.
func (v *Validator) ValidateAll() error {
	if err := v.validateCore(); err != nil {
		return fmt.Errorf("core validation failed: %w", err)
	}
	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}
	if err := v.validateIteration(); err != nil {
		return fmt.Errorf("iteration validation failed: %w", err)
	}
	if err := v.validateSupervisor(); err != nil {
		return fmt.Errorf("supervisor validation failed: %w", err)
	}
	if err := v.validateJobQueue(); err != nil {
		return fmt.Errorf("job queue validation failed: %w", err)
	}
	if err := v.validateDispatcher(); err != nil {
		return fmt.Errorf("dispatcher validation failed: %w", err)
	}
	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validateNotify(); err != nil {
		return fmt.Errorf("notify validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateCore() error {
	if v.cfg.StateDir == "" {
		return NewValidationError("core", "", "state_dir", ErrMissingRequiredField)
	}
	if len(v.cfg.AgentCommand) == 0 {
		return NewValidationError("core", "", "agent_command", ErrMissingRequiredField)
	}
	if v.cfg.DefaultOutcomeCostCapUSD <= 0 {
		return NewValidationError("core", "", "default_outcome_cost_cap_usd", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s.RetryBaseDelay <= 0 {
		return NewValidationError("scheduler", "", "retry_base_delay", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.RetryMaxDelay < s.RetryBaseDelay {
		return NewValidationError("scheduler", "", "retry_max_delay", fmt.Errorf("%w: must be at least retry_base_delay", ErrInvalidValue))
	}
	if s.RetryAttempts < 1 {
		return NewValidationError("scheduler", "", "retry_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.HeartbeatTimeout <= 0 {
		return NewValidationError("scheduler", "", "heartbeat_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.SupervisorInterval <= 0 {
		return NewValidationError("scheduler", "", "supervisor_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateIteration() error {
	it := v.cfg.Iteration
	if it.MaxIterationsPerTask < 1 {
		return NewValidationError("iteration", "", "max_iterations_per_task", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if it.CompactionThreshold < 1 {
		return NewValidationError("iteration", "", "compaction_threshold", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if it.IdleExitIterations < 1 {
		return NewValidationError("iteration", "", "idle_exit_iterations", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if it.AgentTimeout <= 0 {
		return NewValidationError("iteration", "", "agent_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if it.DesignDocMaxChars < 1 {
		return NewValidationError("iteration", "", "design_doc_max_chars", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateSupervisor() error {
	sv := v.cfg.Supervisor
	if sv.Interval <= 0 {
		return NewValidationError("supervisor", "", "interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if sv.HeartbeatTimeout <= 0 {
		return NewValidationError("supervisor", "", "heartbeat_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if sv.HeartbeatTimeout <= sv.Interval {
		return NewValidationError("supervisor", "", "heartbeat_timeout", fmt.Errorf("%w: must be greater than interval to avoid false stale-worker detection", ErrInvalidValue))
	}
	if sv.StuckThreshold <= 0 {
		return NewValidationError("supervisor", "", "stuck_threshold", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if sv.LoopThreshold < 1 {
		return NewValidationError("supervisor", "", "loop_threshold", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if sv.AutoResolveAge <= 0 {
		return NewValidationError("supervisor", "", "auto_resolve_age", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateJobQueue() error {
	jq := v.cfg.JobQueue
	if jq.PollInterval <= 0 {
		return NewValidationError("job_queue", "", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateDispatcher() error {
	d := v.cfg.Dispatcher
	if d.MatchTopK < 1 {
		return NewValidationError("dispatcher", "", "match_top_k", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if d.MatchHighThreshold <= 0 || d.MatchHighThreshold > 1 {
		return NewValidationError("dispatcher", "", "match_high_threshold", fmt.Errorf("%w: must be in (0, 1]", ErrInvalidValue))
	}
	if d.MatchMedThreshold <= 0 || d.MatchMedThreshold > 1 {
		return NewValidationError("dispatcher", "", "match_med_threshold", fmt.Errorf("%w: must be in (0, 1]", ErrInvalidValue))
	}
	if d.MatchMedThreshold >= d.MatchHighThreshold {
		return NewValidationError("dispatcher", "", "match_med_threshold", fmt.Errorf("%w: must be less than match_high_threshold", ErrInvalidValue))
	}
	if d.QuickWordThreshold < 1 {
		return NewValidationError("dispatcher", "", "quick_word_threshold", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	if r.OutcomeRetentionDays < 1 {
		return NewValidationError("retention", "", "outcome_retention_days", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.SweepInterval <= 0 {
		return NewValidationError("retention", "", "sweep_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s.BindAddr == "" {
		return NewValidationError("server", "", "bind_addr", ErrMissingRequiredField)
	}
	if s.BodyLimitBytes < 1 {
		return NewValidationError("server", "", "body_limit_bytes", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.ShutdownGrace <= 0 {
		return NewValidationError("server", "", "shutdown_grace", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateNotify() error {
	n := v.cfg.Notify
	if !n.Enabled {
		return nil
	}
	if n.TokenEnv == "" {
		return NewValidationError("notify", "", "token_env", fmt.Errorf("required when notify is enabled"))
	}
	if os.Getenv(n.TokenEnv) == "" {
		return NewValidationError("notify", "", "token_env", fmt.Errorf("environment variable %s is not set", n.TokenEnv))
	}
	if n.Channel == "" {
		return NewValidationError("notify", "", "channel", fmt.Errorf("required when notify is enabled"))
	}
	return nil
}
