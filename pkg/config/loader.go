package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/digitaltwin/dtwind/pkg/retention"
)

// yamlConfig mirrors the subset of Config a twin.yaml file may set. Fields
// absent from the file stay zero-valued; mergeYAML fills in everything the
// file didn't set from DefaultConfig(), the same "YAML overrides built-in"
// shape as the teacher's TarsyYAMLConfig/Initialize. Retention, Server and
// Notify already carry yaml tags on their canonical types, so those three
// are merged with mergo.Merge directly; the others need shadow types since
// their canonical Config structs carry no yaml tags of their own.
type yamlConfig struct {
	StateDir                 string   `yaml:"state_dir"`
	AgentCommand             []string `yaml:"agent_command"`
	DefaultOutcomeCostCapUSD float64  `yaml:"default_outcome_cost_cap_usd"`
	Scheduler    yamlSchedulerConfig  `yaml:"scheduler"`
	Iteration    yamlIterationConfig  `yaml:"iteration"`
	Supervisor   yamlSupervisorConfig `yaml:"supervisor"`
	JobQueue     yamlJobQueueConfig   `yaml:"job_queue"`
	Dispatcher   yamlDispatcherConfig `yaml:"dispatcher"`
	Retention    retention.Config     `yaml:"retention"`
	Server       ServerConfig         `yaml:"server"`
	Notify       NotifyConfig         `yaml:"notify"`
}

// The yaml*Config shadow types exist only because the component Config
// structs this package aggregates don't carry yaml tags of their own
// (they're plain tuning structs used across package boundaries); keeping
// the tags here, scoped to config, avoids leaking a YAML concern into
// packages that have nothing to do with file loading.
type yamlSchedulerConfig struct {
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay"`
	RetryAttempts      int           `yaml:"retry_attempts"`
	HeartbeatTimeout   time.Duration `yaml:"heartbeat_timeout"`
	SupervisorInterval time.Duration `yaml:"supervisor_interval"`
}

type yamlIterationConfig struct {
	IdleExitIterations   int           `yaml:"idle_exit_iterations"`
	IdlePollInterval     time.Duration `yaml:"idle_poll_interval"`
	MaxIterationsPerTask int           `yaml:"max_iterations_per_task"`
	CompactionThreshold  int           `yaml:"compaction_threshold"`
	IterationDelay       time.Duration `yaml:"iteration_delay"`
	DesignDocMaxChars    int           `yaml:"design_doc_max_chars"`
	AgentTimeout         time.Duration `yaml:"agent_timeout"`
	InFlightHeartbeat    time.Duration `yaml:"in_flight_heartbeat"`
}

type yamlSupervisorConfig struct {
	Interval         time.Duration `yaml:"interval"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	StuckThreshold   time.Duration `yaml:"stuck_threshold"`
	LoopThreshold    int           `yaml:"loop_threshold"`
	AutoResolveAge   time.Duration `yaml:"auto_resolve_age"`
}

type yamlJobQueueConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type yamlDispatcherConfig struct {
	MatchTopK          int     `yaml:"match_top_k"`
	MatchHighThreshold float64 `yaml:"match_high_threshold"`
	MatchMedThreshold  float64 `yaml:"match_med_threshold"`
	QuickWordThreshold int     `yaml:"quick_word_threshold"`
}

// Load reads path (a twin.yaml file), expands ${VAR} references, merges it
// over DefaultConfig(), applies the spec.md §6 environment variable
// overrides, and validates the result — the same load → expand → parse →
// merge → override → validate pipeline as the teacher's config.Initialize,
// scaled down to this project's single YAML file.
func Load(_ context.Context, path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, NewLoadError(path, err)
			}
		} else {
			data = ExpandEnv(data)
			var y yamlConfig
			if err := yaml.Unmarshal(data, &y); err != nil {
				return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
			}
			if err := mergeYAML(cfg, &y); err != nil {
				return nil, NewLoadError(path, err)
			}
			cfg.configPath = path
		}
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return cfg, nil
}

// mergeYAML overlays every non-zero field from y onto cfg. Scheduler,
// Iteration, Supervisor, JobQueue, and Dispatcher are merged field by field
// since their shadow types are distinct from the canonical component Config
// types; Retention, Server, and Notify share their canonical type with the
// shadow struct and are merged with mergo.Merge instead.
func mergeYAML(cfg *Config, y *yamlConfig) error {
	if y.StateDir != "" {
		cfg.StateDir = y.StateDir
	}
	if len(y.AgentCommand) > 0 {
		cfg.AgentCommand = y.AgentCommand
	}
	if y.DefaultOutcomeCostCapUSD != 0 {
		cfg.DefaultOutcomeCostCapUSD = y.DefaultOutcomeCostCapUSD
	}

	s := y.Scheduler
	if s.RetryBaseDelay != 0 {
		cfg.Scheduler.RetryBaseDelay = s.RetryBaseDelay
	}
	if s.RetryMaxDelay != 0 {
		cfg.Scheduler.RetryMaxDelay = s.RetryMaxDelay
	}
	if s.RetryAttempts != 0 {
		cfg.Scheduler.RetryAttempts = s.RetryAttempts
	}
	if s.HeartbeatTimeout != 0 {
		cfg.Scheduler.HeartbeatTimeout = s.HeartbeatTimeout
	}
	if s.SupervisorInterval != 0 {
		cfg.Scheduler.SupervisorInterval = s.SupervisorInterval
	}

	it := y.Iteration
	if it.IdleExitIterations != 0 {
		cfg.Iteration.IdleExitIterations = it.IdleExitIterations
	}
	if it.IdlePollInterval != 0 {
		cfg.Iteration.IdlePollInterval = it.IdlePollInterval
	}
	if it.MaxIterationsPerTask != 0 {
		cfg.Iteration.MaxIterationsPerTask = it.MaxIterationsPerTask
	}
	if it.CompactionThreshold != 0 {
		cfg.Iteration.CompactionThreshold = it.CompactionThreshold
	}
	if it.IterationDelay != 0 {
		cfg.Iteration.IterationDelay = it.IterationDelay
	}
	if it.DesignDocMaxChars != 0 {
		cfg.Iteration.DesignDocMaxChars = it.DesignDocMaxChars
	}
	if it.AgentTimeout != 0 {
		cfg.Iteration.AgentTimeout = it.AgentTimeout
	}
	if it.InFlightHeartbeat != 0 {
		cfg.Iteration.InFlightHeartbeat = it.InFlightHeartbeat
	}

	sv := y.Supervisor
	if sv.Interval != 0 {
		cfg.Supervisor.Interval = sv.Interval
	}
	if sv.HeartbeatTimeout != 0 {
		cfg.Supervisor.HeartbeatTimeout = sv.HeartbeatTimeout
	}
	if sv.StuckThreshold != 0 {
		cfg.Supervisor.StuckThreshold = sv.StuckThreshold
	}
	if sv.LoopThreshold != 0 {
		cfg.Supervisor.LoopThreshold = sv.LoopThreshold
	}
	if sv.AutoResolveAge != 0 {
		cfg.Supervisor.AutoResolveAge = sv.AutoResolveAge
	}

	if y.JobQueue.PollInterval != 0 {
		cfg.JobQueue.PollInterval = y.JobQueue.PollInterval
	}

	d := y.Dispatcher
	if d.MatchTopK != 0 {
		cfg.Dispatcher.MatchTopK = d.MatchTopK
	}
	if d.MatchHighThreshold != 0 {
		cfg.Dispatcher.MatchHighThreshold = d.MatchHighThreshold
	}
	if d.MatchMedThreshold != 0 {
		cfg.Dispatcher.MatchMedThreshold = d.MatchMedThreshold
	}
	if d.QuickWordThreshold != 0 {
		cfg.Dispatcher.QuickWordThreshold = d.QuickWordThreshold
	}

	if err := mergo.Merge(&cfg.Retention, y.Retention, mergo.WithOverride); err != nil {
		return err
	}
	if err := mergo.Merge(&cfg.Server, y.Server, mergo.WithOverride); err != nil {
		return err
	}
	if err := mergo.Merge(&cfg.Notify, y.Notify, mergo.WithOverride); err != nil {
		return err
	}

	return nil
}

// applyEnvOverrides applies spec.md §6's closed set of environment
// variable overrides, each taking priority over both built-in defaults and
// the loaded YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("BIND_ADDR"); v != "" {
		cfg.Server.BindAddr = v
	}
	if v := os.Getenv("AGENT_COMMAND"); v != "" {
		cfg.AgentCommand = []string{v}
		cfg.AgentClient.Command = v
	}
	if ms := envMillis("HEARTBEAT_TIMEOUT_MS"); ms != 0 {
		cfg.Supervisor.HeartbeatTimeout = ms
		cfg.Scheduler.HeartbeatTimeout = ms
	}
	if ms := envMillis("SUPERVISOR_INTERVAL_MS"); ms != 0 {
		cfg.Supervisor.Interval = ms
		cfg.Scheduler.SupervisorInterval = ms
	}
	if n := envInt("COMPACTION_THRESHOLD"); n != 0 {
		cfg.Iteration.CompactionThreshold = n
	}
	if n := envInt("MAX_ITERATIONS_PER_TASK"); n != 0 {
		cfg.Iteration.MaxIterationsPerTask = n
	}
	if f := envFloat("OUTCOME_COST_CAP_USD"); f != 0 {
		cfg.DefaultOutcomeCostCapUSD = f
	}
}

func envMillis(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid environment override", "key", key, "value", v, "error", err)
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid environment override", "key", key, "value", v, "error", err)
		return 0
	}
	return n
}

func envFloat(key string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring invalid environment override", "key", key, "value", v, "error", err)
		return 0
	}
	return f
}
