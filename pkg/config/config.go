// Package config loads and validates the tuning knobs for every component
// of the orchestration server (spec.md §9's defaults, §6's closed set of
// environment variables), following the teacher's pkg/config shape: a YAML
// file merged over built-in defaults with dario.cat/mergo, environment
// variable expansion, and a dedicated Validator.
package config

import (
	"time"

	"github.com/digitaltwin/dtwind/pkg/agentclient"
	"github.com/digitaltwin/dtwind/pkg/dispatcher"
	"github.com/digitaltwin/dtwind/pkg/iteration"
	"github.com/digitaltwin/dtwind/pkg/jobqueue"
	"github.com/digitaltwin/dtwind/pkg/retention"
	"github.com/digitaltwin/dtwind/pkg/scheduler"
	"github.com/digitaltwin/dtwind/pkg/store"
	"github.com/digitaltwin/dtwind/pkg/supervisor"
)

// ServerConfig tunes the HTTP surface of spec.md §6.
type ServerConfig struct {
	BindAddr         string        `yaml:"bind_addr"`
	BodyLimitBytes   int           `yaml:"body_limit_bytes"`
	WebSocketTimeout time.Duration `yaml:"websocket_timeout"`
	ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
}

// NotifyConfig tunes the optional Slack notifications SPEC_FULL.md §12
// adds on top of the distilled spec.
type NotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}

// Config is the umbrella configuration object for the dtwind binary,
// mirroring the role the teacher's Config plays for tarsy: every component
// constructor in cmd/dtwind/main.go is built from one field of this struct.
type Config struct {
	configPath string

	StateDir     string   `yaml:"state_dir"`
	AgentCommand []string `yaml:"agent_command"`

	// DefaultOutcomeCostCapUSD backs OUTCOME_COST_CAP_USD — the cap applied
	// to a new Outcome when its creation request leaves cost_cap_usd unset.
	DefaultOutcomeCostCapUSD float64 `yaml:"default_outcome_cost_cap_usd"`

	Store       store.Config       `yaml:"-"`
	Scheduler   scheduler.Config   `yaml:"scheduler"`
	Iteration   iteration.Config   `yaml:"iteration"`
	Supervisor  supervisor.Config  `yaml:"supervisor"`
	JobQueue    jobqueue.Config    `yaml:"job_queue"`
	Dispatcher  dispatcher.Config  `yaml:"dispatcher"`
	AgentClient agentclient.Config `yaml:"-"`
	Retention   retention.Config   `yaml:"retention"`
	Server      ServerConfig       `yaml:"server"`
	Notify      NotifyConfig       `yaml:"notify"`
}

// ConfigPath returns the file the configuration was loaded from, empty
// when only built-in defaults and environment overrides apply.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// Stats summarizes the loaded configuration for startup logging, the role
// the teacher's Config.Stats() plays in cmd/tarsy/main.go.
type Stats struct {
	StateDir             string
	BindAddr             string
	HeartbeatTimeout     time.Duration
	MaxIterationsPerTask int
	NotifyEnabled        bool
}

func (c *Config) Stats() Stats {
	return Stats{
		StateDir:             c.StateDir,
		BindAddr:             c.Server.BindAddr,
		HeartbeatTimeout:     c.Supervisor.HeartbeatTimeout,
		MaxIterationsPerTask: c.Iteration.MaxIterationsPerTask,
		NotifyEnabled:        c.Notify.Enabled,
	}
}
