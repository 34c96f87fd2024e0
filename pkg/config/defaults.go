package config

import (
	"time"

	"github.com/digitaltwin/dtwind/pkg/agentclient"
	"github.com/digitaltwin/dtwind/pkg/dispatcher"
	"github.com/digitaltwin/dtwind/pkg/iteration"
	"github.com/digitaltwin/dtwind/pkg/jobqueue"
	"github.com/digitaltwin/dtwind/pkg/retention"
	"github.com/digitaltwin/dtwind/pkg/scheduler"
	"github.com/digitaltwin/dtwind/pkg/supervisor"
)

// DefaultStateDir is used when STATE_DIR is unset.
const DefaultStateDir = "./data"

// DefaultConfig returns the built-in configuration, assembled from each
// component's own DefaultConfig() — mirroring the teacher's
// GetBuiltinConfig, but against this project's much smaller, closed set of
// tunables instead of a registry of agents/chains/MCP servers.
func DefaultConfig() *Config {
	return &Config{
		StateDir:                 DefaultStateDir,
		AgentCommand:             []string{"./agent"},
		DefaultOutcomeCostCapUSD: 5.0,
		Scheduler:    scheduler.DefaultConfig(),
		Iteration:    iteration.DefaultConfig(),
		Supervisor:   supervisor.DefaultConfig(),
		JobQueue:     jobqueue.DefaultConfig(),
		Dispatcher:   dispatcher.DefaultConfig(),
		AgentClient:  agentclient.DefaultConfig("./agent"),
		Retention:    retention.DefaultConfig(),
		Server: ServerConfig{
			BindAddr:         ":8080",
			BodyLimitBytes:   2 * 1024 * 1024,
			WebSocketTimeout: 10 * time.Second,
			ShutdownGrace:    10 * time.Second,
		},
		Notify: NotifyConfig{
			Enabled:  false,
			TokenEnv: "SLACK_BOT_TOKEN",
		},
	}
}
