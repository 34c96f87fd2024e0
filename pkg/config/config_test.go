package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, Validate(cfg))
}

func TestDefaultConfigStats(t *testing.T) {
	cfg := DefaultConfig()
	stats := cfg.Stats()
	assert.Equal(t, DefaultStateDir, stats.StateDir)
	assert.Equal(t, cfg.Server.BindAddr, stats.BindAddr)
	assert.Equal(t, cfg.Supervisor.HeartbeatTimeout, stats.HeartbeatTimeout)
	assert.Equal(t, cfg.Iteration.MaxIterationsPerTask, stats.MaxIterationsPerTask)
	assert.False(t, stats.NotifyEnabled)
}

func TestConfigPathEmptyUntilLoaded(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.ConfigPath())
}
