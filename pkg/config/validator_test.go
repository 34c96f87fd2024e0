package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAllAcceptsDefaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidateRejectsEmptyStateDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateDir = ""
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsHeartbeatNotGreaterThanInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Supervisor.HeartbeatTimeout = cfg.Supervisor.Interval
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsDispatcherThresholdOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dispatcher.MatchMedThreshold = cfg.Dispatcher.MatchHighThreshold
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsNotifyEnabledWithoutChannel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Notify.Enabled = true
	cfg.Notify.TokenEnv = "SLACK_BOT_TOKEN"
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	assert.Error(t, Validate(cfg))
}

func TestValidateAcceptsNotifyEnabledWithChannelAndToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Notify.Enabled = true
	cfg.Notify.TokenEnv = "SLACK_BOT_TOKEN"
	cfg.Notify.Channel = "#alerts"
	t.Setenv("SLACK_BOT_TOKEN", "xoxb-test")
	assert.NoError(t, Validate(cfg))
}

func TestValidateRejectsZeroCostCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultOutcomeCostCapUSD = 0
	assert.Error(t, Validate(cfg))
}
