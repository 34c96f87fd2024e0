package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultStateDir, cfg.StateDir)
	assert.Empty(t, cfg.ConfigPath())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultStateDir, cfg.StateDir)
}

func TestLoadOverlaysYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
state_dir: /var/lib/dtwind
supervisor:
  heartbeat_timeout: 5m
  interval: 10s
`), 0o644))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/dtwind", cfg.StateDir)
	assert.Equal(t, 5*time.Minute, cfg.Supervisor.HeartbeatTimeout)
	assert.Equal(t, 10*time.Second, cfg.Supervisor.Interval)
	assert.Equal(t, path, cfg.ConfigPath())
	// Fields the file didn't set keep their built-in default.
	assert.Equal(t, DefaultConfig().Scheduler.RetryAttempts, cfg.Scheduler.RetryAttempts)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("DTWIND_TEST_BIND", ":9090")
	path := filepath.Join(t.TempDir(), "twin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  bind_addr: "${DTWIND_TEST_BIND}"
`), 0o644))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.BindAddr)
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	_, err := Load(context.Background(), path)
	assert.Error(t, err)
}

func TestEnvOverridesTakePriorityOverYAML(t *testing.T) {
	t.Setenv("BIND_ADDR", ":7070")
	path := filepath.Join(t.TempDir(), "twin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  bind_addr: \":6060\"\n"), 0o644))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.BindAddr)
}

func TestEnvOverrideInvalidIntIgnored(t *testing.T) {
	t.Setenv("MAX_ITERATIONS_PER_TASK", "not-a-number")
	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Iteration.MaxIterationsPerTask, cfg.Iteration.MaxIterationsPerTask)
}

func TestLoadRejectsInvalidMergedConfig(t *testing.T) {
	t.Setenv("COMPACTION_THRESHOLD", "-5")

	_, err := Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrValidationFailed)
}
