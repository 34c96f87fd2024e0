package subprocess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdout(t *testing.T) {
	res, err := Run(context.Background(), Request{Cmd: "echo", Args: []string{"hello"}, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "hello")
	assert.False(t, res.TimedOut)
}

func TestRunReportsNonZeroExitWithoutError(t *testing.T) {
	res, err := Run(context.Background(), Request{Cmd: "sh", Args: []string{"-c", "exit 7"}, Timeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
}

func TestRunTimesOut(t *testing.T) {
	res, err := Run(context.Background(), Request{Cmd: "sleep", Args: []string{"5"}, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
}

func TestRunMissingBinaryReturnsError(t *testing.T) {
	_, err := Run(context.Background(), Request{Cmd: "definitely-not-a-real-binary-xyz", Timeout: time.Second})
	assert.Error(t, err)
}
