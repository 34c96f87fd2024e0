// Package agentclient invokes the external coding agent process named by
// AGENT_COMMAND and parses its structured result header, implementing the
// agent invocation contract of spec.md §6. A sony/gobreaker circuit
// breaker, shared by every worker using the Client, protects the server
// from hammering an agent command that cannot be started. Only a failure
// to start the process counts against the breaker; a non-zero exit, a
// timeout or a malformed header is returned as a failed Result and counts
// as a successful call.
package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/subprocess"
)

// resultHeaderPrefix marks the single structured line an agent process
// must emit on its first line of stdout. Everything after that line (the
// header line itself excluded) is preserved verbatim in Result.RawOutput — spec.md §9:
// "agent must emit a small structured header the driver parses, with
// everything else preserved verbatim in full_output".
const resultHeaderPrefix = "::DTWIND-RESULT::"

// Invocation mirrors spec.md §6's agent invocation input.
type Invocation struct {
	Prompt     string
	WorkingDir string
	Env        map[string]string
	Timeout    time.Duration
}

// Result mirrors spec.md §6's agent invocation output.
type Result struct {
	Summary    string
	RawOutput  string
	Cost       float64
	Status     models.AgentResultStatus
	Structured map[string]any
}

type resultHeader struct {
	Status  models.AgentResultStatus `json:"status"`
	Summary string                   `json:"summary"`
	Cost    float64                  `json:"cost"`
}

// Config names the external agent binary and tunes the circuit breaker.
type Config struct {
	Command              string
	Args                 []string
	BreakerFailureThresh  uint32
	BreakerOpenTimeout    time.Duration
}

// DefaultConfig returns sane defaults for BreakerFailureThresh/OpenTimeout.
func DefaultConfig(command string, args ...string) Config {
	return Config{
		Command:              command,
		Args:                 args,
		BreakerFailureThresh: 5,
		BreakerOpenTimeout:   30 * time.Second,
	}
}

// Client invokes the configured agent command per iteration.
type Client struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
}

// New constructs a Client wrapping AGENT_COMMAND in a circuit breaker.
func New(cfg Config) *Client {
	st := gobreaker.Settings{
		Name:        "agentclient",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThresh
		},
	}
	return &Client{cfg: cfg, breaker: gobreaker.NewCircuitBreaker(st)}
}

// Invoke runs the agent command once and parses its result. Failure modes
// (non-zero exit, timeout, missing/malformed header) are all surfaced as
// Result{Status: models.AgentResultFailed} with RawOutput preserved,
// matching spec.md §6/§9 — the returned error is reserved for conditions
// outside the agent-task contract (the circuit breaker is open, or the
// binary itself could not be started).
func (c *Client) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.invokeOnce(ctx, inv)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{}, models.Transient("agentclient", c.cfg.Command, err)
		}
		return Result{}, err
	}
	return out.(Result), nil
}

func (c *Client) invokeOnce(ctx context.Context, inv Invocation) (Result, error) {
	env := make([]string, 0, len(inv.Env))
	for k, v := range inv.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	procResult, err := subprocess.Run(ctx, subprocess.Request{
		Cmd:     c.cfg.Command,
		Args:    c.cfg.Args,
		Cwd:     inv.WorkingDir,
		Env:     env,
		Stdin:   inv.Prompt,
		Timeout: inv.Timeout,
	})
	if err != nil {
		return Result{}, err
	}

	if procResult.TimedOut {
		return Result{
			Status:    models.AgentResultFailed,
			RawOutput: procResult.Stdout + procResult.Stderr,
			Summary:   "agent invocation timed out",
		}, nil
	}
	if procResult.ExitCode != 0 {
		return Result{
			Status:    models.AgentResultFailed,
			RawOutput: procResult.Stdout + procResult.Stderr,
			Summary:   fmt.Sprintf("agent exited with code %d", procResult.ExitCode),
		}, nil
	}

	return parseResult(procResult.Stdout), nil
}

// parseResult extracts the structured header from the first line of
// stdout. A missing or malformed header is reported as status=failed with
// rawOutput preserved verbatim, per spec.md §9.
func parseResult(stdout string) Result {
	firstLine, rest, _ := strings.Cut(stdout, "\n")
	firstLine = strings.TrimSpace(firstLine)

	if !strings.HasPrefix(firstLine, resultHeaderPrefix) {
		return Result{
			Status:    models.AgentResultFailed,
			RawOutput: stdout,
			Summary:   "agent output missing structured result header",
		}
	}

	headerJSON := strings.TrimSpace(strings.TrimPrefix(firstLine, resultHeaderPrefix))
	var header resultHeader
	if err := json.Unmarshal([]byte(headerJSON), &header); err != nil {
		return Result{
			Status:    models.AgentResultFailed,
			RawOutput: stdout,
			Summary:   fmt.Sprintf("malformed result header: %v", err),
		}
	}
	if !header.Status.IsValid() {
		return Result{
			Status:    models.AgentResultFailed,
			RawOutput: stdout,
			Summary:   fmt.Sprintf("unrecognized result status %q", header.Status),
		}
	}

	var structured map[string]any
	_ = json.Unmarshal([]byte(headerJSON), &structured)

	return Result{
		Status:     header.Status,
		Summary:    header.Summary,
		Cost:       header.Cost,
		RawOutput:  rest,
		Structured: structured,
	}
}
