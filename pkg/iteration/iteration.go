// Package iteration implements the per-worker Iteration Driver loop of
// spec.md §4.4: claim a task, build a prompt, invoke the external agent,
// record progress, run it through HOMЯ, and decide the task's fate — one
// call to RunOnce per loop tick, satisfying pkg/workermanager's Runner
// interface.
package iteration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/digitaltwin/dtwind/pkg/agentclient"
	"github.com/digitaltwin/dtwind/pkg/events"
	"github.com/digitaltwin/dtwind/pkg/homr"
	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/scheduler"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// InterventionSource drains the pending steering messages for a worker —
// satisfied by *workermanager.Manager. Kept as a small interface (rather
// than importing pkg/workermanager directly) for the same reason
// workermanager depends on a Runner interface instead of importing
// pkg/iteration: the two packages would otherwise form a cycle.
type InterventionSource interface {
	DrainInterventions(workerID string) []string
	Heartbeat(ctx context.Context, workerID string) error
}

// Config tunes the Driver per spec.md §4.4/§9's tuning knobs.
type Config struct {
	IdleExitIterations   int
	IdlePollInterval     time.Duration
	MaxIterationsPerTask int
	CompactionThreshold  int
	IterationDelay       time.Duration
	DesignDocMaxChars    int
	AgentTimeout         time.Duration
	InFlightHeartbeat    time.Duration
}

// DefaultConfig returns the spec.md default tuning values.
func DefaultConfig() Config {
	return Config{
		IdleExitIterations:   3,
		IdlePollInterval:     2 * time.Second,
		MaxIterationsPerTask: 10,
		CompactionThreshold:  50,
		IterationDelay:       1 * time.Second,
		DesignDocMaxChars:    4000,
		AgentTimeout:         10 * time.Minute,
		InFlightHeartbeat:    10 * time.Second,
	}
}

// Driver runs the iteration loop for every worker sharing one store. A
// single Driver instance is shared across all workers; per-worker state
// (idle-poll counters) lives in idleCounts keyed by worker id.
type Driver struct {
	store      *store.Store
	sched      *scheduler.Scheduler
	observer   *homr.Observer
	agent      *agentclient.Client
	ids        *idgen.Generator
	clock      idgen.Clock
	interventions InterventionSource
	publisher  *events.Publisher
	cfg        Config
	logger     *slog.Logger

	idleCounts map[string]int
	taskIters  map[string]int
}

// New constructs a Driver. interventions and publisher may both be nil:
// interventions for tests that don't exercise steering, publisher for
// callers that don't care about the live WebSocket stream (spec.md §6's
// GET /outcomes/{id}/stream has no subscriber to deliver to until the
// API layer constructs one).
func New(s *store.Store, sched *scheduler.Scheduler, observer *homr.Observer, agent *agentclient.Client,
	ids *idgen.Generator, clock idgen.Clock, interventions InterventionSource, publisher *events.Publisher,
	cfg Config, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		store: s, sched: sched, observer: observer, agent: agent,
		ids: ids, clock: clock, interventions: interventions, publisher: publisher, cfg: cfg, logger: logger,
		idleCounts: make(map[string]int),
		taskIters:  make(map[string]int),
	}
}

// RunOnce executes exactly one iteration of spec.md §4.4's loop for
// workerID and reports whether the worker has finished, which happens only
// when it idles out. An agent invocation error releases the task as failed
// and returns finished=false.
func (d *Driver) RunOnce(ctx context.Context, workerID string) (finished bool, err error) {
	w, err := store.GetWorker(ctx, d.store.DB(), workerID)
	if err != nil {
		return false, err
	}

	interventions := d.drainInterventions(workerID)

	// A task left running from a prior "needs_more" iteration belongs to
	// this worker already and is no longer in the scheduler's pending pool
	// — resume it directly rather than reclaiming via ClaimNextTask.
	task, err := d.resumeInProgressTask(ctx, w, workerID)
	if err != nil {
		return false, err
	}

	if task == nil {
		claimed, outcome, err := d.sched.ClaimNextTask(ctx, workerID, w.OutcomeID)
		if err != nil {
			return false, err
		}
		if outcome != scheduler.ClaimOutcomeTask {
			d.idleCounts[workerID]++
			if d.idleCounts[workerID] >= d.cfg.IdleExitIterations {
				return true, nil
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(d.cfg.IdlePollInterval):
			}
			return false, nil
		}
		task = claimed
	}
	d.idleCounts[workerID] = 0

	if err := d.heartbeat(ctx, workerID); err != nil {
		d.logger.Warn("heartbeat failed", "worker_id", workerID, "error", err)
	}

	iterationNum, err := d.markRunning(ctx, w, task.ID)
	if err != nil {
		return false, err
	}

	prompt, err := d.buildPrompt(ctx, w.OutcomeID, task, workerID, interventions)
	if err != nil {
		return false, err
	}

	result, invokeErr := d.invokeWithHeartbeat(ctx, workerID, prompt)
	if invokeErr != nil {
		d.logger.Error("agent invocation unavailable", "worker_id", workerID, "task_id", task.ID, "error", invokeErr)
		if err := d.sched.ReleaseClaim(ctx, task.ID, models.ReleaseFailed); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := d.appendProgress(ctx, w.OutcomeID, workerID, iterationNum, task.ID, result); err != nil {
		return false, err
	}

	if _, err := d.observer.Observe(ctx, homr.Input{
		OutcomeID:  w.OutcomeID,
		TaskID:     task.ID,
		WorkerID:   workerID,
		RawOutput:  result.RawOutput,
		Structured: result.Structured,
	}); err != nil {
		return false, fmt.Errorf("homr observe: %w", err)
	}

	if err := d.accumulateCost(ctx, workerID, result.Cost); err != nil {
		d.logger.Warn("cost accumulation failed", "worker_id", workerID, "error", err)
	}

	switch result.Status {
	case models.AgentResultDone:
		delete(d.taskIters, workerID+"/"+task.ID)
		if err := d.sched.ReleaseClaim(ctx, task.ID, models.ReleaseCompleted); err != nil {
			return false, err
		}
	case models.AgentResultNeedsMore:
		key := workerID + "/" + task.ID
		d.taskIters[key]++
		if d.taskIters[key] >= d.cfg.MaxIterationsPerTask {
			delete(d.taskIters, key)
			if err := d.sched.ForceFailTask(ctx, task.ID); err != nil {
				return false, err
			}
		}
		// otherwise: leave it running and claimed by this worker; the next
		// RunOnce resumes it through resumeInProgressTask.
	default:
		delete(d.taskIters, workerID+"/"+task.ID)
		if err := d.sched.ReleaseClaim(ctx, task.ID, models.ReleaseFailed); err != nil {
			return false, err
		}
	}

	if err := d.maybeCompact(ctx, workerID, task.ID); err != nil {
		d.logger.Warn("compaction failed", "worker_id", workerID, "error", err)
	}

	if err := d.heartbeat(ctx, workerID); err != nil {
		d.logger.Warn("heartbeat failed", "worker_id", workerID, "error", err)
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(d.cfg.IterationDelay):
	}
	return false, nil
}

// invokeWithHeartbeat runs the agent call while heartbeating every
// cfg.InFlightHeartbeat — spec.md §4.3: "called by the driver once per
// iteration and every 10s while the agent call is in flight" — so a
// long-running invocation doesn't make the Supervisor's reclaim sweep
// mistake a busy worker for a stuck one.
func (d *Driver) invokeWithHeartbeat(ctx context.Context, workerID, prompt string) (agentclient.Result, error) {
	if d.cfg.InFlightHeartbeat > 0 {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(d.cfg.InFlightHeartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					if err := d.heartbeat(ctx, workerID); err != nil {
						d.logger.Warn("in-flight heartbeat failed", "worker_id", workerID, "error", err)
					}
				}
			}
		}()
	}
	return d.agent.Invoke(ctx, agentclient.Invocation{Prompt: prompt, Timeout: d.cfg.AgentTimeout})
}

// resumeInProgressTask returns the worker's current task if it's still
// running and claimed by this worker (the "needs_more" continuation
// case), or nil if the scheduler should be asked for a fresh one.
func (d *Driver) resumeInProgressTask(ctx context.Context, w *models.Worker, workerID string) (*models.Task, error) {
	if w.CurrentTaskID == nil {
		return nil, nil
	}
	t, err := store.GetTask(ctx, d.store.DB(), *w.CurrentTaskID)
	if err != nil {
		if models.KindOf(err) == models.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	if t.Status == models.TaskStatusRunning && t.ClaimedBy != nil && *t.ClaimedBy == workerID {
		return t, nil
	}
	return nil, nil
}

func (d *Driver) drainInterventions(workerID string) []string {
	if d.interventions == nil {
		return nil
	}
	return d.interventions.DrainInterventions(workerID)
}

func (d *Driver) heartbeat(ctx context.Context, workerID string) error {
	if d.interventions == nil {
		return nil
	}
	return d.interventions.Heartbeat(ctx, workerID)
}

// markRunning sets worker.current_task_id/status=running and increments
// iteration, and advances the claimed task to status=running (spec.md §3's
// task lifecycle: pending → claimed → running → completed|failed),
// returning the new iteration count for the ProgressEntry.
func (d *Driver) markRunning(ctx context.Context, w *models.Worker, taskID string) (int, error) {
	var iterationNum int
	err := d.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		fresh, err := store.GetWorker(ctx, q, w.ID)
		if err != nil {
			return err
		}
		fresh.CurrentTaskID = &taskID
		fresh.Status = models.WorkerStatusRunning
		fresh.Iteration++
		fresh.UpdatedAt = d.clock.NowMillis()
		iterationNum = fresh.Iteration
		if err := store.UpdateWorker(ctx, q, fresh); err != nil {
			return err
		}

		t, err := store.GetTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		t.Status = models.TaskStatusRunning
		t.UpdatedAt = d.clock.NowMillis()
		return store.UpdateTask(ctx, q, t)
	})
	return iterationNum, err
}

func (d *Driver) accumulateCost(ctx context.Context, workerID string, cost float64) error {
	if cost == 0 {
		return nil
	}
	return d.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		w, err := store.GetWorker(ctx, q, workerID)
		if err != nil {
			return err
		}
		w.Cost += cost
		w.UpdatedAt = d.clock.NowMillis()
		return store.UpdateWorker(ctx, q, w)
	})
}

// buildPrompt assembles outcome intent + design doc (truncated), task
// title/description, matching ContextStore injections, compacted progress
// history, and interventions prepended — spec.md §4.4 step 4's exact
// ingredient list, in that order.
func (d *Driver) buildPrompt(ctx context.Context, outcomeID string, task *models.Task, workerID string, interventions []string) (string, error) {
	var b strings.Builder

	err := d.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		oc, err := store.GetOutcome(ctx, q, outcomeID)
		if err != nil {
			return err
		}

		if len(interventions) > 0 {
			b.WriteString("# Steering\n")
			for _, msg := range interventions {
				b.WriteString("- " + msg + "\n")
			}
			b.WriteString("\n")
		}

		b.WriteString("# Outcome\n")
		b.WriteString(oc.Intent.Summary)
		b.WriteString("\n\n")
		if oc.DesignDoc.Approach != "" {
			b.WriteString("# Design\n")
			b.WriteString(truncate(oc.DesignDoc.Approach, d.cfg.DesignDocMaxChars))
			b.WriteString("\n\n")
		}

		b.WriteString("# Task\n")
		b.WriteString(task.Title)
		if task.Description != "" {
			b.WriteString("\n")
			b.WriteString(task.Description)
		}
		b.WriteString("\n\n")

		injections, err := store.ListInjectionsByTask(ctx, q, outcomeID, task.ID)
		if err != nil {
			return err
		}
		if len(injections) > 0 {
			b.WriteString("# Constraints from prior work\n")
			for _, inj := range injections {
				b.WriteString("- " + inj.Content + "\n")
			}
			b.WriteString("\n")
		}

		history, err := store.ListProgressByWorkerOrdered(ctx, q, workerID)
		if err != nil {
			return err
		}
		if len(history) > 0 {
			b.WriteString("# Progress so far\n")
			for _, p := range history {
				if p.TaskID != task.ID {
					continue
				}
				b.WriteString("- " + p.Content + "\n")
			}
		}

		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

func (d *Driver) appendProgress(ctx context.Context, outcomeID, workerID string, iterationNum int, taskID string, result agentclient.Result) error {
	entry := &models.ProgressEntry{
		OutcomeID:  outcomeID,
		WorkerID:   workerID,
		Iteration:  iterationNum,
		TaskID:     taskID,
		Content:    result.Summary,
		FullOutput: result.RawOutput,
		CreatedAt:  d.clock.NowMillis(),
	}
	if err := d.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		return store.InsertProgressEntry(ctx, q, entry)
	}); err != nil {
		return err
	}

	if d.publisher != nil {
		d.publisher.PublishProgressAppended(outcomeID, events.ProgressAppendedPayload{
			EntryID:   entry.ID,
			OutcomeID: outcomeID,
			WorkerID:  workerID,
			TaskID:    taskID,
			Iteration: iterationNum,
			Content:   entry.Content,
			Timestamp: entry.CreatedAt,
		})
	}
	return nil
}

// maybeCompact collapses uncompacted entries for (workerID, taskID) into a
// single summary entry once the worker's total uncompacted count exceeds
// cfg.CompactionThreshold — spec.md §4.4 step 9 / §3's compaction rule.
// Compaction never deletes rows; originals keep compacted=true and point
// at the new summary entry.
func (d *Driver) maybeCompact(ctx context.Context, workerID, taskID string) error {
	return d.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		total, err := store.CountUncompactedByWorker(ctx, q, workerID)
		if err != nil {
			return err
		}
		if total <= d.cfg.CompactionThreshold {
			return nil
		}

		entries, err := store.ListUncompactedByWorkerTask(ctx, q, workerID, taskID)
		if err != nil {
			return err
		}
		if len(entries) < 2 {
			return nil
		}

		var summary strings.Builder
		ids := make([]int64, 0, len(entries))
		outcomeID := entries[0].OutcomeID
		lastIteration := entries[len(entries)-1].Iteration
		for _, e := range entries {
			summary.WriteString(fmt.Sprintf("iter %d: %s\n", e.Iteration, e.Content))
			ids = append(ids, e.ID)
		}

		compacted := &models.ProgressEntry{
			OutcomeID:  outcomeID,
			WorkerID:   workerID,
			Iteration:  lastIteration,
			TaskID:     taskID,
			Content:    "compacted summary of " + fmt.Sprint(len(entries)) + " entries",
			FullOutput: summary.String(),
			Compacted:  false,
			CreatedAt:  d.clock.NowMillis(),
		}
		if err := store.InsertProgressEntry(ctx, q, compacted); err != nil {
			return err
		}
		return store.MarkCompacted(ctx, q, ids, compacted.ID)
	})
}
