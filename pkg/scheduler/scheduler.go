// Package scheduler implements the claim/release/reclaim state machine of
// spec.md §4.2: picking the next ready task for a worker, releasing claims
// on completion or failure, and sweeping workers whose heartbeat has gone
// stale.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

// ClaimOutcome is the tri-state result of ClaimNextTask.
type ClaimOutcome int

const (
	ClaimOutcomeNone ClaimOutcome = iota
	ClaimOutcomeTask
	ClaimOutcomeConflict
)

// Config tunes the caller-level retry loop spec.md §4.2 describes as "on
// commit conflict, returns conflict; caller retries with exponential
// backoff starting at 50ms, capped at 1s, up to 5 attempts". This is
// distinct from Store.Transaction's own busy-retry, which handles sqlite
// lock contention rather than the logical two-workers-same-row race.
type Config struct {
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RetryAttempts  int

	HeartbeatTimeout  time.Duration
	SupervisorInterval time.Duration
}

// DefaultConfig returns the spec.md default tuning values.
func DefaultConfig() Config {
	return Config{
		RetryBaseDelay:     50 * time.Millisecond,
		RetryMaxDelay:      1 * time.Second,
		RetryAttempts:      5,
		HeartbeatTimeout:   60 * time.Second,
		SupervisorInterval: 5 * time.Second,
	}
}

// Scheduler is the component named by spec.md §4.2.
type Scheduler struct {
	store  *store.Store
	ids    *idgen.Generator
	clock  idgen.Clock
	cfg    Config
	logger *slog.Logger
}

// New constructs a Scheduler.
func New(s *store.Store, ids *idgen.Generator, clock idgen.Clock, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: s, ids: ids, clock: clock, cfg: cfg, logger: logger}
}

// ClaimNextTask selects and claims the highest-priority ready task for an
// outcome, retrying with exponential backoff on logical claim conflicts
// (two workers racing the same row) up to cfg.RetryAttempts times. It never
// retries on ClaimOutcomeNone — an empty candidate set is not a conflict.
func (s *Scheduler) ClaimNextTask(ctx context.Context, workerID, outcomeID string) (*models.Task, ClaimOutcome, error) {
	delay := s.cfg.RetryBaseDelay
	for attempt := 0; attempt < s.cfg.RetryAttempts; attempt++ {
		task, outcome, err := s.attemptClaim(ctx, workerID, outcomeID)
		if err != nil {
			return nil, ClaimOutcomeNone, err
		}
		if outcome != ClaimOutcomeConflict {
			return task, outcome, nil
		}

		s.logger.Warn("claim conflict, retrying", "worker_id", workerID, "outcome_id", outcomeID, "attempt", attempt+1)
		jittered := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		select {
		case <-ctx.Done():
			return nil, ClaimOutcomeNone, ctx.Err()
		case <-time.After(jittered):
		}
		delay *= 2
		if delay > s.cfg.RetryMaxDelay {
			delay = s.cfg.RetryMaxDelay
		}
	}
	return nil, ClaimOutcomeConflict, nil
}

// attemptClaim runs exactly one transactional selection+claim attempt.
func (s *Scheduler) attemptClaim(ctx context.Context, workerID, outcomeID string) (*models.Task, ClaimOutcome, error) {
	var claimed *models.Task
	var outcomeResult ClaimOutcome

	err := s.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		oc, err := store.GetOutcome(ctx, q, outcomeID)
		if err != nil {
			return err
		}

		blocked, err := store.ListPendingAffectedTaskIDs(ctx, q, outcomeID)
		if err != nil {
			return err
		}

		candidates, err := store.ListCandidateTasks(ctx, q, outcomeID)
		if err != nil {
			return err
		}

		completedIDs, err := store.ListOutcomeTaskIDsByStatus(ctx, q, outcomeID, models.TaskStatusCompleted)
		if err != nil {
			return err
		}
		completed := make(map[string]bool, len(completedIDs))
		for _, id := range completedIDs {
			completed[id] = true
		}

		for _, t := range candidates {
			if blocked[t.ID] {
				continue
			}
			if t.Phase == models.TaskPhaseExecution && oc.CapabilityReady != models.CapabilityComplete {
				continue
			}
			if !allDepsCompleted(t.DependsOn, completed) {
				continue
			}

			now := s.clock.NowMillis()
			ok, err := store.ClaimTaskIfPending(ctx, q, t.ID, workerID, now)
			if err != nil {
				return err
			}
			if !ok {
				outcomeResult = ClaimOutcomeConflict
				return nil
			}
			reloaded, err := store.GetTask(ctx, q, t.ID)
			if err != nil {
				return err
			}
			claimed = reloaded
			outcomeResult = ClaimOutcomeTask
			return nil
		}

		outcomeResult = ClaimOutcomeNone
		return nil
	})
	if err != nil {
		return nil, ClaimOutcomeNone, err
	}
	return claimed, outcomeResult, nil
}

func allDepsCompleted(deps []string, completed map[string]bool) bool {
	for _, d := range deps {
		if !completed[d] {
			return false
		}
	}
	return true
}

// ReleaseClaim applies one of the four release branches spec.md §4.2
// defines, including the capability_ready 1→2 transition check (SPEC_FULL
// §13) performed transactionally inside the "completed" branch.
func (s *Scheduler) ReleaseClaim(ctx context.Context, taskID string, reason models.ReleaseReason) error {
	return s.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		t, err := store.GetTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		now := s.clock.NowMillis()

		switch reason {
		case models.ReleaseCompleted:
			t.Status = models.TaskStatusCompleted
			t.CompletedAt = &now
			t.ClaimedBy = nil
			t.ClaimedAt = nil
		case models.ReleaseFailed:
			if t.Attempts < t.MaxAttempts {
				t.Status = models.TaskStatusPending
				t.ClaimedBy = nil
				t.ClaimedAt = nil
			} else {
				t.Status = models.TaskStatusFailed
			}
		case models.ReleaseReclaimed:
			t.Status = models.TaskStatusPending
			t.ClaimedBy = nil
			t.ClaimedAt = nil
		case models.ReleasePaused:
			t.Status = models.TaskStatusPending
			t.ClaimedBy = nil
			t.ClaimedAt = nil
		default:
			return fmt.Errorf("release claim: unknown reason %q", reason)
		}
		t.UpdatedAt = now
		if err := store.UpdateTask(ctx, q, t); err != nil {
			return err
		}

		if reason == models.ReleaseCompleted {
			return s.maybeAdvanceCapability(ctx, q, t.OutcomeID, t.Phase)
		}
		return nil
	})
}

// ForceFailTask fails taskID unconditionally, bypassing ReleaseClaim's
// attempts-vs-max_attempts retry: spec.md §4.4 step 8's "needs_more" budget
// (MAX_ITERATIONS_PER_TASK) is a distinct exhaustion signal from a failed
// agent invocation and always terminates the task, regardless of how many
// attempts it has left.
func (s *Scheduler) ForceFailTask(ctx context.Context, taskID string) error {
	return s.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		t, err := store.GetTask(ctx, q, taskID)
		if err != nil {
			return err
		}
		now := s.clock.NowMillis()
		t.Status = models.TaskStatusFailed
		t.ClaimedBy = nil
		t.ClaimedAt = nil
		t.UpdatedAt = now
		return store.UpdateTask(ctx, q, t)
	})
}

// maybeAdvanceCapability implements SPEC_FULL §13's open-question decision:
// capability_ready flips from 1 to 2 the instant the last capability-phase
// task for the outcome completes.
func (s *Scheduler) maybeAdvanceCapability(ctx context.Context, q store.Queryer, outcomeID string, completedPhase models.TaskPhase) error {
	if completedPhase != models.TaskPhaseCapability {
		return nil
	}
	oc, err := store.GetOutcome(ctx, q, outcomeID)
	if err != nil {
		return err
	}
	if oc.CapabilityReady != models.CapabilityInProgress {
		return nil
	}
	remaining, err := store.CountTasksByOutcomePhaseNotStatus(ctx, q, outcomeID, models.TaskPhaseCapability, models.TaskStatusCompleted)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	oc.CapabilityReady = models.CapabilityComplete
	oc.UpdatedAt = s.clock.NowMillis()
	return store.UpdateOutcome(ctx, q, oc)
}

// ReclaimStale releases claims held by workers whose heartbeat predates
// cfg.HeartbeatTimeout, returning the task ids released. Intended to be
// called once per Supervisor tick (spec.md §4.2's reclaim sweep).
func (s *Scheduler) ReclaimStale(ctx context.Context) ([]string, error) {
	cutoff := s.clock.NowMillis() - s.cfg.HeartbeatTimeout.Milliseconds()
	var released []string

	err := s.store.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		for _, status := range []models.WorkerStatus{models.WorkerStatusRunning} {
			stale, err := store.ListWorkersByStatusOlderThan(ctx, q, status, cutoff)
			if err != nil {
				return err
			}
			for _, w := range stale {
				tasks, err := store.ListClaimedOrRunningByWorker(ctx, q, w.ID)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					t.Status = models.TaskStatusPending
					t.ClaimedBy = nil
					t.ClaimedAt = nil
					t.UpdatedAt = s.clock.NowMillis()
					if err := store.UpdateTask(ctx, q, t); err != nil {
						return err
					}
					released = append(released, t.ID)
				}
				w.Status = models.WorkerStatusFailed
				w.UpdatedAt = s.clock.NowMillis()
				if err := store.UpdateWorker(ctx, q, w); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// CheckCycle reports whether adding a task with the given dependsOn set
// would introduce a cycle into the outcome's dependency graph. Called at
// task-creation time (spec.md §4.2/§9: "cyclic graphs enforced at write
// time").
func CheckCycle(ctx context.Context, q store.Queryer, outcomeID, newTaskID string, dependsOn []string) error {
	tasks, err := store.ListTasksByOutcome(ctx, q, outcomeID)
	if err != nil {
		return err
	}
	graph := make(map[string][]string, len(tasks)+1)
	for _, t := range tasks {
		graph[t.ID] = t.DependsOn
	}
	graph[newTaskID] = dependsOn

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(graph))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return models.ErrCycleDetected
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range graph[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	if err := visit(newTaskID); err != nil {
		return err
	}
	return nil
}

// CheckCrossOutcomeDep verifies every id in dependsOn belongs to outcomeID.
func CheckCrossOutcomeDep(ctx context.Context, q store.Queryer, outcomeID string, dependsOn []string) error {
	for _, dep := range dependsOn {
		t, err := store.GetTask(ctx, q, dep)
		if err != nil {
			if models.KindOf(err) == models.KindNotFound {
				return models.Invalid("task", dep, models.ErrCrossOutcomeDep)
			}
			return err
		}
		if t.OutcomeID != outcomeID {
			return models.Invalid("task", dep, models.ErrCrossOutcomeDep)
		}
	}
	return nil
}
