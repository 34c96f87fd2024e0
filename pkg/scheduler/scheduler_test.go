package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, *idgen.FakeClock) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clock := idgen.NewFakeClock(1000)
	sched := New(s, idgen.NewGenerator(), clock, DefaultConfig(), nil)
	return sched, s, clock
}

func seedOutcome(t *testing.T, s *store.Store, o *models.Outcome) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertOutcome(ctx, q, o)
	}))
}

func seedTask(t *testing.T, s *store.Store, tsk *models.Task) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertTask(ctx, q, tsk)
	}))
}

func TestClaimNextTaskRespectsPriorityOrder(t *testing.T) {
	sched, s, _ := newTestScheduler(t)
	ctx := context.Background()

	seedOutcome(t, s, &models.Outcome{ID: "out_1", Name: "Build CLI", Status: models.OutcomeStatusActive, CapabilityReady: models.CapabilityComplete, CreatedAt: 1000, UpdatedAt: 1000})
	seedTask(t, s, &models.Task{ID: "task_b", OutcomeID: "out_1", Priority: 20, Status: models.TaskStatusPending, Phase: models.TaskPhaseExecution, MaxAttempts: 3, DependsOn: []string{}, CreatedAt: 1000, UpdatedAt: 1000})
	seedTask(t, s, &models.Task{ID: "task_a", OutcomeID: "out_1", Priority: 10, Status: models.TaskStatusPending, Phase: models.TaskPhaseExecution, MaxAttempts: 3, DependsOn: []string{}, CreatedAt: 1500, UpdatedAt: 1500})

	tsk, outcome, err := sched.ClaimNextTask(ctx, "wrk_1", "out_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimOutcomeTask, outcome)
	assert.Equal(t, "task_a", tsk.ID, "priority 10 wins over priority 20 despite being created later")
	assert.Equal(t, models.TaskStatusClaimed, tsk.Status)
}

func TestClaimNextTaskSkipsUnmetDependency(t *testing.T) {
	sched, s, _ := newTestScheduler(t)
	ctx := context.Background()

	seedOutcome(t, s, &models.Outcome{ID: "out_1", Status: models.OutcomeStatusActive, CapabilityReady: models.CapabilityComplete, CreatedAt: 1000, UpdatedAt: 1000})
	seedTask(t, s, &models.Task{ID: "task_a", OutcomeID: "out_1", Priority: 10, Status: models.TaskStatusPending, Phase: models.TaskPhaseExecution, MaxAttempts: 3, DependsOn: []string{}, CreatedAt: 1000, UpdatedAt: 1000})
	seedTask(t, s, &models.Task{ID: "task_b", OutcomeID: "out_1", Priority: 20, Status: models.TaskStatusPending, Phase: models.TaskPhaseExecution, MaxAttempts: 3, DependsOn: []string{"task_a"}, CreatedAt: 1000, UpdatedAt: 1000})

	tsk, outcome, err := sched.ClaimNextTask(ctx, "wrk_1", "out_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimOutcomeTask, outcome)
	assert.Equal(t, "task_a", tsk.ID, "b depends on a and must not be claimed first")
}

func TestClaimNextTaskGatesExecutionOnCapability(t *testing.T) {
	sched, s, _ := newTestScheduler(t)
	ctx := context.Background()

	seedOutcome(t, s, &models.Outcome{ID: "out_1", Status: models.OutcomeStatusActive, CapabilityReady: models.CapabilityInProgress, CreatedAt: 1000, UpdatedAt: 1000})
	seedTask(t, s, &models.Task{ID: "task_exec", OutcomeID: "out_1", Priority: 10, Status: models.TaskStatusPending, Phase: models.TaskPhaseExecution, MaxAttempts: 3, DependsOn: []string{}, CreatedAt: 1000, UpdatedAt: 1000})

	_, outcome, err := sched.ClaimNextTask(ctx, "wrk_1", "out_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimOutcomeNone, outcome, "execution task must wait for capability_ready=2")
}

func TestClaimNextTaskNoneWhenAllCompleted(t *testing.T) {
	sched, s, _ := newTestScheduler(t)
	ctx := context.Background()

	seedOutcome(t, s, &models.Outcome{ID: "out_1", Status: models.OutcomeStatusActive, CapabilityReady: models.CapabilityComplete, CreatedAt: 1000, UpdatedAt: 1000})
	tsk, _, err := sched.ClaimNextTask(ctx, "wrk_1", "out_1")
	require.NoError(t, err)
	assert.Nil(t, tsk)

	_, outcome, err := sched.ClaimNextTask(ctx, "wrk_1", "out_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimOutcomeNone, outcome)
}

func TestReleaseClaimCompletedAdvancesCapability(t *testing.T) {
	sched, s, clock := newTestScheduler(t)
	ctx := context.Background()

	seedOutcome(t, s, &models.Outcome{ID: "out_1", Status: models.OutcomeStatusActive, CapabilityReady: models.CapabilityInProgress, CreatedAt: 1000, UpdatedAt: 1000})
	seedTask(t, s, &models.Task{ID: "task_cap", OutcomeID: "out_1", Priority: 10, Status: models.TaskStatusPending, Phase: models.TaskPhaseCapability, MaxAttempts: 3, DependsOn: []string{}, CreatedAt: 1000, UpdatedAt: 1000})

	tsk, outcome, err := sched.ClaimNextTask(ctx, "wrk_1", "out_1")
	require.NoError(t, err)
	require.Equal(t, ClaimOutcomeTask, outcome)

	clock.Advance(1 * time.Second)
	require.NoError(t, sched.ReleaseClaim(ctx, tsk.ID, models.ReleaseCompleted))

	oc, err := store.GetOutcome(ctx, s.DB(), "out_1")
	require.NoError(t, err)
	assert.Equal(t, models.CapabilityComplete, oc.CapabilityReady, "last capability task completing flips capability_ready to 2")
}

func TestReleaseClaimFailedRetriesUntilMaxAttempts(t *testing.T) {
	sched, s, _ := newTestScheduler(t)
	ctx := context.Background()

	seedOutcome(t, s, &models.Outcome{ID: "out_1", Status: models.OutcomeStatusActive, CapabilityReady: models.CapabilityComplete, CreatedAt: 1000, UpdatedAt: 1000})
	seedTask(t, s, &models.Task{ID: "task_a", OutcomeID: "out_1", Priority: 10, Status: models.TaskStatusPending, Phase: models.TaskPhaseExecution, MaxAttempts: 2, DependsOn: []string{}, CreatedAt: 1000, UpdatedAt: 1000})

	for i := 0; i < 2; i++ {
		tsk, outcome, err := sched.ClaimNextTask(ctx, "wrk_1", "out_1")
		require.NoError(t, err)
		require.Equal(t, ClaimOutcomeTask, outcome)
		require.NoError(t, sched.ReleaseClaim(ctx, tsk.ID, models.ReleaseFailed))
	}

	got, err := store.GetTask(ctx, s.DB(), "task_a")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, got.Status, "task fails permanently once attempts reach max_attempts")
}

func TestReclaimStaleReleasesTasksAndMarksWorkerFailed(t *testing.T) {
	sched, s, clock := newTestScheduler(t)
	ctx := context.Background()

	seedOutcome(t, s, &models.Outcome{ID: "out_1", Status: models.OutcomeStatusActive, CapabilityReady: models.CapabilityComplete, CreatedAt: 1000, UpdatedAt: 1000})
	seedTask(t, s, &models.Task{ID: "task_a", OutcomeID: "out_1", Priority: 10, Status: models.TaskStatusPending, Phase: models.TaskPhaseExecution, MaxAttempts: 3, DependsOn: []string{}, CreatedAt: 1000, UpdatedAt: 1000})

	require.NoError(t, s.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		return store.InsertWorker(ctx, q, &models.Worker{ID: "wrk_1", OutcomeID: "out_1", Name: "w1", Status: models.WorkerStatusRunning, LastHeartbeat: 1000, CreatedAt: 1000, UpdatedAt: 1000})
	}))

	tsk, outcome, err := sched.ClaimNextTask(ctx, "wrk_1", "out_1")
	require.NoError(t, err)
	require.Equal(t, ClaimOutcomeTask, outcome)
	_ = tsk

	clock.Advance(2 * time.Minute)
	released, err := sched.ReclaimStale(ctx)
	require.NoError(t, err)
	require.Len(t, released, 1)
	assert.Equal(t, "task_a", released[0])

	got, err := store.GetTask(ctx, s.DB(), "task_a")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Nil(t, got.ClaimedBy)

	w, err := store.GetWorker(ctx, s.DB(), "wrk_1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusFailed, w.Status)
}

func TestCheckCycleDetectsSelfReferentialChain(t *testing.T) {
	s, err := store.Open(context.Background(), store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		if err := store.InsertOutcome(ctx, q, &models.Outcome{ID: "out_1", Status: models.OutcomeStatusActive, CreatedAt: 1000, UpdatedAt: 1000}); err != nil {
			return err
		}
		return store.InsertTask(ctx, q, &models.Task{ID: "task_a", OutcomeID: "out_1", Status: models.TaskStatusPending, Phase: models.TaskPhaseExecution, MaxAttempts: 3, DependsOn: []string{"task_b"}, CreatedAt: 1000, UpdatedAt: 1000})
	}))

	err = s.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		return CheckCycle(ctx, q, "out_1", "task_b", []string{"task_a"})
	})
	assert.ErrorIs(t, err, models.ErrCycleDetected)
}

func TestCheckCrossOutcomeDepRejectsForeignTask(t *testing.T) {
	s, err := store.Open(context.Background(), store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Transaction(ctx, func(ctx context.Context, q store.Queryer) error {
		if err := store.InsertOutcome(ctx, q, &models.Outcome{ID: "out_1", Status: models.OutcomeStatusActive, CreatedAt: 1000, UpdatedAt: 1000}); err != nil {
			return err
		}
		if err := store.InsertOutcome(ctx, q, &models.Outcome{ID: "out_2", Status: models.OutcomeStatusActive, CreatedAt: 1000, UpdatedAt: 1000}); err != nil {
			return err
		}
		return store.InsertTask(ctx, q, &models.Task{ID: "task_foreign", OutcomeID: "out_2", Status: models.TaskStatusPending, Phase: models.TaskPhaseExecution, MaxAttempts: 3, DependsOn: []string{}, CreatedAt: 1000, UpdatedAt: 1000})
	}))

	err = CheckCrossOutcomeDep(ctx, s.DB(), "out_1", []string{"task_foreign"})
	require.Error(t, err)
	assert.Equal(t, models.KindInvalid, models.KindOf(err))
}
