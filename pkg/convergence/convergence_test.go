package convergence

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedOutcome(t *testing.T, s *store.Store, id string, isOngoing bool) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertOutcome(ctx, q, &models.Outcome{
			ID:              id,
			Name:            "test",
			Intent:          models.Intent{Summary: "ship it"},
			Status:          models.OutcomeStatusActive,
			CapabilityReady: models.CapabilityComplete,
			IsOngoing:       isOngoing,
			CreatedAt:       1000,
			UpdatedAt:       1000,
		})
	}))
}

var taskSeq int

func seedReviewTask(t *testing.T, s *store.Store, outcomeID string, cycle int, status models.TaskStatus) {
	t.Helper()
	taskSeq++
	id := fmt.Sprintf("task_review_%d", taskSeq)
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertTask(ctx, q, &models.Task{
			ID:          id,
			OutcomeID:   outcomeID,
			Title:       "review issue",
			Status:      status,
			Phase:       models.TaskPhaseExecution,
			FromReview:  true,
			ReviewCycle: cycle,
			MaxAttempts: 3,
			CreatedAt:   1000,
			UpdatedAt:   1000,
		})
	}))
}

func seedPlainTask(t *testing.T, s *store.Store, id, outcomeID string, status models.TaskStatus) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertTask(ctx, q, &models.Task{
			ID:          id,
			OutcomeID:   outcomeID,
			Title:       "do it",
			Status:      status,
			Phase:       models.TaskPhaseExecution,
			MaxAttempts: 3,
			CreatedAt:   1000,
			UpdatedAt:   1000,
		})
	}))
}

func evaluate(t *testing.T, s *store.Store, outcomeID string, cfg Config) Result {
	t.Helper()
	var res Result
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		var err error
		res, err = Evaluate(ctx, q, outcomeID, cfg)
		return err
	}))
	return res
}

func TestEvaluateConvergingOnDecreasingOpenIssues(t *testing.T) {
	s := newTestStore(t)
	seedOutcome(t, s, "out_1", false)

	seedReviewTask(t, s, "out_1", 1, models.TaskStatusFailed)
	seedReviewTask(t, s, "out_1", 1, models.TaskStatusFailed)
	seedReviewTask(t, s, "out_1", 1, models.TaskStatusFailed)

	seedReviewTask(t, s, "out_1", 2, models.TaskStatusFailed)
	seedReviewTask(t, s, "out_1", 2, models.TaskStatusCompleted)
	seedReviewTask(t, s, "out_1", 2, models.TaskStatusCompleted)

	seedReviewTask(t, s, "out_1", 3, models.TaskStatusCompleted)
	seedReviewTask(t, s, "out_1", 3, models.TaskStatusCompleted)
	seedReviewTask(t, s, "out_1", 3, models.TaskStatusFailed)

	res := evaluate(t, s, "out_1", DefaultConfig())
	require.Len(t, res.Cycles, 3)
	assert.Equal(t, []CycleSummary{{1, 3}, {2, 1}, {3, 1}}, res.Cycles)
	assert.True(t, res.IsConverging)
}

func TestEvaluateNotConvergingOnIncreasingOpenIssues(t *testing.T) {
	s := newTestStore(t)
	seedOutcome(t, s, "out_1", false)

	seedReviewTask(t, s, "out_1", 1, models.TaskStatusCompleted)
	seedReviewTask(t, s, "out_1", 2, models.TaskStatusFailed)
	seedReviewTask(t, s, "out_1", 2, models.TaskStatusFailed)

	res := evaluate(t, s, "out_1", DefaultConfig())
	assert.False(t, res.IsConverging)
}

func TestEvaluateAchievedRecommendedWhenZeroIssuesAndTasksComplete(t *testing.T) {
	s := newTestStore(t)
	seedOutcome(t, s, "out_1", false)
	seedPlainTask(t, s, "task_main", "out_1", models.TaskStatusCompleted)

	seedReviewTask(t, s, "out_1", 1, models.TaskStatusCompleted)
	seedReviewTask(t, s, "out_1", 2, models.TaskStatusCompleted)

	res := evaluate(t, s, "out_1", DefaultConfig())
	assert.True(t, res.AchievedRecommended)
}

func TestEvaluateNotAchievedWhenNonOngoingTaskStillOpen(t *testing.T) {
	s := newTestStore(t)
	seedOutcome(t, s, "out_1", false)
	seedPlainTask(t, s, "task_main", "out_1", models.TaskStatusPending)

	seedReviewTask(t, s, "out_1", 1, models.TaskStatusCompleted)
	seedReviewTask(t, s, "out_1", 2, models.TaskStatusCompleted)

	res := evaluate(t, s, "out_1", DefaultConfig())
	assert.False(t, res.AchievedRecommended)
}

func TestEvaluateAchievedIgnoresOpenTasksWhenOutcomeIsOngoing(t *testing.T) {
	s := newTestStore(t)
	seedOutcome(t, s, "out_1", true)
	seedPlainTask(t, s, "task_main", "out_1", models.TaskStatusPending)

	seedReviewTask(t, s, "out_1", 1, models.TaskStatusCompleted)
	seedReviewTask(t, s, "out_1", 2, models.TaskStatusCompleted)

	res := evaluate(t, s, "out_1", DefaultConfig())
	assert.True(t, res.AchievedRecommended)
}

func TestEvaluateNoReviewCyclesYieldsNotConvergingNotAchieved(t *testing.T) {
	s := newTestStore(t)
	seedOutcome(t, s, "out_1", false)
	seedPlainTask(t, s, "task_main", "out_1", models.TaskStatusCompleted)

	res := evaluate(t, s, "out_1", DefaultConfig())
	assert.Empty(t, res.Cycles)
	assert.False(t, res.IsConverging)
	assert.False(t, res.AchievedRecommended)
}
