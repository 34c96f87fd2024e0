package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ids := idgen.NewGenerator()
	clock := idgen.NewFakeClock(1000)
	return New(s, ids, clock, nil, DefaultConfig()), s
}

func seedActiveOutcome(t *testing.T, s *store.Store, id, name, brief string) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertOutcome(ctx, q, &models.Outcome{
			ID:              id,
			Name:            name,
			Brief:           brief,
			Intent:          models.Intent{Summary: brief},
			Status:          models.OutcomeStatusActive,
			CapabilityReady: models.CapabilityComplete,
			CreatedAt:       1000,
			UpdatedAt:       1000,
		})
	}))
}

func TestDispatchEmptyInputAsksForClarification(t *testing.T) {
	d, _ := newTestDispatcher(t)
	res, err := d.Dispatch(context.Background(), Request{Input: "   "})
	require.NoError(t, err)
	assert.Equal(t, ResultClarification, res.Type)
	assert.NotEmpty(t, res.Response)
}

func TestDispatchRejectsUnrecognizedModeHint(t *testing.T) {
	d, _ := newTestDispatcher(t)
	res, err := d.Dispatch(context.Background(), Request{Input: "add rate limiting to the api", ModeHint: "bogus", SkipMatching: true})
	require.NoError(t, err)
	assert.Equal(t, ResultClarification, res.Type)
}

func TestDispatchQuickModeAnswersWithoutCreatingOutcome(t *testing.T) {
	d, s := newTestDispatcher(t)
	res, err := d.Dispatch(context.Background(), Request{Input: "what port does the server listen on?", SkipMatching: true})
	require.NoError(t, err)
	assert.Equal(t, ResultQuick, res.Type)
	assert.Empty(t, res.OutcomeID)

	var outcomes []*models.Outcome
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		var err error
		outcomes, err = store.ListOutcomes(ctx, q, store.OutcomeFilter{})
		return err
	}))
	assert.Empty(t, outcomes)
}

func TestDispatchResearchModeCreatesOutcomeWithCapabilityTaskOnly(t *testing.T) {
	d, s := newTestDispatcher(t)
	res, err := d.Dispatch(context.Background(), Request{
		Input: "Investigate why the nightly sync job keeps dropping rows and fix it",
		ModeHint: "research", SkipMatching: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultResearch, res.Type)
	require.NotEmpty(t, res.OutcomeID)

	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		oc, err := store.GetOutcome(ctx, q, res.OutcomeID)
		require.NoError(t, err)
		assert.Equal(t, models.CapabilityInProgress, oc.CapabilityReady)

		tasks, err := store.ListTasksByOutcome(ctx, q, res.OutcomeID)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, models.TaskPhaseCapability, tasks[0].Phase)
		return nil
	}))
}

func TestDispatchDeepModeCreatesCapabilityAndExecutionTasks(t *testing.T) {
	d, s := newTestDispatcher(t)
	res, err := d.Dispatch(context.Background(), Request{
		Input: "Design and ship a new billing reconciliation pipeline", ModeHint: "deep", SkipMatching: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultDeep, res.Type)

	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		tasks, err := store.ListTasksByOutcome(ctx, q, res.OutcomeID)
		require.NoError(t, err)
		require.Len(t, tasks, 2)

		var capTask, execTask *models.Task
		for _, task := range tasks {
			switch task.Phase {
			case models.TaskPhaseCapability:
				capTask = task
			case models.TaskPhaseExecution:
				execTask = task
			}
		}
		require.NotNil(t, capTask)
		require.NotNil(t, execTask)
		assert.Equal(t, []string{capTask.ID}, execTask.DependsOn)
		return nil
	}))
}

func TestDispatchMatchPhaseShortCircuitsOnSimilarActiveOutcome(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedActiveOutcome(t, s, "out_existing", "Fix flaky login tests", "the login integration tests fail intermittently in CI")

	res, err := d.Dispatch(context.Background(), Request{
		Input: "the login integration tests fail intermittently in CI and need a fix",
	})
	require.NoError(t, err)
	assert.Equal(t, ResultMatchFound, res.Type)
	require.Len(t, res.MatchedOutcomes, 1)
	assert.Equal(t, "out_existing", res.MatchedOutcomes[0].OutcomeID)
}

func TestDispatchSkipMatchingBypassesMatchPhase(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedActiveOutcome(t, s, "out_existing", "Fix flaky login tests", "the login integration tests fail intermittently in CI")

	res, err := d.Dispatch(context.Background(), Request{
		Input:        "the login integration tests fail intermittently in CI and need a fix",
		ModeHint:     "research",
		SkipMatching: true,
	})
	require.NoError(t, err)
	assert.Equal(t, ResultResearch, res.Type)
}

func TestDispatchDeepOutcomeRecordsParentAndDepth(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedActiveOutcome(t, s, "out_parent", "Parent initiative", "umbrella outcome")
	parentID := "out_parent"

	res, err := d.Dispatch(context.Background(), Request{
		Input: "Break down the parent initiative into a concrete migration plan",
		ModeHint: "deep", SkipMatching: true, ParentID: &parentID,
	})
	require.NoError(t, err)

	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		oc, err := store.GetOutcome(ctx, q, res.OutcomeID)
		require.NoError(t, err)
		require.NotNil(t, oc.ParentID)
		assert.Equal(t, parentID, *oc.ParentID)
		assert.Equal(t, 1, oc.Depth)
		return nil
	}))
}
