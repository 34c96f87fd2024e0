package jobqueue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store, *idgen.Generator) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ids := idgen.NewGenerator()
	clock := idgen.NewFakeClock(1000)
	return New(s, ids, clock, DefaultConfig(), nil), s, ids
}

func seedOutcome(t *testing.T, s *store.Store, id string) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertOutcome(ctx, q, &models.Outcome{
			ID:              id,
			Name:            "test",
			Intent:          models.Intent{Summary: "ship it"},
			Status:          models.OutcomeStatusActive,
			CapabilityReady: models.CapabilityComplete,
			CreatedAt:       1000,
			UpdatedAt:       1000,
		})
	}))
}

func TestEnqueueRejectsDuplicateActiveJob(t *testing.T) {
	q, s, _ := newTestQueue(t)
	outcomeID := "out_1"
	seedOutcome(t, s, outcomeID)

	_, err := q.Enqueue(context.Background(), models.JobTypeRetroAnalyze, &outcomeID, nil)
	require.NoError(t, err)

	_, err = q.Enqueue(context.Background(), models.JobTypeRetroAnalyze, &outcomeID, nil)
	require.Error(t, err)
	assert.Equal(t, models.KindConflict, models.KindOf(err))
}

func TestTickRunsRegisteredHandlerAndCompletesJob(t *testing.T) {
	q, s, _ := newTestQueue(t)
	outcomeID := "out_1"
	seedOutcome(t, s, outcomeID)

	q.RegisterHandler(models.JobTypeRetroAnalyze, func(ctx context.Context, s *store.Store, job *models.Job) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	})

	job, err := q.Enqueue(context.Background(), models.JobTypeRetroAnalyze, &outcomeID, nil)
	require.NoError(t, err)

	ran, err := q.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)

	var got *models.Job
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, qr store.Queryer) error {
		var err error
		got, err = store.GetJob(ctx, qr, job.ID)
		return err
	}))
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
}

func TestTickMarksJobFailedWhenHandlerErrors(t *testing.T) {
	q, s, _ := newTestQueue(t)
	outcomeID := "out_1"
	seedOutcome(t, s, outcomeID)

	q.RegisterHandler(models.JobTypeRetroAnalyze, func(ctx context.Context, s *store.Store, job *models.Job) ([]byte, error) {
		return nil, assertErr
	})

	job, err := q.Enqueue(context.Background(), models.JobTypeRetroAnalyze, &outcomeID, nil)
	require.NoError(t, err)

	_, err = q.Tick(context.Background())
	require.NoError(t, err)

	var got *models.Job
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, qr store.Queryer) error {
		var err error
		got, err = store.GetJob(ctx, qr, job.ID)
		return err
	}))
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}

var assertErr = errBoom{}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestTickReturnsFalseWhenQueueEmpty(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ran, err := q.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestRetroAnalyzeClustersByTriggerTypeAndSimilarity(t *testing.T) {
	q, s, ids := newTestQueue(t)
	outcomeID := "out_1"
	seedOutcome(t, s, outcomeID)

	escalations := []*models.Escalation{
		{
			ID: ids.New(idgen.PrefixEscalation), OutcomeID: outcomeID, Status: models.EscalationStatusAnswered,
			Trigger:  models.EscalationTrigger{Type: models.TriggerUnclearRequirement, TaskID: "t1"},
			Question: models.EscalationQuestion{Text: "which auth provider should we use"},
			CreatedAt: 1000, UpdatedAt: 1000,
		},
		{
			ID: ids.New(idgen.PrefixEscalation), OutcomeID: outcomeID, Status: models.EscalationStatusAnswered,
			Trigger:  models.EscalationTrigger{Type: models.TriggerUnclearRequirement, TaskID: "t2"},
			Question: models.EscalationQuestion{Text: "which auth provider should we target"},
			CreatedAt: 1001, UpdatedAt: 1001,
		},
		{
			ID: ids.New(idgen.PrefixEscalation), OutcomeID: outcomeID, Status: models.EscalationStatusAnswered,
			Trigger:  models.EscalationTrigger{Type: models.TriggerMissingContext, TaskID: "t3"},
			Question: models.EscalationQuestion{Text: "what is the deploy target environment"},
			CreatedAt: 1002, UpdatedAt: 1002,
		},
	}
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, qr store.Queryer) error {
		for _, e := range escalations {
			if err := store.InsertEscalation(ctx, qr, e); err != nil {
				return err
			}
		}
		return nil
	}))

	job := &models.Job{ID: "job_1", OutcomeID: &outcomeID, JobType: models.JobTypeRetroAnalyze}
	resultBytes, err := RetroAnalyze(context.Background(), s, job)
	require.NoError(t, err)

	var result models.RetroAnalyzeResult
	require.NoError(t, json.Unmarshal(resultBytes, &result))
	require.Len(t, result.Clusters, 2)
	require.Len(t, result.Proposals, 2)

	byTrigger := map[models.TriggerType]models.EscalationCluster{}
	for _, c := range result.Clusters {
		byTrigger[c.TriggerType] = c
	}
	assert.Len(t, byTrigger[models.TriggerUnclearRequirement].EscalationIDs, 2)
	assert.Len(t, byTrigger[models.TriggerMissingContext].EscalationIDs, 1)
}

func TestProposalGenerateCreatesChildOutcomeAndTask(t *testing.T) {
	q, s, ids := newTestQueue(t)
	parentID := "out_parent"
	seedOutcome(t, s, parentID)

	handler := ProposalGenerate(ids, idgen.NewFakeClock(2000))
	req := ProposalGenerateRequest{
		ParentOutcomeID: parentID,
		Proposal: models.ImprovementProposal{
			ID: "proposal_0", Title: "Clarify auth provider choice", Description: "Escalations kept asking this",
		},
	}
	payload, err := json.Marshal(req)
	require.NoError(t, err)

	job := &models.Job{ID: "job_1", OutcomeID: &parentID, JobType: models.JobTypeProposalGenerate, Payload: payload}
	resultBytes, err := handler(context.Background(), s, job)
	require.NoError(t, err)

	var result ProposalGenerateResult
	require.NoError(t, json.Unmarshal(resultBytes, &result))
	require.NotEmpty(t, result.ChildOutcomeID)

	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, qr store.Queryer) error {
		child, err := store.GetOutcome(ctx, qr, result.ChildOutcomeID)
		require.NoError(t, err)
		assert.Equal(t, "Clarify auth provider choice", child.Name)
		assert.Equal(t, &parentID, child.ParentID)

		tasks, err := store.ListTasksByOutcome(ctx, qr, result.ChildOutcomeID)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, models.TaskPhaseCapability, tasks[0].Phase)
		return nil
	}))

	_ = q
}
