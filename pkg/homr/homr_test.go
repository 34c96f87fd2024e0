package homr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitaltwin/dtwind/pkg/events"
	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/notify"
	"github.com/digitaltwin/dtwind/pkg/store"
)

func newTestObserver(t *testing.T) (*Observer, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, idgen.NewGenerator(), idgen.NewFakeClock(1000), nil, nil), s
}

func seedOutcome(t *testing.T, s *store.Store, outcomeID string) {
	t.Helper()
	err := s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertOutcome(ctx, q, &models.Outcome{
			ID:              outcomeID,
			Name:            "test outcome",
			Intent:          models.Intent{Summary: "ship the feature"},
			Status:          models.OutcomeStatusActive,
			CapabilityReady: models.CapabilityComplete,
			CreatedAt:       1000,
			UpdatedAt:       1000,
		})
	})
	require.NoError(t, err)
}

func seedTask(t *testing.T, s *store.Store, id, outcomeID string, dependsOn []string) {
	t.Helper()
	err := s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertTask(ctx, q, &models.Task{
			ID:          id,
			OutcomeID:   outcomeID,
			Title:       "task " + id,
			Status:      models.TaskStatusPending,
			Phase:       models.TaskPhaseExecution,
			DependsOn:   dependsOn,
			MaxAttempts: 3,
			CreatedAt:   1000,
			UpdatedAt:   1000,
		})
	})
	require.NoError(t, err)
}

func TestExtractParsesDiscoveriesConcernsAndNextSteps(t *testing.T) {
	v := Extract(Input{
		TaskID: "task_1",
		Structured: map[string]any{
			"discoveries": []any{
				map[string]any{"type": "pattern", "content": "repo uses testify everywhere"},
				map[string]any{"type": "bogus", "content": "dropped"},
			},
			"concerns":   []any{"auth middleware looks untested"},
			"next_steps": []any{"add a regression test"},
		},
	})

	require.Len(t, v.Discoveries, 1)
	assert.Equal(t, models.DiscoveryTypePattern, v.Discoveries[0].Type)
	assert.Equal(t, "task_1", v.Discoveries[0].SourceTaskID)
	assert.Equal(t, []string{"auth middleware looks untested"}, v.Concerns)
	assert.Equal(t, []string{"add a regression test"}, v.NextSteps)
	assert.Nil(t, v.Escalation)
}

func TestExtractParsesValidEscalation(t *testing.T) {
	v := Extract(Input{
		TaskID: "task_1",
		Structured: map[string]any{
			"escalation": map[string]any{
				"trigger_type": "unclear_requirement",
				"question":     "which auth provider should this target?",
				"context":      "two providers are referenced in the design doc",
				"evidence":     []any{"line 42 says okta", "line 88 says auth0"},
				"options": []any{
					map[string]any{"id": "okta", "label": "Okta"},
				},
			},
		},
	})

	require.NotNil(t, v.Escalation)
	assert.Equal(t, models.TriggerUnclearRequirement, v.Escalation.Trigger.Type)
	assert.Equal(t, "which auth provider should this target?", v.Escalation.Question.Text)
	require.Len(t, v.Escalation.Question.Options, 1)
	assert.Equal(t, "Okta", v.Escalation.Question.Options[0].Label)
}

func TestExtractIgnoresEscalationWithUnknownTriggerType(t *testing.T) {
	v := Extract(Input{
		Structured: map[string]any{
			"escalation": map[string]any{
				"trigger_type": "not_a_real_trigger",
				"question":     "...",
			},
		},
	})
	assert.Nil(t, v.Escalation)
}

func TestObserveEscalationBlocksTransitiveDependents(t *testing.T) {
	obs, s := newTestObserver(t)
	seedOutcome(t, s, "out_1")
	seedTask(t, s, "task_a", "out_1", nil)
	seedTask(t, s, "task_b", "out_1", []string{"task_a"})
	seedTask(t, s, "task_c", "out_1", []string{"task_b"})
	seedTask(t, s, "task_unrelated", "out_1", nil)

	verdict, err := obs.Observe(context.Background(), Input{
		OutcomeID: "out_1",
		TaskID:    "task_a",
		Structured: map[string]any{
			"escalation": map[string]any{
				"trigger_type": "scope_ambiguity",
				"question":     "is this in scope?",
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, verdict.Escalation)

	err = s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		escs, err := store.ListEscalationsByOutcomeAndStatus(ctx, q, "out_1", models.EscalationStatusPending)
		require.NoError(t, err)
		require.Len(t, escs, 1)
		assert.ElementsMatch(t, []string{"task_a", "task_b", "task_c"}, escs[0].AffectedTasks)
		return nil
	})
	require.NoError(t, err)
}

func TestObservePublishesEscalationRaisedEvent(t *testing.T) {
	s, err := store.Open(context.Background(), store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	seedOutcome(t, s, "out_1")
	seedTask(t, s, "task_a", "out_1", nil)

	manager := events.NewManager(time.Second, nil)
	publisher := events.NewPublisher(manager)
	obs := New(s, idgen.NewGenerator(), idgen.NewFakeClock(1000), publisher, nil)

	_, err = obs.Observe(context.Background(), Input{
		OutcomeID: "out_1",
		TaskID:    "task_a",
		Structured: map[string]any{
			"escalation": map[string]any{
				"trigger_type": "scope_ambiguity",
				"question":     "is this in scope?",
			},
		},
	})
	require.NoError(t, err)

	history := manager.History(events.OutcomeChannel("out_1"))
	require.Len(t, history, 1)
	assert.Equal(t, events.EventTypeEscalationRaised, history[0].Type)
}

func TestObserveNotifiesSlackOnEscalationRaised(t *testing.T) {
	s, err := store.Open(context.Background(), store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	seedOutcome(t, s, "out_1")
	seedTask(t, s, "task_a", "out_1", nil)

	var posted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"ts":"1"}`))
	}))
	defer srv.Close()

	obs := New(s, idgen.NewGenerator(), idgen.NewFakeClock(1000), nil, nil)
	obs.SetNotifier(notify.NewWithClient(goslack.New("xoxb-test", goslack.OptionAPIURL(srv.URL+"/")), "C123", nil))

	_, err = obs.Observe(context.Background(), Input{
		OutcomeID: "out_1",
		TaskID:    "task_a",
		Structured: map[string]any{
			"escalation": map[string]any{
				"trigger_type": "scope_ambiguity",
				"question":     "is this in scope?",
			},
		},
	})
	require.NoError(t, err)
	assert.True(t, posted)
}

func TestObserveWithoutEscalationPersistsOnlyDiscoveriesAndObservation(t *testing.T) {
	obs, s := newTestObserver(t)
	seedOutcome(t, s, "out_1")
	seedTask(t, s, "task_a", "out_1", nil)

	_, err := obs.Observe(context.Background(), Input{
		OutcomeID: "out_1",
		TaskID:    "task_a",
		Structured: map[string]any{
			"discoveries": []any{map[string]any{"type": "insight", "content": "rate limiter is per-IP"}},
			"concerns":    []any{"rate limiter may need per-tenant scoping"},
		},
	})
	require.NoError(t, err)

	err = s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		discoveries, err := store.ListDiscoveriesByOutcome(ctx, q, "out_1")
		require.NoError(t, err)
		require.Len(t, discoveries, 1)
		assert.Equal(t, models.DiscoveryTypeInsight, discoveries[0].Type)

		observations, err := store.ListObservationsByOutcome(ctx, q, "out_1")
		require.NoError(t, err)
		require.Len(t, observations, 1)
		assert.Equal(t, []string{"rate limiter may need per-tenant scoping"}, observations[0].Concerns)

		escs, err := store.ListEscalationsByOutcomeAndStatus(ctx, q, "out_1", "")
		require.NoError(t, err)
		assert.Empty(t, escs)
		return nil
	})
	require.NoError(t, err)
}
