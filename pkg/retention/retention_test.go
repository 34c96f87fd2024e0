package retention

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitaltwin/dtwind/pkg/idgen"
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

func seedOutcome(t *testing.T, s *store.Store, id string, status models.OutcomeStatus, updatedAt int64) {
	t.Helper()
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertOutcome(ctx, q, &models.Outcome{
			ID:        id,
			Name:      "test",
			Intent:    models.Intent{Summary: "do the thing"},
			Status:    status,
			CreatedAt: updatedAt,
			UpdatedAt: updatedAt,
		})
	}))
}

func TestSweepSoftDeletesStaleAchievedOutcome(t *testing.T) {
	s := newTestStore(t)
	clock := idgen.NewFakeClock(1000 * 24 * 60 * 60 * 1000)
	seedOutcome(t, s, "out_1", models.OutcomeStatusAchieved, 0)
	seedOutcome(t, s, "out_2", models.OutcomeStatusActive, 0)

	cfg := DefaultConfig()
	sw := New(s, clock, cfg, nil)
	sw.Sweep(context.Background())

	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		got, err := store.GetOutcome(ctx, q, "out_1")
		require.NoError(t, err)
		assert.NotNil(t, got.DeletedAt)

		active, err := store.GetOutcome(ctx, q, "out_2")
		require.NoError(t, err)
		assert.Nil(t, active.DeletedAt)
		return nil
	}))
}

func TestSweepLeavesRecentlyAchievedOutcomeAlone(t *testing.T) {
	s := newTestStore(t)
	clock := idgen.NewFakeClock(1_000_000)
	seedOutcome(t, s, "out_1", models.OutcomeStatusAchieved, clock.NowMillis())

	sw := New(s, clock, DefaultConfig(), nil)
	sw.Sweep(context.Background())

	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		got, err := store.GetOutcome(ctx, q, "out_1")
		require.NoError(t, err)
		assert.Nil(t, got.DeletedAt)
		return nil
	}))
}

func TestSweepPrunesProgressForDeletedOutcomeOnly(t *testing.T) {
	s := newTestStore(t)
	clock := idgen.NewFakeClock(1000 * 24 * 60 * 60 * 1000)
	seedOutcome(t, s, "out_1", models.OutcomeStatusArchived, 0)
	seedOutcome(t, s, "out_2", models.OutcomeStatusActive, 0)

	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		if err := store.InsertProgressEntry(ctx, q, &models.ProgressEntry{
			OutcomeID: "out_1", WorkerID: "wrk_1", Iteration: 1, Content: "old", CreatedAt: 0,
		}); err != nil {
			return err
		}
		return store.InsertProgressEntry(ctx, q, &models.ProgressEntry{
			OutcomeID: "out_2", WorkerID: "wrk_2", Iteration: 1, Content: "old but outcome is live", CreatedAt: 0,
		})
	}))

	cfg := DefaultConfig()
	sw := New(s, clock, cfg, nil)
	sw.Sweep(context.Background())
	sw.Sweep(context.Background())

	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		deleted, err := store.ListRecentProgressByWorker(ctx, q, "wrk_1", 10)
		require.NoError(t, err)
		assert.Empty(t, deleted)

		live, err := store.ListRecentProgressByWorker(ctx, q, "wrk_2", 10)
		require.NoError(t, err)
		assert.Len(t, live, 1)
		return nil
	}))
}
