package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitaltwin/dtwind/pkg/dispatcher"
	"github.com/digitaltwin/dtwind/pkg/events"
	"github.com/digitaltwin/dtwind/pkg/idgen"
	"github.com/digitaltwin/dtwind/pkg/jobqueue"
	"github.com/digitaltwin/dtwind/pkg/models"
	"github.com/digitaltwin/dtwind/pkg/scheduler"
	"github.com/digitaltwin/dtwind/pkg/store"
	"github.com/digitaltwin/dtwind/pkg/supervisor"
	"github.com/digitaltwin/dtwind/pkg/workermanager"
)

type stubRunner struct{}

func (stubRunner) RunOnce(ctx context.Context, workerID string) (bool, error) { return true, nil }

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{Path: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ids := idgen.NewGenerator()
	clock := idgen.NewFakeClock(1000)
	sched := scheduler.New(s, ids, clock, scheduler.DefaultConfig(), nil)
	workers := workermanager.New(s, ids, clock, stubRunner{}, nil)
	manager := events.NewManager(0, nil)
	publisher := events.NewPublisher(manager)
	sv := supervisor.New(s, sched, workers, ids, clock, publisher, supervisor.DefaultConfig(), nil)
	jobs := jobqueue.New(s, ids, clock, jobqueue.DefaultConfig(), nil)
	dispatch := dispatcher.New(s, ids, clock, nil, dispatcher.DefaultConfig())

	return New(s, ids, clock, sched, workers, sv, jobs, dispatch, manager, 0), s
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetOutcome(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/outcomes", CreateOutcomeRequest{
		Name: "ship dark mode", Brief: "add a dark theme toggle",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.OutcomeStatusActive, created.Status)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/outcomes/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched models.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
}

func TestGetOutcomeNotFoundReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/outcomes/does_not_exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchOutcomeUpdatesFields(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/outcomes", CreateOutcomeRequest{Name: "initial"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	newName := "renamed"
	rec = doJSON(t, srv, http.MethodPatch, "/api/v1/outcomes/"+created.ID, PatchOutcomeRequest{Name: &newName})
	require.Equal(t, http.StatusOK, rec.Code)

	var patched models.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &patched))
	assert.Equal(t, "renamed", patched.Name)
}

func TestCreateTaskAcceptsAcyclicDependency(t *testing.T) {
	srv, s := newTestServer(t)
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertOutcome(ctx, q, &models.Outcome{ID: "out_1", Name: "x", Status: models.OutcomeStatusActive, CreatedAt: 1, UpdatedAt: 1})
	}))

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/outcomes/out_1/tasks", CreateTaskRequest{Title: "task a"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var taskA models.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &taskA))

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/outcomes/out_1/tasks", CreateTaskRequest{
		Title: "task b", DependsOn: []string{taskA.ID},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDispatchHandlerRejectsEmptyInput(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/dispatch", dispatcher.Request{Input: ""})
	require.Equal(t, http.StatusOK, rec.Code)

	var result dispatcher.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, dispatcher.ResultClarification, result.Type)
}

func TestSupervisorStatusHandlerReturnsEmptyList(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/supervisor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "active_alerts")
}

func TestStartWorkerAndPatchPause(t *testing.T) {
	srv, s := newTestServer(t)
	require.NoError(t, s.Transaction(context.Background(), func(ctx context.Context, q store.Queryer) error {
		return store.InsertOutcome(ctx, q, &models.Outcome{ID: "out_1", Name: "x", Status: models.OutcomeStatusActive, CreatedAt: 1, UpdatedAt: 1})
	}))

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/outcomes/out_1/workers", StartWorkerRequest{Name: "w1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created["id"])

	rec = doJSON(t, srv, http.MethodPatch, "/api/v1/workers/"+created["id"], PatchWorkerRequest{Action: "pause"})
	assert.Equal(t, http.StatusOK, rec.Code)
}
