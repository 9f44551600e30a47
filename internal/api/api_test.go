package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siegebot/internal/core"
	"siegebot/internal/store"
)

type noopTask struct{ name string }

func (t noopTask) Name() string                                     { return t.name }
func (t noopTask) CheckPrerequisites(context.Context) (bool, error) { return true, nil }
func (t noopTask) Execute(context.Context) error                    { return nil }
func (t noopTask) VerifyCompletion(context.Context) (bool, error)   { return true, nil }

func newTestServer(t *testing.T, authToken string) (*Server, *core.Scheduler, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(context.Background(), t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sched := core.NewScheduler(logger)
	_, err = sched.Register(noopTask{name: "Alliance Help"}, core.TaskConfig{
		Enabled:           true,
		IntervalMinutes:   30,
		Priority:          2,
		MaxRetries:        3,
		RetryDelayMinutes: 10,
	}, "")
	require.NoError(t, err)

	return NewServer("127.0.0.1:0", authToken, st, sched, logger), sched, st
}

func doRequest(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(""))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := doRequest(t, s, http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status core.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.Equal(t, 1, status.TotalTasks)
	assert.Equal(t, 1, status.EnabledTasks)
}

func TestListAndGetTask(t *testing.T) {
	s, _, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodGet, "/v1/tasks/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []core.TaskStatistics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "alliance_help", all[0].ID)

	rec = doRequest(t, s, http.MethodGet, "/v1/tasks/alliance_help", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnableDisableTask(t *testing.T) {
	s, sched, _ := newTestServer(t, "")

	rec := doRequest(t, s, http.MethodPost, "/v1/tasks/alliance_help/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats, _ := sched.TaskStatistics("alliance_help")
	assert.False(t, stats.Enabled)

	rec = doRequest(t, s, http.MethodPost, "/v1/tasks/alliance_help/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats, _ = sched.TaskStatistics("alliance_help")
	assert.True(t, stats.Enabled)
}

func TestRunTaskAccepted(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := doRequest(t, s, http.MethodPost, "/v1/tasks/alliance_help/run", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp runNowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Started)
}

func TestListRunsFromStore(t *testing.T) {
	s, _, st := newTestServer(t, "")
	started := time.Now().UTC()
	require.NoError(t, st.InsertRun(context.Background(), core.RunRecord{
		ID:        uuid.NewString(),
		Task:      "alliance_help",
		Status:    core.RunSucceeded,
		Phase:     core.PhaseVerify,
		Attempt:   1,
		StartedAt: started,
		EndedAt:   started.Add(2 * time.Second),
	}))

	rec := doRequest(t, s, http.MethodGet, "/v1/tasks/alliance_help/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []core.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestGetRunNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	rec := doRequest(t, s, http.MethodGet, "/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCronPreview(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	body := `{"expr":"*/5 * * * *","count":3,"now":"2025-06-01T12:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/cron/preview", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp cronPreviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Len(t, resp.NextTimes, 3)
}

func TestAuthMiddleware(t *testing.T) {
	s, _, _ := newTestServer(t, "secret")

	rec := doRequest(t, s, http.MethodGet, "/v1/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/status", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/status", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Query token works too.
	rec = doRequest(t, s, http.MethodGet, "/v1/status?token=secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointIsOpen(t *testing.T) {
	s, _, _ := newTestServer(t, "secret")
	rec := doRequest(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
