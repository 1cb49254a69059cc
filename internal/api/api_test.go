package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revsla/internal/clock"
	"github.com/joescharf/revsla/internal/engine"
	"github.com/joescharf/revsla/internal/models"
	"github.com/joescharf/revsla/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func setupTestServer(t *testing.T) (http.Handler, store.Store, *clock.Fake) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := clock.NewFake(t0)
	e := engine.New(s, engine.WithClock(c), engine.WithLogger(log))
	srv := NewServer(s, e, log)

	return srv.Router(), s, c
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestListReviewers_Empty(t *testing.T) {
	router, _, _ := setupTestServer(t)

	w := do(t, router, "GET", "/api/v1/reviewers", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[[]*models.Reviewer](t, w))
}

func TestReviewerLifecycle_API(t *testing.T) {
	router, _, _ := setupTestServer(t)

	w := do(t, router, "POST", "/api/v1/reviewers", `{"name":"alice","maxConcurrent":2,"specialties":["go"]}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[models.Reviewer](t, w)
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active)
	assert.Equal(t, float64(models.DefaultSLAScore), created.SLAScore)
	assert.Equal(t, []string{"go"}, created.Specialties)

	w = do(t, router, "GET", "/api/v1/reviewers/"+created.ID, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, "GET", "/api/v1/reviewers/alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[models.Reviewer](t, w).ID)

	w = do(t, router, "PUT", "/api/v1/reviewers/alice/active", `{"active":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.Reviewer](t, w).Active)

	w = do(t, router, "GET", "/api/v1/reviewers?active=true", "")
	assert.Nil(t, decode[[]*models.Reviewer](t, w))
}

func TestCreateReviewer_Validation(t *testing.T) {
	router, _, _ := setupTestServer(t)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/api/v1/reviewers", `{bad`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/api/v1/reviewers", `{"maxConcurrent":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/api/v1/reviewers", `{"name":"bob"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "PUT", "/api/v1/reviewers/x/active", `{"active":true}`).Code)

	require.Equal(t, http.StatusCreated, do(t, router, "POST", "/api/v1/reviewers", `{"name":"carol","maxConcurrent":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "PUT", "/api/v1/reviewers/carol/active", `{}`).Code)
}

func TestGetReviewer_NotFound(t *testing.T) {
	router, _, _ := setupTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/v1/reviewers/ghost", "").Code)
}

func TestRequestLifecycle_API(t *testing.T) {
	router, _, c := setupTestServer(t)

	w := do(t, router, "POST", "/api/v1/reviewers", `{"name":"alice","maxConcurrent":1}`)
	require.Equal(t, http.StatusCreated, w.Code)
	alice := decode[models.Reviewer](t, w)

	w = do(t, router, "POST", "/api/v1/requests", `{"requesterId":"user-1","title":"audit"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	req := decode[models.Request](t, w)
	assert.Equal(t, models.RequestStatusAssigned, req.Status)
	assert.Equal(t, alice.ID, req.AssignedReviewerID)

	w = do(t, router, "POST", "/api/v1/requests/"+req.ID+"/start", `{"reviewerId":"someone-else"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.Equal(t, http.StatusCreated, do(t, router, "POST", "/api/v1/reviewers", `{"name":"bob","maxConcurrent":1}`).Code)
	w = do(t, router, "POST", "/api/v1/requests/"+req.ID+"/start", `{"reviewerId":"bob"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, router, "POST", "/api/v1/requests/"+req.ID+"/start", `{"reviewerId":"`+alice.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RequestStatusInReview, decode[models.Request](t, w).Status)

	c.Advance(2 * time.Hour)
	w = do(t, router, "POST", "/api/v1/requests/"+req.ID+"/complete", `{"reviewerId":"`+alice.ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RequestStatusCompleted, decode[models.Request](t, w).Status)

	w = do(t, router, "POST", "/api/v1/requests/"+req.ID+"/complete", `{"reviewerId":"`+alice.ID+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, router, "GET", "/api/v1/requests?status=completed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]*models.Request](t, w), 1)

	w = do(t, router, "GET", "/api/v1/reviewers/"+alice.ID, "")
	got := decode[models.Reviewer](t, w)
	assert.Equal(t, 0, got.Current)
	assert.Equal(t, 1, got.OptimalCount)
}

func TestCompleteRequest_ByReviewerName(t *testing.T) {
	router, _, c := setupTestServer(t)

	w := do(t, router, "POST", "/api/v1/reviewers", `{"name":"alice","maxConcurrent":1}`)
	require.Equal(t, http.StatusCreated, w.Code)
	alice := decode[models.Reviewer](t, w)

	w = do(t, router, "POST", "/api/v1/requests", `{"requesterId":"user-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	req := decode[models.Request](t, w)
	require.Equal(t, alice.ID, req.AssignedReviewerID)

	w = do(t, router, "POST", "/api/v1/requests/"+req.ID+"/start", `{"reviewerId":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	c.Advance(time.Hour)
	w = do(t, router, "POST", "/api/v1/requests/"+req.ID+"/complete", `{"reviewerId":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)
	done := decode[models.Request](t, w)
	assert.Equal(t, models.RequestStatusCompleted, done.Status)
	assert.Equal(t, alice.ID, done.AssignedReviewerID)
}

func TestSubmitRequest_Validation(t *testing.T) {
	router, _, _ := setupTestServer(t)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/api/v1/requests", `nope`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/api/v1/requests", `{"title":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "POST", "/api/v1/requests/x/complete", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/api/v1/requests?limit=abc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/v1/requests/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/v1/requests/missing/compensations", "").Code)
}

func TestSweepAndCompensations_API(t *testing.T) {
	router, _, c := setupTestServer(t)

	w := do(t, router, "POST", "/api/v1/reviewers", `{"name":"alice","maxConcurrent":1}`)
	require.Equal(t, http.StatusCreated, w.Code)
	w = do(t, router, "POST", "/api/v1/requests", `{"requesterId":"user-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	req := decode[models.Request](t, w)

	c.Advance(49 * time.Hour)
	w = do(t, router, "POST", "/api/v1/sweep", "")
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[engine.SweepReport](t, w)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.TimedOut)

	w = do(t, router, "GET", "/api/v1/requests/"+req.ID+"/compensations", "")
	require.Equal(t, http.StatusOK, w.Code)
	comps := decode[[]*models.Compensation](t, w)
	assert.Len(t, comps, 2)

	w = do(t, router, "GET", "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[engine.Status](t, w)
	assert.Equal(t, 1, st.ByStatus[models.RequestStatusTimedOut])
	assert.Equal(t, 2, st.Compensated)
}

func TestCORSPreflight(t *testing.T) {
	router, _, _ := setupTestServer(t)

	w := do(t, router, "OPTIONS", "/api/v1/requests", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
