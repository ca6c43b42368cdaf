package papercrawl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/extract"
	"github.com/pevans/papercrawl/ledger"
	"github.com/pevans/papercrawl/validity"
)

type staticWork map[string][]article.WorkItem

func (w staticWork) ListPendingWork(_ context.Context, date string) ([]article.WorkItem, error) {
	items, ok := w[date]
	if !ok {
		return nil, fmt.Errorf("no index for %s", date)
	}
	return items, nil
}

// Test helper: create an API server over a populated store and ledger
func setupTestAPIServer(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := newHarness(t)
	l, err := ledger.Open(ledger.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	items := testItems(3)
	a := NewAcquirer(Config{Origin: testOrigin}, Deps{
		Fetcher:    okFetcher(),
		Extractor:  extract.New(extract.DefaultRules()),
		Classifier: validity.New(validity.DefaultConfig()),
		Store:      h.store,
		Recorder:   l,
		Clock:      h.clock,
	})
	_, err = a.Run(context.Background(), items[:2])
	require.NoError(t, err)

	server := NewAPIServer(h.store, l, staticWork{"20250520": items}, nil)
	return server.SetupRouter()
}

func get(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestAPI_Health verifies the health route
func TestAPI_Health(t *testing.T) {
	router := setupTestAPIServer(t)
	w := get(t, router, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

// TestAPI_Status verifies the store-wide and per-date status
func TestAPI_Status(t *testing.T) {
	router := setupTestAPIServer(t)

	w := get(t, router, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 2, status.Total)
	assert.Equal(t, 2, status.Valid)
	assert.Equal(t, 1.0, status.SuccessRate)

	w = get(t, router, "/api/v1/status/20250520")
	require.Equal(t, http.StatusOK, w.Code)
	var date DateStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &date))
	assert.Equal(t, "20250520", date.Date)
	assert.Equal(t, 2, date.Valid)

	w = get(t, router, "/api/v1/status/2025")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_date", errResp.Error.Code)
}

// TestAPI_Pending verifies unstored index entries are listed
func TestAPI_Pending(t *testing.T) {
	router := setupTestAPIServer(t)

	w := get(t, router, "/api/v1/pending/20250520")
	require.Equal(t, http.StatusOK, w.Code)
	var resp PendingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, []string{testItems(3)[2].ID()}, resp.Pending)

	w = get(t, router, "/api/v1/pending/20250521")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestAPI_Runs verifies the run listing and lookup
func TestAPI_Runs(t *testing.T) {
	router := setupTestAPIServer(t)

	w := get(t, router, "/api/v1/runs")
	require.Equal(t, http.StatusOK, w.Code)
	var list ListRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, ledger.StatusCompleted, list.Runs[0].Status)
	assert.Equal(t, 2, list.Runs[0].Succeeded)

	w = get(t, router, "/api/v1/runs/"+list.Runs[0].RunID.String())
	require.Equal(t, http.StatusOK, w.Code)
	var run ledger.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, list.Runs[0].RunID, run.RunID)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/runs/"+uuid.New().String()).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, router, "/api/v1/runs/nope").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, router, "/api/v1/runs?limit=0").Code)
}

// TestAPI_Article verifies record lookup and item history
func TestAPI_Article(t *testing.T) {
	router := setupTestAPIServer(t)
	ref := testItems(1)[0].Ref

	w := get(t, router, "/api/v1/articles/20250520/"+ref)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ArticleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Valid)
	assert.Equal(t, "X", resp.Content.Title)
	assert.Equal(t, article.StrategyHTTP, resp.Strategy)

	w = get(t, router, "/api/v1/articles/20250520/"+ref+"/history")
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Attempts []ledger.Attempt `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Attempts, 1)
	assert.Equal(t, "succeeded", history.Attempts[0].State)

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/articles/20250520/missing.html").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, router, "/api/v1/articles/2025/x.html").Code)
}

// TestAPI_NoLedger verifies ledger routes answer 404 without a ledger
func TestAPI_NoLedger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newHarness(t)
	router := NewAPIServer(h.store, nil, nil, nil).SetupRouter()

	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/runs").Code)
	assert.Equal(t, http.StatusNotFound, get(t, router, "/api/v1/pending/20250520").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/status").Code)
}
