package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/ledger"
	"taskpilot/internal/model"
	"taskpilot/internal/monitor"
	"taskpilot/internal/queue"
	"taskpilot/pkg/config"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/store/file"
	"taskpilot/pkg/store/sqlite"
)

func newTestEngine(t *testing.T) (*gin.Engine, *queue.Queue, *monitor.Monitor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	qCfg := &config.QueueConfig{MaxRetry: 3, TaskTimeout: 300, SweepInterval: 60, RetryBackoffBase: 5, RetryBackoffCap: 300}
	rates := map[string]float64{"scrape_source": 0.01, "generate_briefing": 0.05}
	q := queue.New(store, nil, qCfg, rates)

	snapshots, err := file.New(t.TempDir())
	require.NoError(t, err)
	led, err := ledger.New(&config.LedgerConfig{DailyBudget: 10, WorkerBudget: 2}, snapshots)
	require.NoError(t, err)

	mCfg := &config.MonitorConfig{
		HealthInterval: 60, CostInterval: 60, QueueInterval: 60, SignalInterval: 10,
		QueueBacklogMax: 100, ErrorRateWarn: 0.1, ErrorRateCrit: 0.2,
	}
	m := monitor.New(mCfg, led, q, snapshots, nil, nil, []string{constants.WorkerTypeScraper})

	engine := gin.New()
	v1 := engine.Group("/v1")
	taskHandler := NewTaskHandler(q)
	workerHandler := NewWorkerHandler(m)
	systemHandler := NewSystemHandler(m, led)
	v1.POST("/tasks", taskHandler.Submit)
	v1.GET("/tasks", taskHandler.List)
	v1.GET("/status/:task_id", taskHandler.Status)
	v1.POST("/cancel/:task_id", taskHandler.Cancel)
	v1.GET("/queue/stats", taskHandler.QueueStats)
	v1.GET("/workers", workerHandler.List)
	v1.POST("/workers/:worker_id/pause", workerHandler.Pause)
	v1.GET("/system/status", systemHandler.Status)
	v1.GET("/system/alerts", systemHandler.Alerts)
	v1.GET("/costs/summary", systemHandler.Costs)
	v1.POST("/system/shutdown", systemHandler.Shutdown)
	return engine, q, m
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestSubmitAndStatus(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/v1/tasks", &model.SubmitRequest{
		Description: "scrape hn",
		Type:        "scrape_source",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var submitted model.SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitted))
	assert.Equal(t, constants.TaskStatusPending, submitted.Status)
	assert.Equal(t, constants.WorkerTypeScraper, submitted.WorkerType)

	w = doJSON(t, engine, http.MethodGet, "/v1/status/"+submitted.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status model.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, submitted.ID, status.ID)
	assert.Zero(t, status.Progress)
}

func TestSubmitValidation(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	// Missing description fails binding.
	w := doJSON(t, engine, http.MethodPost, "/v1/tasks", map[string]string{"type": "scrape_source"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Unmapped task type without an explicit worker type.
	w = doJSON(t, engine, http.MethodPost, "/v1/tasks", &model.SubmitRequest{
		Description: "mystery",
		Type:        "transmogrify",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	w := doJSON(t, engine, http.MethodGet, "/v1/status/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelFlow(t *testing.T) {
	engine, q, _ := newTestEngine(t)

	task, err := q.Submit(context.Background(), &model.SubmitRequest{Description: "x", Type: "scrape_source"})
	require.NoError(t, err)

	w := doJSON(t, engine, http.MethodPost, "/v1/cancel/"+task.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Cancelling a terminal task conflicts.
	w = doJSON(t, engine, http.MethodPost, "/v1/cancel/"+task.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, engine, http.MethodPost, "/v1/cancel/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueStatsEndpoint(t *testing.T) {
	engine, q, _ := newTestEngine(t)

	_, err := q.Submit(context.Background(), &model.SubmitRequest{Description: "x", Type: "scrape_source"})
	require.NoError(t, err)

	w := doJSON(t, engine, http.MethodGet, "/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats model.QueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.Total)
}

func TestWorkerPauseUnknown(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	w := doJSON(t, engine, http.MethodPost, "/v1/workers/ghost/pause", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSystemStatusAndShutdown(t *testing.T) {
	engine, _, m := newTestEngine(t)

	w := doJSON(t, engine, http.MethodGet, "/v1/system/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	w = doJSON(t, engine, http.MethodPost, "/v1/system/shutdown", map[string]string{"reason": "drill"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, m.ShutdownActive())

	w = doJSON(t, engine, http.MethodGet, "/v1/system/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"emergency"`)
}

func TestCostsSummary(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	w := doJSON(t, engine, http.MethodGet, "/v1/costs/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "remaining_budget")
}
