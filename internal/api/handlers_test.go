package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/backlog"
	"github.com/garyjia/docman-backlog/internal/models"
)

type mockLogStore struct {
	logs    []backlog.LogInfo
	listErr error
	stored  map[string]*models.BacklogProcessingLog
	loadErr error
}

func (m *mockLogStore) ListLogs() ([]backlog.LogInfo, error) {
	return m.logs, m.listErr
}

func (m *mockLogStore) LoadLog(runID string) (*models.BacklogProcessingLog, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if runID == "bad id" {
		return nil, fmt.Errorf("%w: %q", backlog.ErrInvalidRun, runID)
	}
	log, ok := m.stored[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backlog.ErrLogNotFound, runID)
	}
	return log, nil
}

type mockCounters struct {
	pending    int64
	processed  map[string]int64
	pendingErr error
}

func (m mockCounters) PendingReviewCount(ctx context.Context) (int64, error) {
	return m.pending, m.pendingErr
}

func (m mockCounters) StatusCounts(ctx context.Context) (map[string]int64, error) {
	return m.processed, nil
}

type mockGauge struct{ value int64 }

func (g *mockGauge) SetPendingReview(n int64) { g.value = n }

func newTestRouter(store *mockLogStore, counters mockCounters, gauge *mockGauge) *gin.Engine {
	gin.SetMode(gin.TestMode)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "docman_backlog_folders_total 3\n")
	})
	var g PendingGauge
	if gauge != nil {
		g = gauge
	}
	h := NewHandlers(store, counters, counters, g, zap.NewNop())
	return NewRouter(h, metrics, zap.NewNop())
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&mockLogStore{}, mockCounters{}, nil)

	rec := serve(router, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListLogs(t *testing.T) {
	t.Run("lists logs", func(t *testing.T) {
		store := &mockLogStore{logs: []backlog.LogInfo{
			{RunID: "2025-06-03T08-00-00.000", Size: 512, ModTime: time.Now()},
			{RunID: "2025-06-02T08-00-00.000", Size: 256, ModTime: time.Now()},
		}}
		router := newTestRouter(store, mockCounters{}, nil)

		rec := serve(router, http.MethodGet, "/api/v1/backlog-logs")

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		data := body["data"].([]interface{})
		require.Len(t, data, 2)
		assert.Equal(t, "2025-06-03T08-00-00.000", data[0].(map[string]interface{})["runId"])
	})

	t.Run("store failure", func(t *testing.T) {
		router := newTestRouter(&mockLogStore{listErr: errors.New("permission denied")}, mockCounters{}, nil)

		rec := serve(router, http.MethodGet, "/api/v1/backlog-logs")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, false, decode(t, rec)["success"])
	})
}

func TestGetLog(t *testing.T) {
	log := models.NewBacklogLog("2025-06-03T08-00-00.000", time.Now(), 1)
	log.AddFolder(*models.NewFolderResult("/share/06-02-2025", "06-02-2025", time.Now()))
	store := &mockLogStore{stored: map[string]*models.BacklogProcessingLog{log.RunID: log}}
	router := newTestRouter(store, mockCounters{}, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "found", path: "/api/v1/backlog-logs/2025-06-03T08-00-00.000", wantStatus: http.StatusOK},
		{name: "not found", path: "/api/v1/backlog-logs/2025-06-04T08-00-00.000", wantStatus: http.StatusNotFound},
		{name: "invalid", path: "/api/v1/backlog-logs/bad%20id", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, http.MethodGet, tt.path)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	t.Run("body carries the log", func(t *testing.T) {
		rec := serve(router, http.MethodGet, "/api/v1/backlog-logs/2025-06-03T08-00-00.000")

		data := decode(t, rec)["data"].(map[string]interface{})
		assert.Equal(t, log.RunID, data["runId"])
		assert.Len(t, data["folders"], 1)
	})

	t.Run("read failure", func(t *testing.T) {
		router := newTestRouter(&mockLogStore{loadErr: errors.New("io error")}, mockCounters{}, nil)

		rec := serve(router, http.MethodGet, "/api/v1/backlog-logs/2025-06-03T08-00-00.000")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestStats(t *testing.T) {
	t.Run("returns counts and updates gauge", func(t *testing.T) {
		gauge := &mockGauge{}
		counters := mockCounters{pending: 12, processed: map[string]int64{"success": 40, "queued": 12}}
		router := newTestRouter(&mockLogStore{}, counters, gauge)

		rec := serve(router, http.MethodGet, "/api/v1/stats")

		assert.Equal(t, http.StatusOK, rec.Code)
		data := decode(t, rec)["data"].(map[string]interface{})
		assert.Equal(t, 12.0, data["pendingReview"])
		assert.Equal(t, 40.0, data["processed"].(map[string]interface{})["success"])
		assert.Equal(t, int64(12), gauge.value)
	})

	t.Run("database failure", func(t *testing.T) {
		router := newTestRouter(&mockLogStore{}, mockCounters{pendingErr: errors.New("db down")}, nil)

		rec := serve(router, http.MethodGet, "/api/v1/stats")

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestMetricsRoute(t *testing.T) {
	router := newTestRouter(&mockLogStore{}, mockCounters{}, nil)

	rec := serve(router, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docman_backlog_folders_total 3")
}
