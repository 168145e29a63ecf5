package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/backlog"
	"github.com/garyjia/docman-backlog/internal/models"
)

// LogStore reads stored run logs
type LogStore interface {
	ListLogs() ([]backlog.LogInfo, error)
	LoadLog(runID string) (*models.BacklogProcessingLog, error)
}

// ReviewCounter counts documents waiting for manual review
type ReviewCounter interface {
	PendingReviewCount(ctx context.Context) (int64, error)
}

// StatusCounter aggregates the processing history by status
type StatusCounter interface {
	StatusCounts(ctx context.Context) (map[string]int64, error)
}

// PendingGauge exports the pending review count
type PendingGauge interface {
	SetPendingReview(n int64)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	logs    LogStore
	reviews ReviewCounter
	history StatusCounter
	gauge   PendingGauge
	logger  *zap.Logger
}

// NewHandlers creates a new Handlers instance. gauge may be nil.
func NewHandlers(logs LogStore, reviews ReviewCounter, history StatusCounter, gauge PendingGauge, logger *zap.Logger) *Handlers {
	return &Handlers{
		logs:    logs,
		reviews: reviews,
		history: history,
		gauge:   gauge,
		logger:  logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

// StatsResponse summarizes the review queue and the processing history
type StatsResponse struct {
	PendingReview int64            `json:"pendingReview"`
	Processed     map[string]int64 `json:"processed"`
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Service:   "docman-backlog",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// ListLogs handles GET /api/v1/backlog-logs
func (h *Handlers) ListLogs(c *gin.Context) {
	logs, err := h.logs.ListLogs()
	if err != nil {
		h.logger.Error("Failed to list run logs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Error: "failed to list run logs"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: logs})
}

// GetLog handles GET /api/v1/backlog-logs/:runId
func (h *Handlers) GetLog(c *gin.Context) {
	runID := c.Param("runId")

	log, err := h.logs.LoadLog(runID)
	switch {
	case errors.Is(err, backlog.ErrInvalidRun):
		c.JSON(http.StatusBadRequest, Response{Error: "invalid run id"})
		return
	case errors.Is(err, backlog.ErrLogNotFound):
		c.JSON(http.StatusNotFound, Response{Error: "run log not found"})
		return
	case err != nil:
		h.logger.Error("Failed to load run log", zap.String("run_id", runID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Error: "failed to load run log"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: log})
}

// Stats handles GET /api/v1/stats
func (h *Handlers) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	pending, err := h.reviews.PendingReviewCount(ctx)
	if err != nil {
		h.logger.Error("Failed to count pending reviews", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Error: "failed to load stats"})
		return
	}

	processed, err := h.history.StatusCounts(ctx)
	if err != nil {
		h.logger.Error("Failed to count processing history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Error: "failed to load stats"})
		return
	}

	if h.gauge != nil {
		h.gauge.SetPendingReview(pending)
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: StatsResponse{
		PendingReview: pending,
		Processed:     processed,
	}})
}
