package handler

import (
	"net/http"

	"taskpilot/internal/model"
	"taskpilot/internal/monitor"
	"taskpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WorkerHandler exposes the supervisor control surface
type WorkerHandler struct {
	monitor *monitor.Monitor
}

// NewWorkerHandler creates worker handler
func NewWorkerHandler(m *monitor.Monitor) *WorkerHandler {
	return &WorkerHandler{monitor: m}
}

// List returns all registered workers with their health
// @Summary List workers
// @Description List registered workers and their health reports
// @Tags workers
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /workers [get]
func (h *WorkerHandler) List(c *gin.Context) {
	reports := h.monitor.WorkerReports()
	records := make([]*model.WorkerRecord, 0, len(reports))
	for _, report := range reports {
		if w, ok := h.monitor.Worker(report.WorkerID); ok {
			records = append(records, w.Record())
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(reports),
		"workers": records,
		"health":  reports,
	})
}

// Pause pauses a worker
// @Summary Pause worker
// @Description Pause a worker's poll loop
// @Tags workers
// @Param worker_id path string true "Worker ID"
// @Success 200 {object} map[string]string
// @Router /workers/{worker_id}/pause [post]
func (h *WorkerHandler) Pause(c *gin.Context) {
	w, ok := h.monitor.Worker(c.Param("worker_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}

	w.Pause()
	logger.InfoCtx(c.Request.Context(), "worker %s paused via API", w.ID())
	c.JSON(http.StatusOK, gin.H{"message": "worker paused"})
}

// Resume resumes a paused worker
// @Summary Resume worker
// @Description Resume a paused worker's poll loop
// @Tags workers
// @Param worker_id path string true "Worker ID"
// @Success 200 {object} map[string]string
// @Router /workers/{worker_id}/resume [post]
func (h *WorkerHandler) Resume(c *gin.Context) {
	w, ok := h.monitor.Worker(c.Param("worker_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}

	w.Resume()
	logger.InfoCtx(c.Request.Context(), "worker %s resumed via API", w.ID())
	c.JSON(http.StatusOK, gin.H{"message": "worker resumed"})
}

// Health returns one worker's health report
// @Summary Worker health
// @Description Health report for one worker
// @Tags workers
// @Produce json
// @Param worker_id path string true "Worker ID"
// @Success 200 {object} model.WorkerHealthReport
// @Router /workers/{worker_id}/health [get]
func (h *WorkerHandler) Health(c *gin.Context) {
	w, ok := h.monitor.Worker(c.Param("worker_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}

	c.JSON(http.StatusOK, w.Health())
}
