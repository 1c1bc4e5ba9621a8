package handler

import (
	"errors"
	"net/http"

	"taskpilot/internal/model"
	"taskpilot/internal/queue"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/interfaces"
	"taskpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

// TaskHandler handles task submission and queries
type TaskHandler struct {
	queue *queue.Queue
}

// NewTaskHandler creates task handler
func NewTaskHandler(q *queue.Queue) *TaskHandler {
	return &TaskHandler{queue: q}
}

// Submit submits a new task
// @Summary Submit task
// @Description Submit a task to the queue
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body model.SubmitRequest true "Task request"
// @Success 200 {object} model.SubmitResponse
// @Router /tasks [post]
func (h *TaskHandler) Submit(c *gin.Context) {
	var req model.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.ErrorCtx(c.Request.Context(), "invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	task, err := h.queue.Submit(c.Request.Context(), &req)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to submit task: %v", err)
		switch {
		case errors.Is(err, interfaces.ErrUnknownWorkerType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, interfaces.ErrBudgetExceeded):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case errors.Is(err, interfaces.ErrDuplicateID):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, &model.SubmitResponse{
		ID:           task.ID,
		Status:       task.Status,
		WorkerType:   task.WorkerType,
		CostEstimate: task.CostEstimate,
	})
}

// Status gets task status
// @Summary Get task status
// @Description Get task status by task ID
// @Tags tasks
// @Produce json
// @Param task_id path string true "Task ID"
// @Success 200 {object} model.StatusResponse
// @Router /status/{task_id} [get]
func (h *TaskHandler) Status(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id required"})
		return
	}

	resp, err := h.queue.Status(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, interfaces.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to get task status, task_id: %s, error: %v", taskID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Cancel cancels task
// @Summary Cancel task
// @Description Cancel task by task ID
// @Tags tasks
// @Param task_id path string true "Task ID"
// @Success 200 {object} map[string]string
// @Router /cancel/{task_id} [post]
func (h *TaskHandler) Cancel(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id required"})
		return
	}

	if err := h.queue.Cancel(c.Request.Context(), taskID); err != nil {
		if errors.Is(err, interfaces.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to cancel task, task_id: %s, error: %v", taskID, err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "task cancelled"})
}

// List lists tasks with optional filters
// @Summary List tasks
// @Description List tasks filtered by status and worker type
// @Tags tasks
// @Produce json
// @Param status query string false "Task status filter"
// @Param worker_type query string false "Worker type filter"
// @Success 200 {object} map[string]interface{}
// @Router /tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	status := constants.TaskStatus(c.Query("status"))
	workerType := c.Query("worker_type")

	tasks, err := h.queue.List(c.Request.Context(), status, workerType)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list tasks: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(tasks),
		"tasks": tasks,
	})
}

// QueueStats returns aggregate queue counters
// @Summary Queue statistics
// @Description Aggregate task counts by status and worker type
// @Tags tasks
// @Produce json
// @Success 200 {object} model.QueueStats
// @Router /queue/stats [get]
func (h *TaskHandler) QueueStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to get queue stats: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}
