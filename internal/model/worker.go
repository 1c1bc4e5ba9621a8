package model

import (
	"time"

	"taskpilot/pkg/constants"
)

// WorkerRecord supervisor-local worker state. Created when a supervisor
// starts, updated continuously, discarded on process exit; health
// snapshots are persisted externally by the system monitor.
type WorkerRecord struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Status         constants.WorkerStatus `json:"status"`
	TasksCompleted int64                  `json:"tasks_completed"`
	ErrorCount     int64                  `json:"error_count"`
	LastActivity   time.Time              `json:"last_activity"`
	StartedAt      time.Time              `json:"started_at"`
}

// WorkerHealthReport health view of a single worker
type WorkerHealthReport struct {
	WorkerID     string                 `json:"worker_id"`
	WorkerType   string                 `json:"worker_type"`
	Status       constants.WorkerHealth `json:"status"`
	ErrorRate    float64                `json:"error_rate"`
	HasBudget    bool                   `json:"has_budget"`
	LastActivity time.Time              `json:"last_activity"`
}

// WorkerControlRequest pause/resume request for a worker
type WorkerControlRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
}
