package model

import (
	"encoding/json"
	"time"

	"taskpilot/pkg/constants"
)

// Task task model
type Task struct {
	ID             string                 `json:"id"`
	Description    string                 `json:"description"`
	Type           string                 `json:"type"`        // task type, e.g. scrape_source
	WorkerType     string                 `json:"worker_type"` // worker role that may claim it
	Priority       int                    `json:"priority"`    // higher claims first
	Status         constants.TaskStatus   `json:"status"`
	Dependencies   []string               `json:"dependencies,omitempty"` // task ids that must complete first
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"`
	Error          string                 `json:"error,omitempty"`
	AssignedWorker string                 `json:"assigned_worker,omitempty"`
	RetryCount     int                    `json:"retry_count"`
	MaxRetries     int                    `json:"max_retries"`
	TimeoutSeconds int                    `json:"timeout_seconds"`
	CostEstimate   float64                `json:"cost_estimate"`
	CreatedAt      time.Time              `json:"created_at"`
	AssignedAt     *time.Time             `json:"assigned_at,omitempty"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	NotBefore      *time.Time             `json:"not_before,omitempty"` // retry backoff gate honored by claims
}

// SubmitRequest submit task request
type SubmitRequest struct {
	Description    string                 `json:"description" binding:"required"`
	Type           string                 `json:"type" binding:"required"`
	WorkerType     string                 `json:"worker_type,omitempty"` // derived from type when omitted
	Priority       int                    `json:"priority,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty"`
	MaxRetries     *int                   `json:"max_retries,omitempty"`
	Dependencies   []string               `json:"dependencies,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
}

// SubmitResponse submit task response
type SubmitResponse struct {
	ID           string               `json:"id"`
	Status       constants.TaskStatus `json:"status"`
	WorkerType   string               `json:"worker_type"`
	CostEstimate float64              `json:"cost_estimate"`
}

// StatusResponse task status response
type StatusResponse struct {
	ID          string                 `json:"id"`
	Status      constants.TaskStatus   `json:"status"`
	Progress    float64                `json:"progress"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// ClaimRequest worker claim request
type ClaimRequest struct {
	WorkerType string `json:"worker_type" binding:"required"`
	WorkerID   string `json:"worker_id,omitempty"`
}

// QueueStats aggregate queue counters by status and worker type
type QueueStats struct {
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByType     map[string]int64 `json:"by_worker_type"`
	OldestWait float64          `json:"oldest_pending_wait_seconds"`
}

// ToStatusResponse builds the external status view of the task.
func (t *Task) ToStatusResponse() *StatusResponse {
	return &StatusResponse{
		ID:          t.ID,
		Status:      t.Status,
		Progress:    t.Status.Progress(),
		Result:      t.Result,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
}

// Ready reports whether the task may be offered to a claimer at now,
// ignoring dependency state.
func (t *Task) Ready(now time.Time) bool {
	if t.Status != constants.TaskStatusPending {
		return false
	}
	if t.NotBefore != nil && now.Before(*t.NotBefore) {
		return false
	}
	return true
}

// ToJSON converts task to JSON bytes
func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON converts JSON bytes to task
func (t *Task) FromJSON(data []byte) error {
	return json.Unmarshal(data, t)
}
