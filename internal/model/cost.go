package model

import (
	"time"

	"taskpilot/pkg/constants"
)

// CostEvent a single spend record routed through the ledger
type CostEvent struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"` // external service billed, e.g. llm_tokens
	Units     float64   `json:"units"`   // billable units consumed
	Cost      float64   `json:"cost"`    // computed at record time
	WorkerID  string    `json:"worker_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DailySnapshot persisted daily totals, keyed by date
type DailySnapshot struct {
	Date         string             `json:"date"` // YYYY-MM-DD
	TotalCost    float64            `json:"total_cost"`
	ByService    map[string]float64 `json:"by_service"`
	ByWorker     map[string]float64 `json:"by_worker"`
	RecentEvents []CostEvent        `json:"recent_events"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Alert a severity-tagged system event retained by the monitor
type Alert struct {
	ID           string             `json:"id"`
	Severity     constants.Severity `json:"severity"`
	Source       string             `json:"source"` // ledger, monitor, supervisor
	Message      string             `json:"message"`
	CurrentValue float64            `json:"current_value,omitempty"` // metric reading that tripped the alert
	Threshold    float64            `json:"threshold,omitempty"`     // limit it was compared against
	ActionTaken  string             `json:"action_taken,omitempty"`  // automatic response, if any
	CreatedAt    time.Time          `json:"created_at"`
}

// ShutdownReport persisted record of an emergency shutdown
type ShutdownReport struct {
	Reason      string          `json:"reason"`
	TriggeredAt time.Time       `json:"triggered_at"`
	Health      *SystemSnapshot `json:"health,omitempty"`
	StopErrors  []string        `json:"stop_errors,omitempty"` // best-effort failures during stop
}

// SystemSnapshot aggregated system health view
type SystemSnapshot struct {
	Health          constants.SystemHealth `json:"health"`
	CostUtilization float64                `json:"cost_utilization"` // fraction of daily budget spent
	RemainingBudget float64                `json:"remaining_budget"`
	ErrorRate       float64                `json:"error_rate"`
	ActiveWorkers   int                    `json:"active_workers"`
	TotalWorkers    int                    `json:"total_workers"`
	ShutdownActive  bool                   `json:"shutdown_active"`
	Workers         []WorkerHealthReport   `json:"workers,omitempty"`
	Queue           *QueueStats            `json:"queue,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}
