package constants

// Task status constants
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "PENDING"
	TaskStatusAssigned   TaskStatus = "ASSIGNED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusCancelled  TaskStatus = "CANCELLED"
)

func (s TaskStatus) String() string {
	return string(s)
}

// Terminal reports whether the status permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Progress maps a status to a coarse completion fraction for status queries.
func (s TaskStatus) Progress() float64 {
	switch s {
	case TaskStatusPending:
		return 0.0
	case TaskStatusAssigned:
		return 0.1
	case TaskStatusProcessing:
		return 0.5
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return 1.0
	default:
		return 0.0
	}
}

// Task priority levels. Priority is an open integer scale, higher claims
// first; these are the conventional values used by the orchestrator.
const (
	PriorityLow      = 1
	PriorityMedium   = 5
	PriorityHigh     = 10
	PriorityCritical = 20
)
