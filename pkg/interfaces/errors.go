package interfaces

import "errors"

// Sentinel errors shared across store implementations and services.
var (
	ErrDuplicateID       = errors.New("task id already exists")
	ErrTaskNotFound      = errors.New("task not found")
	ErrUnknownWorkerType = errors.New("no worker type mapping for task type")
	ErrBudgetExceeded    = errors.New("budget exceeded")
)
