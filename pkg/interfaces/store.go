package interfaces

import (
	"context"

	"taskpilot/internal/model"
	"taskpilot/pkg/constants"
)

// TaskStore queue store interface
// Supports multiple implementations like SQLite, Redis, etc.
// It is the single shared mutable resource across workers; no component
// may bypass it to mutate task state directly.
type TaskStore interface {
	// Add inserts a task in PENDING. Fails with ErrDuplicateID on id collision.
	Add(ctx context.Context, task *model.Task) error

	// ClaimNext atomically selects the best ready task for the worker type
	// and transitions it to ASSIGNED. Selection is priority-desc, created-asc;
	// candidates with incomplete dependencies or a future NotBefore are
	// skipped without stopping the scan. Returns (nil, nil) when no task
	// is ready.
	ClaimNext(ctx context.Context, workerType, workerID string) (*model.Task, error)

	// Update applies field changes to an existing task.
	// Fails with ErrTaskNotFound on unknown ids.
	Update(ctx context.Context, taskID string, fields map[string]interface{}) error

	// Get retrieves a task, (nil, nil) if absent.
	Get(ctx context.Context, taskID string) (*model.Task, error)

	// List returns tasks filtered by status and/or worker type; empty
	// filters match everything.
	List(ctx context.Context, status constants.TaskStatus, workerType string) ([]*model.Task, error)

	// Stats returns aggregate queue counters.
	Stats(ctx context.Context) (*model.QueueStats, error)

	// Close releases the underlying connection.
	Close() error
}
