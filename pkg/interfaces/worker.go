package interfaces

import (
	"context"

	"taskpilot/internal/model"
)

// Executor is the pluggable per-worker-type work function. It is invoked
// by the worker supervisor only; any error marks the task FAILED.
type Executor func(ctx context.Context, task *model.Task) (map[string]interface{}, error)

// WorkerController is the control surface a supervisor exposes to the
// system monitor. Start/Stop/Pause/Resume are idempotent.
type WorkerController interface {
	ID() string
	Type() string
	Start(ctx context.Context) error
	Stop() error
	Pause()
	Resume()
	Health() *model.WorkerHealthReport
	Record() *model.WorkerRecord
}
