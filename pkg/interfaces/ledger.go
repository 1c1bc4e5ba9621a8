package interfaces

import (
	"context"

	"taskpilot/internal/model"
)

// ActionSink receives budget actions raised by the cost ledger.
// The system monitor is the production implementation.
type ActionSink interface {
	// NotifyBudgetWarning reports a soft-cap breach.
	NotifyBudgetWarning(ctx context.Context, message string)

	// PauseNonEssentialWorkers pauses every worker whose type is outside
	// the essential allow-list. Idempotent.
	PauseNonEssentialWorkers(ctx context.Context) error

	// TriggerEmergencyShutdown performs a best-effort stop of the whole
	// system. Idempotent; a second trigger while one is active is a no-op.
	TriggerEmergencyShutdown(ctx context.Context, reason string) error
}

// SnapshotStore persists daily ledger totals and system reports so
// budget enforcement survives restarts.
type SnapshotStore interface {
	// SaveSnapshot upserts the snapshot for its date.
	SaveSnapshot(ctx context.Context, snap *model.DailySnapshot) error

	// LoadSnapshot returns the snapshot for a date, (nil, nil) if absent.
	LoadSnapshot(ctx context.Context, date string) (*model.DailySnapshot, error)

	// AppendEvent appends one priced event to the durable spend log.
	AppendEvent(ctx context.Context, event *model.CostEvent) error

	// AppendAlert appends to the alert log.
	AppendAlert(ctx context.Context, alert *model.Alert) error

	// ListAlerts returns the most recent alerts, newest first.
	ListAlerts(ctx context.Context, limit int) ([]*model.Alert, error)

	// SaveShutdownReport persists an emergency shutdown report.
	SaveShutdownReport(ctx context.Context, report *model.ShutdownReport) error
}

// Notifier delivers out-of-band alerts, e.g. to a webhook.
type Notifier interface {
	Send(ctx context.Context, title, message string) error
}
