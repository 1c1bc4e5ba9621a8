package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskpilot/internal/model"
	"taskpilot/pkg/constants"
)

// LedgerRepository persists cost ledger state in MySQL
type LedgerRepository struct {
	ds *Datastore
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(ds *Datastore) *LedgerRepository {
	return &LedgerRepository{ds: ds}
}

// SaveSnapshot upserts the daily snapshot for its date
func (r *LedgerRepository) SaveSnapshot(ctx context.Context, snap *model.DailySnapshot) error {
	record := &DailySnapshotRecord{
		Date:         snap.Date,
		TotalCost:    snap.TotalCost,
		ByService:    JSONFloatMap(snap.ByService),
		ByWorker:     JSONFloatMap(snap.ByWorker),
		RecentEvents: JSONEvents(snap.RecentEvents),
	}

	err := r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_cost", "by_service", "by_worker", "recent_events", "updated_at",
		}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("failed to save daily snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the snapshot for a date, (nil, nil) if absent
func (r *LedgerRepository) LoadSnapshot(ctx context.Context, date string) (*model.DailySnapshot, error) {
	var record DailySnapshotRecord
	err := r.ds.DB(ctx).Where("date = ?", date).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load daily snapshot: %w", err)
	}

	return &model.DailySnapshot{
		Date:         record.Date,
		TotalCost:    record.TotalCost,
		ByService:    map[string]float64(record.ByService),
		ByWorker:     map[string]float64(record.ByWorker),
		RecentEvents: []model.CostEvent(record.RecentEvents),
		UpdatedAt:    record.UpdatedAt,
	}, nil
}

// AppendEvent appends to the spend log
func (r *LedgerRepository) AppendEvent(ctx context.Context, event *model.CostEvent) error {
	record := &CostEventRecord{
		EventID:   event.ID,
		Service:   event.Service,
		Units:     event.Units,
		Cost:      event.Cost,
		WorkerID:  event.WorkerID,
		TaskID:    event.TaskID,
		Detail:    event.Detail,
		Timestamp: event.Timestamp,
	}
	if err := r.ds.DB(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append cost event: %w", err)
	}
	return nil
}

// AppendAlert appends to the alert log
func (r *LedgerRepository) AppendAlert(ctx context.Context, alert *model.Alert) error {
	record := &AlertRecord{
		AlertID:   alert.ID,
		Severity:  alert.Severity.String(),
		Source:    alert.Source,
		Message:   alert.Message,
		CreatedAt: alert.CreatedAt,
	}
	if err := r.ds.DB(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to append alert: %w", err)
	}
	return nil
}

// ListAlerts returns the most recent alerts, newest first
func (r *LedgerRepository) ListAlerts(ctx context.Context, limit int) ([]*model.Alert, error) {
	var records []*AlertRecord
	err := r.ds.DB(ctx).Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	alerts := make([]*model.Alert, 0, len(records))
	for _, rec := range records {
		alerts = append(alerts, &model.Alert{
			ID:        rec.AlertID,
			Severity:  constants.Severity(rec.Severity),
			Source:    rec.Source,
			Message:   rec.Message,
			CreatedAt: rec.CreatedAt,
		})
	}
	return alerts, nil
}

// SaveShutdownReport persists an emergency shutdown report
func (r *LedgerRepository) SaveShutdownReport(ctx context.Context, report *model.ShutdownReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	record := &ShutdownReportRecord{
		Reason:      report.Reason,
		TriggeredAt: report.TriggeredAt,
		Report:      payload,
	}
	if err := r.ds.DB(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to save shutdown report: %w", err)
	}
	return nil
}
