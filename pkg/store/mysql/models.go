package mysql

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"taskpilot/internal/model"
)

// JSONFloatMap is a custom type for JSON columns holding per-key totals
type JSONFloatMap map[string]float64

// Scan implements sql.Scanner interface
func (j *JSONFloatMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal JSONFloatMap value: %v", value)
	}
	result := make(map[string]float64)
	err := json.Unmarshal(bytes, &result)
	*j = JSONFloatMap(result)
	return err
}

// Value implements driver.Valuer interface
func (j JSONFloatMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// JSONEvents is a custom type for a JSON column holding recent cost events
type JSONEvents []model.CostEvent

// Scan implements sql.Scanner interface
func (j *JSONEvents) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to unmarshal JSONEvents value: %v", value)
	}
	result := make([]model.CostEvent, 0)
	err := json.Unmarshal(bytes, &result)
	*j = JSONEvents(result)
	return err
}

// Value implements driver.Valuer interface
func (j JSONEvents) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// DailySnapshotRecord persisted daily ledger totals
type DailySnapshotRecord struct {
	ID           uint         `gorm:"primaryKey;autoIncrement"`
	Date         string       `gorm:"type:varchar(10);uniqueIndex;not null"`
	TotalCost    float64      `gorm:"not null;default:0"`
	ByService    JSONFloatMap `gorm:"type:json"`
	ByWorker     JSONFloatMap `gorm:"type:json"`
	RecentEvents JSONEvents   `gorm:"type:json"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime"`
}

// TableName returns the table name
func (DailySnapshotRecord) TableName() string {
	return "ledger_daily_snapshots"
}

// CostEventRecord append-only spend log
type CostEventRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	EventID   string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Service   string    `gorm:"type:varchar(64);index;not null"`
	Units     float64   `gorm:"not null;default:0"`
	Cost      float64   `gorm:"not null;default:0"`
	WorkerID  string    `gorm:"type:varchar(64);index"`
	TaskID    string    `gorm:"type:varchar(64);index"`
	Detail    string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"index;not null"`
}

// TableName returns the table name
func (CostEventRecord) TableName() string {
	return "ledger_cost_events"
}

// AlertRecord severity-tagged system events
type AlertRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	AlertID   string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Severity  string    `gorm:"type:varchar(16);index;not null"`
	Source    string    `gorm:"type:varchar(32);not null"`
	Message   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"index;not null"`
}

// TableName returns the table name
func (AlertRecord) TableName() string {
	return "system_alerts"
}

// ShutdownReportRecord persisted emergency shutdown reports
type ShutdownReportRecord struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Reason      string    `gorm:"type:text"`
	TriggeredAt time.Time `gorm:"index;not null"`
	Report      []byte    `gorm:"type:json"` // full report JSON, health snapshot included
}

// TableName returns the table name
func (ShutdownReportRecord) TableName() string {
	return "shutdown_reports"
}
