package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"taskpilot/internal/model"
)

// SnapshotStore persists ledger state as JSON files under a base
// directory: one snapshot file per date, an append-only alert log, and
// one file per shutdown report. It is the default backend when MySQL
// is not configured.
type SnapshotStore struct {
	dir string
	mu  sync.Mutex
}

// New creates the store, making the base directory if needed.
func New(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) snapshotPath(date string) string {
	return filepath.Join(s.dir, "costs_"+date+".json")
}

func (s *SnapshotStore) alertLogPath() string {
	return filepath.Join(s.dir, "alerts.log")
}

func (s *SnapshotStore) eventLogPath(date string) string {
	return filepath.Join(s.dir, "events_"+date+".log")
}

// SaveSnapshot writes the snapshot for its date atomically
// (temp file plus rename).
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap *model.DailySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	path := s.snapshotPath(snap.Date)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadSnapshot returns the snapshot for a date, (nil, nil) if absent.
func (s *SnapshotStore) LoadSnapshot(ctx context.Context, date string) (*model.DailySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.snapshotPath(date))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap model.DailySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", date, err)
	}
	return &snap, nil
}

// AppendEvent appends one JSON line to the spend log for the event's
// date, so the full day of events outlives the snapshot's recent window.
func (s *SnapshotStore) AppendEvent(ctx context.Context, event *model.CostEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(event)
	if err != nil {
		return err
	}

	path := s.eventLogPath(event.Timestamp.Format("2006-01-02"))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// AppendAlert appends one JSON line to the alert log.
func (s *SnapshotStore) AppendAlert(ctx context.Context, alert *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.alertLogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open alert log: %w", err)
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}

// ListAlerts returns the most recent alerts, newest first.
func (s *SnapshotStore) ListAlerts(ctx context.Context, limit int) ([]*model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.alertLogPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open alert log: %w", err)
	}
	defer f.Close()

	var alerts []*model.Alert
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var alert model.Alert
		if err := json.Unmarshal(scanner.Bytes(), &alert); err != nil {
			// Skip corrupt lines rather than losing the whole log.
			continue
		}
		alerts = append(alerts, &alert)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	// Newest first.
	for i, j := 0, len(alerts)-1; i < j; i, j = i+1, j-1 {
		alerts[i], alerts[j] = alerts[j], alerts[i]
	}
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts, nil
}

// SaveShutdownReport writes a timestamped report file.
func (s *SnapshotStore) SaveShutdownReport(ctx context.Context, report *model.ShutdownReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("shutdown_report_%s.json",
		report.TriggeredAt.Format("20060102_150405"))
	return os.WriteFile(filepath.Join(s.dir, name), data, 0644)
}
