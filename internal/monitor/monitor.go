package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/model"
	"taskpilot/pkg/config"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/interfaces"
	"taskpilot/pkg/logger"
)

const alertRetention = 7 * 24 * time.Hour

// Monitor aggregates ledger spend and worker health into a system-wide
// health state and owns the emergency shutdown path. It is the
// production ActionSink for the cost ledger.
type Monitor struct {
	cfg       *config.MonitorConfig
	ledger    LedgerView
	queue     QueueView
	store     interfaces.SnapshotStore
	notifier  interfaces.Notifier
	signals   interfaces.SignalSource
	essential map[string]struct{}
	startedAt time.Time

	mu               sync.Mutex
	workers          map[string]interfaces.WorkerController
	alerts           []*model.Alert
	lastCostSeverity constants.Severity

	shutdown       atomic.Bool
	shutdownReason atomic.Value
	stopFns        []func()
}

// LedgerView is the slice of the cost ledger the monitor reads.
type LedgerView interface {
	Utilization() float64
	RemainingBudget() float64
}

// QueueView is the slice of the task queue the monitor reads.
type QueueView interface {
	Stats(ctx context.Context) (*model.QueueStats, error)
}

func New(cfg *config.MonitorConfig, led LedgerView, q QueueView, store interfaces.SnapshotStore,
	notifier interfaces.Notifier, signals interfaces.SignalSource, essentialTypes []string) *Monitor {
	essential := make(map[string]struct{}, len(essentialTypes))
	for _, t := range essentialTypes {
		essential[t] = struct{}{}
	}
	return &Monitor{
		cfg:       cfg,
		ledger:    led,
		queue:     q,
		store:     store,
		notifier:  notifier,
		signals:   signals,
		essential: essential,
		startedAt: time.Now(),
		workers:   map[string]interfaces.WorkerController{},
	}
}

// RegisterWorker adds a supervisor to the monitored set.
func (m *Monitor) RegisterWorker(w interfaces.WorkerController) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID()] = w
	logger.Infof("monitor: worker %s registered", w.ID())
}

// OnShutdown registers a stop function run during emergency shutdown,
// after workers are stopped.
func (m *Monitor) OnShutdown(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopFns = append(m.stopFns, fn)
}

// Uptime reports how long the monitor has been running.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.startedAt)
}

// ShutdownActive reports whether an emergency shutdown has fired.
func (m *Monitor) ShutdownActive() bool {
	return m.shutdown.Load()
}

// ShutdownReason returns the reason of the active shutdown, if any.
func (m *Monitor) ShutdownReason() string {
	if r, ok := m.shutdownReason.Load().(string); ok {
		return r
	}
	return ""
}

func (m *Monitor) workerList() []interfaces.WorkerController {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]interfaces.WorkerController, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	return out
}

// WorkerReports returns health reports for all registered workers.
func (m *Monitor) WorkerReports() []model.WorkerHealthReport {
	workers := m.workerList()
	reports := make([]model.WorkerHealthReport, 0, len(workers))
	for _, w := range workers {
		reports = append(reports, *w.Health())
	}
	return reports
}

// Worker returns a registered worker by id.
func (m *Monitor) Worker(id string) (interfaces.WorkerController, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	return w, ok
}

// RaiseAlert records an alert in memory and the persistent alert log.
func (m *Monitor) RaiseAlert(ctx context.Context, severity constants.Severity, source, message string) {
	m.RaiseMetricAlert(ctx, severity, source, message, 0, 0, "")
}

// RaiseMetricAlert records an alert carrying the metric reading that
// tripped it, the threshold it crossed, and any automatic action taken.
func (m *Monitor) RaiseMetricAlert(ctx context.Context, severity constants.Severity, source, message string, value, threshold float64, action string) {
	alert := &model.Alert{
		ID:           uuid.New().String(),
		Severity:     severity,
		Source:       source,
		Message:      message,
		CurrentValue: value,
		Threshold:    threshold,
		ActionTaken:  action,
		CreatedAt:    time.Now(),
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()

	switch severity {
	case constants.SeverityWarning:
		logger.Warnf("alert [%s] %s: %s", severity, source, message)
	case constants.SeverityCritical, constants.SeverityEmergency:
		logger.Errorf("alert [%s] %s: %s", severity, source, message)
	default:
		logger.Infof("alert [%s] %s: %s", severity, source, message)
	}

	if m.store != nil {
		if err := m.store.AppendAlert(ctx, alert); err != nil {
			logger.Errorf("monitor: persist alert: %v", err)
		}
	}
}

// RecentAlerts returns up to limit in-memory alerts, newest first.
func (m *Monitor) RecentAlerts(limit int) []*model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Alert, 0, limit)
	for i := len(m.alerts) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.alerts[i])
	}
	return out
}

func (m *Monitor) pruneAlerts(now time.Time) {
	cutoff := now.Add(-alertRetention)
	m.mu.Lock()
	defer m.mu.Unlock()
	i := 0
	for i < len(m.alerts) && m.alerts[i].CreatedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.alerts = append([]*model.Alert(nil), m.alerts[i:]...)
	}
}

// Snapshot computes the aggregated system health view.
func (m *Monitor) Snapshot(ctx context.Context) *model.SystemSnapshot {
	workers := m.workerList()

	var completed, errorCount int64
	active := 0
	reports := make([]model.WorkerHealthReport, 0, len(workers))
	for _, w := range workers {
		rec := w.Record()
		completed += rec.TasksCompleted
		errorCount += rec.ErrorCount
		if rec.Status == constants.WorkerStatusActive {
			active++
		}
		reports = append(reports, *w.Health())
	}

	var errorRate float64
	if total := completed + errorCount; total > 0 {
		errorRate = float64(errorCount) / float64(total)
	}

	snap := &model.SystemSnapshot{
		CostUtilization: m.ledger.Utilization(),
		RemainingBudget: m.ledger.RemainingBudget(),
		ErrorRate:       errorRate,
		ActiveWorkers:   active,
		TotalWorkers:    len(workers),
		ShutdownActive:  m.shutdown.Load(),
		Workers:         reports,
		Timestamp:       time.Now(),
	}
	snap.Health = m.classify(snap)

	if m.queue != nil {
		stats, err := m.queue.Stats(ctx)
		if err != nil {
			logger.Errorf("monitor: queue stats: %v", err)
		} else {
			snap.Queue = stats
		}
	}
	return snap
}

func (m *Monitor) classify(snap *model.SystemSnapshot) constants.SystemHealth {
	warn := m.cfg.ErrorRateWarn
	crit := m.cfg.ErrorRateCrit

	switch {
	case snap.ShutdownActive:
		return constants.SystemHealthEmergency
	case snap.CostUtilization > 1.0 || snap.ErrorRate > crit:
		return constants.SystemHealthCritical
	case snap.CostUtilization > 0.8 || snap.ErrorRate > warn ||
		(snap.TotalWorkers > 0 && float64(snap.ActiveWorkers) < float64(snap.TotalWorkers)*0.5):
		return constants.SystemHealthDegraded
	default:
		return constants.SystemHealthHealthy
	}
}

// NotifyBudgetWarning implements interfaces.ActionSink.
func (m *Monitor) NotifyBudgetWarning(ctx context.Context, message string) {
	m.RaiseAlert(ctx, constants.SeverityWarning, "ledger", message)
	if m.notifier != nil {
		if err := m.notifier.Send(ctx, "Budget warning", message); err != nil {
			logger.Errorf("monitor: send budget warning: %v", err)
		}
	}
}

// PauseNonEssentialWorkers implements interfaces.ActionSink. Workers
// whose type is on the essential allow-list keep running.
func (m *Monitor) PauseNonEssentialWorkers(ctx context.Context) error {
	paused := 0
	for _, w := range m.workerList() {
		if _, essential := m.essential[w.Type()]; essential {
			continue
		}
		w.Pause()
		paused++
	}
	m.RaiseMetricAlert(ctx, constants.SeverityCritical, "monitor",
		fmt.Sprintf("paused %d non-essential workers", paused),
		float64(paused), 0, string(constants.ActionPauseNonEssential))
	return nil
}

// TriggerEmergencyShutdown implements interfaces.ActionSink. Stops are
// best-effort: a failing component is logged and recorded in the
// shutdown report, never aborts the rest.
func (m *Monitor) TriggerEmergencyShutdown(ctx context.Context, reason string) error {
	if !m.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	m.shutdownReason.Store(reason)
	logger.Errorf("EMERGENCY SHUTDOWN: %s", reason)
	m.RaiseMetricAlert(ctx, constants.SeverityEmergency, "monitor",
		"emergency shutdown: "+reason, 0, 0, string(constants.ActionEmergencyShutdown))

	var stopErrors []string
	for _, w := range m.workerList() {
		if err := w.Stop(); err != nil {
			msg := fmt.Sprintf("stop worker %s: %v", w.ID(), err)
			logger.Errorf("monitor: %s", msg)
			stopErrors = append(stopErrors, msg)
		}
	}

	m.mu.Lock()
	stopFns := append([]func(){}, m.stopFns...)
	m.mu.Unlock()
	for _, fn := range stopFns {
		fn()
	}

	report := &model.ShutdownReport{
		Reason:      reason,
		TriggeredAt: time.Now(),
		Health:      m.Snapshot(ctx),
		StopErrors:  stopErrors,
	}
	if m.store != nil {
		if err := m.store.SaveShutdownReport(ctx, report); err != nil {
			logger.Errorf("monitor: persist shutdown report: %v", err)
		}
	}
	if m.notifier != nil {
		if err := m.notifier.Send(ctx, "Emergency shutdown", reason); err != nil {
			logger.Errorf("monitor: send shutdown notice: %v", err)
		}
	}
	logger.Errorf("emergency shutdown completed")
	return nil
}

var _ interfaces.ActionSink = (*Monitor)(nil)
