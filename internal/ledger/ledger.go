package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/model"
	"taskpilot/pkg/config"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/interfaces"
	"taskpilot/pkg/logger"
)

const recentEventCap = 100

// Daily budget thresholds, as fractions of the configured limit.
const (
	dailyWarnRatio = 0.70
	dailyCritRatio = 0.90
	workerSoftCap  = 0.80
)

// Ledger is the spend accounting authority. Every worker routes all
// spend through Record; budget checks and threshold actions happen
// under one lock so a record call never interleaves partial state.
type Ledger struct {
	mu sync.Mutex

	dailyBudget  float64
	workerBudget float64
	pricing      map[string]float64

	date      string
	total     float64
	byService map[string]float64
	byWorker  map[string]float64
	recent    []model.CostEvent

	// fired tracks thresholds already raised today so each fires once.
	fired map[string]bool

	store interfaces.SnapshotStore
	sink  interfaces.ActionSink
}

// New creates a ledger and reloads today's totals from the snapshot
// store so budget enforcement survives restarts.
func New(cfg *config.LedgerConfig, store interfaces.SnapshotStore) (*Ledger, error) {
	l := &Ledger{
		dailyBudget:  cfg.DailyBudget,
		workerBudget: cfg.WorkerBudget,
		pricing:      cfg.Pricing,
		date:         today(),
		byService:    make(map[string]float64),
		byWorker:     make(map[string]float64),
		fired:        make(map[string]bool),
		store:        store,
	}

	snap, err := store.LoadSnapshot(context.Background(), l.date)
	if err != nil {
		return nil, fmt.Errorf("failed to reload ledger state: %w", err)
	}
	if snap != nil {
		l.total = snap.TotalCost
		for k, v := range snap.ByService {
			l.byService[k] = v
		}
		for k, v := range snap.ByWorker {
			l.byWorker[k] = v
		}
		l.recent = append(l.recent, snap.RecentEvents...)
		logger.Infof("ledger resumed for %s, spent %.4f of %.2f", l.date, l.total, l.dailyBudget)
	}

	return l, nil
}

// SetActionSink wires the component that receives threshold actions.
// The sink is registered after construction because the system monitor
// itself depends on the ledger.
func (l *Ledger) SetActionSink(sink interfaces.ActionSink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = sink
}

// Record prices the event, appends it, updates running totals and
// evaluates thresholds. Returns the computed cost for the event.
func (l *Ledger) Record(ctx context.Context, event *model.CostEvent) (float64, error) {
	l.mu.Lock()

	l.rolloverLocked(ctx)

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if rate, ok := l.pricing[event.Service]; ok {
		event.Cost = event.Units * rate
	}

	l.total += event.Cost
	l.byService[event.Service] += event.Cost
	if event.WorkerID != "" {
		l.byWorker[event.WorkerID] += event.Cost
	}
	l.recent = append(l.recent, *event)
	if len(l.recent) > recentEventCap {
		l.recent = l.recent[len(l.recent)-recentEventCap:]
	}

	snap := l.snapshotLocked()
	actions := l.evaluateLocked(event.WorkerID)
	sink := l.sink
	l.mu.Unlock()

	if err := l.store.AppendEvent(ctx, event); err != nil {
		logger.Errorf("failed to append spend event: %v", err)
	}
	if err := l.store.SaveSnapshot(ctx, snap); err != nil {
		logger.Errorf("failed to persist ledger snapshot: %v", err)
	}
	l.dispatch(ctx, sink, actions)

	return event.Cost, nil
}

// RemainingBudget returns the unspent daily budget, never negative.
func (l *Ledger) RemainingBudget() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.dailyBudget - l.total
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsWithinBudget reports whether an estimated spend still fits in the
// daily budget. Used as a pre-admission check by submitters and workers.
func (l *Ledger) IsWithinBudget(estimatedCost float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total+estimatedCost <= l.dailyBudget
}

// WorkerHasBudget reports whether the worker is under its daily cap.
func (l *Ledger) WorkerHasBudget(workerID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byWorker[workerID] < l.workerBudget
}

// Utilization returns the spent fraction of the daily budget.
func (l *Ledger) Utilization() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dailyBudget <= 0 {
		return 0
	}
	return l.total / l.dailyBudget
}

// Snapshot returns a copy of today's totals.
func (l *Ledger) Snapshot() *model.DailySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Rollover switches to a new date, persisting the finished day first.
// Called by the midnight job; also triggered lazily by Record.
func (l *Ledger) Rollover(ctx context.Context) {
	l.mu.Lock()
	snap := l.rolloverLocked(ctx)
	l.mu.Unlock()

	if snap != nil {
		if err := l.store.SaveSnapshot(ctx, snap); err != nil {
			logger.Errorf("failed to persist closing snapshot for %s: %v", snap.Date, err)
		}
	}
}

// rolloverLocked resets totals when the date changed, returning the
// closing snapshot to persist, or nil.
func (l *Ledger) rolloverLocked(ctx context.Context) *model.DailySnapshot {
	now := today()
	if now == l.date {
		return nil
	}

	closing := l.snapshotLocked()
	logger.Infof("ledger rollover %s -> %s, final spend %.4f", l.date, now, l.total)

	l.date = now
	l.total = 0
	l.byService = make(map[string]float64)
	l.byWorker = make(map[string]float64)
	l.recent = nil
	l.fired = make(map[string]bool)
	return closing
}

func (l *Ledger) snapshotLocked() *model.DailySnapshot {
	byService := make(map[string]float64, len(l.byService))
	for k, v := range l.byService {
		byService[k] = v
	}
	byWorker := make(map[string]float64, len(l.byWorker))
	for k, v := range l.byWorker {
		byWorker[k] = v
	}
	recent := make([]model.CostEvent, len(l.recent))
	copy(recent, l.recent)

	return &model.DailySnapshot{
		Date:         l.date,
		TotalCost:    l.total,
		ByService:    byService,
		ByWorker:     byWorker,
		RecentEvents: recent,
		UpdatedAt:    time.Now(),
	}
}

type thresholdAction struct {
	severity  constants.Severity
	action    constants.BudgetAction
	message   string
	value     float64
	threshold float64
}

// evaluateLocked checks per-worker and daily thresholds, returning the
// actions that newly tripped.
func (l *Ledger) evaluateLocked(workerID string) []thresholdAction {
	var actions []thresholdAction

	if workerID != "" && l.workerBudget > 0 {
		spent := l.byWorker[workerID]
		switch {
		case spent >= l.workerBudget:
			if !l.fired["worker_cap:"+workerID] {
				l.fired["worker_cap:"+workerID] = true
				actions = append(actions, thresholdAction{
					severity:  constants.SeverityCritical,
					action:    constants.ActionPauseNonEssential,
					value:     spent,
					threshold: l.workerBudget,
					message: fmt.Sprintf("worker %s reached its daily cap (%.4f of %.2f)",
						workerID, spent, l.workerBudget),
				})
			}
		case spent >= l.workerBudget*workerSoftCap:
			if !l.fired["worker_soft:"+workerID] {
				l.fired["worker_soft:"+workerID] = true
				actions = append(actions, thresholdAction{
					severity:  constants.SeverityWarning,
					action:    constants.ActionNotify,
					value:     spent,
					threshold: l.workerBudget * workerSoftCap,
					message: fmt.Sprintf("worker %s passed %d%% of its daily cap (%.4f of %.2f)",
						workerID, int(workerSoftCap*100), spent, l.workerBudget),
				})
			}
		}
	}

	if l.dailyBudget > 0 {
		util := l.total / l.dailyBudget
		switch {
		case util >= 1.0:
			if !l.fired["daily_emergency"] {
				l.fired["daily_emergency"] = true
				actions = append(actions, thresholdAction{
					severity:  constants.SeverityEmergency,
					action:    constants.ActionEmergencyShutdown,
					value:     l.total,
					threshold: l.dailyBudget,
					message: fmt.Sprintf("daily budget exhausted (%.4f of %.2f)",
						l.total, l.dailyBudget),
				})
			}
		case util >= dailyCritRatio:
			if !l.fired["daily_critical"] {
				l.fired["daily_critical"] = true
				actions = append(actions, thresholdAction{
					severity:  constants.SeverityCritical,
					action:    constants.ActionPauseNonEssential,
					value:     l.total,
					threshold: l.dailyBudget * dailyCritRatio,
					message: fmt.Sprintf("daily spend passed %d%% of budget (%.4f of %.2f)",
						int(dailyCritRatio*100), l.total, l.dailyBudget),
				})
			}
		case util >= dailyWarnRatio:
			if !l.fired["daily_warning"] {
				l.fired["daily_warning"] = true
				actions = append(actions, thresholdAction{
					severity:  constants.SeverityWarning,
					action:    constants.ActionNotify,
					value:     l.total,
					threshold: l.dailyBudget * dailyWarnRatio,
					message: fmt.Sprintf("daily spend passed %d%% of budget (%.4f of %.2f)",
						int(dailyWarnRatio*100), l.total, l.dailyBudget),
				})
			}
		}
	}

	return actions
}

// dispatch logs each action, appends it to the alert log and forwards
// it to the sink. Runs outside the ledger lock.
func (l *Ledger) dispatch(ctx context.Context, sink interfaces.ActionSink, actions []thresholdAction) {
	for _, a := range actions {
		logger.Warnf("budget threshold: %s (%s)", a.message, a.severity)

		if err := l.store.AppendAlert(ctx, &model.Alert{
			ID:           uuid.New().String(),
			Severity:     a.severity,
			Source:       "ledger",
			Message:      a.message,
			CurrentValue: a.value,
			Threshold:    a.threshold,
			ActionTaken:  string(a.action),
			CreatedAt:    time.Now(),
		}); err != nil {
			logger.Errorf("failed to append alert: %v", err)
		}

		if sink == nil {
			continue
		}
		switch a.action {
		case constants.ActionNotify:
			sink.NotifyBudgetWarning(ctx, a.message)
		case constants.ActionPauseNonEssential:
			if err := sink.PauseNonEssentialWorkers(ctx); err != nil {
				logger.Errorf("failed to pause non-essential workers: %v", err)
			}
		case constants.ActionEmergencyShutdown:
			if err := sink.TriggerEmergencyShutdown(ctx, a.message); err != nil {
				logger.Errorf("failed to trigger emergency shutdown: %v", err)
			}
		}
	}
}

func today() string {
	return time.Now().Format("2006-01-02")
}
