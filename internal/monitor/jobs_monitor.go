package monitor

import (
	"context"
	"fmt"
	"time"

	"taskpilot/internal/jobs"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/logger"
)

// loopJob adapts a monitor loop body to the jobs.Job interface.
type loopJob struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func (j *loopJob) Name() string            { return j.name }
func (j *loopJob) Interval() time.Duration { return j.interval }
func (j *loopJob) Run(ctx context.Context) error {
	return j.run(ctx)
}

// Jobs returns the monitor's background loops, each on its own interval.
func (m *Monitor) Jobs() []jobs.Job {
	return []jobs.Job{
		&loopJob{"cost_monitor", time.Duration(m.cfg.CostInterval) * time.Second, m.runCostCheck},
		&loopJob{"worker_health", time.Duration(m.cfg.HealthInterval) * time.Second, m.runWorkerHealthCheck},
		&loopJob{"system_health", time.Duration(m.cfg.HealthInterval) * time.Second, m.runSystemHealthCheck},
		&loopJob{"queue_depth", time.Duration(m.cfg.QueueInterval) * time.Second, m.runQueueCheck},
		&loopJob{"signal_poll", time.Duration(m.cfg.SignalInterval) * time.Second, m.runSignalCheck},
		&loopJob{"alert_retention", time.Hour, m.runAlertRetention},
	}
}

// runCostCheck watches daily budget utilization. The ledger raises
// threshold actions on each record; this loop is the backstop that
// catches spend accumulated before the process started.
func (m *Monitor) runCostCheck(ctx context.Context) error {
	util := m.ledger.Utilization()
	logger.Debugf("monitor: cost utilization %.1f%%", util*100)

	severity := costSeverity(util)
	if severity == "" {
		m.setCostSeverity("")
		return nil
	}
	if m.setCostSeverity(severity) {
		action := ""
		if severity == constants.SeverityEmergency {
			action = string(constants.ActionEmergencyShutdown)
		}
		m.RaiseMetricAlert(ctx, severity, "cost",
			fmt.Sprintf("daily cost utilization at %.1f%%", util*100),
			util, costThreshold(severity), action)
	}
	if util >= 1.0 {
		return m.TriggerEmergencyShutdown(ctx, "daily cost limit exceeded")
	}
	return nil
}

func costSeverity(util float64) constants.Severity {
	switch {
	case util >= 1.0:
		return constants.SeverityEmergency
	case util > 0.9:
		return constants.SeverityCritical
	case util > 0.7:
		return constants.SeverityWarning
	default:
		return ""
	}
}

// costThreshold returns the utilization boundary a severity crossed.
func costThreshold(severity constants.Severity) float64 {
	switch severity {
	case constants.SeverityEmergency:
		return 1.0
	case constants.SeverityCritical:
		return 0.9
	case constants.SeverityWarning:
		return 0.7
	default:
		return 0
	}
}

// setCostSeverity records the last reported cost severity and reports
// whether it escalated, so repeated checks do not spam alerts.
func (m *Monitor) setCostSeverity(severity constants.Severity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if severity == m.lastCostSeverity {
		return false
	}
	m.lastCostSeverity = severity
	return severity != ""
}

func (m *Monitor) runWorkerHealthCheck(ctx context.Context) error {
	workers := m.workerList()
	unhealthy := 0
	for _, w := range workers {
		health := w.Health()
		if health.Status == constants.WorkerHealthHealthy {
			continue
		}
		unhealthy++
		severity := constants.SeverityWarning
		if health.Status == constants.WorkerHealthUnresponsive {
			severity = constants.SeverityCritical
		}
		m.RaiseMetricAlert(ctx, severity, "worker",
			fmt.Sprintf("worker %s health: %s (error rate %.0f%%)",
				health.WorkerID, health.Status, health.ErrorRate*100),
			health.ErrorRate, m.cfg.ErrorRateWarn, "")
	}
	if len(workers) > 0 && unhealthy > len(workers)/2 {
		m.RaiseMetricAlert(ctx, constants.SeverityCritical, "monitor",
			fmt.Sprintf("more than half of workers unhealthy (%d/%d)", unhealthy, len(workers)),
			float64(unhealthy), float64(len(workers))/2, "")
	}
	return nil
}

func (m *Monitor) runSystemHealthCheck(ctx context.Context) error {
	snap := m.Snapshot(ctx)
	if snap.Health == constants.SystemHealthCritical {
		m.RaiseAlert(ctx, constants.SeverityCritical, "monitor", "system health: critical")
	}
	return nil
}

func (m *Monitor) runQueueCheck(ctx context.Context) error {
	if m.queue == nil {
		return nil
	}
	stats, err := m.queue.Stats(ctx)
	if err != nil {
		return err
	}
	pending := stats.ByStatus[constants.TaskStatusPending.String()]
	if m.cfg.QueueBacklogMax > 0 && pending > int64(m.cfg.QueueBacklogMax) {
		m.RaiseMetricAlert(ctx, constants.SeverityWarning, "queue",
			fmt.Sprintf("pending backlog at %d tasks (limit %d)", pending, m.cfg.QueueBacklogMax),
			float64(pending), float64(m.cfg.QueueBacklogMax), "")
	}
	return nil
}

// runSignalCheck polls the external signal surface. A raised signal is
// acted on first, then consumed so operators see it disappear only
// after it took effect.
func (m *Monitor) runSignalCheck(ctx context.Context) error {
	if m.signals == nil {
		return nil
	}

	raised, payload, err := m.signals.Check(constants.SignalEmergencyShutdown)
	if err != nil {
		return err
	}
	if raised {
		reason := payload
		if reason == "" {
			reason = "external shutdown signal"
		}
		logger.Warnf("monitor: shutdown signal raised: %s", reason)
		if err := m.TriggerEmergencyShutdown(ctx, reason); err != nil {
			return err
		}
		if err := m.signals.Consume(constants.SignalEmergencyShutdown); err != nil {
			logger.Errorf("monitor: consume shutdown signal: %v", err)
		}
	}

	raised, _, err = m.signals.Check(constants.SignalPauseNonEssential)
	if err != nil {
		return err
	}
	if raised {
		logger.Warnf("monitor: pause signal raised")
		if err := m.PauseNonEssentialWorkers(ctx); err != nil {
			return err
		}
		if err := m.signals.Consume(constants.SignalPauseNonEssential); err != nil {
			logger.Errorf("monitor: consume pause signal: %v", err)
		}
	}
	return nil
}

func (m *Monitor) runAlertRetention(ctx context.Context) error {
	m.pruneAlerts(time.Now())
	return nil
}
