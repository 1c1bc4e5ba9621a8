package constants

// Alert severity constants
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

func (s Severity) String() string {
	return string(s)
}

// System health constants
type SystemHealth string

const (
	SystemHealthHealthy   SystemHealth = "healthy"
	SystemHealthDegraded  SystemHealth = "degraded"
	SystemHealthCritical  SystemHealth = "critical"
	SystemHealthEmergency SystemHealth = "emergency"
)

// Budget actions requested by the cost ledger when thresholds trip.
type BudgetAction string

const (
	ActionNotify            BudgetAction = "notify"
	ActionPauseNonEssential BudgetAction = "pause_non_essential"
	ActionEmergencyShutdown BudgetAction = "emergency_shutdown"
)

// Signal file names polled by the system monitor.
const (
	SignalEmergencyShutdown = "EMERGENCY_SHUTDOWN"
	SignalPauseNonEssential = "PAUSE_NON_ESSENTIAL"
)
