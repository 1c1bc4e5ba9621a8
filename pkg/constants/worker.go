package constants

// Worker status constants
type WorkerStatus string

const (
	WorkerStatusInitializing WorkerStatus = "initializing" // supervisor created, loop not yet running
	WorkerStatusActive       WorkerStatus = "active"       // polling and executing tasks
	WorkerStatusPaused       WorkerStatus = "paused"       // loop alive, not claiming
	WorkerStatusStopped      WorkerStatus = "stopped"      // loop exited
	WorkerStatusError        WorkerStatus = "error"        // overlay set on executor failure, loop continues
)

func (s WorkerStatus) String() string {
	return string(s)
}

// Worker health states reported by Supervisor.Health.
type WorkerHealth string

const (
	WorkerHealthHealthy       WorkerHealth = "healthy"
	WorkerHealthDegraded      WorkerHealth = "degraded"       // error rate above threshold
	WorkerHealthUnresponsive  WorkerHealth = "unresponsive"   // no activity within timeout
	WorkerHealthBudgetLimited WorkerHealth = "budget_limited" // spend cap reached
)

// Well-known worker types. The set is open; these are the roles the
// default task type mapping targets.
const (
	WorkerTypeScraper        = "scraper"
	WorkerTypeSummarizer     = "summarizer"
	WorkerTypeAudio          = "audio"
	WorkerTypeDashboard      = "dashboard"
	WorkerTypeGeneral        = "general"
	WorkerTypeProjectManager = "project_manager"
)
