package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/model"
	"taskpilot/pkg/config"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/interfaces"
	"taskpilot/pkg/logger"
)

// workerTypeMapping derives the worker role from a task type when the
// submitter does not name one.
var workerTypeMapping = map[string]string{
	"scrape_source":          constants.WorkerTypeScraper,
	"scrape_social":          constants.WorkerTypeScraper,
	"scrape_rss":             constants.WorkerTypeScraper,
	"generate_briefing":      constants.WorkerTypeSummarizer,
	"analyze_sentiment":      constants.WorkerTypeSummarizer,
	"extract_topics":         constants.WorkerTypeSummarizer,
	"generate_audio":         constants.WorkerTypeAudio,
	"create_podcast_episode": constants.WorkerTypeAudio,
	"generate_rss_feed":      constants.WorkerTypeAudio,
	"deliver_briefing":       constants.WorkerTypeDashboard,
	"send_email_digest":      constants.WorkerTypeDashboard,
	"export_to_notion":       constants.WorkerTypeDashboard,
	"start_dashboard":        constants.WorkerTypeDashboard,
	"plan_pipeline":          constants.WorkerTypeProjectManager,
}

// BudgetChecker is the pre-admission view of the cost ledger.
type BudgetChecker interface {
	IsWithinBudget(estimatedCost float64) bool
}

// Queue layers priority/dependency scheduling on a task store and owns
// retry and timeout sweeping. All task state changes flow through it.
type Queue struct {
	store  interfaces.TaskStore
	budget BudgetChecker
	cfg    *config.QueueConfig
	rates  map[string]float64
}

// New creates the queue service. budget may be nil to disable the
// pre-admission check.
func New(store interfaces.TaskStore, budget BudgetChecker, cfg *config.QueueConfig, baseRates map[string]float64) *Queue {
	return &Queue{
		store:  store,
		budget: budget,
		cfg:    cfg,
		rates:  baseRates,
	}
}

// Store exposes the underlying task store for stats queries.
func (q *Queue) Store() interfaces.TaskStore {
	return q.store
}

// Submit validates the request, derives worker type and cost estimate,
// and inserts the task in PENDING.
func (q *Queue) Submit(ctx context.Context, req *model.SubmitRequest) (*model.Task, error) {
	workerType := req.WorkerType
	if workerType == "" {
		mapped, ok := workerTypeMapping[req.Type]
		if !ok {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownWorkerType, req.Type)
		}
		workerType = mapped
	}

	estimate := q.estimateCost(req.Type, req.Parameters)
	if q.budget != nil && !q.budget.IsWithinBudget(estimate) {
		return nil, fmt.Errorf("%w: estimate %.4f", interfaces.ErrBudgetExceeded, estimate)
	}

	priority := req.Priority
	if priority == 0 {
		priority = constants.PriorityMedium
	}
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = q.cfg.TaskTimeout
	}
	maxRetries := q.cfg.MaxRetry
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	task := &model.Task{
		ID:             uuid.New().String(),
		Description:    req.Description,
		Type:           req.Type,
		WorkerType:     workerType,
		Priority:       priority,
		Status:         constants.TaskStatusPending,
		Dependencies:   req.Dependencies,
		Parameters:     req.Parameters,
		MaxRetries:     maxRetries,
		TimeoutSeconds: timeout,
		CostEstimate:   estimate,
		CreatedAt:      time.Now(),
	}

	if err := q.store.Add(ctx, task); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "task %s submitted: type=%s worker=%s priority=%d estimate=%.4f",
		task.ID, task.Type, task.WorkerType, task.Priority, task.CostEstimate)
	return task, nil
}

// estimateCost combines the per-type base rate with parameter-driven
// multipliers: a source_url adds 20% for fetch overhead, and max_posts
// scales linearly against a nominal batch of 10.
func (q *Queue) estimateCost(taskType string, params map[string]interface{}) float64 {
	estimate, ok := q.rates[taskType]
	if !ok {
		estimate = 0.01
	}
	if params == nil {
		return estimate
	}
	if _, ok := params["source_url"]; ok {
		estimate *= 1.2
	}
	if raw, ok := params["max_posts"]; ok {
		if n, ok := toFloat(raw); ok && n > 0 {
			estimate *= n / 10.0
		}
	}
	return estimate
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Claim atomically claims the best ready task for the worker type.
// Absence of work is (nil, nil), never an error.
func (q *Queue) Claim(ctx context.Context, workerType, workerID string) (*model.Task, error) {
	return q.store.ClaimNext(ctx, workerType, workerID)
}

// ensureActive loads the task and rejects transitions out of a terminal
// status, so a worker finishing after an external cancel cannot revive
// the task.
func (q *Queue) ensureActive(ctx context.Context, taskID string) error {
	task, err := q.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return interfaces.ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is already %s", taskID, task.Status)
	}
	return nil
}

// MarkProcessing transitions an assigned task to PROCESSING.
func (q *Queue) MarkProcessing(ctx context.Context, taskID string) error {
	if err := q.ensureActive(ctx, taskID); err != nil {
		return err
	}
	return q.store.Update(ctx, taskID, map[string]interface{}{
		"status":     constants.TaskStatusProcessing,
		"started_at": time.Now(),
	})
}

// MarkCompleted records a successful result. Any error left over from
// an earlier failed attempt is cleared.
func (q *Queue) MarkCompleted(ctx context.Context, taskID string, result map[string]interface{}) error {
	if err := q.ensureActive(ctx, taskID); err != nil {
		return err
	}
	return q.store.Update(ctx, taskID, map[string]interface{}{
		"status":       constants.TaskStatusCompleted,
		"result":       result,
		"error":        "",
		"completed_at": time.Now(),
	})
}

// MarkFailed records a failure; the sweep decides whether it retries.
func (q *Queue) MarkFailed(ctx context.Context, taskID string, taskErr string) error {
	if err := q.ensureActive(ctx, taskID); err != nil {
		return err
	}
	return q.store.Update(ctx, taskID, map[string]interface{}{
		"status":       constants.TaskStatusFailed,
		"error":        taskErr,
		"completed_at": time.Now(),
	})
}

// Cancel transitions a non-terminal task to CANCELLED. A task already
// mid-PROCESSING runs to completion on its worker, but the stored state
// becomes terminal immediately.
func (q *Queue) Cancel(ctx context.Context, taskID string) error {
	if err := q.ensureActive(ctx, taskID); err != nil {
		return err
	}
	return q.store.Update(ctx, taskID, map[string]interface{}{
		"status":       constants.TaskStatusCancelled,
		"completed_at": time.Now(),
	})
}

// Status returns the external status view of a task.
func (q *Queue) Status(ctx context.Context, taskID string) (*model.StatusResponse, error) {
	task, err := q.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, interfaces.ErrTaskNotFound
	}
	return task.ToStatusResponse(), nil
}

// Get returns the full task record.
func (q *Queue) Get(ctx context.Context, taskID string) (*model.Task, error) {
	return q.store.Get(ctx, taskID)
}

// List returns tasks filtered by status and/or worker type.
func (q *Queue) List(ctx context.Context, status constants.TaskStatus, workerType string) ([]*model.Task, error) {
	return q.store.List(ctx, status, workerType)
}

// Stats returns aggregate queue counters.
func (q *Queue) Stats(ctx context.Context) (*model.QueueStats, error) {
	return q.store.Stats(ctx)
}
