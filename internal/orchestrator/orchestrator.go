package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"taskpilot/internal/model"
	"taskpilot/internal/queue"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/logger"
)

// Default per-phase completion timeouts.
const (
	collectTimeout  = 30 * time.Minute
	briefingTimeout = 15 * time.Minute
	deliveryTimeout = 10 * time.Minute
	audioTimeout    = 20 * time.Minute
)

// PipelineSpec describes one briefing pipeline run.
type PipelineSpec struct {
	Niche           string   `json:"niche"`
	Frequency       string   `json:"frequency"` // daily, weekly
	Sources         []string `json:"sources"`
	DeliveryMethods []string `json:"delivery_methods"` // "audio" adds the audio phase
	MaxPosts        int      `json:"max_posts,omitempty"`
}

// PhaseResult records the tasks of one pipeline phase and their outcome.
type PhaseResult struct {
	Name      string   `json:"name"`
	TaskIDs   []string `json:"task_ids"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
}

// PipelineReport is the completion record of one pipeline run.
type PipelineReport struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Status      string        `json:"status"` // completed, partial, failed
	Phases      []PhaseResult `json:"phases"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Orchestrator drives multi-phase dependent task graphs through the
// queue and schedules recurring pipelines.
type Orchestrator struct {
	queue *queue.Queue
	cron  *cron.Cron

	// PollInterval paces the phase-completion polling.
	PollInterval time.Duration
}

func New(q *queue.Queue) *Orchestrator {
	return &Orchestrator{
		queue:        q,
		cron:         cron.New(),
		PollInterval: 10 * time.Second,
	}
}

// RunPipeline submits the full task graph up front, with later phases
// gated on earlier ones through task dependencies, then polls each
// phase to completion in order.
func (o *Orchestrator) RunPipeline(ctx context.Context, spec *PipelineSpec) (*PipelineReport, error) {
	if len(spec.Sources) == 0 {
		return nil, fmt.Errorf("pipeline for %q has no sources", spec.Niche)
	}

	pipelineID := uuid.New().String()[:8]
	report := &PipelineReport{
		ID:        pipelineID,
		Name:      fmt.Sprintf("%s %s briefing", spec.Niche, spec.Frequency),
		StartedAt: time.Now(),
	}
	logger.InfoCtx(ctx, "pipeline %s started: %s", pipelineID, report.Name)

	// Phase 1: collection fan-out, one scrape task per source.
	scrapeIDs := make([]string, 0, len(spec.Sources))
	for _, source := range spec.Sources {
		params := map[string]interface{}{
			"source_url":    source,
			"niche":         spec.Niche,
			"max_age_hours": 24,
			"pipeline_id":   pipelineID,
		}
		if spec.MaxPosts > 0 {
			params["max_posts"] = spec.MaxPosts
		}
		task, err := o.queue.Submit(ctx, &model.SubmitRequest{
			Description: fmt.Sprintf("Scrape %s for %s news", source, spec.Niche),
			Type:        "scrape_source",
			Priority:    8,
			Parameters:  params,
		})
		if err != nil {
			return nil, fmt.Errorf("submit scrape task: %w", err)
		}
		scrapeIDs = append(scrapeIDs, task.ID)
	}

	// Phase 2: one briefing gated on every scrape task.
	briefing, err := o.queue.Submit(ctx, &model.SubmitRequest{
		Description:  fmt.Sprintf("Generate %s briefing for %s", spec.Frequency, spec.Niche),
		Type:         "generate_briefing",
		Priority:     9,
		Dependencies: scrapeIDs,
		Parameters: map[string]interface{}{
			"niche":       spec.Niche,
			"frequency":   spec.Frequency,
			"pipeline_id": pipelineID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("submit briefing task: %w", err)
	}

	// Phase 3: delivery gated on the briefing.
	delivery, err := o.queue.Submit(ctx, &model.SubmitRequest{
		Description:  fmt.Sprintf("Deliver %s briefing", spec.Niche),
		Type:         "deliver_briefing",
		Priority:     9,
		Dependencies: []string{briefing.ID},
		Parameters: map[string]interface{}{
			"briefing_task":    briefing.ID,
			"delivery_methods": spec.DeliveryMethods,
			"pipeline_id":      pipelineID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("submit delivery task: %w", err)
	}

	// Phase 4: optional audio rendition, also gated on the briefing.
	var audioIDs []string
	if contains(spec.DeliveryMethods, "audio") {
		audio, err := o.queue.Submit(ctx, &model.SubmitRequest{
			Description:  fmt.Sprintf("Generate audio briefing for %s", spec.Niche),
			Type:         "generate_audio",
			Priority:     7,
			Dependencies: []string{briefing.ID},
			Parameters: map[string]interface{}{
				"briefing_task": briefing.ID,
				"pipeline_id":   pipelineID,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("submit audio task: %w", err)
		}
		audioIDs = []string{audio.ID}
	}

	phases := []struct {
		name    string
		ids     []string
		timeout time.Duration
	}{
		{"collection", scrapeIDs, collectTimeout},
		{"briefing", []string{briefing.ID}, briefingTimeout},
		{"delivery", []string{delivery.ID}, deliveryTimeout},
	}
	if len(audioIDs) > 0 {
		phases = append(phases, struct {
			name    string
			ids     []string
			timeout time.Duration
		}{"audio", audioIDs, audioTimeout})
	}

	failed := false
	for _, phase := range phases {
		result, err := o.waitForPhase(ctx, phase.name, phase.ids, phase.timeout)
		if err != nil {
			report.Status = "failed"
			report.CompletedAt = time.Now()
			return report, err
		}
		report.Phases = append(report.Phases, *result)
		if result.Failed > 0 {
			failed = true
		}
	}

	report.CompletedAt = time.Now()
	if failed {
		report.Status = "partial"
	} else {
		report.Status = "completed"
	}
	logger.InfoCtx(ctx, "pipeline %s %s in %s", pipelineID, report.Status,
		report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return report, nil
}

// waitForPhase polls until every task in the phase is terminal.
func (o *Orchestrator) waitForPhase(ctx context.Context, name string, ids []string, timeout time.Duration) (*PhaseResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(o.PollInterval)
	defer ticker.Stop()

	for {
		result := &PhaseResult{Name: name, TaskIDs: ids}
		terminal := 0
		for _, id := range ids {
			task, err := o.queue.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("poll task %s: %w", id, err)
			}
			if task == nil || !task.Status.Terminal() {
				continue
			}
			terminal++
			if task.Status == constants.TaskStatusCompleted {
				result.Completed++
			} else {
				result.Failed++
			}
		}
		if terminal == len(ids) {
			logger.Infof("pipeline phase %s done: %d completed, %d failed", name, result.Completed, result.Failed)
			return result, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("phase %s timed out after %s (%d/%d terminal)", name, timeout, terminal, len(ids))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Schedule registers a recurring pipeline on a cron expression.
func (o *Orchestrator) Schedule(cronExpr string, spec *PipelineSpec) (cron.EntryID, error) {
	return o.cron.AddFunc(cronExpr, func() {
		ctx := context.Background()
		if _, err := o.RunPipeline(ctx, spec); err != nil {
			logger.Errorf("scheduled pipeline %s: %v", spec.Niche, err)
		}
	})
}

// StartSchedules begins running registered cron schedules.
func (o *Orchestrator) StartSchedules() {
	o.cron.Start()
}

// StopSchedules stops the cron scheduler, waiting for running entries.
func (o *Orchestrator) StopSchedules() {
	ctx := o.cron.Stop()
	<-ctx.Done()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
