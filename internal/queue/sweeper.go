package queue

import (
	"context"
	"time"

	"taskpilot/pkg/config"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/logger"
)

// Sweeper periodically reclassifies stuck tasks: PROCESSING past its
// timeout becomes FAILED, and FAILED with retries left goes back to
// PENDING behind an exponential backoff.
type Sweeper struct {
	queue *Queue
	cfg   *config.QueueConfig
	now   func() time.Time
}

func NewSweeper(q *Queue, cfg *config.QueueConfig) *Sweeper {
	return &Sweeper{queue: q, cfg: cfg, now: time.Now}
}

func (s *Sweeper) Name() string { return "queue_sweeper" }

func (s *Sweeper) Interval() time.Duration {
	return time.Duration(s.cfg.SweepInterval) * time.Second
}

func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.sweepTimeouts(ctx); err != nil {
		return err
	}
	return s.sweepRetries(ctx)
}

func (s *Sweeper) sweepTimeouts(ctx context.Context) error {
	tasks, err := s.queue.List(ctx, constants.TaskStatusProcessing, "")
	if err != nil {
		return err
	}
	now := s.now()
	for _, task := range tasks {
		if task.StartedAt == nil || task.TimeoutSeconds <= 0 {
			continue
		}
		deadline := task.StartedAt.Add(time.Duration(task.TimeoutSeconds) * time.Second)
		if now.Before(deadline) {
			continue
		}
		err := s.queue.store.Update(ctx, task.ID, map[string]interface{}{
			"status":       constants.TaskStatusFailed,
			"error":        "task timed out",
			"completed_at": now,
		})
		if err != nil {
			logger.Errorf("sweep: mark %s timed out: %v", task.ID, err)
			continue
		}
		logger.Warnf("task %s timed out after %ds on worker %s", task.ID, task.TimeoutSeconds, task.AssignedWorker)
	}
	return nil
}

func (s *Sweeper) sweepRetries(ctx context.Context) error {
	tasks, err := s.queue.List(ctx, constants.TaskStatusFailed, "")
	if err != nil {
		return err
	}
	now := s.now()
	for _, task := range tasks {
		if task.RetryCount >= task.MaxRetries {
			continue
		}
		retries := task.RetryCount + 1
		err := s.queue.store.Update(ctx, task.ID, map[string]interface{}{
			"status":          constants.TaskStatusPending,
			"retry_count":     retries,
			"error":           "",
			"assigned_worker": "",
			"assigned_at":     (*time.Time)(nil),
			"started_at":      (*time.Time)(nil),
			"completed_at":    (*time.Time)(nil),
			"not_before":      now.Add(s.backoff(retries)),
		})
		if err != nil {
			logger.Errorf("sweep: requeue %s: %v", task.ID, err)
			continue
		}
		logger.Infof("task %s requeued, retry %d/%d", task.ID, retries, task.MaxRetries)
	}
	return nil
}

// backoff doubles per attempt from the configured base, capped.
func (s *Sweeper) backoff(retries int) time.Duration {
	secs := s.cfg.RetryBackoffBase
	for i := 1; i < retries; i++ {
		secs *= 2
		if secs >= s.cfg.RetryBackoffCap {
			secs = s.cfg.RetryBackoffCap
			break
		}
	}
	if secs > s.cfg.RetryBackoffCap {
		secs = s.cfg.RetryBackoffCap
	}
	return time.Duration(secs) * time.Second
}
