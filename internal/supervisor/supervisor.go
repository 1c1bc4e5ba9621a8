package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/model"
	"taskpilot/internal/queue"
	"taskpilot/pkg/config"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/interfaces"
	"taskpilot/pkg/logger"
)

// BudgetGate is the slice of the cost ledger the poll loop consults
// before claiming work.
type BudgetGate interface {
	WorkerHasBudget(workerID string) bool
}

// Supervisor runs the claim/execute poll loop for one worker identity.
// Task state changes go through the queue service, never the store.
type Supervisor struct {
	id         string
	workerType string
	queue      *queue.Queue
	budget     BudgetGate
	executor   interfaces.Executor
	cfg        *config.SupervisorConfig

	mu          sync.Mutex
	record      model.WorkerRecord
	paused      bool
	consecutive int

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a supervisor for one worker type. The executor is the
// only place domain work happens.
func New(workerType string, q *queue.Queue, budget BudgetGate, executor interfaces.Executor, cfg *config.SupervisorConfig) *Supervisor {
	id := fmt.Sprintf("%s-%s", workerType, uuid.New().String()[:8])
	return &Supervisor{
		id:         id,
		workerType: workerType,
		queue:      q,
		budget:     budget,
		executor:   executor,
		cfg:        cfg,
		record: model.WorkerRecord{
			ID:     id,
			Type:   workerType,
			Status: constants.WorkerStatusInitializing,
		},
	}
}

func (s *Supervisor) ID() string { return s.id }

func (s *Supervisor) Type() string { return s.workerType }

// Start launches the poll loop. Calling Start on a running supervisor
// is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	now := time.Now()
	if s.paused {
		s.record.Status = constants.WorkerStatusPaused
	} else {
		s.record.Status = constants.WorkerStatusActive
	}
	s.record.StartedAt = now
	s.record.LastActivity = now
	s.mu.Unlock()

	logger.Infof("worker %s started", s.id)
	go s.loop(loopCtx)
	return nil
}

// Stop cancels the loop and waits for it to drain. Idempotent.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.record.Status = constants.WorkerStatusStopped
	s.mu.Unlock()
	logger.Infof("worker %s stopped", s.id)
	return nil
}

// Pause keeps the loop alive but idle. Idempotent.
func (s *Supervisor) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	if s.running {
		s.record.Status = constants.WorkerStatusPaused
	}
	logger.Infof("worker %s paused", s.id)
}

// Resume re-enables claiming. Idempotent.
func (s *Supervisor) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	s.consecutive = 0
	if s.running {
		s.record.Status = constants.WorkerStatusActive
	}
	logger.Infof("worker %s resumed", s.id)
}

func (s *Supervisor) loop(ctx context.Context) {
	defer close(s.done)

	idle := time.Duration(s.cfg.PollInterval) * time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		worked, err := s.tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.noteError(err)
			if !s.sleep(ctx, idle) {
				return
			}
			continue
		}
		s.clearError()

		if !worked {
			if !s.sleep(ctx, idle) {
				return
			}
		}
	}
}

// tick runs one poll iteration. It reports whether a task was executed
// so the loop can skip the idle sleep while the queue has work.
func (s *Supervisor) tick(ctx context.Context) (bool, error) {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if paused {
		return false, nil
	}

	if s.budget != nil && !s.budget.WorkerHasBudget(s.id) {
		logger.Warnf("worker %s out of budget, pausing", s.id)
		s.Pause()
		return false, nil
	}

	task, err := s.queue.Claim(ctx, s.workerType, s.id)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if task == nil {
		s.touch()
		return false, nil
	}

	s.execute(ctx, task)
	return true, nil
}

func (s *Supervisor) execute(ctx context.Context, task *model.Task) {
	s.touch()
	if err := s.queue.MarkProcessing(ctx, task.ID); err != nil {
		logger.Errorf("worker %s: mark %s processing: %v", s.id, task.ID, err)
		return
	}

	result, err := s.invoke(ctx, task)
	s.touch()
	if err != nil {
		if failErr := s.queue.MarkFailed(ctx, task.ID, err.Error()); failErr != nil {
			logger.Errorf("worker %s: mark %s failed: %v", s.id, task.ID, failErr)
		}
		s.mu.Lock()
		s.record.ErrorCount++
		s.mu.Unlock()
		logger.Warnf("worker %s: task %s failed: %v", s.id, task.ID, err)
		return
	}

	if err := s.queue.MarkCompleted(ctx, task.ID, result); err != nil {
		logger.Errorf("worker %s: mark %s completed: %v", s.id, task.ID, err)
		return
	}
	s.mu.Lock()
	s.record.TasksCompleted++
	s.mu.Unlock()
	logger.Infof("worker %s completed task %s", s.id, task.ID)
}

// invoke shields the loop from executor panics.
func (s *Supervisor) invoke(ctx context.Context, task *model.Task) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return s.executor(ctx, task)
}

func (s *Supervisor) noteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive++
	s.record.ErrorCount++
	s.record.Status = constants.WorkerStatusError
	logger.Errorf("worker %s loop error (%d consecutive): %v", s.id, s.consecutive, err)
	if s.cfg.MaxConsecutive > 0 && s.consecutive >= s.cfg.MaxConsecutive {
		s.paused = true
		s.record.Status = constants.WorkerStatusPaused
		logger.Warnf("worker %s paused after %d consecutive loop errors", s.id, s.consecutive)
	}
}

func (s *Supervisor) clearError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive = 0
	if s.running && !s.paused && s.record.Status == constants.WorkerStatusError {
		s.record.Status = constants.WorkerStatusActive
	}
}

func (s *Supervisor) touch() {
	s.mu.Lock()
	s.record.LastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Record returns a copy of the live worker counters.
func (s *Supervisor) Record() *model.WorkerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record
	return &rec
}

// Health derives the health classification from the live counters.
func (s *Supervisor) Health() *model.WorkerHealthReport {
	s.mu.Lock()
	rec := s.record
	s.mu.Unlock()

	hasBudget := true
	if s.budget != nil {
		hasBudget = s.budget.WorkerHasBudget(s.id)
	}

	var errorRate float64
	if total := rec.TasksCompleted + rec.ErrorCount; total > 0 {
		errorRate = float64(rec.ErrorCount) / float64(total)
	}

	status := constants.WorkerHealthHealthy
	switch {
	case s.cfg.HeartbeatTimeout > 0 && !rec.LastActivity.IsZero() &&
		time.Since(rec.LastActivity) > time.Duration(s.cfg.HeartbeatTimeout)*time.Second:
		status = constants.WorkerHealthUnresponsive
	case errorRate > 0.1:
		status = constants.WorkerHealthDegraded
	case !hasBudget:
		status = constants.WorkerHealthBudgetLimited
	}

	return &model.WorkerHealthReport{
		WorkerID:     rec.ID,
		WorkerType:   rec.Type,
		Status:       status,
		ErrorRate:    errorRate,
		HasBudget:    hasBudget,
		LastActivity: rec.LastActivity,
	}
}

var _ interfaces.WorkerController = (*Supervisor)(nil)
