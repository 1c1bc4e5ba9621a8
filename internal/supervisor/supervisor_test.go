package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/model"
	"taskpilot/internal/queue"
	"taskpilot/pkg/config"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/store/sqlite"
)

type stubBudget struct{ allowed atomic.Bool }

func (b *stubBudget) WorkerHasBudget(string) bool { return b.allowed.Load() }

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cfg := &config.QueueConfig{MaxRetry: 3, TaskTimeout: 300, SweepInterval: 60, RetryBackoffBase: 5, RetryBackoffCap: 300}
	rates := map[string]float64{"scrape_source": 0.01, "generate_briefing": 0.05}
	return queue.New(store, nil, cfg, rates)
}

func testSupervisorConfig() *config.SupervisorConfig {
	return &config.SupervisorConfig{PollInterval: 1, HeartbeatTimeout: 120, MaxConsecutive: 5}
}

func submit(t *testing.T, q *queue.Queue, taskType string) *model.Task {
	t.Helper()
	task, err := q.Submit(context.Background(), &model.SubmitRequest{
		Description: "test " + taskType,
		Type:        taskType,
	})
	require.NoError(t, err)
	return task
}

func waitForStatus(t *testing.T, q *queue.Queue, taskID string, want constants.TaskStatus) *model.Task {
	t.Helper()
	var got *model.Task
	require.Eventually(t, func() bool {
		task, err := q.Get(context.Background(), taskID)
		if err != nil || task == nil {
			return false
		}
		got = task
		return task.Status == want
	}, 5*time.Second, 20*time.Millisecond)
	return got
}

func TestExecutesClaimedTask(t *testing.T) {
	q := newTestQueue(t)
	task := submit(t, q, "scrape_source")

	executor := func(ctx context.Context, task *model.Task) (map[string]interface{}, error) {
		return map[string]interface{}{"posts": 12.0}, nil
	}
	s := New(constants.WorkerTypeScraper, q, nil, executor, testSupervisorConfig())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	got := waitForStatus(t, q, task.ID, constants.TaskStatusCompleted)
	assert.Equal(t, map[string]interface{}{"posts": 12.0}, got.Result)
	assert.Equal(t, s.ID(), got.AssignedWorker)

	require.Eventually(t, func() bool {
		return s.Record().TasksCompleted == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.Equal(t, constants.WorkerStatusStopped, s.Record().Status)
}

func TestExecutorErrorMarksFailed(t *testing.T) {
	q := newTestQueue(t)
	task := submit(t, q, "generate_briefing")

	executor := func(ctx context.Context, task *model.Task) (map[string]interface{}, error) {
		return nil, errors.New("llm upstream 429")
	}
	s := New(constants.WorkerTypeSummarizer, q, nil, executor, testSupervisorConfig())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	got := waitForStatus(t, q, task.ID, constants.TaskStatusFailed)
	assert.Equal(t, "llm upstream 429", got.Error)

	require.Eventually(t, func() bool {
		return s.Record().ErrorCount == 1
	}, time.Second, 10*time.Millisecond)
}

func TestExecutorPanicRecovered(t *testing.T) {
	q := newTestQueue(t)
	task := submit(t, q, "scrape_source")

	executor := func(ctx context.Context, task *model.Task) (map[string]interface{}, error) {
		panic("nil feed entry")
	}
	s := New(constants.WorkerTypeScraper, q, nil, executor, testSupervisorConfig())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	got := waitForStatus(t, q, task.ID, constants.TaskStatusFailed)
	assert.Contains(t, got.Error, "executor panic")
}

func TestPauseAndResume(t *testing.T) {
	q := newTestQueue(t)

	executor := func(ctx context.Context, task *model.Task) (map[string]interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	}
	s := New(constants.WorkerTypeScraper, q, nil, executor, testSupervisorConfig())
	s.Pause()
	s.Pause()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	task := submit(t, q, "scrape_source")
	time.Sleep(100 * time.Millisecond)
	got, err := q.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.TaskStatusPending, got.Status)
	assert.Equal(t, constants.WorkerStatusPaused, s.Record().Status)

	s.Resume()
	waitForStatus(t, q, task.ID, constants.TaskStatusCompleted)
	assert.Equal(t, constants.WorkerStatusActive, s.Record().Status)
}

func TestBudgetExhaustionPausesWorker(t *testing.T) {
	q := newTestQueue(t)
	submit(t, q, "scrape_source")

	budget := &stubBudget{}
	executor := func(ctx context.Context, task *model.Task) (map[string]interface{}, error) {
		return nil, nil
	}
	s := New(constants.WorkerTypeScraper, q, budget, executor, testSupervisorConfig())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool {
		return s.Record().Status == constants.WorkerStatusPaused
	}, time.Second, 10*time.Millisecond)

	health := s.Health()
	assert.Equal(t, constants.WorkerHealthBudgetLimited, health.Status)
	assert.False(t, health.HasBudget)
}

func TestHealthDegradedOnErrorRate(t *testing.T) {
	q := newTestQueue(t)
	s := New(constants.WorkerTypeScraper, q, nil, nil, testSupervisorConfig())

	s.mu.Lock()
	s.record.TasksCompleted = 8
	s.record.ErrorCount = 2
	s.record.LastActivity = time.Now()
	s.mu.Unlock()

	health := s.Health()
	assert.Equal(t, constants.WorkerHealthDegraded, health.Status)
	assert.InDelta(t, 0.2, health.ErrorRate, 1e-9)
}

func TestHealthUnresponsive(t *testing.T) {
	q := newTestQueue(t)
	cfg := &config.SupervisorConfig{PollInterval: 1, HeartbeatTimeout: 1, MaxConsecutive: 5}
	s := New(constants.WorkerTypeScraper, q, nil, nil, cfg)

	s.mu.Lock()
	s.record.LastActivity = time.Now().Add(-time.Minute)
	s.mu.Unlock()

	assert.Equal(t, constants.WorkerHealthUnresponsive, s.Health().Status)
}

func TestDependencyChainCompletesInOrder(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	scrape, err := q.Submit(ctx, &model.SubmitRequest{Description: "scrape", Type: "scrape_source"})
	require.NoError(t, err)
	brief, err := q.Submit(ctx, &model.SubmitRequest{
		Description:  "brief",
		Type:         "generate_briefing",
		Dependencies: []string{scrape.ID},
	})
	require.NoError(t, err)

	var order []string
	done := make(chan string, 2)
	executor := func(ctx context.Context, task *model.Task) (map[string]interface{}, error) {
		done <- task.ID
		return map[string]interface{}{"done": true}, nil
	}

	scraper := New(constants.WorkerTypeScraper, q, nil, executor, testSupervisorConfig())
	summarizer := New(constants.WorkerTypeSummarizer, q, nil, executor, testSupervisorConfig())
	require.NoError(t, scraper.Start(ctx))
	require.NoError(t, summarizer.Start(ctx))
	defer scraper.Stop()
	defer summarizer.Stop()

	for i := 0; i < 2; i++ {
		select {
		case id := <-done:
			order = append(order, id)
		case <-time.After(5 * time.Second):
			t.Fatal("pipeline did not finish")
		}
	}
	assert.Equal(t, []string{scrape.ID, brief.ID}, order)

	waitForStatus(t, q, brief.ID, constants.TaskStatusCompleted)
}
