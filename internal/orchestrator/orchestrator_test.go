package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/model"
	"taskpilot/internal/queue"
	"taskpilot/internal/supervisor"
	"taskpilot/pkg/config"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/interfaces"
	"taskpilot/pkg/store/sqlite"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	cfg := &config.QueueConfig{MaxRetry: 3, TaskTimeout: 300, SweepInterval: 60, RetryBackoffBase: 5, RetryBackoffCap: 300}
	rates := map[string]float64{
		"scrape_source":     0.01,
		"generate_briefing": 0.05,
		"generate_audio":    0.10,
		"deliver_briefing":  0.02,
	}
	return queue.New(store, nil, cfg, rates)
}

func startWorkers(t *testing.T, q *queue.Queue, executor interfaces.Executor) {
	t.Helper()
	cfg := &config.SupervisorConfig{PollInterval: 1, HeartbeatTimeout: 120, MaxConsecutive: 5}
	for _, workerType := range []string{
		constants.WorkerTypeScraper,
		constants.WorkerTypeSummarizer,
		constants.WorkerTypeDashboard,
		constants.WorkerTypeAudio,
	} {
		s := supervisor.New(workerType, q, nil, executor, cfg)
		require.NoError(t, s.Start(context.Background()))
		t.Cleanup(func() { s.Stop() })
	}
}

func TestRunPipelineHappyPath(t *testing.T) {
	q := newTestQueue(t)
	executor := func(ctx context.Context, task *model.Task) (map[string]interface{}, error) {
		return map[string]interface{}{"task_type": task.Type}, nil
	}
	startWorkers(t, q, executor)

	o := New(q)
	o.PollInterval = 20 * time.Millisecond

	report, err := o.RunPipeline(context.Background(), &PipelineSpec{
		Niche:           "ai",
		Frequency:       "daily",
		Sources:         []string{"https://news.ycombinator.com", "https://techcrunch.com"},
		DeliveryMethods: []string{"email", "audio"},
	})
	require.NoError(t, err)

	assert.Equal(t, "completed", report.Status)
	require.Len(t, report.Phases, 4)
	assert.Equal(t, "collection", report.Phases[0].Name)
	assert.Equal(t, 2, report.Phases[0].Completed)
	assert.Equal(t, "briefing", report.Phases[1].Name)
	assert.Equal(t, "delivery", report.Phases[2].Name)
	assert.Equal(t, "audio", report.Phases[3].Name)
	for _, phase := range report.Phases {
		assert.Zero(t, phase.Failed, phase.Name)
	}
}

func TestRunPipelineSkipsAudioWithoutMethod(t *testing.T) {
	q := newTestQueue(t)
	executor := func(ctx context.Context, task *model.Task) (map[string]interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	}
	startWorkers(t, q, executor)

	o := New(q)
	o.PollInterval = 20 * time.Millisecond

	report, err := o.RunPipeline(context.Background(), &PipelineSpec{
		Niche:           "fintech",
		Frequency:       "weekly",
		Sources:         []string{"https://techcrunch.com"},
		DeliveryMethods: []string{"email"},
	})
	require.NoError(t, err)
	assert.Len(t, report.Phases, 3)
}

func TestRunPipelineRequiresSources(t *testing.T) {
	o := New(newTestQueue(t))
	_, err := o.RunPipeline(context.Background(), &PipelineSpec{Niche: "ai", Frequency: "daily"})
	assert.Error(t, err)
}

func TestWaitForPhaseTimeout(t *testing.T) {
	q := newTestQueue(t)
	task, err := q.Submit(context.Background(), &model.SubmitRequest{
		Description: "never picked up",
		Type:        "scrape_source",
	})
	require.NoError(t, err)

	o := New(q)
	o.PollInterval = 10 * time.Millisecond

	_, err = o.waitForPhase(context.Background(), "collection", []string{task.ID}, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestScheduleRegisters(t *testing.T) {
	o := New(newTestQueue(t))

	id, err := o.Schedule("0 6 * * *", &PipelineSpec{
		Niche:     "ai",
		Frequency: "daily",
		Sources:   []string{"https://news.ycombinator.com"},
	})
	require.NoError(t, err)
	assert.Greater(t, int(id), 0)

	o.StartSchedules()
	o.StopSchedules()
}
