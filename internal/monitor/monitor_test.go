package monitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/internal/model"
	"taskpilot/pkg/config"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/store/file"
)

type fakeWorker struct {
	id     string
	typ    string
	status constants.WorkerStatus
	health constants.WorkerHealth
	stops  atomic.Int32
	pauses atomic.Int32
}

func (f *fakeWorker) ID() string   { return f.id }
func (f *fakeWorker) Type() string { return f.typ }

func (f *fakeWorker) Start(ctx context.Context) error { return nil }

func (f *fakeWorker) Stop() error {
	f.stops.Add(1)
	f.status = constants.WorkerStatusStopped
	return nil
}

func (f *fakeWorker) Pause() {
	f.pauses.Add(1)
	f.status = constants.WorkerStatusPaused
}

func (f *fakeWorker) Resume() { f.status = constants.WorkerStatusActive }

func (f *fakeWorker) Health() *model.WorkerHealthReport {
	return &model.WorkerHealthReport{
		WorkerID:   f.id,
		WorkerType: f.typ,
		Status:     f.health,
		HasBudget:  true,
	}
}

func (f *fakeWorker) Record() *model.WorkerRecord {
	return &model.WorkerRecord{ID: f.id, Type: f.typ, Status: f.status}
}

type fakeLedger struct{ util, remaining float64 }

func (f *fakeLedger) Utilization() float64     { return f.util }
func (f *fakeLedger) RemainingBudget() float64 { return f.remaining }

type fakeQueue struct{ pending int64 }

func (f *fakeQueue) Stats(ctx context.Context) (*model.QueueStats, error) {
	return &model.QueueStats{
		Total:    f.pending,
		ByStatus: map[string]int64{constants.TaskStatusPending.String(): f.pending},
	}, nil
}

func testMonitorConfig(signalDir string) *config.MonitorConfig {
	return &config.MonitorConfig{
		HealthInterval:  1,
		CostInterval:    1,
		QueueInterval:   1,
		SignalInterval:  1,
		SignalDir:       signalDir,
		QueueBacklogMax: 100,
		ErrorRateWarn:   0.1,
		ErrorRateCrit:   0.2,
	}
}

func newTestMonitor(t *testing.T, led *fakeLedger, q *fakeQueue) *Monitor {
	t.Helper()
	dir := t.TempDir()
	store, err := file.New(dir)
	require.NoError(t, err)
	signals, err := NewFileSignalSource(filepath.Join(dir, "signals"))
	require.NoError(t, err)
	if led == nil {
		led = &fakeLedger{util: 0.1, remaining: 9.0}
	}
	var qv QueueView
	if q != nil {
		qv = q
	}
	return New(testMonitorConfig(filepath.Join(dir, "signals")), led, qv, store, nil, signals,
		[]string{constants.WorkerTypeScraper, constants.WorkerTypeProjectManager})
}

func activeWorker(id, typ string) *fakeWorker {
	return &fakeWorker{id: id, typ: typ, status: constants.WorkerStatusActive, health: constants.WorkerHealthHealthy}
}

func TestSnapshotHealthy(t *testing.T) {
	m := newTestMonitor(t, nil, &fakeQueue{pending: 3})
	m.RegisterWorker(activeWorker("w1", constants.WorkerTypeScraper))
	m.RegisterWorker(activeWorker("w2", constants.WorkerTypeAudio))

	snap := m.Snapshot(context.Background())
	assert.Equal(t, constants.SystemHealthHealthy, snap.Health)
	assert.Equal(t, 2, snap.ActiveWorkers)
	assert.Equal(t, 2, snap.TotalWorkers)
	require.NotNil(t, snap.Queue)
	assert.Equal(t, int64(3), snap.Queue.Total)
}

func TestClassifyThresholds(t *testing.T) {
	cases := []struct {
		name string
		snap model.SystemSnapshot
		want constants.SystemHealth
	}{
		{"shutdown", model.SystemSnapshot{ShutdownActive: true}, constants.SystemHealthEmergency},
		{"over budget", model.SystemSnapshot{CostUtilization: 1.2}, constants.SystemHealthCritical},
		{"high errors", model.SystemSnapshot{ErrorRate: 0.3}, constants.SystemHealthCritical},
		{"budget pressure", model.SystemSnapshot{CostUtilization: 0.85}, constants.SystemHealthDegraded},
		{"elevated errors", model.SystemSnapshot{ErrorRate: 0.15}, constants.SystemHealthDegraded},
		{"workers down", model.SystemSnapshot{ActiveWorkers: 1, TotalWorkers: 4}, constants.SystemHealthDegraded},
		{"nominal", model.SystemSnapshot{ActiveWorkers: 4, TotalWorkers: 4}, constants.SystemHealthHealthy},
	}

	m := newTestMonitor(t, nil, nil)
	for _, tc := range cases {
		snap := tc.snap
		assert.Equal(t, tc.want, m.classify(&snap), tc.name)
	}
}

func TestPauseNonEssentialWorkers(t *testing.T) {
	m := newTestMonitor(t, nil, nil)
	scraper := activeWorker("w1", constants.WorkerTypeScraper)
	audio := activeWorker("w2", constants.WorkerTypeAudio)
	m.RegisterWorker(scraper)
	m.RegisterWorker(audio)

	require.NoError(t, m.PauseNonEssentialWorkers(context.Background()))
	assert.Equal(t, int32(0), scraper.pauses.Load())
	assert.Equal(t, int32(1), audio.pauses.Load())

	alerts := m.RecentAlerts(1)
	require.Len(t, alerts, 1)
	assert.Equal(t, string(constants.ActionPauseNonEssential), alerts[0].ActionTaken)
	assert.Equal(t, 1.0, alerts[0].CurrentValue)
}

func TestEmergencyShutdownIdempotent(t *testing.T) {
	m := newTestMonitor(t, nil, nil)
	w := activeWorker("w1", constants.WorkerTypeAudio)
	m.RegisterWorker(w)

	var hookRuns atomic.Int32
	m.OnShutdown(func() { hookRuns.Add(1) })

	ctx := context.Background()
	require.NoError(t, m.TriggerEmergencyShutdown(ctx, "daily cost limit exceeded"))
	require.NoError(t, m.TriggerEmergencyShutdown(ctx, "second trigger"))

	assert.True(t, m.ShutdownActive())
	assert.Equal(t, "daily cost limit exceeded", m.ShutdownReason())
	assert.Equal(t, int32(1), w.stops.Load())
	assert.Equal(t, int32(1), hookRuns.Load())

	alerts := m.RecentAlerts(10)
	require.NotEmpty(t, alerts)
	assert.Equal(t, constants.SeverityEmergency, alerts[len(alerts)-1].Severity)
	assert.Equal(t, string(constants.ActionEmergencyShutdown), alerts[len(alerts)-1].ActionTaken)
}

func TestEmergencyShutdownConcurrentTriggers(t *testing.T) {
	m := newTestMonitor(t, nil, nil)
	w := activeWorker("w1", constants.WorkerTypeAudio)
	m.RegisterWorker(w)

	var hookRuns atomic.Int32
	m.OnShutdown(func() { hookRuns.Add(1) })

	const callers = 8
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_ = m.TriggerEmergencyShutdown(context.Background(), "race")
		}()
	}
	wg.Wait()

	assert.True(t, m.ShutdownActive())
	assert.Equal(t, int32(1), w.stops.Load())
	assert.Equal(t, int32(1), hookRuns.Load())
}

func TestShutdownSignalFile(t *testing.T) {
	m := newTestMonitor(t, nil, nil)
	path := filepath.Join(m.cfg.SignalDir, constants.SignalEmergencyShutdown)
	require.NoError(t, os.WriteFile(path, []byte("operator pulled the plug\n"), 0o644))

	require.NoError(t, m.runSignalCheck(context.Background()))

	assert.True(t, m.ShutdownActive())
	assert.Equal(t, "operator pulled the plug", m.ShutdownReason())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPauseSignalFile(t *testing.T) {
	m := newTestMonitor(t, nil, nil)
	audio := activeWorker("w1", constants.WorkerTypeAudio)
	m.RegisterWorker(audio)

	path := filepath.Join(m.cfg.SignalDir, constants.SignalPauseNonEssential)
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	require.NoError(t, m.runSignalCheck(context.Background()))

	assert.Equal(t, int32(1), audio.pauses.Load())
	assert.False(t, m.ShutdownActive())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCostCheckEscalatesOnce(t *testing.T) {
	led := &fakeLedger{util: 0.75, remaining: 2.5}
	m := newTestMonitor(t, led, nil)
	ctx := context.Background()

	require.NoError(t, m.runCostCheck(ctx))
	require.NoError(t, m.runCostCheck(ctx))
	alerts := m.RecentAlerts(0)
	require.Len(t, alerts, 1)
	assert.Equal(t, 0.75, alerts[0].CurrentValue)
	assert.Equal(t, 0.7, alerts[0].Threshold)

	led.util = 0.95
	require.NoError(t, m.runCostCheck(ctx))
	alerts = m.RecentAlerts(1)
	require.Len(t, alerts, 1)
	assert.Equal(t, constants.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, 0.95, alerts[0].CurrentValue)
	assert.Equal(t, 0.9, alerts[0].Threshold)
	assert.False(t, m.ShutdownActive())

	led.util = 1.05
	require.NoError(t, m.runCostCheck(ctx))
	assert.True(t, m.ShutdownActive())
}

func TestQueueBacklogAlert(t *testing.T) {
	m := newTestMonitor(t, nil, &fakeQueue{pending: 500})

	require.NoError(t, m.runQueueCheck(context.Background()))

	alerts := m.RecentAlerts(1)
	require.Len(t, alerts, 1)
	assert.Equal(t, constants.SeverityWarning, alerts[0].Severity)
	assert.Equal(t, "queue", alerts[0].Source)
	assert.Equal(t, 500.0, alerts[0].CurrentValue)
	assert.Equal(t, 100.0, alerts[0].Threshold)
}

func TestWorkerHealthAlerts(t *testing.T) {
	m := newTestMonitor(t, nil, nil)
	sick := activeWorker("w1", constants.WorkerTypeAudio)
	sick.health = constants.WorkerHealthUnresponsive
	m.RegisterWorker(sick)

	require.NoError(t, m.runWorkerHealthCheck(context.Background()))

	alerts := m.RecentAlerts(0)
	require.NotEmpty(t, alerts)
	assert.Equal(t, constants.SeverityCritical, alerts[0].Severity)
}

func TestAlertRetention(t *testing.T) {
	m := newTestMonitor(t, nil, nil)
	m.RaiseAlert(context.Background(), constants.SeverityInfo, "monitor", "stale")
	m.mu.Lock()
	m.alerts[0].CreatedAt = time.Now().Add(-8 * 24 * time.Hour)
	m.mu.Unlock()
	m.RaiseAlert(context.Background(), constants.SeverityInfo, "monitor", "fresh")

	m.pruneAlerts(time.Now())

	alerts := m.RecentAlerts(0)
	require.Len(t, alerts, 1)
	assert.Equal(t, "fresh", alerts[0].Message)
}
