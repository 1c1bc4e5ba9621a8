package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"taskpilot/app/handler"
	"taskpilot/internal/jobs"
	"taskpilot/internal/ledger"
	"taskpilot/internal/monitor"
	"taskpilot/internal/orchestrator"
	"taskpilot/internal/queue"
	"taskpilot/internal/ratelimit"
	"taskpilot/internal/supervisor"
	"taskpilot/pkg/config"
	"taskpilot/pkg/interfaces"
	"taskpilot/pkg/logger"
	"taskpilot/pkg/notification"
	mysqlstore "taskpilot/pkg/store/mysql"
	redisstore "taskpilot/pkg/store/redis"
)

// Application manages the lifecycle of the entire application
type Application struct {
	// Infrastructure components
	config      *config.Config
	taskStore   interfaces.TaskStore
	snapshots   interfaces.SnapshotStore
	mysqlRepo   *mysqlstore.Repository
	redisClient *redisstore.RedisClient

	// Core services
	ledger       *ledger.Ledger
	limiter      *ratelimit.Limiter
	queue        *queue.Queue
	supervisors  []*supervisor.Supervisor
	monitor      *monitor.Monitor
	orchestrator *orchestrator.Orchestrator
	notifier     *notification.WebhookNotifier

	// Handler layer
	taskHandler   *handler.TaskHandler
	workerHandler *handler.WorkerHandler
	systemHandler *handler.SystemHandler

	// HTTP server
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Background tasks
	jobsManager *jobs.Manager
	ledgerCron  *cron.Cron

	// Context management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Background task cleanup functions
	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize initializes all application components
func (app *Application) Initialize() error {
	var err error

	// Initialize components in order
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Task Store", app.initTaskStore},
		{"Snapshot Store", app.initSnapshotStore},
		{"Cost Ledger", app.initLedger},
		{"Rate Limiter", app.initRateLimiter},
		{"Queue", app.initQueue},
		{"Workers", app.initWorkers},
		{"Monitor", app.initMonitor},
		{"Orchestrator", app.initOrchestrator},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err = step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed")
	return nil
}

// Start starts all application components
func (app *Application) Start() error {
	logger.InfoCtx(app.ctx, "Starting application components...")

	// 1. Start worker supervisors
	for _, s := range app.supervisors {
		if err := s.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start worker %s: %w", s.ID(), err)
		}
	}
	logger.InfoCtx(app.ctx, "Started %d worker supervisors", len(app.supervisors))

	// 2. Start background tasks
	if app.jobsManager != nil {
		logger.InfoCtx(app.ctx, "Starting background task manager")
		app.jobsManager.Start()
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.jobsManager.Wait()
		}()
	}

	// 3. Start scheduled pipelines and ledger rollover
	if app.orchestrator != nil {
		app.orchestrator.StartSchedules()
	}
	if app.ledgerCron != nil {
		app.ledgerCron.Start()
	}

	// 4. Start HTTP server
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		addr := fmt.Sprintf(":%d", app.config.Server.Port)
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
		}
	}()

	logger.InfoCtx(app.ctx, "All components started successfully")
	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. Stop schedules so no new pipelines are submitted
	if app.orchestrator != nil {
		app.orchestrator.StopSchedules()
	}
	if app.ledgerCron != nil {
		<-app.ledgerCron.Stop().Done()
	}

	// 2. Cancel all background tasks
	logger.InfoCtx(app.ctx, "Canceling background tasks...")
	app.cancel()
	if app.jobsManager != nil {
		app.jobsManager.Stop()
	}

	// 3. Stop worker supervisors
	for _, s := range app.supervisors {
		if err := s.Stop(); err != nil {
			logger.ErrorCtx(app.ctx, "Failed to stop worker %s: %v", s.ID(), err)
		}
	}

	// 4. Stop HTTP server (stop accepting new requests)
	logger.InfoCtx(app.ctx, "Shutting down HTTP server...")
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.ErrorCtx(app.ctx, "HTTP server shutdown error: %v", err)
	}

	// 5. Wait for all background tasks to complete
	logger.InfoCtx(app.ctx, "Waiting for background tasks to complete...")
	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.InfoCtx(app.ctx, "All background tasks completed")
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some tasks may not have completed")
	}

	// 6. Execute all cleanup functions (in reverse registration order)
	logger.InfoCtx(app.ctx, "Executing cleanup functions...")
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}

	// 7. Sync logs
	logger.Sync()

	logger.InfoCtx(app.ctx, "Graceful shutdown completed")
	return nil
}

// registerCleanup registers cleanup function
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}
