package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"taskpilot/app/handler"
	"taskpilot/app/router"
	"taskpilot/internal/ledger"
	"taskpilot/internal/model"
	"taskpilot/internal/monitor"
	"taskpilot/internal/orchestrator"
	"taskpilot/internal/queue"
	"taskpilot/internal/ratelimit"
	"taskpilot/internal/supervisor"
	"taskpilot/pkg/config"
	"taskpilot/pkg/constants"
	"taskpilot/pkg/interfaces"
	"taskpilot/pkg/logger"
	"taskpilot/pkg/notification"
	filestore "taskpilot/pkg/store/file"
	mysqlstore "taskpilot/pkg/store/mysql"
	redisstore "taskpilot/pkg/store/redis"
	sqlitestore "taskpilot/pkg/store/sqlite"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.Sync()
		logger.InfoCtx(app.ctx, "Logging system has been closed")
	})
	return nil
}

// initTaskStore selects and opens the queue storage backend
func (app *Application) initTaskStore() error {
	switch app.config.Store.Backend {
	case "redis":
		client, err := redisstore.NewRedisClient(app.config)
		if err != nil {
			return err
		}
		app.redisClient = client
		app.taskStore = redisstore.NewTaskStore(client.GetClient())
		app.registerCleanup(func() {
			client.Close()
			logger.InfoCtx(app.ctx, "Redis connection has been closed")
		})
		logger.InfoCtx(app.ctx, "Task store backend: redis (%s)", app.config.Redis.Addr)

	case "sqlite":
		store, err := sqlitestore.New(app.config.Store.SQLite.Path)
		if err != nil {
			return err
		}
		app.taskStore = store
		app.registerCleanup(func() {
			store.Close()
			logger.InfoCtx(app.ctx, "SQLite store has been closed")
		})
		logger.InfoCtx(app.ctx, "Task store backend: sqlite (%s)", app.config.Store.SQLite.Path)

	default:
		return fmt.Errorf("unknown store backend: %q", app.config.Store.Backend)
	}
	return nil
}

// initSnapshotStore opens ledger persistence, MySQL when enabled
func (app *Application) initSnapshotStore() error {
	if app.config.MySQL.Enabled {
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			app.config.MySQL.User,
			app.config.MySQL.Password,
			app.config.MySQL.Host,
			app.config.MySQL.Port,
			app.config.MySQL.Database,
		)

		repo, err := mysqlstore.NewRepository(dsn)
		if err != nil {
			return err
		}

		app.mysqlRepo = repo
		app.snapshots = repo.Ledger
		app.registerCleanup(func() {
			repo.Close()
			logger.InfoCtx(app.ctx, "MySQL connection has been closed")
		})
		return nil
	}

	store, err := filestore.New(app.config.Ledger.SnapshotDir)
	if err != nil {
		return err
	}
	app.snapshots = store
	return nil
}

// initLedger initializes the cost ledger
func (app *Application) initLedger() error {
	led, err := ledger.New(&app.config.Ledger, app.snapshots)
	if err != nil {
		return err
	}
	app.ledger = led
	app.notifier = notification.NewWebhookNotifier(&app.config.Notifier)
	return nil
}

// initRateLimiter initializes external service pacing
func (app *Application) initRateLimiter() error {
	app.limiter = ratelimit.New(&app.config.RateLimits)
	return nil
}

// initQueue initializes the task queue service
func (app *Application) initQueue() error {
	app.queue = queue.New(app.taskStore, app.ledger, &app.config.Queue, app.config.Ledger.BaseRates)
	return nil
}

// initWorkers builds the supervisor pool from configuration
func (app *Application) initWorkers() error {
	for workerType, count := range app.config.Workers.Pool {
		for i := 0; i < count; i++ {
			s := supervisor.New(workerType, app.queue, app.ledger, app.newExecutor(workerType), &app.config.Supervisor)
			app.supervisors = append(app.supervisors, s)
		}
	}
	if len(app.supervisors) == 0 {
		return fmt.Errorf("worker pool is empty")
	}
	return nil
}

// initMonitor initializes the system monitor and wires it to the ledger
func (app *Application) initMonitor() error {
	signals, err := monitor.NewFileSignalSource(app.config.Monitor.SignalDir)
	if err != nil {
		return err
	}

	app.monitor = monitor.New(&app.config.Monitor, app.ledger, app.queue,
		app.snapshots, app.notifier, signals, app.config.Ledger.EssentialTypes)

	for _, s := range app.supervisors {
		app.monitor.RegisterWorker(s)
	}

	// Budget threshold actions flow back into the monitor
	app.ledger.SetActionSink(app.monitor)

	// An emergency shutdown also halts background loops and schedules.
	// Schedule drain runs detached: a pipeline mid-flight may take until
	// its phase timeout to unwind.
	app.monitor.OnShutdown(func() {
		if app.jobsManager != nil {
			app.jobsManager.Stop()
		}
		if app.orchestrator != nil {
			go app.orchestrator.StopSchedules()
		}
	})

	return nil
}

// initOrchestrator initializes the pipeline orchestrator and its schedules
func (app *Application) initOrchestrator() error {
	app.orchestrator = orchestrator.New(app.queue)

	for _, p := range app.config.Pipelines {
		spec := &orchestrator.PipelineSpec{
			Niche:           p.Niche,
			Frequency:       p.Frequency,
			Sources:         p.Sources,
			DeliveryMethods: p.DeliveryMethods,
			MaxPosts:        p.MaxPosts,
		}
		if _, err := app.orchestrator.Schedule(p.Cron, spec); err != nil {
			return fmt.Errorf("failed to schedule pipeline %s: %w", p.Name, err)
		}
		logger.InfoCtx(app.ctx, "Scheduled pipeline %s (%s)", p.Name, p.Cron)
	}

	return nil
}

// initHandlers initializes the handler layer
func (app *Application) initHandlers() error {
	app.taskHandler = handler.NewTaskHandler(app.queue)
	app.workerHandler = handler.NewWorkerHandler(app.monitor)
	app.systemHandler = handler.NewSystemHandler(app.monitor, app.ledger)
	return nil
}

// initHTTPServer initializes the HTTP server
func (app *Application) initHTTPServer() error {
	// Initialize router
	r := router.NewRouter(app.taskHandler, app.workerHandler, app.systemHandler)

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	// Create Gin engine
	app.ginEngine = gin.New()

	// Setup routes
	r.Setup(app.ginEngine)

	// Create HTTP server
	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}

// executorServices maps worker types to the external service they pace
// against when a task carries no source URL.
var executorServices = map[string]string{
	constants.WorkerTypeScraper:        "generic",
	constants.WorkerTypeSummarizer:     "anthropic",
	constants.WorkerTypeAudio:          "openai",
	constants.WorkerTypeDashboard:      "generic",
	constants.WorkerTypeProjectManager: "generic",
	constants.WorkerTypeGeneral:        "generic",
}

// newExecutor returns the work function for a worker type. Real content
// generation lives outside this service; the executor paces the external
// call through the rate limiter and records the spend against the ledger.
func (app *Application) newExecutor(workerType string) interfaces.Executor {
	return func(ctx context.Context, task *model.Task) (map[string]interface{}, error) {
		service := executorServices[workerType]
		if url, ok := task.Parameters["source_url"].(string); ok && url != "" {
			service = url
		}

		waited, err := app.limiter.Wait(ctx, service)
		if err != nil {
			return nil, err
		}

		event := &model.CostEvent{
			Service:  service,
			Units:    1,
			Cost:     task.CostEstimate,
			WorkerID: task.AssignedWorker,
			TaskID:   task.ID,
			Detail:   task.Type,
		}
		if _, err := app.ledger.Record(ctx, event); err != nil {
			return nil, fmt.Errorf("failed to record task cost: %w", err)
		}

		return map[string]interface{}{
			"task_type":      task.Type,
			"service":        service,
			"waited_seconds": waited.Seconds(),
		}, nil
	}
}
