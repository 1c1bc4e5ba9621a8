package main

import (
	"context"

	"github.com/robfig/cron/v3"

	"taskpilot/internal/jobs"
	"taskpilot/internal/queue"
	"taskpilot/pkg/logger"
)

// initJobs registers the background loops: the queue sweeper, the monitor
// loops, and the ledger's midnight rollover.
func (app *Application) initJobs() error {
	app.jobsManager = jobs.NewManager(app.ctx)

	app.jobsManager.Register(queue.NewSweeper(app.queue, &app.config.Queue))

	for _, job := range app.monitor.Jobs() {
		app.jobsManager.Register(job)
	}

	if app.config.Ledger.RolloverEnabled {
		app.ledgerCron = cron.New()
		if _, err := app.ledgerCron.AddFunc("0 0 * * *", func() {
			logger.Infof("Rolling the cost ledger over to a new day")
			app.ledger.Rollover(context.Background())
		}); err != nil {
			return err
		}
	}

	return nil
}
