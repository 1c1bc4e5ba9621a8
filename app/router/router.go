package router

import (
	"taskpilot/app/handler"
	"taskpilot/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router wires handlers onto the gin engine
type Router struct {
	taskHandler   *handler.TaskHandler
	workerHandler *handler.WorkerHandler
	systemHandler *handler.SystemHandler
}

// NewRouter creates a new Router
func NewRouter(taskHandler *handler.TaskHandler, workerHandler *handler.WorkerHandler, systemHandler *handler.SystemHandler) *Router {
	return &Router{
		taskHandler:   taskHandler,
		workerHandler: workerHandler,
		systemHandler: systemHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	// V1 API - task submission and queries
	v1 := engine.Group("/v1")
	{
		v1.POST("/tasks", r.taskHandler.Submit)
		v1.GET("/tasks", r.taskHandler.List)
		v1.GET("/status/:task_id", r.taskHandler.Status)
		v1.POST("/cancel/:task_id", r.taskHandler.Cancel)
		v1.GET("/queue/stats", r.taskHandler.QueueStats)

		// Worker control interface
		v1.GET("/workers", r.workerHandler.List)
		v1.GET("/workers/:worker_id/health", r.workerHandler.Health)
		v1.POST("/workers/:worker_id/pause", r.workerHandler.Pause)
		v1.POST("/workers/:worker_id/resume", r.workerHandler.Resume)

		// System surface; shutdown requires the API key when configured
		v1.GET("/system/status", r.systemHandler.Status)
		v1.GET("/system/alerts", r.systemHandler.Alerts)
		v1.GET("/system/health/ws", r.systemHandler.HealthStream)
		v1.GET("/costs/summary", r.systemHandler.Costs)
		v1.POST("/system/shutdown", middleware.AuthMiddleware(), r.systemHandler.Shutdown)
	}
}
