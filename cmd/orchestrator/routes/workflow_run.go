package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/lyzr/orchestrator/cmd/orchestrator/container"
	"github.com/lyzr/orchestrator/cmd/orchestrator/handlers"
	"github.com/lyzr/orchestrator/cmd/orchestrator/middleware"
	commonmiddleware "github.com/lyzr/orchestrator/common/middleware"
)

// RegisterWorkflowRunRoutes wires the engine-backed run control surface:
// start, status, pause/resume/cancel, dead-letter inspection, and the SSE
// event stream.
func RegisterWorkflowRunRoutes(e *echo.Echo, c *container.Container) {
	handler := handlers.NewWorkflowRunHandler(c.Components, c.WorkflowRunService)

	runs := e.Group("/api/v1/workflow-runs")
	runs.Use(middleware.ExtractUsername())
	runs.Use(commonmiddleware.UserRateLimitMiddleware(c.RateLimiter, 50))
	{
		runs.POST("", handler.StartRun)
		runs.GET("/:id", handler.GetStatus)
		runs.POST("/:id/pause", handler.PauseRun)
		runs.POST("/:id/resume", handler.ResumeRun)
		runs.POST("/:id/cancel", handler.CancelRun)
		runs.GET("/:id/dead-letters", handler.DeadLetters)
		runs.GET("/:id/events", handler.StreamEvents)
		runs.GET("/incomplete", handler.ListIncomplete)
	}
}
