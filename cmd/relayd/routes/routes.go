// Package routes wires the HTTP control plane onto the service container.
package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/relaydev/relay/cmd/relayd/container"
	"github.com/relaydev/relay/cmd/relayd/handlers"
)

// RegisterWorkflowRoutes registers workflow authoring routes.
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c.Workflows)

	wf := e.Group("/workflows")
	{
		wf.POST("", h.Create)
		wf.GET("/:id", h.Get)
		wf.POST("/:id/versions", h.CreateVersion)
		wf.GET("/:id/versions/latest", h.LatestVersion)
	}

	e.GET("/workflow-versions/:id", h.GetVersion)
}

// RegisterExecutionRoutes registers run-control routes.
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c.Executions)

	ex := e.Group("/executions")
	{
		ex.POST("", h.Create)
		ex.GET("/:id", h.Get)
		ex.GET("/:id/events", h.Events)
		ex.GET("/:id/state", h.State)
		ex.GET("/:id/outputs", h.SavedOutputs)
		ex.POST("/:id/debug/:action", h.Debug)
	}
}
