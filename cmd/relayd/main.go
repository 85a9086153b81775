package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relaydev/relay/cmd/relayd/container"
	"github.com/relaydev/relay/cmd/relayd/routes"
)

func main() {
	ctx := context.Background()

	c, err := container.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize relayd: %v\n", err)
		os.Exit(1)
	}
	defer c.Shutdown()

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, c)
	setupMetrics(e, c)
	registerRoutes(e, c)

	startServer(e, c)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo, c *container.Container) {
	e.GET("/health", func(ec echo.Context) error {
		if err := c.DB.Health(ec.Request().Context()); err != nil {
			return ec.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return ec.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": c.Config.Service.Name,
		})
	})
}

func setupMetrics(e *echo.Echo, c *container.Container) {
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})))
}

func registerRoutes(e *echo.Echo, c *container.Container) {
	routes.RegisterWorkflowRoutes(e, c)
	routes.RegisterExecutionRoutes(e, c)
}

func startServer(e *echo.Echo, c *container.Container) {
	port := c.Config.Service.Port
	c.Log.Info("starting relayd", "port", port)

	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil {
		c.Log.Error("server error", "error", err)
		os.Exit(1)
	}
}
