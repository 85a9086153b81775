// Package container initializes every component of the relayd process once
// and holds them for the lifetime of the server.
package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/relaydev/relay/cmd/relayd/service"
	"github.com/relaydev/relay/common/cache"
	"github.com/relaydev/relay/common/config"
	"github.com/relaydev/relay/common/db"
	"github.com/relaydev/relay/common/logger"
	"github.com/relaydev/relay/common/metrics"
	"github.com/relaydev/relay/common/store"
	"github.com/relaydev/relay/engine"
	"github.com/relaydev/relay/engine/httpexec"
)

// Container holds all initialized components and services.
type Container struct {
	Config   *config.Config
	Log      *logger.Logger
	DB       *db.DB
	Store    store.Store
	Cache    cache.Cache
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Engine   *engine.Engine

	Workflows  *service.WorkflowService
	Executions *service.ExecutionService
}

// New builds the container: config, logger, database, store, optional
// version cache, engine and services.
func New(ctx context.Context) (*Container, error) {
	cfg, err := config.Load("relayd")
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	database, err := db.New(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	pg := store.NewPostgres(database)
	if err := pg.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var st store.Store = pg
	var versionCache cache.Cache
	if cfg.Cache.Enabled {
		versionCache, err = cache.NewRedis(ctx, cfg.RedisAddr(), cfg.Cache.Password, log)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("connect version cache: %w", err)
		}
		st = store.WithVersionCache(st, versionCache, cfg.Cache.TTL, log)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	httpClient := httpexec.NewClient(log)
	if cfg.Engine.OutboundGuard {
		httpClient.SetGuard(httpexec.NewURLGuard())
	}

	eng, err := engine.New(st, httpClient, log, m, engine.Options{
		SnapshotInterval: cfg.Engine.SnapshotInterval,
		MaxCallDepth:     cfg.Engine.MaxCallDepth,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	log.Info("engine ready",
		"snapshot_interval", cfg.Engine.SnapshotInterval,
		"max_call_depth", eng.MaxCallDepth(),
		"outbound_guard", cfg.Engine.OutboundGuard)

	return &Container{
		Config:     cfg,
		Log:        log,
		DB:         database,
		Store:      st,
		Cache:      versionCache,
		Registry:   registry,
		Metrics:    m,
		Engine:     eng,
		Workflows:  service.NewWorkflowService(st, log),
		Executions: service.NewExecutionService(st, eng, log),
	}, nil
}

// Shutdown releases every held resource.
func (c *Container) Shutdown() {
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.Log.Error("close version cache", "error", err)
		}
	}
	if c.DB != nil {
		c.DB.Close()
	}
}
