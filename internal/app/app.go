package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/specialistvlad/privacyflow/internal/badgercache"
	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/engine"
	"github.com/specialistvlad/privacyflow/internal/export"
	"github.com/specialistvlad/privacyflow/internal/localexecutor"
	"github.com/specialistvlad/privacyflow/internal/localsession"
	"github.com/specialistvlad/privacyflow/internal/masking"
	"github.com/specialistvlad/privacyflow/internal/metrics"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/ratelimit"
	"github.com/specialistvlad/privacyflow/internal/registry"
	"github.com/specialistvlad/privacyflow/internal/requeststore"
	"github.com/specialistvlad/privacyflow/internal/retention"
	"github.com/specialistvlad/privacyflow/internal/scheduler"
	"github.com/specialistvlad/privacyflow/internal/service"
	"go.uber.org/multierr"
)

// DefaultRetentionWindow keeps finished requests for thirty days.
const DefaultRetentionWindow = 30 * 24 * time.Hour

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx    context.Context
	outW   io.Writer
	logger *slog.Logger
	config *Config

	model    *config.Model
	registry *registry.Registry
	pool     *registry.Pool
	cache    *badgercache.Cache
	store    *requeststore.Store
	metrics  *metrics.Metrics
	service  *service.Service
	purger   *retention.Purger

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It loads the
// configuration and opens the state directory. Start-up failures panic and
// are expected to be recovered by the entrypoint.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, modules ...registry.Module) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	if len(modules) == 0 {
		modules = coreModules
	}
	model, reg, err := loadModel(ctx, loader, cfg.ConfigPaths, modules)
	if err != nil {
		panic(err)
	}

	a := &App{ctx: ctx, outW: outW, logger: logger, config: cfg, model: model, registry: reg}
	if err := a.open(); err != nil {
		if cerr := a.Close(); cerr != nil {
			logger.Error("Cleanup after failed start-up also failed.", "error", cerr)
		}
		panic(err)
	}
	return a
}

// open wires the stateful components. Everything opened is released by Close.
func (a *App) open() error {
	cfg := a.config

	cacheCfg := badgercache.DefaultConfig(filepath.Join(cfg.StateDir, "checkpoints"))
	cacheCfg.Logger = a.logger
	if cfg.CheckpointTTL > 0 {
		cacheCfg.TTL = cfg.CheckpointTTL
	}
	cache, err := badgercache.Open(cacheCfg)
	if err != nil {
		return err
	}
	a.cache = cache

	store, err := requeststore.Open(filepath.Join(cfg.StateDir, "requests.db"))
	if err != nil {
		return err
	}
	a.store = store

	var exporter service.Exporter
	if a.model.Export != nil {
		exp, err := export.New(a.model.Export, nil)
		if err != nil {
			return err
		}
		exporter = exp
	}

	a.metrics = metrics.New()
	a.pool = registry.NewPool(a.registry, a.model)

	callTimeouts := make(map[string]time.Duration)
	for name, conn := range a.model.Connections {
		if conn.Timeout > 0 {
			callTimeouts[name] = conn.Timeout
		}
	}
	sessions := &localsession.SessionFactory{
		Deps: localexecutor.Deps{
			Connectors: a.pool,
			Limits:     ratelimit.NewRegistry(a.model.Connections, ratelimit.DefaultMaxWait),
			Cache:      cache,
			Metrics:    a.metrics,
		},
		Executor: localexecutor.Config{
			Workers:      cfg.WorkerCount,
			CallTimeout:  cfg.CallTimeout,
			CallTimeouts: callTimeouts,
		},
		Scheduler: scheduler.Options{Retries: cfg.Retries},
	}
	p := planner.New(planner.Options{MaxSelfRefDepth: cfg.MaxSelfRefDepth})
	eng := engine.New(sessions, p, masking.NewRegistry(cfg.MaskingSalt), cache, a.metrics)

	a.service = service.New(a.model, p, eng, store, service.Options{
		RequestTimeout: cfg.RequestTimeout,
		Exporter:       exporter,
	})

	window := cfg.RetentionWindow
	if window <= 0 {
		window = DefaultRetentionWindow
	}
	a.purger = retention.New(store, cache, window, a.logger)

	a.logger.Debug("Application wired.", "state_dir", cfg.StateDir, "workers", cfg.WorkerCount, "retries", cfg.Retries)
	return nil
}

// Context returns the application context carrying its logger.
func (a *App) Context() context.Context { return a.ctx }

// Service returns the request service.
func (a *App) Service() *service.Service { return a.service }

// Model returns the loaded configuration model.
func (a *App) Model() *config.Model { return a.model }

// Metrics returns the metrics collector.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Close stops the service and releases every resource, in reverse order of
// construction.
func (a *App) Close() error {
	var err error
	if a.purger != nil {
		a.purger.Stop()
	}
	err = multierr.Append(err, a.closeHealthCheckServer())
	if a.service != nil {
		err = multierr.Append(err, a.service.Close())
	}
	if a.pool != nil {
		err = multierr.Append(err, a.pool.Close())
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	if a.cache != nil {
		err = multierr.Append(err, a.cache.Close())
	}
	if err != nil {
		return fmt.Errorf("closing application: %w", err)
	}
	a.logger.Debug("Application closed.")
	return nil
}
