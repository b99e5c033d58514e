// Package localexecutor provides a concrete, in-process implementation of the
// executor.Executor interface: a bounded pool of workers draining the
// scheduler's ready channel.
package localexecutor

import (
	"context"
	"time"

	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/executor"
	"github.com/specialistvlad/privacyflow/internal/metrics"
	"github.com/specialistvlad/privacyflow/internal/ratelimit"
	"github.com/specialistvlad/privacyflow/internal/resultcache"
	"github.com/specialistvlad/privacyflow/internal/scheduler"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// DefaultCallTimeout bounds a connector call when the connection sets none.
const DefaultCallTimeout = 30 * time.Second

var tracer = otel.Tracer("privacyflow.executor")

// Connectors resolves a connection name to its connector.
type Connectors interface {
	Get(ctx context.Context, name string) (connector.Connector, error)
}

// Deps are the shared services a pass uses.
type Deps struct {
	Connectors Connectors
	Limits     *ratelimit.Registry
	Cache      resultcache.Cache
	Metrics    *metrics.Metrics
}

// Config tunes the worker pool.
type Config struct {
	Workers int
	// CallTimeout is the fallback per-call timeout. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration
	// CallTimeouts overrides CallTimeout per connection name.
	CallTimeouts map[string]time.Duration
}

var _ executor.Executor = (*Executor)(nil)

// Executor implements the executor.Executor interface for local execution.
type Executor struct {
	sched scheduler.Scheduler
	pass  executor.Pass
	deps  Deps
	cfg   Config
}

// New creates a new local executor.
func New(sched scheduler.Scheduler, pass executor.Pass, deps Deps, cfg Config) *Executor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Executor{sched: sched, pass: pass, deps: deps, cfg: cfg}
}

// Execute starts the workers, drives the scheduler to the end of the pass
// and waits for every worker to return.
func (e *Executor) Execute(ctx context.Context) (scheduler.Outcome, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting worker pool.", "workers", e.cfg.Workers, "phase", string(e.pass.Phase))

	var g errgroup.Group
	for i := 0; i < e.cfg.Workers; i++ {
		workerID := i + 1
		g.Go(func() error {
			e.worker(ctx, workerID)
			return nil
		})
	}

	outcome, err := e.sched.Run(ctx)
	if werr := g.Wait(); err == nil {
		err = werr
	}
	logger.Debug("Worker pool stopped.", "outcome", outcome.String())
	return outcome, err
}

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx).With("worker_id", workerID)
	logger.Debug("Worker started.")
	ctx = ctxlog.WithLogger(ctx, logger)

	for t := range e.sched.ReadyNodes() {
		e.sched.Report(e.runNode(ctx, t))
	}
	logger.Debug("Worker finished.")
}
