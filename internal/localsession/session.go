// Package localsession provides a concrete implementation of the session.Session
// and session.SessionFactory interfaces for local, in-process execution.
package localsession

import (
	"context"
	"fmt"

	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/executor"
	"github.com/specialistvlad/privacyflow/internal/graph"
	"github.com/specialistvlad/privacyflow/internal/inmemorystore"
	"github.com/specialistvlad/privacyflow/internal/inmemorytopology"
	"github.com/specialistvlad/privacyflow/internal/localexecutor"
	"github.com/specialistvlad/privacyflow/internal/scheduler"
	"github.com/specialistvlad/privacyflow/internal/session"
)

// SessionFactory implements session.SessionFactory for local runs.
type SessionFactory struct {
	Deps      localexecutor.Deps
	Executor  localexecutor.Config
	Scheduler scheduler.Options
}

var _ session.SessionFactory = (*SessionFactory)(nil)

// NewSession builds the graph of the pass, restores checkpointed nodes and
// wires the scheduler loop to a local worker pool.
func (f *SessionFactory) NewSession(ctx context.Context, pass executor.Pass) (session.Session, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Creating local session.", "phase", string(pass.Phase), "scope", pass.Scope)

	// --- This is where the dependency injection wiring happens ---
	topoStore := inmemorytopology.New()
	nodeStore := inmemorystore.New()
	g, err := graph.FromPlan(ctx, topoStore, nodeStore, pass.Plan)
	if err != nil {
		return nil, err
	}
	if err := f.restore(ctx, g, pass); err != nil {
		return nil, err
	}

	opts := f.Scheduler
	if opts.Observer == nil && f.Deps.Metrics != nil {
		opts.Observer = f.Deps.Metrics
	}
	sched := scheduler.New(g, opts)
	exec := localexecutor.New(sched, pass, f.Deps, f.Executor)
	// --- End of dependency injection ---

	return &Session{executor: exec, graph: g}, nil
}

// restore marks every node with a checkpointed result terminal so the
// scheduler never dispatches it again.
func (f *SessionFactory) restore(ctx context.Context, g *graph.Manager, pass executor.Pass) error {
	cached, err := f.Deps.Cache.GetAll(ctx, pass.Scope)
	if err != nil {
		return fmt.Errorf("reading checkpoints of scope %q: %w", pass.Scope, err)
	}

	restored := 0
	for _, addr := range pass.Plan.Executable() {
		res, ok := cached[addr]
		if !ok {
			continue
		}
		if res.Skipped {
			err = g.MarkSkipped(ctx, addr, res.Reason)
		} else {
			err = g.MarkCompleted(ctx, addr, res)
		}
		if err != nil {
			return err
		}
		restored++
	}
	if restored > 0 {
		ctxlog.FromContext(ctx).Info("Restored checkpointed nodes.", "count", restored, "scope", pass.Scope)
		f.Deps.Metrics.RecordCheckpointHits(restored)
	}
	return nil
}

// Session implements session.Session for local runs.
type Session struct {
	executor executor.Executor
	graph    graph.Graph
}

// GetExecutor returns the executor that was created and wired up by the factory.
func (s *Session) GetExecutor() (executor.Executor, error) {
	return s.executor, nil
}

// Graph returns the pass's graph.
func (s *Session) Graph() graph.Graph {
	return s.graph
}

// Close releases the session. Connectors and the cache are shared between
// sessions and are closed by their owner.
func (s *Session) Close(ctx context.Context) error {
	ctxlog.FromContext(ctx).Debug("Local session closed.")
	return nil
}
