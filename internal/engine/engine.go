package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/executor"
	"github.com/specialistvlad/privacyflow/internal/graph"
	"github.com/specialistvlad/privacyflow/internal/masking"
	"github.com/specialistvlad/privacyflow/internal/metrics"
	"github.com/specialistvlad/privacyflow/internal/node"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/request"
	"github.com/specialistvlad/privacyflow/internal/resultcache"
	"github.com/specialistvlad/privacyflow/internal/scheduler"
	"github.com/specialistvlad/privacyflow/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

var tracer = otel.Tracer("privacyflow.engine")

// Engine runs planned requests.
type Engine struct {
	sessions session.SessionFactory
	planner  *planner.Planner
	masking  *masking.Registry
	cache    resultcache.Cache
	metrics  *metrics.Metrics
}

// New creates an engine.
func New(sessions session.SessionFactory, p *planner.Planner, m *masking.Registry, cache resultcache.Cache, met *metrics.Metrics) *Engine {
	return &Engine{sessions: sessions, planner: p, masking: m, cache: cache, metrics: met}
}

// Run executes the plan for the request. Nodes already checkpointed under
// the request's id are not executed again. The returned error is an
// *ExecutionError when the request finished with status error or
// cancelled, and any other error when it could not run at all.
func (e *Engine) Run(ctx context.Context, plan *planner.Plan, req *request.Request) (*MergedResult, error) {
	ctx = ctxlog.With(ctx, "request_id", req.ID)
	logger := ctxlog.FromContext(ctx)

	ctx, span := tracer.Start(ctx, "privacyflow.request",
		trace.WithAttributes(
			attribute.String("privacyflow.request_id", req.ID),
			attribute.String("privacyflow.mode", string(req.Mode)),
		),
	)
	defer span.End()

	start := time.Now()
	e.metrics.RequestStarted()
	res := newMergedResult(req.ID)
	defer func() {
		e.metrics.RequestFinished(string(req.Mode), string(res.Status), time.Since(start))
	}()

	logger.Info("🚀 Starting request", "mode", string(req.Mode), "nodes", len(plan.Executable()))
	accessScope := req.CacheScope(request.ModeAccess)
	outcome, g, err := e.runPass(ctx, executor.Pass{
		Request: req,
		Plan:    plan,
		Phase:   request.ModeAccess,
		Scope:   accessScope,
	})
	if err != nil {
		res.Status = request.StatusError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var nodeErrs error
	rowCounts, err := e.collectAccess(ctx, g, plan, accessScope, res, &nodeErrs)
	if err != nil {
		res.Status = request.StatusError
		return nil, err
	}

	if req.Mode == request.ModeErasure {
		if outcome != scheduler.OutcomeFinished || len(res.Failed) > 0 {
			logger.Warn("Erasure skipped: the access pass did not complete.", "outcome", outcome.String(), "failed", len(res.Failed))
		} else {
			erasureOutcome, err := e.erase(ctx, plan, req, rowCounts, res, &nodeErrs)
			if err != nil {
				res.Status = request.StatusError
				return nil, err
			}
			outcome = erasureOutcome
		}
	}

	switch {
	case outcome == scheduler.OutcomeCancelled:
		res.Status = request.StatusCancelled
		nodeErrs = multierr.Append(nodeErrs, context.Canceled)
	case len(res.Failed) > 0:
		res.Status = request.StatusError
	default:
		res.Status = request.StatusComplete
	}

	logger.Info("🏁 Request finished", "status", string(res.Status),
		"rows", res.RowCount(), "failed", len(res.Failed), "skipped", len(res.Skipped))
	if res.Status == request.StatusComplete {
		return res, nil
	}
	span.SetStatus(codes.Error, string(res.Status))
	return res, &ExecutionError{RequestID: req.ID, Status: res.Status, Errors: nodeErrs}
}

// erase plans and runs the erasure pass from the access rows.
func (e *Engine) erase(ctx context.Context, access *planner.Plan, req *request.Request, rowCounts map[nodeid.Address]int, res *MergedResult, nodeErrs *error) (scheduler.Outcome, error) {
	plan, err := e.planner.PlanErasure(ctx, access, rowCounts)
	if err != nil {
		return scheduler.OutcomeFinished, err
	}
	strategy, err := e.masking.Get(plan.Masking)
	if err != nil {
		return scheduler.OutcomeFinished, err
	}

	ctxlog.FromContext(ctx).Info("Starting erasure pass.", "nodes", len(plan.Executable()), "strategy", strategy.Name())
	scope := req.CacheScope(request.ModeErasure)
	outcome, g, err := e.runPass(ctx, executor.Pass{
		Request:     req,
		Plan:        plan,
		Phase:       request.ModeErasure,
		Scope:       scope,
		AccessScope: req.CacheScope(request.ModeAccess),
		Masking:     strategy,
	})
	if err != nil {
		return outcome, err
	}

	for _, addr := range plan.Executable() {
		key := addr.String()
		status, _ := g.NodeStatus(ctx, addr)
		switch status {
		case node.StatusComplete:
			r, err := e.result(ctx, g, scope, addr)
			if err != nil {
				return outcome, err
			}
			res.Erasure[key] = r.Affected
		case node.StatusSkipped:
			res.Skipped[key] = g.Reason(ctx, addr)
		case node.StatusErrored:
			nerr := g.Error(ctx, addr)
			res.Failed[key] = nerr.Error()
			*nodeErrs = multierr.Append(*nodeErrs, fmt.Errorf("%s: %w", key, nerr))
		}
	}
	return outcome, nil
}

// runPass executes one pass in a fresh session.
func (e *Engine) runPass(ctx context.Context, pass executor.Pass) (scheduler.Outcome, graph.Graph, error) {
	sess, err := e.sessions.NewSession(ctx, pass)
	if err != nil {
		return scheduler.OutcomeFinished, nil, fmt.Errorf("creating %s session: %w", pass.Phase, err)
	}
	defer func() {
		if cerr := sess.Close(ctx); cerr != nil {
			ctxlog.FromContext(ctx).Warn("Closing session failed.", "error", cerr)
		}
	}()

	exec, err := sess.GetExecutor()
	if err != nil {
		return scheduler.OutcomeFinished, nil, err
	}
	outcome, err := exec.Execute(ctx)
	if err != nil {
		return outcome, nil, fmt.Errorf("%s pass: %w", pass.Phase, err)
	}
	return outcome, sess.Graph(), nil
}

// collectAccess fills the access part of the result and returns the row
// count of every completed node.
func (e *Engine) collectAccess(ctx context.Context, g graph.Graph, plan *planner.Plan, scope string, res *MergedResult, nodeErrs *error) (map[nodeid.Address]int, error) {
	counts := make(map[nodeid.Address]int)
	for _, addr := range plan.Executable() {
		key := addr.String()
		status, _ := g.NodeStatus(ctx, addr)
		switch status {
		case node.StatusComplete:
			r, err := e.result(ctx, g, scope, addr)
			if err != nil {
				return nil, err
			}
			tn := plan.Nodes[addr]
			rows := make([]record.Row, 0, len(r.Rows))
			for _, row := range r.Rows {
				rows = append(rows, row.Project(tn.ReturnFields))
			}
			res.Access[key] = rows
			counts[addr] = len(r.Rows)
		case node.StatusSkipped:
			res.Skipped[key] = g.Reason(ctx, addr)
		case node.StatusErrored:
			nerr := g.Error(ctx, addr)
			if nerr == nil {
				nerr = errors.New("unknown failure")
			}
			res.Failed[key] = nerr.Error()
			*nodeErrs = multierr.Append(*nodeErrs, fmt.Errorf("%s: %w", key, nerr))
		}
	}
	return counts, nil
}

// result returns a completed node's result, from the graph when the pass
// produced it and from the cache otherwise.
func (e *Engine) result(ctx context.Context, g graph.Graph, scope string, addr nodeid.Address) (*resultcache.NodeResult, error) {
	if r, ok := g.Output(ctx, addr).(*resultcache.NodeResult); ok && r != nil {
		return r, nil
	}
	r, ok, err := e.cache.Get(ctx, scope, addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("completed node %s has no checkpoint in scope %q", addr, scope)
	}
	return r, nil
}
