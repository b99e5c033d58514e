package localexecutor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/request"
	"github.com/specialistvlad/privacyflow/internal/resultcache"
	"github.com/specialistvlad/privacyflow/internal/scheduler"
	"github.com/specialistvlad/privacyflow/internal/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// runNode executes one task and returns the report for the scheduler. The
// result is written to the cache before the report is returned.
func (e *Executor) runNode(ctx context.Context, t *task.Task) scheduler.Report {
	tn := t.Node.Traversal
	addr := tn.Address
	report := scheduler.Report{Address: addr, Attempt: t.Attempt}

	ctx = ctxlog.With(ctx, "node", addr.String(), "attempt", t.Attempt)
	logger := ctxlog.FromContext(ctx)

	ctx, span := tracer.Start(ctx, "privacyflow.node",
		trace.WithAttributes(
			attribute.String("privacyflow.node", addr.String()),
			attribute.String("privacyflow.phase", string(e.pass.Phase)),
			attribute.String("privacyflow.request_id", e.pass.Request.ID),
			attribute.Int("privacyflow.attempt", t.Attempt),
		),
	)
	defer span.End()

	logger.Info("▶️ Starting node")
	var (
		res *resultcache.NodeResult
		err error
	)
	if e.pass.Phase == request.ModeErasure {
		res, err = e.erase(ctx, tn)
	} else {
		res, err = e.access(ctx, tn)
	}
	if err == nil {
		res.Address = addr
		res.CompletedAt = time.Now().UTC()
		if err = e.deps.Cache.Put(ctx, e.pass.Scope, addr, res); err != nil {
			err = fmt.Errorf("writing checkpoint: %w", err)
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug("Node attempt failed.", "error", err)
		report.Err = err
		return report
	}

	span.SetAttributes(attribute.Int("privacyflow.rows", len(res.Rows)), attribute.Bool("privacyflow.skipped", res.Skipped))
	if res.Skipped {
		logger.Info("⏭️ Node had no input", "reason", res.Reason)
	} else {
		logger.Info("✅ Finished node", "rows", len(res.Rows), "affected", res.Affected)
	}
	report.Result = res
	return report
}

// access gathers the node's input and queries its connector.
func (e *Executor) access(ctx context.Context, tn *planner.TraversalNode) (*resultcache.NodeResult, error) {
	input, emptyFrom, err := e.input(ctx, tn)
	if err != nil {
		return nil, err
	}
	if input.Empty() {
		from := "any upstream"
		if !emptyFrom.IsZero() {
			from = emptyFrom.String()
		}
		return &resultcache.NodeResult{Skipped: true, Reason: "no input from " + from}, nil
	}

	conn, err := e.deps.Connectors.Get(ctx, tn.Connection)
	if err != nil {
		return nil, err
	}
	cn := e.connectorNode(tn)

	var rows []record.Row
	err = e.call(ctx, conn, tn, "query", func(ctx context.Context) error {
		var qerr error
		rows, qerr = conn.Query(ctx, cn, input)
		return qerr
	})
	if err != nil {
		return nil, err
	}

	rows, err = e.expandSelfRefs(ctx, conn, tn, input, rows)
	if err != nil {
		return nil, err
	}
	return &resultcache.NodeResult{Rows: rows}, nil
}

// erase masks the rows the access pass read for this node.
func (e *Executor) erase(ctx context.Context, tn *planner.TraversalNode) (*resultcache.NodeResult, error) {
	read, ok, err := e.deps.Cache.Get(ctx, e.pass.AccessScope, tn.Address)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no access result checkpointed for %s", tn.Address)
	}
	if read.Skipped || len(read.Rows) == 0 {
		return &resultcache.NodeResult{}, nil
	}

	conn, err := e.deps.Connectors.Get(ctx, tn.Connection)
	if err != nil {
		return nil, err
	}
	plan := connector.MaskingPlan{
		Strategy:    e.pass.Masking,
		Fields:      tn.MaskFields,
		PrimaryKeys: tn.Collection.PrimaryKeys(),
	}

	var affected int
	err = e.call(ctx, conn, tn, "mask", func(ctx context.Context) error {
		var merr error
		affected, merr = conn.MaskOrErase(ctx, e.connectorNode(tn), read.Rows, plan)
		return merr
	})
	if err != nil {
		return nil, err
	}
	return &resultcache.NodeResult{Affected: affected}, nil
}

// input merges the seed identity and the cached rows of every upstream node
// that feeds this one. The address is the upstream that left the input empty.
func (e *Executor) input(ctx context.Context, tn *planner.TraversalNode) (record.Input, nodeid.Address, error) {
	sources, mappings := tn.Mappings()
	groups := make([]record.Group, 0, len(sources))
	for _, src := range sources {
		var rows []record.Row
		if src == nodeid.Root {
			seed := make(record.Row, len(e.pass.Request.Identity))
			for k, v := range e.pass.Request.Identity {
				seed[k] = v
			}
			rows = []record.Row{seed}
		} else {
			res, ok, err := e.deps.Cache.Get(ctx, e.pass.Scope, src)
			if err != nil {
				return record.Input{}, nodeid.Address{}, err
			}
			if !ok {
				return record.Input{}, nodeid.Address{}, fmt.Errorf("no checkpointed result for upstream %s", src)
			}
			rows = res.Rows
		}
		groups = append(groups, record.GroupFromRows(src, mappings[src], rows))
	}
	in, emptyFrom := record.Merge(groups...)
	return in, emptyFrom, nil
}

// call runs one connector operation behind the connection's rate limiter
// and per-call timeout. Connectors that pace their own round-trips draw from
// the budget through connector.Node instead of once per call. Cancelling the
// request does not interrupt a call that already started; the request
// deadline does.
func (e *Executor) call(ctx context.Context, conn connector.Connector, tn *planner.TraversalNode, op string, fn func(ctx context.Context) error) error {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cancel()
		}
	})
	defer stop()

	if e.deps.Limits != nil && !connector.PacesRequests(conn) {
		if err := e.deps.Limits.For(tn.Connection).Wait(detached); err != nil {
			return err
		}
	}

	callCtx, cancelCall := context.WithTimeout(detached, e.timeout(tn.Connection))
	defer cancelCall()

	start := time.Now()
	err := fn(callCtx)
	e.deps.Metrics.RecordCall(tn.Connection, op, time.Since(start), err)
	if err == nil {
		return nil
	}

	var ce *privacyerr.ConnectorError
	var rl *privacyerr.RateLimitTimeout
	if errors.As(err, &ce) || errors.As(err, &rl) {
		return err
	}
	return &privacyerr.ConnectorError{Address: tn.Address, Op: op, Err: err}
}

func (e *Executor) timeout(connection string) time.Duration {
	if d, ok := e.cfg.CallTimeouts[connection]; ok && d > 0 {
		return d
	}
	return e.cfg.CallTimeout
}

func (e *Executor) connectorNode(tn *planner.TraversalNode) connector.Node {
	n := connector.Node{Address: tn.Address, Collection: tn.Collection, RequestID: e.pass.Request.ID}
	if e.deps.Limits != nil {
		if lim := e.deps.Limits.For(tn.Connection); lim != nil {
			n.Limiter = lim
		}
	}
	return n
}
