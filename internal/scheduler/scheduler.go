package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/graph"
	"github.com/specialistvlad/privacyflow/internal/node"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/task"
)

// ReasonCancelled is the skip reason of nodes abandoned by cancellation.
const ReasonCancelled = "cancelled"

// ErrRequestTimeout is recorded on every node forced to Errored by the
// global request deadline.
var ErrRequestTimeout = fmt.Errorf("request timeout: %w", context.DeadlineExceeded)

// Options tune the loop.
type Options struct {
	// Retries is the per-node retry budget. A node runs at most Retries+1 times.
	Retries int
	// NewBackOff creates the delay policy of one node. Defaults to DefaultBackOff.
	NewBackOff func() backoff.BackOff
	// Observer, when set, is told about every attempt outcome.
	Observer Observer
}

// Observer receives attempt outcomes, typically for metrics.
type Observer interface {
	Retried(addr nodeid.Address, attempt int, err error)
	Finished(addr nodeid.Address, status node.Status)
}

// DefaultBackOff is an exponential policy that never gives up on its own;
// the retry budget bounds it instead.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Loop is the event-driven scheduler of one pass.
type Loop struct {
	graph graph.Graph
	opts  Options

	ready   chan *task.Task
	reports chan Report
	retries chan nodeid.Address
	done    chan struct{}

	// Everything below is owned by the Run goroutine.
	queue    []*task.Task
	inflight int
	timers   map[nodeid.Address]*time.Timer
	backoffs map[nodeid.Address]backoff.BackOff
	causes   map[nodeid.Address]error
	draining bool
}

// New creates a loop over a populated graph.
func New(g graph.Graph, opts Options) *Loop {
	if opts.NewBackOff == nil {
		opts.NewBackOff = DefaultBackOff
	}
	return &Loop{
		graph:    g,
		opts:     opts,
		ready:    make(chan *task.Task),
		reports:  make(chan Report),
		retries:  make(chan nodeid.Address),
		done:     make(chan struct{}),
		timers:   make(map[nodeid.Address]*time.Timer),
		backoffs: make(map[nodeid.Address]backoff.BackOff),
		causes:   make(map[nodeid.Address]error),
	}
}

// ReadyNodes implements the Scheduler interface.
func (l *Loop) ReadyNodes() <-chan *task.Task {
	return l.ready
}

// Report implements the Scheduler interface.
func (l *Loop) Report(r Report) {
	select {
	case l.reports <- r:
	case <-l.done:
	}
}

// Run implements the Scheduler interface.
func (l *Loop) Run(ctx context.Context) (Outcome, error) {
	logger := ctxlog.FromContext(ctx)
	defer func() {
		for _, t := range l.timers {
			t.Stop()
		}
		close(l.done)
		close(l.ready)
	}()

	for _, n := range l.graph.AllNodes(ctx) {
		if err := l.evaluate(ctx, n.Address()); err != nil {
			return OutcomeFinished, err
		}
	}

	for {
		if l.inflight == 0 && len(l.queue) == 0 && len(l.timers) == 0 {
			if stuck := l.nonTerminal(ctx); len(stuck) > 0 {
				return OutcomeFinished, fmt.Errorf("scheduler stalled with non-terminal nodes: %v", stuck)
			}
			logger.Debug("Scheduler finished.")
			return OutcomeFinished, nil
		}

		var out chan<- *task.Task
		var next *task.Task
		if len(l.queue) > 0 {
			out = l.ready
			next = l.queue[0]
		}

		select {
		case out <- next:
			l.queue = l.queue[1:]
			l.inflight++
			if _, err := l.graph.MarkRunning(ctx, next.Node.Address()); err != nil {
				return OutcomeFinished, err
			}
		case r := <-l.reports:
			l.inflight--
			if err := l.handle(ctx, r); err != nil {
				return OutcomeFinished, err
			}
		case id := <-l.retries:
			delete(l.timers, id)
			if err := l.graph.MarkReady(ctx, id); err != nil {
				return OutcomeFinished, err
			}
			l.enqueue(ctx, id)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return OutcomeTimedOut, l.timeout(ctx)
			}
			return OutcomeCancelled, l.cancel(ctx)
		}
	}
}

// evaluate moves a Pending node forward when its dependencies allow it.
func (l *Loop) evaluate(ctx context.Context, id nodeid.Address) error {
	status, ok := l.graph.NodeStatus(ctx, id)
	if !ok || status != node.StatusPending {
		return nil
	}
	if id == nodeid.Root {
		if err := l.graph.MarkCompleted(ctx, id, nil); err != nil {
			return err
		}
		return l.evaluateDependents(ctx, id)
	}

	deps, err := l.graph.DependenciesOf(ctx, id)
	if err != nil {
		return err
	}

	if id == nodeid.Terminator {
		for _, d := range deps {
			if !graph.Terminal(ctx, l.graph, d.Address()) {
				return nil
			}
		}
		return l.graph.MarkCompleted(ctx, id, nil)
	}

	allComplete := true
	for _, d := range deps {
		depStatus, _ := l.graph.NodeStatus(ctx, d.Address())
		if depStatus == node.StatusComplete {
			continue
		}
		if graph.Terminal(ctx, l.graph, d.Address()) {
			return l.skip(ctx, id, d.Address())
		}
		allComplete = false
	}
	if !allComplete {
		return nil
	}
	if err := l.graph.MarkReady(ctx, id); err != nil {
		return err
	}
	l.enqueue(ctx, id)
	return nil
}

func (l *Loop) evaluateDependents(ctx context.Context, id nodeid.Address) error {
	dependents, err := l.graph.DependentsOf(ctx, id)
	if err != nil {
		return err
	}
	for _, d := range dependents {
		if err := l.evaluate(ctx, d.Address()); err != nil {
			return err
		}
	}
	return nil
}

// skip marks a node skipped because of one of its dependencies and carries
// the root cause down the graph.
func (l *Loop) skip(ctx context.Context, id, upstream nodeid.Address) error {
	cause := l.causes[upstream]
	if status, _ := l.graph.NodeStatus(ctx, upstream); status == node.StatusErrored {
		cause = l.graph.Error(ctx, upstream)
	}
	l.causes[id] = cause

	reason := (&privacyerr.UpstreamSkipped{Address: id, Upstream: upstream, Cause: cause}).Error()
	n, _ := l.graph.Node(ctx, id)
	var err error
	if first := n.Skip(func() { err = l.graph.MarkSkipped(ctx, id, reason) }); !first {
		return nil
	}
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Node skipped.", "node", id.String(), "reason", reason)
	l.observeFinished(id, node.StatusSkipped)
	return l.evaluateDependents(ctx, id)
}

func (l *Loop) enqueue(ctx context.Context, id nodeid.Address) {
	n, _ := l.graph.Node(ctx, id)
	l.queue = append(l.queue, &task.Task{Node: n, Attempt: l.graph.Attempts(ctx, id) + 1})
}

// handle applies a worker's report.
func (l *Loop) handle(ctx context.Context, r Report) error {
	logger := ctxlog.FromContext(ctx).With("node", r.Address.String(), "attempt", r.Attempt)

	if r.Err == nil {
		if r.Result != nil && r.Result.Skipped {
			if err := l.graph.MarkSkipped(ctx, r.Address, r.Result.Reason); err != nil {
				return err
			}
			logger.Info("Node skipped.", "reason", r.Result.Reason)
			l.observeFinished(r.Address, node.StatusSkipped)
		} else {
			if err := l.graph.MarkCompleted(ctx, r.Address, r.Result); err != nil {
				return err
			}
			logger.Debug("Node complete.")
			l.observeFinished(r.Address, node.StatusComplete)
		}
		return l.evaluateDependents(ctx, r.Address)
	}

	if !l.draining && privacyerr.Recoverable(r.Err) && l.graph.Attempts(ctx, r.Address) <= l.opts.Retries {
		b, ok := l.backoffs[r.Address]
		if !ok {
			b = l.opts.NewBackOff()
			l.backoffs[r.Address] = b
		}
		if delay := b.NextBackOff(); delay != backoff.Stop {
			if err := l.graph.MarkErrored(ctx, r.Address, r.Err, true); err != nil {
				return err
			}
			logger.Warn("Node attempt failed, retrying.", "error", r.Err, "delay", delay)
			if l.opts.Observer != nil {
				l.opts.Observer.Retried(r.Address, r.Attempt, r.Err)
			}
			l.scheduleRetry(r.Address, delay)
			return nil
		}
	}

	if err := l.graph.MarkErrored(ctx, r.Address, r.Err, false); err != nil {
		return err
	}
	logger.Error("Node failed.", "error", r.Err)
	l.observeFinished(r.Address, node.StatusErrored)
	return l.evaluateDependents(ctx, r.Address)
}

func (l *Loop) scheduleRetry(id nodeid.Address, delay time.Duration) {
	l.timers[id] = time.AfterFunc(delay, func() {
		select {
		case l.retries <- id:
		case <-l.done:
		}
	})
}

// cancel stops dispatch, skips everything that has not started and waits
// for running nodes to report.
func (l *Loop) cancel(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	logger.Warn("Request cancelled, draining running nodes.", "running", l.inflight)
	l.draining = true

	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
	l.queue = nil

	for _, n := range l.graph.AllNodes(ctx) {
		id := n.Address()
		status, _ := l.graph.NodeStatus(ctx, id)
		if status == node.StatusRunning || graph.Terminal(ctx, l.graph, id) {
			continue
		}
		l.causes[id] = context.Canceled
		if err := l.graph.MarkSkipped(ctx, id, ReasonCancelled); err != nil {
			return err
		}
	}

	for l.inflight > 0 {
		r := <-l.reports
		l.inflight--
		if err := l.handle(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// timeout forces every non-terminal node to Errored. Running workers are not
// waited for; their late reports are dropped.
func (l *Loop) timeout(ctx context.Context) error {
	ctxlog.FromContext(ctx).Error("Request timed out.", "running", l.inflight)
	for _, n := range l.graph.AllNodes(ctx) {
		id := n.Address()
		if graph.Terminal(ctx, l.graph, id) {
			continue
		}
		if err := l.graph.MarkErrored(ctx, id, ErrRequestTimeout, false); err != nil {
			return err
		}
		if !id.IsSentinel() {
			l.observeFinished(id, node.StatusErrored)
		}
	}
	return nil
}

func (l *Loop) nonTerminal(ctx context.Context) []string {
	var out []string
	for _, n := range l.graph.AllNodes(ctx) {
		if !graph.Terminal(ctx, l.graph, n.Address()) {
			out = append(out, n.ID())
		}
	}
	return out
}

func (l *Loop) observeFinished(id nodeid.Address, status node.Status) {
	if l.opts.Observer != nil && !id.IsSentinel() {
		l.opts.Observer.Finished(id, status)
	}
}
