// Package service is the inbound surface of the engine: it accepts privacy
// requests, runs them in the background, persists their status and result,
// and lets callers cancel, resume or wait for them.
//
// # Request Lifecycle
//
// Submit validates and plans a request before it is accepted, so malformed
// input and graph errors surface synchronously as ValidationError or
// PlanningError. The request is then stored as pending and run on its own
// goroutine. Its terminal status, error text and merged result are written
// back to the store when the engine returns.
//
// Resume re-plans a request that ended in error or cancellation, or one
// that was interrupted by a process restart. Nodes whose results are still
// checkpointed are not executed again.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/engine"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/request"
	"github.com/specialistvlad/privacyflow/internal/requeststore"
)

var (
	// ErrNotFinished is returned by Result for requests still in flight.
	ErrNotFinished = errors.New("request has not finished")
	// ErrNotResumable is returned by Resume for completed or active requests.
	ErrNotResumable = errors.New("request cannot be resumed")
	// ErrClosed is returned once the service is shutting down.
	ErrClosed = errors.New("service is closed")
)

// Runner executes a planned request.
type Runner interface {
	Run(ctx context.Context, plan *planner.Plan, req *request.Request) (*engine.MergedResult, error)
}

// Exporter uploads the result of a completed access request.
type Exporter interface {
	Export(ctx context.Context, res *engine.MergedResult) (string, error)
}

// Options tune a Service.
type Options struct {
	// RequestTimeout bounds the whole run of a request. Zero means none.
	RequestTimeout time.Duration
	// Exporter is optional.
	Exporter Exporter
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service runs requests against one configuration model.
type Service struct {
	model   *config.Model
	planner *planner.Planner
	runner  Runner
	store   *requeststore.Store
	opts    Options

	mu     sync.Mutex
	jobs   map[string]*job
	closed bool
	wg     sync.WaitGroup
}

// New creates a service.
func New(model *config.Model, p *planner.Planner, runner Runner, store *requeststore.Store, opts Options) *Service {
	return &Service{
		model:   model,
		planner: p,
		runner:  runner,
		store:   store,
		opts:    opts,
		jobs:    make(map[string]*job),
	}
}

// Submit validates, plans and starts a request and returns its id. An
// empty id is replaced by a fresh UUID.
func (s *Service) Submit(ctx context.Context, req *request.Request) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	plan, err := s.plan(ctx, req)
	if err != nil {
		return "", err
	}
	if _, err := s.store.Create(ctx, req); err != nil {
		return "", err
	}
	ctxlog.FromContext(ctx).Info("▶️ Request accepted", "request_id", req.ID, "mode", string(req.Mode))
	if err := s.start(ctx, req, plan); err != nil {
		return "", err
	}
	return req.ID, nil
}

// Status returns the stored status of a request.
func (s *Service) Status(ctx context.Context, id string) (request.Status, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Record returns the stored record of a request.
func (s *Service) Record(ctx context.Context, id string) (*requeststore.Record, error) {
	return s.store.Get(ctx, id)
}

// Result returns the merged result of a finished request.
func (s *Service) Result(ctx context.Context, id string) (*engine.MergedResult, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotFinished, id, rec.Status)
	}
	if len(rec.Result) == 0 {
		return nil, fmt.Errorf("request %s has no result: %s", id, rec.Error)
	}
	var res engine.MergedResult
	if err := json.Unmarshal(rec.Result, &res); err != nil {
		return nil, fmt.Errorf("decoding result of %s: %w", id, err)
	}
	return &res, nil
}

// Cancel stops dispatching new nodes of a running request. Nodes already
// running finish, and the request ends with status cancelled. A request
// that is pending without a runner in this process is marked cancelled
// directly. Cancelling a finished request does nothing.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	j, running := s.jobs[id]
	s.mu.Unlock()
	if running {
		ctxlog.FromContext(ctx).Info("Cancelling request.", "request_id", id)
		j.cancel()
		return nil
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}
	return s.store.Finish(ctx, id, request.StatusCancelled, context.Canceled.Error(), nil)
}

// Resume runs a request again. Only requests that ended in error or
// cancellation, or that were interrupted while pending or running in
// another process, can be resumed.
func (s *Service) Resume(ctx context.Context, id string) error {
	s.mu.Lock()
	_, running := s.jobs[id]
	s.mu.Unlock()
	if running {
		return fmt.Errorf("%w: %s is running", ErrNotResumable, id)
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status == request.StatusComplete {
		return fmt.Errorf("%w: %s is complete", ErrNotResumable, id)
	}
	req := rec.Request()
	plan, err := s.plan(ctx, req)
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("▶️ Resuming request", "request_id", id, "previous_status", string(rec.Status))
	return s.start(ctx, req, plan)
}

// Wait blocks until the request finishes or ctx ends, then returns its
// result. The result is returned together with the run's error for
// requests that ended in error or cancellation.
func (s *Service) Wait(ctx context.Context, id string) (*engine.MergedResult, error) {
	s.mu.Lock()
	j, running := s.jobs[id]
	s.mu.Unlock()
	if running {
		select {
		case <-j.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res, err := s.Result(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.Status != request.StatusComplete {
		rec, gerr := s.store.Get(ctx, id)
		if gerr != nil {
			return res, gerr
		}
		return res, fmt.Errorf("request %s finished with status %s: %s", id, res.Status, rec.Error)
	}
	return res, nil
}

// Interrupted returns the requests left pending or running by a previous
// process.
func (s *Service) Interrupted(ctx context.Context) ([]*requeststore.Record, error) {
	recs, err := s.store.List(ctx, request.StatusPending, request.StatusRunning)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := recs[:0]
	for _, rec := range recs {
		if _, ok := s.jobs[rec.ID]; !ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Close cancels every running request and waits for them to record their
// outcome.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	for _, j := range s.jobs {
		j.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *Service) plan(ctx context.Context, req *request.Request) (*planner.Plan, error) {
	policy, ok := s.model.Policies[req.Policy]
	if !ok {
		return nil, privacyerr.Validationf("request", "unknown policy %q", req.Policy)
	}
	return s.planner.Plan(ctx, s.model, policy, req.Identity, req.Mode)
}

// start marks the request running and launches its job. The job context
// keeps the caller's values but not its cancellation.
func (s *Service) start(ctx context.Context, req *request.Request, plan *planner.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.store.SetRunning(ctx, req.ID); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if s.opts.RequestTimeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, s.opts.RequestTimeout)
		prev := cancel
		cancel = func() { cancelTimeout(); prev() }
	}
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.jobs[req.ID] = j

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(j.done)
		defer func() {
			s.mu.Lock()
			delete(s.jobs, req.ID)
			s.mu.Unlock()
			cancel()
		}()
		s.run(runCtx, req, plan)
	}()
	return nil
}

// run executes the request and records its outcome.
func (s *Service) run(ctx context.Context, req *request.Request, plan *planner.Plan) {
	logger := ctxlog.FromContext(ctx).With("request_id", req.ID)

	res, runErr := s.runner.Run(ctx, plan, req)
	status := request.StatusError
	if res != nil {
		status = res.Status
	}
	if res != nil && status == request.StatusComplete && req.Mode == request.ModeAccess && s.opts.Exporter != nil {
		location, err := s.opts.Exporter.Export(ctx, res)
		if err != nil {
			logger.Error("Exporting access package failed.", "error", err)
			status, runErr = request.StatusError, fmt.Errorf("export: %w", err)
			res.Status = status
		} else {
			logger.Info("Access package exported.", "location", location)
		}
	}

	var data []byte
	if res != nil {
		var err error
		if data, err = json.Marshal(res); err != nil {
			logger.Error("Encoding result failed.", "error", err)
		}
	}
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	if err := s.store.Finish(context.WithoutCancel(ctx), req.ID, status, errText, data); err != nil {
		logger.Error("Recording request outcome failed.", "error", err)
	}
}
