package app

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/engine"
	"github.com/specialistvlad/privacyflow/internal/request"
)

// Run submits a request and blocks until it finishes. The merged result is
// returned even when the request ends in error or cancellation.
func (a *App) Run(ctx context.Context, req *request.Request) (*engine.MergedResult, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	id, err := a.service.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := a.service.Wait(ctx, id)
	if res != nil {
		a.logger.Info("🏁 Request finished", "request_id", id, "status", string(res.Status), "rows", res.RowCount())
	}
	return res, err
}

// Resume reruns an interrupted or failed request and waits for it.
func (a *App) Resume(ctx context.Context, id string) (*engine.MergedResult, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if err := a.service.Resume(ctx, id); err != nil {
		return nil, err
	}
	return a.service.Wait(ctx, id)
}

// Purge runs one retention sweep.
func (a *App) Purge(ctx context.Context) ([]string, error) {
	return a.purger.Sweep(ctxlog.WithLogger(ctx, a.logger))
}

// ConnectionCheck is the outcome of testing one connection.
type ConnectionCheck struct {
	Connection string
	Kind       string
	Status     connector.Status
	Err        error
}

// TestConnections checks the named connections, or all of them when names
// is empty, in name order.
func (a *App) TestConnections(ctx context.Context, names ...string) ([]ConnectionCheck, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if len(names) == 0 {
		for name := range a.model.Connections {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	names = slices.Compact(names)

	checks := make([]ConnectionCheck, 0, len(names))
	for _, name := range names {
		conn, ok := a.model.Connections[name]
		if !ok {
			return nil, fmt.Errorf("unknown connection %q", name)
		}
		check := ConnectionCheck{Connection: name, Kind: conn.Kind, Status: connector.StatusFailed}
		c, err := a.pool.Get(ctx, name)
		if err != nil {
			check.Err = err
			checks = append(checks, check)
			continue
		}
		check.Status, check.Err = c.TestConnection(ctx)
		if check.Err != nil {
			check.Status = connector.StatusFailed
		}
		a.logger.Info("Connection tested.", "connection", name, "kind", conn.Kind, "status", string(check.Status))
		checks = append(checks, check)
	}
	return checks, nil
}

// Serve runs the long-lived mode: the health and metrics server, the
// retention schedule and the resumption of requests interrupted by a
// previous process. It blocks until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.startHealthCheckServer()
	if err := a.purger.Start(ctx, a.config.RetentionSchedule); err != nil {
		return err
	}

	interrupted, err := a.service.Interrupted(ctx)
	if err != nil {
		return fmt.Errorf("listing interrupted requests: %w", err)
	}
	for _, rec := range interrupted {
		if err := a.service.Resume(ctx, rec.ID); err != nil {
			a.logger.Error("Resuming interrupted request failed.", "request_id", rec.ID, "error", err)
		}
	}

	a.logger.Info("🚀 Serving", "resumed", len(interrupted))
	<-ctx.Done()
	a.logger.Info("Shutdown requested.")
	return nil
}
