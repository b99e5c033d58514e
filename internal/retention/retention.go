// Package retention removes the records and checkpoints of requests that
// finished longer ago than the retention window.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"github.com/specialistvlad/privacyflow/internal/request"
	"github.com/specialistvlad/privacyflow/internal/resultcache"
	"go.uber.org/multierr"
)

// DefaultSchedule runs the sweep at the top of every hour.
const DefaultSchedule = "@hourly"

// Store is the part of the request store the purger needs.
type Store interface {
	FinishedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// Purger sweeps expired requests.
type Purger struct {
	store  Store
	cache  resultcache.Cache
	window time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Purger.
type Option func(*Purger)

// WithClock replaces the wall clock used to compute the cutoff.
func WithClock(c clock.Clock) Option {
	return func(p *Purger) { p.clock = c }
}

// New creates a purger that keeps finished requests for window.
func New(store Store, cache resultcache.Cache, window time.Duration, logger *slog.Logger, opts ...Option) *Purger {
	p := &Purger{store: store, cache: cache, window: window, clock: clock.New(), logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sweep purges every request that finished before now minus the window and
// returns the ids it removed. A failure on one request does not stop the
// sweep; the errors are combined.
func (p *Purger) Sweep(ctx context.Context) ([]string, error) {
	cutoff := p.clock.Now().Add(-p.window)
	ids, err := p.store.FinishedBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing expired requests: %w", err)
	}

	var errs error
	purged := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := p.purge(ctx, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("purging %s: %w", id, err))
			continue
		}
		purged = append(purged, id)
	}
	p.logger.Info("Retention sweep finished.", "cutoff", cutoff, "purged", len(purged), "failed", len(ids)-len(purged))
	return purged, errs
}

func (p *Purger) purge(ctx context.Context, id string) error {
	req := &request.Request{ID: id}
	for _, scope := range []string{req.CacheScope(request.ModeAccess), req.CacheScope(request.ModeErasure)} {
		if err := p.cache.Purge(ctx, scope); err != nil {
			return err
		}
	}
	return p.store.Delete(ctx, id)
}

// Start runs Sweep on the cron schedule until Stop is called.
func (p *Purger) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := p.Sweep(ctx); err != nil {
			p.logger.Warn("Retention sweep failed.", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		p.cron.Stop()
	}
	p.cron = c
	c.Start()
	p.logger.Info("Retention scheduler started.", "schedule", schedule, "window", p.window)
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (p *Purger) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.logger.Info("Retention scheduler stopped.")
}
