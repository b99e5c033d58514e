// Package ratelimit enforces per-backend request budgets shared by every
// worker that talks to the same connection.
//
// A connection may declare several budgets at once, for example 10 per
// second and 500 per hour. A call goes through only when every budget has a
// token for it. Waiting is bounded: when the earliest slot is further away
// than the limiter's maximum wait, Wait gives up immediately with a
// *privacyerr.RateLimitTimeout, which the scheduler treats as recoverable.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"golang.org/x/time/rate"
)

// DefaultMaxWait bounds how long a single call may wait for its slot.
const DefaultMaxWait = 30 * time.Second

// Limiter combines the budgets of one backend. A nil *Limiter allows
// everything.
type Limiter struct {
	backend  string
	maxWait  time.Duration
	limiters []*rate.Limiter
	// mu makes reserving across several budgets atomic, so two callers
	// cannot interleave and each hold half of what they need.
	mu sync.Mutex
}

// New builds a limiter from declared budgets. It returns nil when there are
// no budgets.
func New(backend string, limits []config.RateLimit, maxWait time.Duration) *Limiter {
	if len(limits) == 0 {
		return nil
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	l := &Limiter{backend: backend, maxWait: maxWait}
	for _, lim := range limits {
		burst := lim.Burst
		if burst <= 0 {
			burst = 1
		}
		every := lim.Period / time.Duration(lim.Requests)
		l.limiters = append(l.limiters, rate.NewLimiter(rate.Every(every), burst))
	}
	return l
}

// Wait blocks until every budget grants one call, ctx ends, or the wait
// would exceed the maximum.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	now := time.Now()
	reservations := make([]*rate.Reservation, 0, len(l.limiters))
	var delay time.Duration
	for _, lim := range l.limiters {
		r := lim.ReserveN(now, 1)
		if !r.OK() {
			cancelAll(reservations, now)
			l.mu.Unlock()
			return &privacyerr.RateLimitTimeout{Backend: l.backend, Wait: l.maxWait}
		}
		reservations = append(reservations, r)
		if d := r.DelayFrom(now); d > delay {
			delay = d
		}
	}
	if delay > l.maxWait {
		cancelAll(reservations, now)
		l.mu.Unlock()
		return &privacyerr.RateLimitTimeout{Backend: l.backend, Wait: delay}
	}
	l.mu.Unlock()

	if delay == 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		cancelAll(reservations, time.Now())
		return ctx.Err()
	}
}

func cancelAll(rs []*rate.Reservation, now time.Time) {
	for _, r := range rs {
		r.CancelAt(now)
	}
}

// Registry holds one limiter per connection. Limiters are created once and
// shared, so every worker draws from the same budgets.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	maxWait  time.Duration
}

// NewRegistry builds limiters for every connection that declares budgets.
func NewRegistry(connections map[string]*config.Connection, maxWait time.Duration) *Registry {
	r := &Registry{limiters: make(map[string]*Limiter), maxWait: maxWait}
	for name, conn := range connections {
		r.limiters[name] = New(name, conn.RateLimits, maxWait)
	}
	return r
}

// For returns the limiter of a connection, nil when it is unlimited.
func (r *Registry) For(connection string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiters[connection]
}
