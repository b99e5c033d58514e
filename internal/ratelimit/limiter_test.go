package ratelimit

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_NilAllowsEverything(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background()))
	assert.Nil(t, New("db", nil, 0))
}

func TestLimiter_SustainedRateAcrossWorkers(t *testing.T) {
	if testing.Short() {
		t.Skip("takes five seconds")
	}
	l := New("saas", []config.RateLimit{{Requests: 100, Period: time.Second}}, time.Minute)

	var mu sync.Mutex
	var stamps []time.Time
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500/8+1; i++ {
				mu.Lock()
				if len(stamps) >= 500 {
					mu.Unlock()
					return
				}
				mu.Unlock()
				assert.NoError(t, l.Wait(context.Background()))
				mu.Lock()
				stamps = append(stamps, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, len(stamps), 500)
	stamps = stamps[:500]
	slices.SortFunc(stamps, func(a, b time.Time) int { return a.Compare(b) })
	// Sliding one-second windows anchored at every call.
	j := 0
	for i := range stamps {
		for j < len(stamps) && stamps[j].Sub(stamps[i]) < time.Second {
			j++
		}
		assert.LessOrEqual(t, j-i, 105, "window starting at call %d", i)
	}
}

func TestLimiter_MultipleBudgets(t *testing.T) {
	l := New("db", []config.RateLimit{
		{Requests: 1000, Period: time.Second, Burst: 10},
		{Requests: 2, Period: time.Hour, Burst: 2},
	}, 50*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))

	err := l.Wait(ctx)
	var rl *privacyerr.RateLimitTimeout
	require.True(t, errors.As(err, &rl), "the hourly budget is exhausted")
	assert.Equal(t, "db", rl.Backend)
	assert.True(t, privacyerr.Recoverable(err))
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l := New("db", []config.RateLimit{{Requests: 1, Period: 10 * time.Second}}, time.Minute)
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}

func TestRegistry_SharesLimiters(t *testing.T) {
	r := NewRegistry(map[string]*config.Connection{
		"saas": {Name: "saas", RateLimits: []config.RateLimit{{Requests: 5, Period: time.Second}}},
		"db":   {Name: "db"},
	}, 0)

	assert.Same(t, r.For("saas"), r.For("saas"))
	assert.Nil(t, r.For("db"))
	assert.Nil(t, r.For("unknown"))
}
