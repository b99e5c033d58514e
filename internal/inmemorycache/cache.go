// Package inmemorycache provides an ephemeral resultcache.Cache for tests
// and single-shot runs that do not need checkpoints to survive the process.
// Entries are stored in their encoded envelope form so callers never share
// row maps with the cache, and they expire by the injected clock.
package inmemorycache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/resultcache"
)

type entry struct {
	data      []byte
	expiresAt time.Time
}

// Cache is a mutex-guarded map of encoded entries.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	clock   clock.Clock
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock, typically with clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// New creates a cache whose entries live for ttl. A zero ttl never expires.
func New(ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{entries: make(map[string]entry), ttl: ttl, clock: clock.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put implements resultcache.Cache.
func (c *Cache) Put(ctx context.Context, scope string, addr nodeid.Address, res *resultcache.NodeResult) error {
	data, err := resultcache.Encode(res)
	if err != nil {
		return err
	}
	e := entry{data: data}
	if c.ttl > 0 {
		e.expiresAt = c.clock.Now().Add(c.ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[resultcache.Key(scope, addr)] = e
	return nil
}

// Get implements resultcache.Cache.
func (c *Cache) Get(ctx context.Context, scope string, addr nodeid.Address) (*resultcache.NodeResult, bool, error) {
	c.mu.Lock()
	e, ok := c.live(resultcache.Key(scope, addr))
	c.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	return resultcache.DecodeEntry(ctx, addr, e.data)
}

// GetAll implements resultcache.Cache.
func (c *Cache) GetAll(ctx context.Context, scope string) (map[nodeid.Address]*resultcache.NodeResult, error) {
	prefix := resultcache.Prefix(scope)
	raw := make(map[nodeid.Address][]byte)

	c.mu.Lock()
	for k := range c.entries {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		e, ok := c.live(k)
		if !ok {
			continue
		}
		addr, err := nodeid.Parse(strings.TrimPrefix(k, prefix))
		if err != nil {
			continue
		}
		raw[addr] = e.data
	}
	c.mu.Unlock()

	out := make(map[nodeid.Address]*resultcache.NodeResult, len(raw))
	for addr, data := range raw {
		res, ok, err := resultcache.DecodeEntry(ctx, addr, data)
		if err != nil {
			return nil, err
		}
		if ok {
			out[addr] = res
		}
	}
	return out, nil
}

// Purge implements resultcache.Cache.
func (c *Cache) Purge(ctx context.Context, scope string) error {
	prefix := resultcache.Prefix(scope)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// Close implements resultcache.Cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	return nil
}

// live returns an unexpired entry, dropping it when expired. Callers hold mu.
func (c *Cache) live(key string) (entry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return entry{}, false
	}
	return e, true
}
