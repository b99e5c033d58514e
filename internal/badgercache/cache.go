// Package badgercache is the durable resultcache.Cache: checkpoints live in
// a BadgerDB directory under `ckpt/<scope>/<dataset>:<collection>` keys, so
// any process opening the same directory can resume a request.
//
// Entries are the checksummed envelopes of resultcache and carry a badger
// TTL; expired keys disappear on their own and are reclaimed by value log GC.
package badgercache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/resultcache"
)

// Config holds configuration for the checkpoint database.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path     string
	InMemory bool
	// TTL bounds how long a checkpoint is kept. Zero keeps it forever.
	TTL        time.Duration
	SyncWrites bool
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
	// Logger receives badger's internal messages. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns the production settings for a directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		TTL:        7 * 24 * time.Hour,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Cache implements resultcache.Cache on BadgerDB.
type Cache struct {
	db  *badger.DB
	ttl time.Duration

	stopGC chan struct{}
	gcDone chan struct{}
}

var _ resultcache.Cache = (*Cache)(nil)

// Open opens the database and starts value log GC when configured.
func Open(cfg Config) (*Cache, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("checkpoint path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}

	c := &Cache{db: db, ttl: cfg.TTL}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		c.stopGC = make(chan struct{})
		c.gcDone = make(chan struct{})
		go c.runGC(cfg.GCInterval, cfg.Logger)
	}
	return c, nil
}

// Put implements resultcache.Cache. The write is committed before Put
// returns, so a completed node is durable before it is reported.
func (c *Cache) Put(_ context.Context, scope string, addr nodeid.Address, res *resultcache.NodeResult) error {
	data, err := resultcache.Encode(res)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(resultcache.Key(scope, addr)), data)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Get implements resultcache.Cache.
func (c *Cache) Get(ctx context.Context, scope string, addr nodeid.Address) (*resultcache.NodeResult, bool, error) {
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(resultcache.Key(scope, addr)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading checkpoint %s: %w", addr, err)
	}
	return resultcache.DecodeEntry(ctx, addr, data)
}

// GetAll implements resultcache.Cache.
func (c *Cache) GetAll(ctx context.Context, scope string) (map[nodeid.Address]*resultcache.NodeResult, error) {
	prefix := []byte(resultcache.Prefix(scope))
	raw := make(map[nodeid.Address][]byte)
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 16, Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			addr, err := nodeid.Parse(strings.TrimPrefix(string(item.Key()), string(prefix)))
			if err != nil {
				ctxlog.FromContext(ctx).Warn("Ignoring checkpoint with malformed key.", "key", string(item.Key()))
				continue
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			raw[addr] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints of %q: %w", scope, err)
	}

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
	if err := c.db.DropPrefix([]byte(resultcache.Prefix(scope))); err != nil {
		return fmt.Errorf("purging checkpoints of %q: %w", scope, err)
	}
	ctxlog.FromContext(ctx).Debug("Purged checkpoints.", "scope", scope)
	return nil
}

// Close stops GC and closes the database.
func (c *Cache) Close() error {
	if c.stopGC != nil {
		close(c.stopGC)
		<-c.gcDone
		c.stopGC = nil
	}
	return c.db.Close()
}

func (c *Cache) runGC(interval time.Duration, logger *slog.Logger) {
	defer close(c.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means there was nothing worth collecting.
			if err := c.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("Checkpoint value log GC failed.", "error", err)
			}
		}
	}
}
