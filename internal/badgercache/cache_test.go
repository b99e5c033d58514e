package badgercache

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/record"
	"github.com/specialistvlad/privacyflow/internal/resultcache"
	"github.com/specialistvlad/privacyflow/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	users  = nodeid.New("app", "users")
	orders = nodeid.New("app", "orders")
)

func openInMemory(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(Config{InMemory: true, TTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_PutGet(t *testing.T) {
	ctx := testutil.Context(t)
	c := openInMemory(t)

	_, ok, err := c.Get(ctx, "r1", users)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "r1", users, &resultcache.NodeResult{Rows: []record.Row{{"user_id": 1, "email": "a@x.com"}}}))
	require.NoError(t, c.Put(ctx, "r1", users, &resultcache.NodeResult{Rows: []record.Row{{"user_id": 2}}}))

	got, ok, err := c.Get(ctx, "r1", users)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, users, got.Address)
	assert.Equal(t, []record.Row{{"user_id": int64(2)}}, got.Rows, "last write wins")
}

func TestCache_ScopesAndPurge(t *testing.T) {
	ctx := testutil.Context(t)
	c := openInMemory(t)

	require.NoError(t, c.Put(ctx, "r1", users, &resultcache.NodeResult{}))
	require.NoError(t, c.Put(ctx, "r1", orders, &resultcache.NodeResult{Skipped: true, Reason: "no input from app:users"}))
	require.NoError(t, c.Put(ctx, "r10", users, &resultcache.NodeResult{}))

	all, err := c.GetAll(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, all, 2, "r10 shares a string prefix with r1 but is a different scope")
	assert.True(t, all[orders].Skipped)

	require.NoError(t, c.Purge(ctx, "r1"))
	all, err = c.GetAll(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, all)

	_, ok, err := c.Get(ctx, "r10", users)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_CorruptEntryIsAbsent(t *testing.T) {
	ctx, logs := testutil.CaptureContext()
	c := openInMemory(t)

	require.NoError(t, c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(resultcache.Key("r1", users)), []byte(`{"version":1,"checksum":"00","payload":{}}`))
	}))

	_, ok, err := c.Get(ctx, "r1", users)
	require.NoError(t, err)
	assert.False(t, ok)
	all, err := c.GetAll(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Contains(t, logs.String(), "Discarding corrupt checkpoint.")
}

func TestCache_SurvivesReopen(t *testing.T) {
	ctx := testutil.Context(t)
	dir := t.TempDir()

	c, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "r1", users, &resultcache.NodeResult{Rows: []record.Row{{"user_id": 7}}}))
	require.NoError(t, c.Close())

	c, err = Open(Config{Path: dir})
	require.NoError(t, err)
	defer c.Close()

	got, ok, err := c.Get(ctx, "r1", users)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.Rows[0]["user_id"])
}

func TestCache_EntriesExpire(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a badger TTL, which has second granularity")
	}
	ctx := testutil.Context(t)
	c, err := Open(Config{InMemory: true, TTL: time.Second})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(ctx, "r1", users, &resultcache.NodeResult{}))
	time.Sleep(2100 * time.Millisecond)

	_, ok, err := c.Get(ctx, "r1", users)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorContains(t, err, "checkpoint path is required")
}
