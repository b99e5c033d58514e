// Package resultcache defines the checkpoint store of the execution engine:
// the durable record of every node that finished within a request.
//
// # Why Result Cache Exists
//
// Cache presence is the completion marker. A worker writes a node's result
// before reporting success, so a crash between the two never loses work and
// a resumed request dispatches only the nodes that have no entry. It is also
// the only state workers and the scheduler loop share: downstream workers
// read their inputs from upstream entries instead of from memory owned by
// the loop.
//
// Entries are keyed by (scope, address). The scope is the request id for
// the access pass and a derived id for the erasure pass; see
// request.Request.CacheScope.
package resultcache

import (
	"context"
	"errors"
	"time"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/record"
)

// EnvelopeVersion is the current on-disk entry format.
const EnvelopeVersion = 1

// ErrCorrupt marks an entry that failed its checksum or version check.
var ErrCorrupt = errors.New("corrupt checkpoint entry")

// NodeResult is the outcome of one node within one pass.
type NodeResult struct {
	Address nodeid.Address `json:"-"`
	// Rows keep connector order. Only access passes store rows.
	Rows []record.Row `json:"rows,omitempty"`
	// Affected is the number of records masked or deleted by an erasure pass.
	Affected int `json:"affected,omitempty"`
	// Skipped marks a node that had nothing to query with.
	Skipped     bool      `json:"skipped,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Cache is the checkpoint store.
//
// Implementations MUST be safe for concurrent use. Concurrent puts to the
// same key are serialized and the last write wins.
type Cache interface {
	// Put stores a result. It returns only once the entry is durable.
	Put(ctx context.Context, scope string, addr nodeid.Address, res *NodeResult) error

	// Get returns the entry for a node. A missing, expired or corrupt entry
	// reports false without an error.
	Get(ctx context.Context, scope string, addr nodeid.Address) (*NodeResult, bool, error)

	// GetAll returns every live entry of a scope.
	GetAll(ctx context.Context, scope string) (map[nodeid.Address]*NodeResult, error)

	// Purge deletes every entry of a scope.
	Purge(ctx context.Context, scope string) error

	Close() error
}

// Key returns the storage key of an entry.
func Key(scope string, addr nodeid.Address) string {
	return Prefix(scope) + addr.String()
}

// Prefix returns the key prefix shared by every entry of a scope.
func Prefix(scope string) string {
	return "ckpt/" + scope + "/"
}
