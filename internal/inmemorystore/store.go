// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the nodestore.Store interface.
//
// # Concurrency Model
//
// Unlike inmemorytopology which uses RWMutex, this store uses sync.Map:
// the key space is fixed once the plan is loaded, but values change on every
// scheduler report while the engine and metrics read concurrently.
package inmemorystore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/specialistvlad/privacyflow/internal/node"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/nodestore"
)

// Store is an in-memory implementation of nodestore.Store using sync.Map
// for fine-grained concurrent access without global lock contention.
type Store struct {
	states   sync.Map // Key: nodeid.Address, Value: node.Status
	outputs  sync.Map // Key: nodeid.Address, Value: any
	errors   sync.Map // Key: nodeid.Address, Value: error
	reasons  sync.Map // Key: nodeid.Address, Value: string
	attempts sync.Map // Key: nodeid.Address, Value: *atomic.Int32
	retrying sync.Map // Key: nodeid.Address, Value: bool
}

// New creates a new, empty in-memory node state store.
func New() nodestore.Store {
	return &Store{}
}

// SetStatus updates the execution status of a specific node.
func (s *Store) SetStatus(ctx context.Context, id nodeid.Address, status node.Status) error {
	s.states.Store(id, status)
	return nil
}

// GetStatus retrieves the execution status of a specific node.
// If a status has not been set, it returns StatusPending.
func (s *Store) GetStatus(ctx context.Context, id nodeid.Address) (node.Status, error) {
	status, ok := s.states.Load(id)
	if !ok {
		return node.StatusPending, nil
	}
	return status.(node.Status), nil
}

// SetOutput records the successful output of a node.
func (s *Store) SetOutput(ctx context.Context, id nodeid.Address, output any) error {
	s.outputs.Store(id, output)
	return nil
}

// GetOutput retrieves the recorded output of a completed node.
func (s *Store) GetOutput(ctx context.Context, id nodeid.Address) (any, error) {
	output, ok := s.outputs.Load(id)
	if !ok {
		return nil, nil
	}
	return output, nil
}

// SetError records the failure error of a node.
func (s *Store) SetError(ctx context.Context, id nodeid.Address, nodeErr error) error {
	if nodeErr == nil {
		s.errors.Delete(id)
		return nil
	}
	s.errors.Store(id, nodeErr)
	return nil
}

// GetError retrieves the recorded error of a failed node.
func (s *Store) GetError(ctx context.Context, id nodeid.Address) (error, error) {
	err, ok := s.errors.Load(id)
	if !ok {
		return nil, nil
	}
	return err.(error), nil
}

// SetReason records why a node was skipped.
func (s *Store) SetReason(ctx context.Context, id nodeid.Address, reason string) error {
	s.reasons.Store(id, reason)
	return nil
}

// GetReason retrieves the skip reason of a node.
func (s *Store) GetReason(ctx context.Context, id nodeid.Address) (string, error) {
	reason, ok := s.reasons.Load(id)
	if !ok {
		return "", nil
	}
	return reason.(string), nil
}

// IncrementAttempts bumps the dispatch counter of a node.
func (s *Store) IncrementAttempts(ctx context.Context, id nodeid.Address) (int, error) {
	counter, _ := s.attempts.LoadOrStore(id, new(atomic.Int32))
	return int(counter.(*atomic.Int32).Add(1)), nil
}

// Attempts returns the dispatch counter of a node.
func (s *Store) Attempts(ctx context.Context, id nodeid.Address) (int, error) {
	counter, ok := s.attempts.Load(id)
	if !ok {
		return 0, nil
	}
	return int(counter.(*atomic.Int32).Load()), nil
}

// SetRetrying flags an errored node as awaiting a retry.
func (s *Store) SetRetrying(ctx context.Context, id nodeid.Address, retrying bool) error {
	s.retrying.Store(id, retrying)
	return nil
}

// Retrying reports whether an errored node awaits a retry.
func (s *Store) Retrying(ctx context.Context, id nodeid.Address) (bool, error) {
	v, ok := s.retrying.Load(id)
	if !ok {
		return false, nil
	}
	return v.(bool), nil
}
