// Package connector defines the uniform capability every backend exposes to
// the engine: test the connection, query a collection with lookup values,
// and mask or erase matched rows.
//
// # Why Connector Exists
//
// The engine never knows what a backend is. It resolves a connector by the
// connection's kind string through the registry and talks to it only
// through this interface, so relational stores, document stores, SaaS APIs
// and manual stores all look the same to scheduling, retries and caching.
//
// Implementations wrap transport failures in *privacyerr.ConnectorError and
// set Retryable for failures worth another attempt (timeouts, throttling,
// 5xx responses, dropped connections).
package connector

import (
	"context"
	"fmt"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/masking"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
)

// Status is the outcome of TestConnection.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusSkipped is reported by connectors that have nothing to test,
	// such as manual stores.
	StatusSkipped Status = "skipped"
)

// Limiter paces round-trips to one backend. *ratelimit.Limiter implements
// it; a nil *ratelimit.Limiter allows everything.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Node is what a connector needs to know about the collection it serves.
type Node struct {
	Address    nodeid.Address
	Collection *config.Collection
	RequestID  string
	// Limiter is the connection's shared request budget. Nil means
	// unlimited.
	Limiter Limiter
}

// Wait blocks until the connection's budget allows one more backend
// request. The error is returned unwrapped so a *privacyerr.RateLimitTimeout
// stays recognizable to the scheduler.
func (n Node) Wait(ctx context.Context) error {
	if n.Limiter == nil {
		return nil
	}
	return n.Limiter.Wait(ctx)
}

// RequestPacer is implemented by connectors that call Node.Wait before every
// backend round-trip. The engine does not wait on their behalf.
type RequestPacer interface {
	PacesRequests() bool
}

// PacesRequests reports whether c spends the request budget itself.
func PacesRequests(c Connector) bool {
	p, ok := c.(RequestPacer)
	return ok && p.PacesRequests()
}

// MaskingPlan tells MaskOrErase what to do with matched rows.
type MaskingPlan struct {
	Strategy masking.Strategy
	// Fields are the erasure targets.
	Fields []string
	// PrimaryKeys identify a row for the update or delete statement.
	PrimaryKeys []string
}

// Connector is the capability set of one backend connection.
type Connector interface {
	// TestConnection checks that the backend is reachable with the
	// configured credentials.
	TestConnection(ctx context.Context) (Status, error)

	// Query returns the rows of the node's collection matching any tuple of
	// the input, in backend order.
	Query(ctx context.Context, node Node, input record.Input) ([]record.Row, error)

	// MaskOrErase applies the plan to the given rows, which the access pass
	// returned for the same node, and returns the number of rows affected.
	MaskOrErase(ctx context.Context, node Node, rows []record.Row, plan MaskingPlan) (int, error)

	Close() error
}

// Factory builds a connector for one configured connection.
type Factory func(ctx context.Context, conn *config.Connection) (Connector, error)

// Change is the per-row result of applying a masking plan.
type Change struct {
	// Key holds the primary key values of the row.
	Key map[string]any
	// Values are the new field values. Nil means delete the row.
	Values map[string]any
}

// Changes applies a plan to rows, resolving each row's primary key. Rows
// without a complete primary key cannot be targeted and fail the node.
func (p MaskingPlan) Changes(node Node, rows []record.Row) ([]Change, error) {
	if len(p.PrimaryKeys) == 0 {
		return nil, &privacyerr.ConnectorError{
			Address: node.Address,
			Op:      "mask",
			Err:     fmt.Errorf("collection has no primary key to target rows"),
		}
	}
	out := make([]Change, 0, len(rows))
	for _, row := range rows {
		key := make(map[string]any, len(p.PrimaryKeys))
		for _, pk := range p.PrimaryKeys {
			v, ok := row[pk]
			if !ok || v == nil {
				return nil, &privacyerr.ConnectorError{
					Address: node.Address,
					Op:      "mask",
					Err:     fmt.Errorf("row is missing primary key %q", pk),
				}
			}
			key[pk] = v
		}
		values, err := p.Strategy.Mask(row, p.Fields)
		if err != nil {
			return nil, &privacyerr.ConnectorError{Address: node.Address, Op: "mask", Err: err}
		}
		out = append(out, Change{Key: key, Values: values})
	}
	return out, nil
}

// Match reports whether a row matches any tuple of the input. Values are
// compared in normalized form. It serves connectors that filter in memory.
func Match(row record.Row, input record.Input) bool {
	for _, tuple := range input.Tuples {
		ok := true
		for i, f := range input.Fields {
			v, present := row[f]
			if !present || !equal(record.Normalize(f, "", v), tuple[i]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	return fmt.Sprintf("%T=%v", a, a) == fmt.Sprintf("%T=%v", b, b)
}
