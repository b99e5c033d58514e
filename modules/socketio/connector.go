package socketio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
	"github.com/specialistvlad/privacyflow/internal/record"
)

var errClosed = errors.New("socket.io connector closed")

// reply is the decoded payload of a reply event.
type reply struct {
	rows     []record.Row
	affected int
	err      error
}

// Connector shares one socket.io connection between all workers.
type Connector struct {
	settings settings

	// dialFn replaces dial in tests.
	dialFn func(ctx context.Context, onReply func(...any)) (transport, error)

	mu      sync.Mutex
	conn    transport
	pending map[string]chan reply
	closed  bool
}

var _ connector.Connector = (*Connector)(nil)

// TestConnection connects if needed and reports the outcome.
func (c *Connector) TestConnection(ctx context.Context) (connector.Status, error) {
	if _, err := c.transport(ctx); err != nil {
		return connector.StatusFailed, err
	}
	return connector.StatusSucceeded, nil
}

func (c *Connector) Query(ctx context.Context, node connector.Node, input record.Input) ([]record.Row, error) {
	res, err := c.roundTrip(ctx, node.Address, "query", c.settings.queryEvent, map[string]any{
		"collection": node.Address.String(),
		"fields":     input.Fields,
		"tuples":     input.Tuples,
	})
	if err != nil {
		return nil, err
	}
	return res.rows, nil
}

func (c *Connector) MaskOrErase(ctx context.Context, node connector.Node, rows []record.Row, plan connector.MaskingPlan) (int, error) {
	changes, err := plan.Changes(node, rows)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}
	items := make([]map[string]any, 0, len(changes))
	for _, ch := range changes {
		items = append(items, map[string]any{"key": ch.Key, "values": ch.Values, "delete": ch.Values == nil})
	}
	res, err := c.roundTrip(ctx, node.Address, "mask", c.settings.eraseEvent, map[string]any{
		"collection": node.Address.String(),
		"changes":    items,
	})
	if err != nil {
		return 0, err
	}
	return res.affected, nil
}

// Close disconnects and fails every request still waiting for a reply.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		ch <- reply{err: errClosed}
		delete(c.pending, id)
	}
	if c.conn != nil {
		c.conn.close()
		c.conn = nil
	}
	return nil
}

// roundTrip emits one event and waits for the reply carrying the same id,
// or for ctx to end.
func (c *Connector) roundTrip(ctx context.Context, addr nodeid.Address, op, event string, payload map[string]any) (reply, error) {
	t, err := c.transport(ctx)
	if err != nil {
		return reply{}, &privacyerr.ConnectorError{Address: addr, Op: op, Err: err, Retryable: true}
	}

	id := uuid.NewString()
	ch := make(chan reply, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	payload["id"] = id
	ctxlog.FromContext(ctx).Debug("Emitting socket.io event.", "node", addr.String(), "event", event, "id", id)
	t.emit(event, payload)

	select {
	case res := <-ch:
		if res.err != nil {
			return reply{}, &privacyerr.ConnectorError{Address: addr, Op: op, Err: res.err, Retryable: errors.Is(res.err, errClosed)}
		}
		return res, nil
	case <-ctx.Done():
		return reply{}, &privacyerr.ConnectorError{Address: addr, Op: op, Err: fmt.Errorf("waiting for %s reply: %w", event, ctx.Err())}
	}
}

// transport returns the live connection, dialing on first use.
func (c *Connector) transport(ctx context.Context) (transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}
	dialFn := c.dialFn
	if dialFn == nil {
		dialFn = func(ctx context.Context, onReply func(...any)) (transport, error) {
			logger := ctxlog.FromContext(ctx).With("connector", Kind, "url", c.settings.url)
			return dial(ctx, logger, c.settings, onReply)
		}
	}
	t, err := dialFn(ctx, c.onReply)
	if err != nil {
		return nil, err
	}
	c.conn = t
	return t, nil
}

// onReply routes a reply event to the waiting request. Replies nobody waits
// for are dropped.
func (c *Connector) onReply(data ...any) {
	if len(data) == 0 {
		return
	}
	msg, ok := data[0].(map[string]any)
	if !ok {
		return
	}
	id, _ := msg["id"].(string)

	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- decodeReply(msg)
}

func decodeReply(msg map[string]any) reply {
	if e, ok := msg["error"].(string); ok && e != "" {
		return reply{err: errors.New(e)}
	}
	var res reply
	if items, ok := msg["rows"].([]any); ok {
		res.rows = make([]record.Row, 0, len(items))
		for i, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				return reply{err: fmt.Errorf("row %d is %T, not an object", i, item)}
			}
			res.rows = append(res.rows, record.NormalizeRow(record.Row(obj)))
		}
	}
	if n, ok := msg["affected"].(float64); ok {
		res.affected = int(n)
	}
	return res
}
