package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"go.uber.org/multierr"
)

// Pool builds connectors on first use and shares them between requests.
type Pool struct {
	reg   *Registry
	model *config.Model

	mu         sync.Mutex
	connectors map[string]connector.Connector
}

// NewPool creates a pool over the model's connections.
func NewPool(reg *Registry, model *config.Model) *Pool {
	return &Pool{reg: reg, model: model, connectors: make(map[string]connector.Connector)}
}

// Get returns the connector of a connection, building it if needed.
func (p *Pool) Get(ctx context.Context, name string) (connector.Connector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.connectors[name]; ok {
		return c, nil
	}
	conn, ok := p.model.Connections[name]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", name)
	}
	factory, ok := p.reg.Factory(conn.Kind)
	if !ok {
		return nil, fmt.Errorf("connection %q: no connector registered for kind %q", name, conn.Kind)
	}
	c, err := factory(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	ctxlog.FromContext(ctx).Debug("Connector created.", "connection", name, "kind", conn.Kind)
	p.connectors[name] = c
	return c, nil
}

// Close closes every connector built so far.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for name, c := range p.connectors {
		if cerr := c.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("closing connection %q: %w", name, cerr))
		}
	}
	p.connectors = make(map[string]connector.Connector)
	return err
}
