package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/connector"
	"github.com/specialistvlad/privacyflow/internal/privacyerr"
)

// Module is the interface that all connector modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the connector factories of one application instance.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]connector.Factory
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{factories: make(map[string]connector.Factory)}
}

// RegisterConnector registers the factory of a connection kind. Registering
// a kind twice is a programming error and panics.
func (r *Registry) RegisterConnector(kind string, f connector.Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		panic(fmt.Sprintf("connector kind '%s' already registered", kind))
	}
	slog.Debug("Registering connector.", "kind", kind)
	r.factories[kind] = f
}

// Factory returns the factory of a kind.
func (r *Registry) Factory(kind string) (connector.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Validate checks that every configured connection has a registered kind.
func (r *Registry) Validate(model *config.Model) error {
	names := make([]string, 0, len(model.Connections))
	for name := range model.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		conn := model.Connections[name]
		if _, ok := r.Factory(conn.Kind); !ok {
			return privacyerr.Validationf("connection "+name, "unknown connector kind %q (registered: %v)", conn.Kind, r.Kinds())
		}
	}
	return nil
}
