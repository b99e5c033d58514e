package app

import (
	"context"
	"fmt"

	"github.com/specialistvlad/privacyflow/internal/config"
	"github.com/specialistvlad/privacyflow/internal/ctxlog"
	"github.com/specialistvlad/privacyflow/internal/registry"
)

// loadModel reads the configuration and checks that every connection kind
// has a registered connector.
func loadModel(ctx context.Context, loader config.Loader, paths []string, modules []registry.Module) (*config.Model, *registry.Registry, error) {
	logger := ctxlog.FromContext(ctx)

	model, err := loader.Load(ctx, paths...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded and translated into unified model.")

	reg := registry.New()
	for _, mod := range modules {
		mod.Register(reg)
	}
	logger.Debug("All connector modules registered.", "count", len(modules), "kinds", reg.Kinds())

	if err := reg.Validate(model); err != nil {
		return nil, nil, err
	}
	logger.Info("Configuration loaded.",
		"connections", len(model.Connections),
		"datasets", len(model.Datasets),
		"policies", len(model.Policies),
	)
	return model, reg, nil
}
