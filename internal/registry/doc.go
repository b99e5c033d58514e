// Package registry maps connection kinds to connector factories.
//
// Connector modules under modules/ implement the Module interface and add
// their factories at start-up:
//
//	reg := registry.New()
//	sqldb.Module{}.Register(reg)
//	saas.Module{}.Register(reg)
//
// The engine never imports a module. It asks a Pool for the connector of a
// connection name; the pool resolves the connection's kind through the
// registry and caches the built connector for the rest of the process.
package registry
