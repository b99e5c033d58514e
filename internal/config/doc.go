// Package config defines the format-agnostic graph model consumed by the
// planner and the engine: connections, datasets, collections, fields, their
// cross-references, and the policies that decide which fields a privacy
// request may collect or erase.
//
// The `config.Model` is read-only input. Nothing in the engine mutates it;
// a model is loaded once per process and shared by every request. Concrete
// loaders, such as the HCL one, live in separate packages and implement the
// Loader interface.
package config
