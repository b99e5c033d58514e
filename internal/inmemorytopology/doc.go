// Package inmemorytopology provides a simple, thread-safe, in-memory
// implementation of the topologystore.Store interface. Neighbour lists come
// back in insertion order so scheduling stays deterministic.
package inmemorytopology
