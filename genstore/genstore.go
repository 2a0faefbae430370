// Package genstore keeps a write generation per storage key.
//
// cachestore bumps the generation on every write and stamps it into the stored
// frame. A frame whose generation differs from the current one was written by a
// writer that lost a race (or before a restart, for Local) and is discarded.
package genstore

import "context"

// GenStore abstracts where generations live.
// Use Local for in-process gens, or Redis to share them across replicas.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
