// Package repohelper coordinates a fast local cache and a slow, possibly unreachable
// remote source that hold the same logical entity.
//
// Readers get one continuously updating view: the cache answers immediately, the
// remote source is consulted at most once per cooldown window per key, and the
// remote answer flows back through the cache. Writers go to both sources under a
// per-key lock; if the remote write fails the cache is restored to what it held
// before the write started.
//
// Components:
//   - CacheSource[K, E, W]: observable local store (see package cachestore).
//   - RemoteSource[K, E, RW]: authoritative store (see remote/httpremote, remote/pgremote).
//   - Throttle: per-key cooldown between remote accesses (package throttle).
//   - Result[E]: Loading / Found / NotFound / Error, the value type of read streams.
//
// Read pattern:
//
//	h, _ := repohelper.New(repohelper.Options[int64, User, repohelper.Result[User], cachestore.WriteResult, struct{}]{...})
//	stream, _ := h.Select(ctx, 42)
//	for r := range stream { render(r) } // Loading, Found(cached), Found(fresh)
//
// Write pattern:
//
//	_, err := h.Upsert(ctx, 42, u) // cache first, then remote; cache restored on remote failure
package repohelper
