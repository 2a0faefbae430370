package repohelper

import "context"

// NoKey is the key type for entities that exist once per source (settings,
// the signed-in user, ...). All NoKey values hash to the same lock and throttle entry.
type NoKey struct{}

func (NoKey) String() string { return "<nokey>" }

// SingletonCache is a cache that holds at most one entity and needs no key.
type SingletonCache[E, W any] interface {
	Observe(ctx context.Context) (<-chan Snapshot[E], error)
	ReadOnce(ctx context.Context) (E, bool, error)
	Write(ctx context.Context, entity E) (W, error)
	Remove(ctx context.Context) (W, error)
}

// KeylessCache adapts a SingletonCache to a CacheSource keyed by NoKey.
func KeylessCache[E, W any](c SingletonCache[E, W]) CacheSource[NoKey, E, W] {
	return keylessCache[E, W]{c: c}
}

type keylessCache[E, W any] struct{ c SingletonCache[E, W] }

func (k keylessCache[E, W]) Observe(ctx context.Context, _ NoKey) (<-chan Snapshot[E], error) {
	return k.c.Observe(ctx)
}

func (k keylessCache[E, W]) ReadOnce(ctx context.Context, _ NoKey) (E, bool, error) {
	return k.c.ReadOnce(ctx)
}

func (k keylessCache[E, W]) Write(ctx context.Context, _ NoKey, entity E) (W, error) {
	return k.c.Write(ctx, entity)
}

func (k keylessCache[E, W]) Remove(ctx context.Context, _ NoKey) (W, error) {
	return k.c.Remove(ctx)
}

// FetchFunc fetches one entity from a remote source.
type FetchFunc[K, E any] func(ctx context.Context, key K) (E, bool, error)

// ReadOnlyRemote adapts a fetch function to a RemoteSource whose Write and
// Remove fail with ErrReadOnlyRemote. Upsert and Delete through such a source
// always roll the cache back.
func ReadOnlyRemote[K, E any](fetch FetchFunc[K, E]) RemoteSource[K, E, struct{}] {
	return readOnlyRemote[K, E]{fetch: fetch}
}

type readOnlyRemote[K, E any] struct{ fetch FetchFunc[K, E] }

func (r readOnlyRemote[K, E]) Fetch(ctx context.Context, key K) (E, bool, error) {
	return r.fetch(ctx, key)
}

func (readOnlyRemote[K, E]) Write(context.Context, K, E) (struct{}, error) {
	return struct{}{}, ErrReadOnlyRemote
}

func (readOnlyRemote[K, E]) Remove(context.Context, K) (struct{}, error) {
	return struct{}{}, ErrReadOnlyRemote
}
