// Package keylock serializes work per key hash.
//
// Each hash owns a one-slot semaphore that is created on first use and dropped
// again once nobody holds or waits for it, so the map only ever contains keys
// that are in flight.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	sem  chan struct{}
	refs int // holders + waiters
}

// Manager hands out per-key locks. The zero value is not usable; use New.
type Manager[K any] struct {
	hash func(K) string

	mu      sync.Mutex
	entries map[string]*entry
}

// New returns a Manager that treats keys with equal hash(key) as the same lock.
func New[K any](hash func(K) string) *Manager[K] {
	return &Manager[K]{
		hash:    hash,
		entries: make(map[string]*entry),
	}
}

// Acquire blocks until the lock for key is held or ctx is done. On success the
// returned release func must be called exactly once; extra calls are no-ops.
func (m *Manager[K]) Acquire(ctx context.Context, key K) (release func(), err error) {
	h := m.hash(key)

	m.mu.Lock()
	e, ok := m.entries[h]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[h] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.unref(h, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.unref(h, e)
		})
	}, nil
}

// Len reports how many keys are currently held or waited on.
func (m *Manager[K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager[K]) unref(h string, e *entry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, h)
	}
	m.mu.Unlock()
}
