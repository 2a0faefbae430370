package repohelper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// fakeCache is an in-memory CacheSource. Write results are a per-cache version
// counter. Like a real store, it refuses work on a cancelled context.
type fakeCache struct {
	mu      sync.Mutex
	data    map[string]user
	subs    map[string]map[chan Snapshot[user]]struct{}
	version int

	writeErr  error
	removeErr error
}

var _ CacheSource[string, user, int] = (*fakeCache)(nil)

func newFakeCache() *fakeCache {
	return &fakeCache{
		data: make(map[string]user),
		subs: make(map[string]map[chan Snapshot[user]]struct{}),
	}
}

func (c *fakeCache) seed(key string, u user) {
	c.mu.Lock()
	c.data[key] = u
	c.mu.Unlock()
}

func (c *fakeCache) get(key string) (user, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.data[key]
	return u, ok
}

func (c *fakeCache) Observe(ctx context.Context, key string) (<-chan Snapshot[user], error) {
	ch := make(chan Snapshot[user], 64)

	c.mu.Lock()
	u, ok := c.data[key]
	ch <- Snapshot[user]{Value: u, Found: ok}
	if c.subs[key] == nil {
		c.subs[key] = make(map[chan Snapshot[user]]struct{})
	}
	c.subs[key][ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.subs[key], ch)
		c.mu.Unlock()
	}()
	return ch, nil
}

func (c *fakeCache) ReadOnce(ctx context.Context, key string) (user, bool, error) {
	if err := ctx.Err(); err != nil {
		return user{}, false, err
	}
	u, ok := c.get(key)
	return u, ok, nil
}

func (c *fakeCache) Write(ctx context.Context, key string, u user) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.data[key] = u
	c.version++
	c.publish(key, Snapshot[user]{Value: u, Found: true})
	return c.version, nil
}

func (c *fakeCache) Remove(ctx context.Context, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removeErr != nil {
		return 0, c.removeErr
	}
	delete(c.data, key)
	c.version++
	c.publish(key, Snapshot[user]{})
	return c.version, nil
}

// publish must be called with mu held.
func (c *fakeCache) publish(key string, s Snapshot[user]) {
	for ch := range c.subs[key] {
		ch <- s
	}
}

// fakeRemote is an in-memory RemoteSource with injectable failures.
type fakeRemote struct {
	mu   sync.Mutex
	data map[string]user

	fetchErr  error
	writeErr  error
	removeErr error

	// gate, when set, holds every Fetch until it is closed or ctx is done.
	gate chan struct{}
	// onWrite, when set, runs inside Write and Remove before the result is decided.
	onWrite func(ctx context.Context, key string)

	fetches  atomic.Int32
	aborted  atomic.Int32 // fetches that ended because ctx was done
	writes   atomic.Int32
	removals atomic.Int32
}

var _ RemoteSource[string, user, struct{}] = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote { return &fakeRemote{data: make(map[string]user)} }

func (r *fakeRemote) seed(key string, u user) {
	r.mu.Lock()
	r.data[key] = u
	r.mu.Unlock()
}

func (r *fakeRemote) get(key string) (user, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.data[key]
	return u, ok
}

func (r *fakeRemote) Fetch(ctx context.Context, key string) (user, bool, error) {
	r.fetches.Add(1)
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			r.aborted.Add(1)
			return user{}, false, ctx.Err()
		}
	}
	if r.fetchErr != nil {
		return user{}, false, r.fetchErr
	}
	u, ok := r.get(key)
	return u, ok, nil
}

func (r *fakeRemote) Write(ctx context.Context, key string, u user) (struct{}, error) {
	r.writes.Add(1)
	if r.onWrite != nil {
		r.onWrite(ctx, key)
	}
	if r.writeErr != nil {
		return struct{}{}, r.writeErr
	}
	r.seed(key, u)
	return struct{}{}, nil
}

func (r *fakeRemote) Remove(ctx context.Context, key string) (struct{}, error) {
	r.removals.Add(1)
	if r.onWrite != nil {
		r.onWrite(ctx, key)
	}
	if r.removeErr != nil {
		return struct{}{}, r.removeErr
	}
	r.mu.Lock()
	delete(r.data, key)
	r.mu.Unlock()
	return struct{}{}, nil
}

type recHooks struct {
	mu     sync.Mutex
	events []string
}

var _ Hooks = (*recHooks)(nil)

func (h *recHooks) add(format string, args ...any) {
	h.mu.Lock()
	h.events = append(h.events, fmt.Sprintf(format, args...))
	h.mu.Unlock()
}

func (h *recHooks) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *recHooks) RemoteFetched(hash string, found bool) { h.add("fetched:%s:%v", hash, found) }
func (h *recHooks) RemoteFetchFailed(hash string, err error) {
	h.add("fetch_failed:%s:%v", hash, err)
}
func (h *recHooks) ThrottleSkipped(hash string) { h.add("skipped:%s", hash) }
func (h *recHooks) WriteRolledBack(op, hash string, cause error) {
	h.add("rolled_back:%s:%s", op, hash)
}
func (h *recHooks) RollbackFailed(op, hash string, err error) {
	h.add("rollback_failed:%s:%s", op, hash)
}
func (h *recHooks) SelfHeal(storageKey, reason string) { h.add("self_heal:%s:%s", storageKey, reason) }

type testHelper = Helper[string, user, Result[user], int, struct{}]

func newTestHelper(t *testing.T, cache *fakeCache, remote *fakeRemote, optsOpt func(*Options[string, user, Result[user], int, struct{}])) *testHelper {
	t.Helper()
	opts := Options[string, user, Result[user], int, struct{}]{
		Cache:         cache,
		Remote:        remote,
		OnErrorReturn: FailNotFound[user],
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	h, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(h.Close)
	return h
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func recvN[T any](t *testing.T, ch <-chan T, n int) []T {
	t.Helper()
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, recv(t, ch))
	}
	return out
}

func requireQuiet[T any](t *testing.T, ch <-chan T, d time.Duration) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value: %v", v)
		}
	case <-time.After(d):
	}
}

func requireClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed")
		}
	}
}

var errRemoteDown = errors.New("remote down")
