package cachestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/repohelper"
	"github.com/unkn0wn-root/repohelper/codec"
	"github.com/unkn0wn-root/repohelper/genstore"
	"github.com/unkn0wn-root/repohelper/internal/wire"
	pr "github.com/unkn0wn-root/repohelper/provider"
	"github.com/unkn0wn-root/repohelper/provider/memory"
)

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var (
	oldUser = user{ID: "1", Name: "old"}
	newUser = user{ID: "1", Name: "new"}
)

// flakyProvider wraps a Provider with injectable failures.
type flakyProvider struct {
	pr.Provider

	mu     sync.Mutex
	reject bool
	setErr error
	delErr error
}

func (p *flakyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	reject, err := p.reject, p.setErr
	p.mu.Unlock()
	if err != nil {
		return false, err
	}
	if reject {
		return false, nil
	}
	return p.Provider.Set(ctx, key, value, ttl)
}

func (p *flakyProvider) Del(ctx context.Context, key string) error {
	p.mu.Lock()
	err := p.delErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.Provider.Del(ctx, key)
}

type failingGens struct{ err error }

func (g failingGens) Snapshot(context.Context, string) (uint64, error) { return 0, nil }
func (g failingGens) Bump(context.Context, string) (uint64, error)     { return 0, g.err }
func (g failingGens) Close(context.Context) error                      { return nil }

type healHooks struct {
	repohelper.NopHooks

	mu      sync.Mutex
	reasons []string
}

func (h *healHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	h.reasons = append(h.reasons, reason)
	h.mu.Unlock()
}

func (h *healHooks) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reasons...)
}

func newTestStore(t *testing.T, p pr.Provider, cfgOpt func(*Config[string, user])) *Store[string, user] {
	t.Helper()
	cfg := Config[string, user]{
		Namespace: "user",
		Provider:  p,
		Codec:     codec.JSON[user]{},
	}
	if cfgOpt != nil {
		cfgOpt(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func recvN(t *testing.T, ch <-chan repohelper.Snapshot[user], n int) []repohelper.Snapshot[user] {
	t.Helper()
	out := make([]repohelper.Snapshot[user], 0, n)
	for len(out) < n {
		select {
		case s, ok := <-ch:
			require.True(t, ok, "channel closed")
			out = append(out, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d snapshots", len(out), n)
		}
	}
	return out
}

func requireClosed(t *testing.T, ch <-chan repohelper.Snapshot[user]) {
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

func found(u user) repohelper.Snapshot[user] { return repohelper.Snapshot[user]{Value: u, Found: true} }

func TestNewValidation(t *testing.T) {
	p := memory.New(memory.Config{})
	defer p.Close(context.Background())

	_, err := New(Config[string, user]{Provider: p, Codec: codec.JSON[user]{}})
	require.Error(t, err)
	_, err = New(Config[string, user]{Namespace: "u", Codec: codec.JSON[user]{}})
	require.Error(t, err)
	_, err = New(Config[string, user]{Namespace: "u", Provider: p})
	require.Error(t, err)
}

func TestWriteReadRemove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, memory.New(memory.Config{}), nil)

	_, ok, err := s.ReadOnce(ctx, "1")
	require.NoError(t, err)
	require.False(t, ok)

	res, err := s.Write(ctx, "1", oldUser)
	require.NoError(t, err)
	assert.Equal(t, WriteResult{Key: "rh:user:1", Gen: 1}, res)

	got, ok, err := s.ReadOnce(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, oldUser, got)

	res, err = s.Remove(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, WriteResult{Key: "rh:user:1", Gen: 2, Deleted: true}, res)

	_, ok, err = s.ReadOnce(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObserveIsLossless(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestStore(t, memory.New(memory.Config{}), nil)

	_, err := s.Write(ctx, "1", oldUser)
	require.NoError(t, err)

	ch, err := s.Observe(ctx, "1")
	require.NoError(t, err)

	// nobody reads while these land
	_, err = s.Write(ctx, "1", newUser)
	require.NoError(t, err)
	_, err = s.Write(ctx, "1", oldUser)
	require.NoError(t, err)
	_, err = s.Remove(ctx, "1")
	require.NoError(t, err)
	_, err = s.Write(ctx, "2", newUser) // other key
	require.NoError(t, err)

	assert.Equal(t, []repohelper.Snapshot[user]{
		found(oldUser),
		found(newUser),
		found(oldUser),
		{},
	}, recvN(t, ch, 4))
}

func TestObserveEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestStore(t, memory.New(memory.Config{}), nil)

	ch, err := s.Observe(ctx, "1")
	require.NoError(t, err)
	recvN(t, ch, 1)

	cancel()
	requireClosed(t, ch)

	// writes after the subscription ended must not block
	_, err = s.Write(context.Background(), "1", newUser)
	require.NoError(t, err)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config[string, user]{
		Namespace: "user",
		Provider:  memory.New(memory.Config{}),
		Codec:     codec.JSON[user]{},
	})
	require.NoError(t, err)

	ch, err := s.Observe(ctx, "1")
	require.NoError(t, err)
	recvN(t, ch, 1)

	require.NoError(t, s.Close(ctx))
	requireClosed(t, ch)
	require.NoError(t, s.Close(ctx))

	_, err = s.Observe(ctx, "1")
	require.ErrorIs(t, err, ErrClosed)
}

func TestSelfHeal(t *testing.T) {
	ctx := context.Background()

	t.Run("corrupt frame", func(t *testing.T) {
		p := memory.New(memory.Config{})
		hooks := &healHooks{}
		s := newTestStore(t, p, func(c *Config[string, user]) { c.Hooks = hooks })

		_, err := p.Set(ctx, s.StorageKey("1"), []byte("not a frame"), 0)
		require.NoError(t, err)

		_, ok, err := s.ReadOnce(ctx, "1")
		require.NoError(t, err)
		assert.False(t, ok)
		_, ok, _ = p.Get(ctx, s.StorageKey("1"))
		assert.False(t, ok, "corrupt entry must be deleted")
		assert.Equal(t, []string{"corrupt"}, hooks.snapshot())
	})

	t.Run("stale generation", func(t *testing.T) {
		p := memory.New(memory.Config{})
		gens := genstore.NewLocal(genstore.LocalConfig{})
		defer gens.Close(ctx)
		hooks := &healHooks{}
		s := newTestStore(t, p, func(c *Config[string, user]) {
			c.Hooks = hooks
			c.GenStore = gens
		})

		_, err := s.Write(ctx, "1", oldUser)
		require.NoError(t, err)
		// another writer moved the generation on without storing a frame
		_, err = gens.Bump(ctx, s.StorageKey("1"))
		require.NoError(t, err)

		_, ok, err := s.ReadOnce(ctx, "1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{"gen_mismatch"}, hooks.snapshot())
	})

	t.Run("undecodable payload", func(t *testing.T) {
		p := memory.New(memory.Config{})
		gens := genstore.NewLocal(genstore.LocalConfig{})
		defer gens.Close(ctx)
		hooks := &healHooks{}
		s := newTestStore(t, p, func(c *Config[string, user]) {
			c.Hooks = hooks
			c.GenStore = gens
		})

		sk := s.StorageKey("1")
		gen, err := gens.Bump(ctx, sk)
		require.NoError(t, err)
		_, err = p.Set(ctx, sk, wire.Encode(gen, time.Now(), []byte("{broken")), 0)
		require.NoError(t, err)

		_, ok, err := s.ReadOnce(ctx, "1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, []string{"value_decode"}, hooks.snapshot())
	})
}

func TestRejectedWritePublishesAbsent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &flakyProvider{Provider: memory.New(memory.Config{})}
	s := newTestStore(t, p, nil)

	_, err := s.Write(ctx, "1", oldUser)
	require.NoError(t, err)
	ch, err := s.Observe(ctx, "1")
	require.NoError(t, err)

	p.mu.Lock()
	p.reject = true
	p.mu.Unlock()

	_, err = s.Write(ctx, "1", newUser)
	require.ErrorIs(t, err, ErrRejected)

	assert.Equal(t, []repohelper.Snapshot[user]{found(oldUser), {}}, recvN(t, ch, 2))
	_, ok, err := s.ReadOnce(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveToleratesOneFailure(t *testing.T) {
	ctx := context.Background()
	errDown := errors.New("down")

	t.Run("delete fails", func(t *testing.T) {
		p := &flakyProvider{Provider: memory.New(memory.Config{})}
		s := newTestStore(t, p, nil)
		_, err := s.Write(ctx, "1", oldUser)
		require.NoError(t, err)

		p.mu.Lock()
		p.delErr = errDown
		p.mu.Unlock()
		_, err = s.Remove(ctx, "1")
		require.NoError(t, err)

		// the frame is still there but hidden by the newer generation
		p.mu.Lock()
		p.delErr = nil
		p.mu.Unlock()
		_, ok, err := s.ReadOnce(ctx, "1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("both fail", func(t *testing.T) {
		p := &flakyProvider{Provider: memory.New(memory.Config{}), delErr: errDown}
		s := newTestStore(t, p, func(c *Config[string, user]) {
			c.GenStore = failingGens{err: errDown}
		})

		_, err := s.Remove(ctx, "1")
		require.Error(t, err)
		assert.ErrorIs(t, err, errDown)
	})
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, memory.New(memory.Config{}), func(c *Config[string, user]) {
		c.TTL = 20 * time.Millisecond
	})

	_, err := s.Write(ctx, "1", oldUser)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok, _ := s.ReadOnce(ctx, "1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
