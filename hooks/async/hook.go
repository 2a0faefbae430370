// Package asynchook moves hook delivery off the read and write paths.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{ThrottleSkipEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	h, _ := repohelper.New(repohelper.Options[...]{
//	    ...
//	    Hooks: hooks, // or `raw` if you don't want async
//	})
//
// Events are dropped when the queue is full. Dropped() reports how many.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/repohelper"
)

type Hooks struct {
	inner   repohelper.Hooks
	q       chan func()
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	dropped atomic.Uint64
}

var _ repohelper.Hooks = (*Hooks)(nil)

func New(inner repohelper.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = repohelper.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close stops accepting events, delivers what is queued and waits for workers.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) RemoteFetched(hash string, found bool) {
	h.try(func() { h.inner.RemoteFetched(hash, found) })
}
func (h *Hooks) RemoteFetchFailed(hash string, err error) {
	h.try(func() { h.inner.RemoteFetchFailed(hash, err) })
}
func (h *Hooks) ThrottleSkipped(hash string) { h.try(func() { h.inner.ThrottleSkipped(hash) }) }
func (h *Hooks) WriteRolledBack(op, hash string, cause error) {
	h.try(func() { h.inner.WriteRolledBack(op, hash, cause) })
}
func (h *Hooks) RollbackFailed(op, hash string, err error) {
	h.try(func() { h.inner.RollbackFailed(op, hash, err) })
}
func (h *Hooks) SelfHeal(k, r string) { h.try(func() { h.inner.SelfHeal(k, r) }) }
