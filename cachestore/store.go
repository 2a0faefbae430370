// Package cachestore is a repohelper.CacheSource on top of a byte Provider.
//
// Entries are encoded with a Codec, framed with a per-key write generation and
// stored under "rh:<ns>:<key>". Reads self-heal: a frame that is corrupt, was
// written under an older generation, or does not decode is deleted and reads as
// absent.
//
// Observe delivers the current value and then every change made through the
// same Store, in order and without loss. Changes made by other processes to a
// shared provider are not observed.
package cachestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/channelqueue"
	"github.com/hashicorp/go-multierror"

	"github.com/unkn0wn-root/repohelper"
	"github.com/unkn0wn-root/repohelper/codec"
	"github.com/unkn0wn-root/repohelper/genstore"
	"github.com/unkn0wn-root/repohelper/internal/keylock"
	"github.com/unkn0wn-root/repohelper/internal/wire"
	pr "github.com/unkn0wn-root/repohelper/provider"
)

var (
	ErrClosed   = errors.New("cachestore: store closed")
	ErrRejected = errors.New("cachestore: write rejected by provider")
)

// Config tunes a Store. Namespace, Provider and Codec are required.
type Config[K, E any] struct {
	Namespace string // logical namespace to avoid collisions. e.g. "user", "settings"
	Provider  pr.Provider
	Codec     codec.Codec[E]

	KeyFunc  func(K) string    // default fmt.Sprint(key)
	TTL      time.Duration     // 0 => entries do not expire
	GenStore genstore.GenStore // nil => genstore.Local owned by the Store
	Logger   repohelper.Logger // if nil, NopLogger is used
	Hooks    repohelper.Hooks  // if nil, NopHooks is used
	Clock    func() time.Time  // stamps frames; default time.Now
}

// WriteResult describes a completed Write or Remove.
type WriteResult struct {
	Key     string // storage key
	Gen     uint64 // generation the entry was written (or removed) under
	Deleted bool
}

type Store[K, E any] struct {
	ns       string
	provider pr.Provider
	codec    codec.Codec[E]
	keyFunc  func(K) string
	ttl      time.Duration
	gens     genstore.GenStore
	ownGens  bool
	log      repohelper.Logger
	hooks    repohelper.Hooks
	now      func() time.Time

	// writes and subscriptions of one key are serialized so a subscriber never
	// sees a change before the value it subscribed at
	locks *keylock.Manager[string]

	mu     sync.Mutex
	subs   map[string]map[*subscriber[E]]struct{}
	closed bool
}

var _ repohelper.CacheSource[string, struct{}, WriteResult] = (*Store[string, struct{}])(nil)

type subscriber[E any] struct {
	in  chan<- repohelper.Snapshot[E]
	out <-chan repohelper.Snapshot[E]
}

func New[K, E any](cfg Config[K, E]) (*Store[K, E], error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("cachestore: provider is required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("cachestore: codec is required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("cachestore: namespace is required")
	}

	s := &Store[K, E]{
		ns:       cfg.Namespace,
		provider: cfg.Provider,
		codec:    cfg.Codec,
		keyFunc:  cfg.KeyFunc,
		ttl:      cfg.TTL,
		gens:     cfg.GenStore,
		now:      cfg.Clock,
		locks:    keylock.New(func(k string) string { return k }),
		subs:     make(map[string]map[*subscriber[E]]struct{}),
	}
	if s.keyFunc == nil {
		s.keyFunc = func(k K) string { return fmt.Sprint(k) }
	}
	if s.gens == nil {
		s.gens = genstore.NewLocal(genstore.LocalConfig{})
		s.ownGens = true
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.log = cfg.Logger
	if s.log == nil {
		s.log = repohelper.NopLogger{}
	}
	s.hooks = cfg.Hooks
	if s.hooks == nil {
		s.hooks = repohelper.NopHooks{}
	}
	return s, nil
}

// StorageKey returns the provider key used for key.
func (s *Store[K, E]) StorageKey(key K) string { return "rh:" + s.ns + ":" + s.keyFunc(key) }

func (s *Store[K, E]) ReadOnce(ctx context.Context, key K) (E, bool, error) {
	snap, err := s.read(ctx, s.StorageKey(key))
	return snap.Value, snap.Found, err
}

// Observe subscribes to key. The channel yields the current snapshot first and
// is closed when ctx is done or the Store is closed.
func (s *Store[K, E]) Observe(ctx context.Context, key K) (<-chan repohelper.Snapshot[E], error) {
	sk := s.StorageKey(key)

	release, err := s.locks.Acquire(ctx, sk)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := s.read(ctx, sk)
	if err != nil {
		return nil, err
	}

	q := channelqueue.New[repohelper.Snapshot[E]](-1)
	sub := &subscriber[E]{in: q.In(), out: q.Out()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.in)
		return nil, ErrClosed
	}
	if s.subs[sk] == nil {
		s.subs[sk] = make(map[*subscriber[E]]struct{})
	}
	s.subs[sk][sub] = struct{}{}
	sub.in <- cur
	s.mu.Unlock()

	out := make(chan repohelper.Snapshot[E])
	go s.forward(ctx, sk, sub, out)
	return out, nil
}

func (s *Store[K, E]) forward(ctx context.Context, sk string, sub *subscriber[E], out chan<- repohelper.Snapshot[E]) {
	defer close(out)
	defer s.unsubscribe(sk, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.out:
			if !ok {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Store[K, E]) unsubscribe(sk string, sub *subscriber[E]) {
	s.mu.Lock()
	if _, ok := s.subs[sk][sub]; ok {
		delete(s.subs[sk], sub)
		if len(s.subs[sk]) == 0 {
			delete(s.subs, sk)
		}
		close(sub.in)
	}
	s.mu.Unlock()

	// let the queue flush and exit
	for range sub.out {
	}
}

// publish must be called with the key lock for sk held.
func (s *Store[K, E]) publish(sk string, snap repohelper.Snapshot[E]) {
	s.mu.Lock()
	for sub := range s.subs[sk] {
		sub.in <- snap
	}
	s.mu.Unlock()
}

// Write stores entity under a new generation and notifies subscribers.
func (s *Store[K, E]) Write(ctx context.Context, key K, entity E) (WriteResult, error) {
	sk := s.StorageKey(key)
	payload, err := s.codec.Encode(entity)
	if err != nil {
		return WriteResult{}, fmt.Errorf("cachestore: encode %q: %w", sk, err)
	}

	release, err := s.locks.Acquire(ctx, sk)
	if err != nil {
		return WriteResult{}, err
	}
	defer release()

	gen, err := s.gens.Bump(ctx, sk)
	if err != nil {
		return WriteResult{}, fmt.Errorf("cachestore: bump generation %q: %w", sk, err)
	}

	ok, err := s.provider.Set(ctx, sk, wire.Encode(gen, s.now(), payload), s.ttl)
	if err == nil && !ok {
		err = ErrRejected
	}
	if err != nil {
		// the bump already hid the previous frame
		s.log.Warn("cache write failed", repohelper.Fields{"key": sk, "gen": gen, "err": err})
		s.publish(sk, repohelper.Snapshot[E]{})
		return WriteResult{}, err
	}

	s.publish(sk, repohelper.Snapshot[E]{Value: entity, Found: true})
	return WriteResult{Key: sk, Gen: gen}, nil
}

// Remove hides key behind a new generation, deletes its frame and notifies
// subscribers. Either step alone is enough to make the entry read as absent,
// so Remove only fails when both do.
func (s *Store[K, E]) Remove(ctx context.Context, key K) (WriteResult, error) {
	sk := s.StorageKey(key)

	release, err := s.locks.Acquire(ctx, sk)
	if err != nil {
		return WriteResult{}, err
	}
	defer release()

	gen, bumpErr := s.gens.Bump(ctx, sk)
	delErr := s.provider.Del(ctx, sk)
	switch {
	case bumpErr != nil && delErr != nil:
		s.log.Error("cache remove failed", repohelper.Fields{"key": sk, "bumpErr": bumpErr, "delErr": delErr})
		return WriteResult{}, multierror.Append(
			fmt.Errorf("cachestore: bump generation %q: %w", sk, bumpErr),
			fmt.Errorf("cachestore: delete %q: %w", sk, delErr),
		)
	case bumpErr != nil:
		s.log.Warn("cache remove: generation bump failed", repohelper.Fields{"key": sk, "err": bumpErr})
	case delErr != nil:
		s.log.Warn("cache remove: delete failed, entry hidden by generation", repohelper.Fields{"key": sk, "err": delErr})
	}

	s.publish(sk, repohelper.Snapshot[E]{})
	return WriteResult{Key: sk, Gen: gen, Deleted: true}, nil
}

func (s *Store[K, E]) read(ctx context.Context, sk string) (repohelper.Snapshot[E], error) {
	var none repohelper.Snapshot[E]

	raw, ok, err := s.provider.Get(ctx, sk)
	if err != nil || !ok {
		return none, err
	}
	f, err := wire.Decode(raw)
	if err != nil {
		s.heal(ctx, sk, "corrupt")
		return none, nil
	}
	gen, err := s.gens.Snapshot(ctx, sk)
	if err != nil {
		return none, fmt.Errorf("cachestore: snapshot generation %q: %w", sk, err)
	}
	if f.Gen != gen {
		s.heal(ctx, sk, "gen_mismatch")
		return none, nil
	}
	v, err := s.codec.Decode(f.Payload)
	if err != nil {
		s.heal(ctx, sk, "value_decode")
		return none, nil
	}
	return repohelper.Snapshot[E]{Value: v, Found: true}, nil
}

func (s *Store[K, E]) heal(ctx context.Context, sk, reason string) {
	if err := s.provider.Del(ctx, sk); err != nil {
		s.log.Warn("self-heal delete failed", repohelper.Fields{"key": sk, "reason": reason, "err": err})
	} else {
		s.log.Debug("self-healed entry", repohelper.Fields{"key": sk, "reason": reason})
	}
	s.hooks.SelfHeal(sk, reason)
}

// Close ends all subscriptions and closes the provider and an owned GenStore.
func (s *Store[K, E]) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sk, subs := range s.subs {
		for sub := range subs {
			close(sub.in)
		}
		delete(s.subs, sk)
	}
	s.mu.Unlock()

	var result *multierror.Error
	if s.ownGens {
		if err := s.gens.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.provider.Close(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

