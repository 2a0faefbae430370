package repohelper

import (
	"context"
	"time"

	"github.com/unkn0wn-root/repohelper/internal/keylock"
	"github.com/unkn0wn-root/repohelper/throttle"
)

// CacheSource is the fast local store. W is whatever its writes report back.
//
// Observe must emit the current snapshot first and then every later change, in
// order, until ctx is done. Changes must not be collapsed: a reader that sees
// OLD, NEW and OLD again must receive all three.
type CacheSource[K, E, W any] interface {
	Observe(ctx context.Context, key K) (<-chan Snapshot[E], error)
	ReadOnce(ctx context.Context, key K) (entity E, found bool, err error)
	Write(ctx context.Context, key K, entity E) (W, error)
	Remove(ctx context.Context, key K) (W, error)
}

// RemoteSource is the authoritative, possibly slow or unreachable store.
// Fetch reports found=false when the remote holds nothing for the key.
type RemoteSource[K, E, RW any] interface {
	Fetch(ctx context.Context, key K) (entity E, found bool, err error)
	Write(ctx context.Context, key K, entity E) (RW, error)
	Remove(ctx context.Context, key K) (RW, error)
}

// AccessThrottle gates remote reads per key hash. *throttle.Throttle implements it.
type AccessThrottle interface {
	CanAccessNow(hash string, now time.Time) bool
	LogAccess(hash string, now time.Time)
}

// Executor runs the remote-refresh branch of Select. It must eventually run
// every task it is given.
type Executor func(task func())

// Options configure a Helper.
// Cache, Remote and OnErrorReturn are required. ToReadResult is required unless
// R is Result[E].
type Options[K, E, R, W, RW any] struct {
	// Required
	Cache  CacheSource[K, E, W]
	Remote RemoteSource[K, E, RW]

	// OnErrorReturn merges a remote failure into the latest cache-derived result.
	// See FailNotFound and KeepResult for common policies.
	OnErrorReturn func(latest R, err error) R
	// ToReadResult maps the cache-derived Result into the caller's read type.
	ToReadResult func(Result[E]) R

	QueryToHash  func(K) string   // default fmt.Sprint(key)
	Cooldown     time.Duration    // default 3s; ignored when Throttle is set
	Throttle     AccessThrottle   // default throttle.New(Cooldown)
	Executor     Executor         // default: a new goroutine per Select
	Clock        func() time.Time // default time.Now
	Logger       Logger           // if nil, NopLogger is used
	Hooks        Hooks            // if nil, NopHooks is used
	WriteTimeout time.Duration    // bounds a write once its lock is held; 0 => unbounded
}

// Helper coordinates one CacheSource and one RemoteSource.
// K is the key, E the entity, R the read result handed to callers, W and RW the
// write results of the cache and the remote source.
type Helper[K, E, R, W, RW any] struct {
	cache  CacheSource[K, E, W]
	remote RemoteSource[K, E, RW]

	onErrorReturn func(R, error) R
	toReadResult  func(Result[E]) R

	hash     func(K) string
	locks    *keylock.Manager[K]
	throttle AccessThrottle
	exec     Executor
	now      func() time.Time

	log          Logger
	hooks        Hooks
	writeTimeout time.Duration

	ownThrottle *throttle.Throttle // created by New, stopped by Close
}

// New validates opts and builds a Helper. Call Close when done with it.
func New[K, E, R, W, RW any](opts Options[K, E, R, W, RW]) (*Helper[K, E, R, W, RW], error) {
	if opts.Cache == nil {
		return nil, ErrMissingCache
	}
	if opts.Remote == nil {
		return nil, ErrMissingRemote
	}
	if opts.OnErrorReturn == nil {
		return nil, ErrMissingOnErrorReturn
	}
	toRead := opts.ToReadResult
	if toRead == nil {
		// R == Result[E]: identity
		id, ok := any(func(r Result[E]) Result[E] { return r }).(func(Result[E]) R)
		if !ok {
			return nil, ErrMissingToReadResult
		}
		toRead = id
	}

	h := &Helper[K, E, R, W, RW]{
		cache:         opts.Cache,
		remote:        opts.Remote,
		onErrorReturn: opts.OnErrorReturn,
		toReadResult:  toRead,
		hash:          opts.QueryToHash,
		exec:          opts.Executor,
		now:           opts.Clock,
		writeTimeout:  opts.WriteTimeout,
	}
	if h.hash == nil {
		h.hash = sprintHash[K]
	}
	if h.exec == nil {
		h.exec = goExecutor
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.log = coalesce[Logger](opts.Logger, NopLogger{})
	h.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	h.locks = keylock.New(h.hash)

	if opts.Throttle != nil {
		h.throttle = opts.Throttle
	} else {
		h.ownThrottle = throttle.New(throttle.Config{
			Cooldown: coalesce(opts.Cooldown, DefaultCooldown),
		})
		h.throttle = h.ownThrottle
	}
	return h, nil
}

// Close releases resources owned by the Helper (not the sources).
func (h *Helper[K, E, R, W, RW]) Close() {
	if h.ownThrottle != nil {
		h.ownThrottle.Close()
	}
}
