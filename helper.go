package repohelper

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Select returns a stream of read results for key.
//
// The stream starts with the projection of Loading, then follows the cache.
// Concurrently, unless the key is cooling down, the remote source is fetched once
// and its answer written to (or removed from) the cache, which the stream then
// reflects. A remote failure does not end the stream: from then on every cache
// result is passed through OnErrorReturn together with that failure.
//
// The stream is closed once ctx is done, or earlier if the cache closes its
// subscription. The error reports a failure to subscribe to the cache.
func (h *Helper[K, E, R, W, RW]) Select(ctx context.Context, key K) (<-chan R, error) {
	ctx, cancel := context.WithCancel(ctx)
	snaps, err := h.cache.Observe(ctx, key)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan R)
	go h.stream(ctx, cancel, key, snaps, out)
	return out, nil
}

func (h *Helper[K, E, R, W, RW]) stream(
	ctx context.Context,
	cancel context.CancelFunc,
	key K,
	snaps <-chan Snapshot[E],
	out chan<- R,
) {
	defer close(out)
	defer cancel()

	hash := h.hash(key)
	remoteErr := make(chan error, 1)

	// the group only scopes both goroutines to this call; cancel stops them
	var g errgroup.Group
	g.Go(func() error {
		done := make(chan struct{})
		h.exec(func() {
			defer close(done)
			if err := h.refreshFromRemote(ctx, key, hash); err != nil {
				remoteErr <- err
			}
		})
		<-done
		return nil
	})
	g.Go(func() error {
		// the merge owns the stream lifetime; stop the refresh once it is over
		defer cancel()
		h.merge(ctx, Project(ctx, snaps), remoteErr, out)
		return nil
	})
	_ = g.Wait() // neither goroutine returns an error
}

// merge combines the latest cache result with the (at most one) remote failure.
// Nothing is emitted before the first cache result.
func (h *Helper[K, E, R, W, RW]) merge(
	ctx context.Context,
	results <-chan Result[E],
	remoteErr <-chan error,
	out chan<- R,
) {
	var (
		latest  Result[E]
		haveRes bool
		failure error
	)
	emit := func() bool {
		r := h.toReadResult(latest)
		if failure != nil {
			r = h.onErrorReturn(r, failure)
		}
		return send(ctx, out, r)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			latest, haveRes = res, true
			if !emit() {
				return
			}
		case err := <-remoteErr:
			remoteErr = nil // one-shot
			failure = err
			if haveRes && !emit() {
				return
			}
		}
	}
}

// refreshFromRemote is the remote branch of Select. A nil return with no fetch
// means the key is cooling down.
func (h *Helper[K, E, R, W, RW]) refreshFromRemote(ctx context.Context, key K, hash string) error {
	if !h.throttle.CanAccessNow(hash, h.now()) {
		h.log.Debug("remote access skipped: cooling down", Fields{"hash": hash})
		h.hooks.ThrottleSkipped(hash)
		return nil
	}

	found, err := h.pull(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			// stream closed under us; nobody is left to tell
			return nil
		}
		h.log.Warn("remote access failed", Fields{"hash": hash, "err": err})
		h.hooks.RemoteFetchFailed(hash, err)
		return err
	}

	h.throttle.LogAccess(hash, h.now())
	h.log.Debug("remote access succeeded", Fields{"hash": hash, "found": found})
	h.hooks.RemoteFetched(hash, found)
	return nil
}

// pull fetches key from the remote source and mirrors the answer into the cache.
func (h *Helper[K, E, R, W, RW]) pull(ctx context.Context, key K) (found bool, err error) {
	entity, found, err := h.remote.Fetch(ctx, key)
	if err != nil {
		return false, err
	}
	if found {
		_, err = h.cache.Write(ctx, key, entity)
	} else {
		_, err = h.cache.Remove(ctx, key)
	}
	return found, err
}

// Refresh fetches key from the remote source and writes the answer into the cache,
// bypassing the throttle and the write lock. On a remote failure the cache is left
// untouched and an *OperationError is returned; cache failures are returned as is.
func (h *Helper[K, E, R, W, RW]) Refresh(ctx context.Context, key K) error {
	entity, found, err := h.remote.Fetch(ctx, key)
	if err != nil {
		h.log.Warn("refresh failed", Fields{"hash": h.hash(key), "err": err})
		return &OperationError{Op: OpRefresh, Key: key, Err: err}
	}
	if found {
		_, err = h.cache.Write(ctx, key, entity)
	} else {
		_, err = h.cache.Remove(ctx, key)
	}
	return err
}

// Upsert writes entity to the cache and then to the remote source, holding the
// lock for key throughout. If the remote write fails the cache is restored to
// what it held before (the backup is written back, or the key removed if it was
// absent) and an *OperationError wrapping the remote failure is returned.
//
// Once the lock is held the write is not interrupted by ctx cancellation, so a
// caller giving up cannot leave the cache half rolled back. Options.WriteTimeout
// bounds that part instead.
func (h *Helper[K, E, R, W, RW]) Upsert(ctx context.Context, key K, entity E) (W, error) {
	var zero W

	release, err := h.locks.Acquire(ctx, key)
	if err != nil {
		return zero, err
	}
	defer release()

	ctx, cancel := h.writeContext(ctx)
	defer cancel()

	backup, hadBackup, err := h.cache.ReadOnce(ctx, key)
	if err != nil {
		return zero, err
	}
	res, err := h.cache.Write(ctx, key, entity)
	if err != nil {
		return zero, err
	}

	if _, err := h.remote.Write(ctx, key, entity); err != nil {
		rbErr := h.restore(ctx, OpUpsert, key, backup, hadBackup, err)
		return zero, &OperationError{
			Op: OpUpsert, Key: key, Value: entity, HasValue: true,
			Err: err, RollbackErr: rbErr,
		}
	}
	return res, nil
}

// Delete removes key from the cache and then from the remote source, holding the
// lock for key throughout. If the remote removal fails a present backup is
// written back and an *OperationError wrapping the remote failure is returned.
// Cancellation behaves as for Upsert.
func (h *Helper[K, E, R, W, RW]) Delete(ctx context.Context, key K) (W, error) {
	var zero W

	release, err := h.locks.Acquire(ctx, key)
	if err != nil {
		return zero, err
	}
	defer release()

	ctx, cancel := h.writeContext(ctx)
	defer cancel()

	backup, hadBackup, err := h.cache.ReadOnce(ctx, key)
	if err != nil {
		return zero, err
	}
	res, err := h.cache.Remove(ctx, key)
	if err != nil {
		return zero, err
	}

	if _, err := h.remote.Remove(ctx, key); err != nil {
		var rbErr error
		if hadBackup {
			rbErr = h.restore(ctx, OpDelete, key, backup, true, err)
		}
		return zero, &OperationError{Op: OpDelete, Key: key, Err: err, RollbackErr: rbErr}
	}
	return res, nil
}

// restore puts the cache back to backup after a failed remote write.
func (h *Helper[K, E, R, W, RW]) restore(ctx context.Context, op Op, key K, backup E, found bool, cause error) error {
	hash := h.hash(key)

	var err error
	if found {
		_, err = h.cache.Write(ctx, key, backup)
	} else {
		_, err = h.cache.Remove(ctx, key)
	}
	if err != nil {
		h.log.Error("rollback failed", Fields{"op": string(op), "hash": hash, "cause": cause, "err": err})
		h.hooks.RollbackFailed(string(op), hash, err)
		return err
	}

	h.log.Info("cache rolled back after remote failure", Fields{"op": string(op), "hash": hash, "cause": cause})
	h.hooks.WriteRolledBack(string(op), hash, cause)
	return nil
}

func (h *Helper[K, E, R, W, RW]) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if h.writeTimeout > 0 {
		return context.WithTimeout(ctx, h.writeTimeout)
	}
	return ctx, func() {}
}
