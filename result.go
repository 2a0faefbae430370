package repohelper

import (
	"context"
	"fmt"
)

// State is the phase a read result is in.
type State uint8

const (
	StateLoading State = iota
	StateFound
	StateNotFound
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateFound:
		return "found"
	case StateNotFound:
		return "not_found"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Snapshot is one observation of a cache entry. Found is false when the cache
// holds nothing for the key; Value is then the zero E.
type Snapshot[E any] struct {
	Value E
	Found bool
}

// Result returns the read result this snapshot stands for.
func (s Snapshot[E]) Result() Result[E] {
	if !s.Found {
		return NotFound[E]()
	}
	return Found(s.Value)
}

// Result is the outcome of a read. Exactly one state is active; the zero value is Loading.
// Results are values: two Loading (or two NotFound) results of the same E compare equal.
type Result[E any] struct {
	state State
	value E
	err   error
}

func Loading[E any]() Result[E]  { return Result[E]{state: StateLoading} }
func NotFound[E any]() Result[E] { return Result[E]{state: StateNotFound} }
func Found[E any](v E) Result[E] { return Result[E]{state: StateFound, value: v} }

// Failed wraps err as an Error result.
func Failed[E any](err error) Result[E] { return Result[E]{state: StateError, err: err} }

func (r Result[E]) State() State { return r.state }

// Value returns the entity and true for Found results.
func (r Result[E]) Value() (E, bool) { return r.value, r.state == StateFound }

// Err returns the cause of an Error result and nil otherwise.
func (r Result[E]) Err() error { return r.err }

func (r Result[E]) String() string {
	switch r.state {
	case StateFound:
		return fmt.Sprintf("found(%v)", r.value)
	case StateError:
		return fmt.Sprintf("error(%v)", r.err)
	default:
		return r.state.String()
	}
}

// Project turns a stream of cache snapshots into read results. The first value is
// always Loading; after that every snapshot becomes Found or NotFound. Project never
// produces Error results. The returned channel is closed when ctx is done or when in
// is closed by its owner.
func Project[E any](ctx context.Context, in <-chan Snapshot[E]) <-chan Result[E] {
	out := make(chan Result[E])
	go func() {
		defer close(out)
		if !send(ctx, out, Loading[E]()) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-in:
				if !ok {
					return
				}
				if !send(ctx, out, s.Result()) {
					return
				}
			}
		}
	}()
	return out
}

// FailNotFound is an OnErrorReturn policy: a NotFound result becomes an Error carrying
// the remote failure, any other result is kept. Use it when "the cache is empty and
// the remote is unreachable" must be shown as a failure rather than as an empty entity.
func FailNotFound[E any](r Result[E], err error) Result[E] {
	if r.State() == StateNotFound {
		return Failed[E](err)
	}
	return r
}

// KeepResult is an OnErrorReturn policy that ignores remote failures.
func KeepResult[E any](r Result[E], _ error) Result[E] { return r }

func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
