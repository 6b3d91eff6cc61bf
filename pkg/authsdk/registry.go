package authsdk

import (
	"context"
	"errors"
	"sync"
)

// registry tracks every in-flight caller-visible operation so Delete can
// cancel them all with ErrModuleDestroyed.
type registry struct {
	mu      sync.Mutex
	next    uint64
	cancels map[uint64]context.CancelCauseFunc
	closed  bool
}

func newRegistry() *registry {
	return &registry{cancels: make(map[uint64]context.CancelCauseFunc)}
}

// add derives a cancellable context from ctx. The returned release must be
// called when the operation ends.
func (r *registry) add(ctx context.Context) (context.Context, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, ErrModuleDestroyed
	}

	ctx, cancel := context.WithCancelCause(ctx)
	r.next++
	id := r.next
	r.cancels[id] = cancel

	release := func() {
		r.mu.Lock()
		delete(r.cancels, id)
		r.mu.Unlock()
		cancel(nil)
	}
	return ctx, release, nil
}

// cancelAll cancels every tracked operation with cause and refuses new ones.
func (r *registry) cancelAll(cause error) {
	r.mu.Lock()
	cancels := r.cancels
	r.cancels = make(map[uint64]context.CancelCauseFunc)
	r.closed = true
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel(cause)
	}
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// track runs fn under a registered context. If the registry is cancelled
// or ctx ends while fn runs, track returns without waiting for fn.
func track[T any](r *registry, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	opCtx, release, err := r.add(ctx)
	if err != nil {
		return zero, err
	}
	defer release()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(opCtx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(context.Cause(opCtx), ErrModuleDestroyed) {
			return zero, ErrModuleDestroyed
		}
		return res.v, res.err
	case <-opCtx.Done():
		if cause := context.Cause(opCtx); errors.Is(cause, ErrModuleDestroyed) {
			return zero, ErrModuleDestroyed
		}
		return zero, context.Cause(ctx)
	}
}
