// Package lock serializes critical sections by string key.
package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	// slot has capacity one: the holder owns the buffered element.
	slot chan struct{}
	// refs counts the holder plus every waiter.
	refs int
}

// Registry hands out per-key mutual exclusion. A key costs memory only
// while it is held or awaited.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	observe func(key string, waited time.Duration)
	guard   Guard
}

// Guard extends a key held in this process to every process sharing the
// same store. Lock blocks until the key is held and returns its release.
type Guard interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type Option func(*Registry)

// WithWaitObserver reports how long each acquisition waited.
func WithWaitObserver(fn func(key string, waited time.Duration)) Option {
	return func(r *Registry) {
		r.observe = fn
	}
}

// WithGuard makes every acquisition also take key through g, after the
// in-process slot is won. At most one caller per process waits on g for a
// given key.
func WithGuard(g Guard) Option {
	return func(r *Registry) {
		r.guard = g
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]*entry)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle is a held key. Release is safe to call more than once.
type Handle struct {
	r      *Registry
	key    string
	e      *entry
	unlock func()
	once   sync.Once
}

// Acquire blocks until key is free or ctx is done. Waiters are woken in
// arrival order.
func (r *Registry) Acquire(ctx context.Context, key string) (*Handle, error) {
	started := time.Now()

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{slot: make(chan struct{}, 1)}
		r.entries[key] = e
	}
	e.refs++
	r.mu.Unlock()

	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		r.unref(key, e)
		return nil, ctx.Err()
	}

	h := &Handle{r: r, key: key, e: e}
	if r.guard != nil {
		unlock, err := r.guard.Lock(ctx, key)
		if err != nil {
			<-e.slot
			r.unref(key, e)
			return nil, err
		}
		h.unlock = unlock
	}

	if r.observe != nil {
		r.observe(key, time.Since(started))
	}
	return h, nil
}

func (h *Handle) Key() string { return h.key }

func (h *Handle) Release() {
	h.once.Do(func() {
		if h.unlock != nil {
			h.unlock()
		}
		<-h.e.slot
		h.r.unref(h.key, h.e)
	})
}

// Do runs fn while holding key. The key is released on every exit path,
// panics included.
func (r *Registry) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	h, err := r.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(ctx)
}

// Lock lets a Registry serve as the Guard of registries in other
// components of the same process.
func (r *Registry) Lock(ctx context.Context, key string) (func(), error) {
	h, err := r.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	return h.Release, nil
}

// Delete drops the entry for key if nobody holds or awaits it. Entries are
// normally dropped on the last release; Delete exists for callers that know
// a key is retired.
func (r *Registry) Delete(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok || e.refs > 0 {
		return false
	}
	delete(r.entries, key)
	return true
}

// Len is the number of keys currently held or awaited.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) unref(key string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 && r.entries[key] == e {
		delete(r.entries, key)
	}
}
