package async

import (
	"sync"
	"sync/atomic"
)

// Mutex guards a value of type T with cooperative, non-blocking locking:
// Lock returns a Future whose Poll attempts a CAS on an atomic bool and
// only registers a waker on failure.
type Mutex[T any] struct {
	locked  atomic.Bool
	qmu     sync.Mutex // guards waiters only, never held across Wake
	waiters WakerList

	value T
}

// NewMutex wraps initial in a Mutex.
func NewMutex[T any](initial T) *Mutex[T] {
	return &Mutex[T]{value: initial}
}

// Guard is held while the lock is acquired; Unlock releases it and wakes
// every waiter registered while it was held, per spec.md: the guard
// "drops by clearing locked and draining waiters."
type Guard[T any] struct {
	m *Mutex[T]
}

// Value returns a pointer to the guarded value, valid until Unlock.
func (g *Guard[T]) Value() *T { return &g.m.value }

// Unlock releases the lock and wakes every waiter so they re-contend.
func (g *Guard[T]) Unlock() {
	g.m.locked.Store(false)
	g.m.qmu.Lock()
	g.m.waiters.DrainAndWake()
	g.m.qmu.Unlock()
}

// lockFuture is the Future returned by Mutex.Lock.
type lockFuture[T any] struct {
	m        *Mutex[T]
	enqueued bool
}

// Lock returns a Future that resolves to a Guard once the lock is free.
func (m *Mutex[T]) Lock() Future[*Guard[T]] {
	return &lockFuture[T]{m: m}
}

func (f *lockFuture[T]) Poll(w Waker) (*Guard[T], Poll) {
	if f.m.locked.CompareAndSwap(false, true) {
		return &Guard[T]{m: f.m}, Ready
	}
	if !f.enqueued {
		f.m.qmu.Lock()
		f.m.waiters.Push(w)
		f.m.qmu.Unlock()
		f.enqueued = true

		// Re-check after registering, closing the race where the holder
		// released and drained waiters between our failed CAS above and
		// our registration just now.
		if f.m.locked.CompareAndSwap(false, true) {
			return &Guard[T]{m: f.m}, Ready
		}
	}
	return nil, Pending
}
