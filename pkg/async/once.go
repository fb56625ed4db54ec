package async

import (
	"sync"
	"sync/atomic"
)

// AsyncOnce is a slot that fires at most once. Any number of awaiters
// may register wakers before it fires; TrySetResult is idempotent and
// wakes every registered waker the first time it runs. After
// completion, Poll resolves immediately for every future caller — the
// Go GC plays the role spec.md's Arc<T> plays, keeping the value alive
// for however many awaiters still hold a reference to the slot.
type AsyncOnce[T any] struct {
	done    atomic.Bool
	qmu     sync.Mutex
	waiters WakerList
	value   T
}

// NewAsyncOnce returns an unset slot.
func NewAsyncOnce[T any]() *AsyncOnce[T] {
	return &AsyncOnce[T]{}
}

// TrySetResult sets the slot's value if it has not already been set,
// waking every registered awaiter. Reports whether this call was the one
// that set it.
func (o *AsyncOnce[T]) TrySetResult(value T) bool {
	o.qmu.Lock()
	if o.done.Load() {
		o.qmu.Unlock()
		return false
	}
	// value must be visible to any Poll that observes done == true, so it
	// is written before the done.Store below publishes that transition.
	o.value = value
	o.done.Store(true)
	o.waiters.DrainAndWake()
	o.qmu.Unlock()
	return true
}

// IsSet reports whether the slot has fired.
func (o *AsyncOnce[T]) IsSet() bool { return o.done.Load() }

type onceFuture[T any] struct {
	o        *AsyncOnce[T]
	enqueued bool
}

// Await returns a Future resolving to the slot's value once set.
func (o *AsyncOnce[T]) Await() Future[T] {
	return &onceFuture[T]{o: o}
}

func (f *onceFuture[T]) Poll(w Waker) (T, Poll) {
	if f.o.done.Load() {
		return f.o.value, Ready
	}
	if !f.enqueued {
		f.o.qmu.Lock()
		f.o.waiters.Push(w)
		f.o.qmu.Unlock()
		f.enqueued = true

		if f.o.done.Load() {
			return f.o.value, Ready
		}
	}
	var zero T
	return zero, Pending
}
