// Package async implements the kernel's cooperative async primitives
// (spec.md §4.7): a minimal poll-based future core, plus Mutex,
// AsyncOnce, Signal, and Endpoint built on top of it.
//
// Go has no native future/await; this package plays the role spec.md's
// original async runtime does, the way the teacher's own kernel state
// machines (pkg/sentry/kernel's task states) and vm/vm_pool.go's
// explicit mutex/channel composition favor hand-rolled synchronization
// over implicit goroutine-per-blocking-call. The pieces built here are
// what pkg/executor polls and what pkg/uthread suspends on.
package async

// Poll is the result of polling a Future once.
type Poll int

const (
	Pending Poll = iota
	Ready
)

func (p Poll) String() string {
	if p == Ready {
		return "Ready"
	}
	return "Pending"
}

// Waker is notified when a previously-Pending future may be able to make
// progress. Production wakers are backed by pkg/executor's task
// rescheduling; tests use small struct-backed Wakers (counting or
// channel-signalling) to poll state machines directly without a running
// executor.
type Waker interface {
	Wake()
}

// Future is a computation that may need more than one poll to complete.
// Poll must be non-blocking: it either returns a final value with Ready,
// or registers w to be woken later and returns Pending.
type Future[T any] interface {
	Poll(w Waker) (T, Poll)
}

// FuncWaker adapts a plain function to the Waker interface.
type FuncWaker func()

func (f FuncWaker) Wake() { f() }

// WakerList is an ordered collection of registered wakers, the building
// block every primitive in this package uses to hold pending waiters.
// Not safe for concurrent use by itself; callers hold their own lock
// around it (spec.md's primitives all describe this as "internal ...
// plus a waker queue" guarded by the primitive's own state).
type WakerList struct {
	wakers []Waker
}

// Push appends w to the list.
func (l *WakerList) Push(w Waker) {
	l.wakers = append(l.wakers, w)
}

// DrainAndWake removes every registered waker and wakes each of them.
// Waking happens after the list is cleared, so a waker that re-registers
// itself synchronously (as Mutex waiters do on re-contention) doesn't
// observe a stale entry.
func (l *WakerList) DrainAndWake() {
	pending := l.wakers
	l.wakers = nil
	for _, w := range pending {
		w.Wake()
	}
}

// Len reports how many wakers are currently registered.
func (l *WakerList) Len() int { return len(l.wakers) }
