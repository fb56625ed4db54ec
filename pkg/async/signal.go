package async

import (
	"sync"
	"sync/atomic"
)

// Signal is a generation-counter broadcast: Wait captures the current
// generation immediately, and its Future resolves as soon as the
// generation has advanced past that point — even if Signal fired before
// the future was ever polled. Idempotent; a waiter never misses a signal
// that happened before its Wait call.
type Signal struct {
	gen     atomic.Uint64
	qmu     sync.Mutex
	waiters WakerList
}

// NewSignal returns a Signal at generation 0.
func NewSignal() *Signal { return &Signal{} }

// Broadcast advances the generation and wakes every registered waiter.
func (s *Signal) Broadcast() {
	s.gen.Add(1)
	s.qmu.Lock()
	s.waiters.DrainAndWake()
	s.qmu.Unlock()
}

type signalFuture struct {
	s        *Signal
	captured uint64
	enqueued bool
}

// Wait returns a Future that resolves once Broadcast has been called at
// least once since Wait was invoked.
func (s *Signal) Wait() Future[struct{}] {
	return &signalFuture{s: s, captured: s.gen.Load()}
}

func (f *signalFuture) Poll(w Waker) (struct{}, Poll) {
	if f.s.gen.Load() != f.captured {
		return struct{}{}, Ready
	}
	if !f.enqueued {
		f.s.qmu.Lock()
		f.s.waiters.Push(w)
		f.s.qmu.Unlock()
		f.enqueued = true

		if f.s.gen.Load() != f.captured {
			return struct{}{}, Ready
		}
	}
	return struct{}{}, Pending
}
