// Package executor implements the priority-level cooperative task
// scheduler (spec.md §4.8): N strict-priority levels, per-runner local
// queues backed by per-level global queues, work-stealing from a
// pseudo-random peer offset, and a periodic unconditional rebalance.
//
// Runners are plain goroutines rather than goroutines pinned to an OS
// thread: unlike gVisor's ptrace platform (which needs runtime.LockOSThread
// to satisfy ptrace's thread-affinity requirement), this scheduler's
// "CPU" is a pure scheduling abstraction, grounded on vm/vm_pool.go's
// Pool.Loop goroutine-per-worker pattern rather than anything
// ptrace-specific.
package executor

import (
	"sync/atomic"

	"github.com/moondust-os/moondust/pkg/async"
)

// State is a task's position in its lifecycle.
type State int32

const (
	Scheduled State = iota
	Running
	Completed
	Rescheduled
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "Scheduled"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Rescheduled:
		return "Rescheduled"
	default:
		return "unknown"
	}
}

// task wraps a Future[struct{}] (a detached task's result is discarded;
// callers wanting a value use async.AsyncOnce themselves, the way
// spec.md's spawn handle composes with the rest of pkg/async) with the
// priority, current state, and the level it belongs to so a Wake call
// arriving after the task has been fully parked (no poll in progress)
// can re-enqueue it itself.
//
// State only ever takes the four documented values; polling is a
// private bit distinguishing, while state == Running, whether the task
// is actively inside Poll right now versus parked waiting on some
// external event to call Wake. That distinction is what lets Wake close
// the race between "poll about to return Pending" and "waker about to
// fire" without double-enqueuing or losing the wakeup.
type task struct {
	future   async.Future[struct{}]
	priority int
	lvl      *level

	state   atomic.Int32
	polling atomic.Bool
}

func newTask(f async.Future[struct{}], priority int, lvl *level) *task {
	t := &task{future: f, priority: priority, lvl: lvl}
	t.state.Store(int32(Scheduled))
	return t
}

// Wake implements async.Waker. Waking a completed or already-scheduled
// task is a no-op. Waking a task mid-poll marks it Rescheduled so the
// runner re-enqueues it the moment its current poll returns. Waking a
// parked task (Running, but not mid-poll) transitions it directly back
// to Scheduled and re-enqueues it itself, since no runner is going to do
// so on its behalf.
func (t *task) Wake() {
	if t.polling.Load() {
		t.state.CompareAndSwap(int32(Running), int32(Rescheduled))
		return
	}
	if t.state.CompareAndSwap(int32(Running), int32(Scheduled)) {
		t.lvl.pushGlobal(t)
	}
}

// Handle is returned by Spawn. Detach lets the task keep running without
// the caller holding a reference; per spec.md, this is the only
// lifecycle operation a caller needs, since result values flow through
// pkg/async primitives instead of a join handle.
type Handle struct {
	t *task
}

// Detach leaves the spawned task scheduled; it is already running
// independently of the handle, so Detach is a documentation no-op
// matching spec.md's "detach leaves the task running."
func (h Handle) Detach() {}
