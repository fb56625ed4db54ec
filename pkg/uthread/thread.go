// Package uthread implements the user-thread future (spec.md §4.9), the
// hardest piece of the rewrite: a user thread modeled as a cooperative
// future whose poll suspends and resumes "user-mode execution."
//
// The original mechanism is a per-CPU KSP_SAVE/SAVED_REGS pair plus a
// naked asm trampoline that long-jumps back into poll from the syscall
// entry stub. Go has no ring boundary to cross and no naked-asm
// equivalent, but it has the matching primitive for "suspend a stackful
// computation and resume some other frame": a goroutine parked on a
// channel receive, with its entire stack preserved by the runtime. A
// Thread's "user mode" is a goroutine running the program image's entry
// closure; its "kernel stack" is simply the goroutine stack Go already
// manages. Trapping into the kernel is the goroutine calling Syscall
// (see trampoline.go) instead of executing a SYSCALL instruction.
package uthread

import (
	"sync"

	"github.com/moondust-os/moondust/internal/kernelerr"
	"github.com/moondust-os/moondust/internal/klog"
	"github.com/moondust-os/moondust/pkg/addrspace"
	"github.com/moondust-os/moondust/pkg/async"
	"github.com/moondust-os/moondust/pkg/wire"
)

type threadState int

const (
	stateNotStarted threadState = iota
	stateRunning
	stateSyscall
)

// Dispatcher hands a syscall request off to its handler and returns a
// Future resolving to the reply. Handlers that themselves need to wait
// on other kernel state build that waiting into the Future they return
// (typically composed from pkg/async primitives); Thread.Poll only ever
// sub-polls it, never blocks.
type Dispatcher func(t *Thread, req wire.SyscallRequest) async.Future[wire.SyscallReply]

// syscallState mirrors spec.md §3's SyscallState: the request, whether a
// handler has been dispatched for it yet, the reply once ready, and the
// channel the trapped program-image goroutine blocks on until the reply
// is ready to hand back.
type syscallState struct {
	req        wire.SyscallRequest
	dispatched bool
	pending    async.Future[wire.SyscallReply]
	reply      wire.SyscallReply
	doneCh     chan struct{}
}

// Thread is a process-unique-ID-identified user thread: a
// reference-counted page table, a thread state machine, and — since
// Thread is itself a Future — the executor's scheduling unit for it.
type Thread struct {
	ID        uint64
	PageTable *addrspace.PageTable

	entry    func(t *Thread)
	dispatch Dispatcher

	mu       sync.Mutex
	state    threadState
	initial  wire.Registers
	started  bool
	waker    async.Waker
	syscall  *syscallState
	exitCode uint8
}

// New builds a Thread in NotStarted state. entry is the program image's
// goroutine body; it must eventually call t.Syscall with a KindExit
// request, the only way a thread terminates. dispatch routes every other
// syscall to its handler.
func New(id uint64, pt *addrspace.PageTable, initial wire.Registers, entry func(t *Thread), dispatch Dispatcher) *Thread {
	return &Thread{
		ID:        id,
		PageTable: pt,
		entry:     entry,
		dispatch:  dispatch,
		initial:   initial,
	}
}

// Poll implements async.Future[uint8] (the exit code). It is the Go
// analogue of spec.md §4.9's poll: step 1 is a non-blocking try-lock
// activation of the thread's page table — with sibling threads of the
// same process now pollable concurrently on different executor runners
// (internal/kernel.numRunners runs one per host CPU), a thread is only
// ever polled while its page table is the CPU-active one, so a failed
// try-lock yields Pending immediately rather than racing a sibling's
// poll. On NotStarted, start the program goroutine and "sysret" by
// returning Pending; on a ready Syscall, unblock the trapped goroutine
// with its reply and "sysret" again (or resolve Ready if it was Exit); on
// a not-yet-ready Syscall, sub-poll the handler's future; Running
// observed here is an invariant violation, since nothing legitimately
// re-polls a thread mid-flight in user mode.
func (t *Thread) Poll(w async.Waker) (uint8, async.Poll) {
	if !t.PageTable.TryLock() {
		// Nothing else will ever signal "the table is free now" to this
		// task, so wake ourselves immediately rather than parking forever:
		// the executor retries on the next tick, which is cheap given the
		// lock is held only for the brief duration of a sibling's poll.
		w.Wake()
		return 0, async.Pending
	}
	t.PageTable.Activate()
	defer func() {
		t.PageTable.Deactivate()
		t.PageTable.Unlock()
	}()

	t.mu.Lock()
	if t.waker == nil {
		t.waker = w
	}

	switch t.state {
	case stateNotStarted:
		t.state = stateRunning
		if !t.started {
			t.started = true
			regs := t.initial
			go t.runEntry(regs)
		}
		t.mu.Unlock()
		return 0, async.Pending

	case stateRunning:
		t.mu.Unlock()
		kernelerr.InvariantViolation("uthread: thread %d polled while Running", t.ID)
		panic("unreachable")

	case stateSyscall:
		sc := t.syscall
		if sc.req.Kind == wire.KindExit {
			t.exitCode = sc.req.ExitCode
			t.mu.Unlock()
			return t.exitCode, async.Ready
		}

		if !sc.dispatched {
			sc.dispatched = true
			sc.pending = t.dispatch(t, sc.req)
		}
		reply, p := sc.pending.Poll(w)
		if p == async.Pending {
			t.mu.Unlock()
			return 0, async.Pending
		}

		sc.reply = reply
		t.state = stateRunning
		doneCh := sc.doneCh
		t.mu.Unlock()

		close(doneCh)
		return 0, async.Pending

	default:
		t.mu.Unlock()
		kernelerr.InvariantViolation("uthread: thread %d in unknown state %d", t.ID, t.state)
		panic("unreachable")
	}
}

func (t *Thread) runEntry(regs wire.Registers) {
	defer func() {
		if r := recover(); r != nil {
			klog.Warningf("uthread: thread %d program image panicked: %v", t.ID, r)
		}
	}()
	t.entry(t)
}

// taskAdapter lets a Thread be spawned on pkg/executor, which schedules
// Future[struct{}] tasks; the exit code is logged rather than returned,
// matching spec.md's "detach leaves the task running" — a caller wanting
// the exit code observes it some other way (e.g. a wait syscall, out of
// scope here).
type taskAdapter struct{ t *Thread }

func (a taskAdapter) Poll(w async.Waker) (struct{}, async.Poll) {
	code, p := a.t.Poll(w)
	if p == async.Ready {
		klog.Debugf("uthread: thread %d exited with code %d", a.t.ID, code)
		a.t.PageTable.DecRef()
		return struct{}{}, async.Ready
	}
	return struct{}{}, async.Pending
}

// AsTask adapts t for pkg/executor.Spawn.
func (t *Thread) AsTask() async.Future[struct{}] {
	return taskAdapter{t: t}
}
