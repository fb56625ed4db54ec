package syscalls

import (
	"sync"

	"github.com/moondust-os/moondust/internal/kernelerr"
	"github.com/moondust-os/moondust/internal/klog"
	"github.com/moondust-os/moondust/pkg/addrspace"
	"github.com/moondust-os/moondust/pkg/async"
	"github.com/moondust-os/moondust/pkg/executor"
	"github.com/moondust-os/moondust/pkg/idgen"
	"github.com/moondust-os/moondust/pkg/uthread"
	"github.com/moondust-os/moondust/pkg/wire"
)

// EntryPoint is a program image's thread body: a Go stand-in for "start
// executing machine code at instruction pointer ip". Process.CreateThread
// looks ip up in a per-process registry rather than actually jumping to
// an address, since there is no real instruction stream to fetch from;
// arg carries the extra_data word CreateThread preloads into the new
// thread's first argument register.
type EntryPoint func(t *uthread.Thread, arg uint64)

// Process owns everything CreateThread and the other handlers need: the
// shared page table, the thread-ID generator, the executor threads are
// spawned onto, and the registry of loadable entry points.
type Process struct {
	pt       *addrspace.PageTable
	ex       *executor.Executor
	priority int
	ids      *idgen.Generator

	mu      sync.Mutex
	entries map[uintptr]EntryPoint
}

// NewProcess creates a process around an already-constructed page table
// and executor. startID seeds the thread-ID generator; priority is the
// fixed scheduling priority every thread this process spawns runs at,
// per spec.md §4.10's "fixed priority" note.
func NewProcess(pt *addrspace.PageTable, ex *executor.Executor, priority int, startID uint64) *Process {
	return &Process{
		pt:       pt,
		ex:       ex,
		priority: priority,
		ids:      idgen.New(startID),
		entries:  make(map[uintptr]EntryPoint),
	}
}

// RegisterEntryPoint binds ip to fn, so a later CreateThread{ip} (or the
// process's own initial thread) can resolve it to an actual Go function.
func (p *Process) RegisterEntryPoint(ip uintptr, fn EntryPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[ip] = fn
}

func (p *Process) lookup(ip uintptr) (EntryPoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn, ok := p.entries[ip]
	return fn, ok
}

// SpawnInitialThread creates and schedules the process's first thread,
// starting at ip with arg in its first argument register. Used by boot
// to bring the program image to life; every later thread is created via
// the CreateThread syscall instead.
func (p *Process) SpawnInitialThread(ip uintptr, arg uint64) (*uthread.Thread, error) {
	fn, ok := p.lookup(ip)
	if !ok {
		return nil, kernelerr.ErrInvalidState
	}
	tid := p.ids.Pop()
	regs := wire.Registers{RIP: uint64(ip), RDI: arg}
	t := uthread.New(tid, p.pt, regs, func(th *uthread.Thread) { fn(th, arg) }, p.Dispatch)
	p.ex.Spawn(t.AsTask(), p.priority)
	return t, nil
}

// Dispatch implements uthread.Dispatcher, routing every syscall except
// Exit (which pkg/uthread resolves directly) to its handler.
func (p *Process) Dispatch(t *uthread.Thread, req wire.SyscallRequest) async.Future[wire.SyscallReply] {
	switch req.Kind {
	case wire.KindDebug:
		return p.debug(t, req)
	case wire.KindHeapGetSize:
		return p.heapGetSize(t, req)
	case wire.KindHeapIncreaseBy:
		return p.heapIncreaseBy(t, req)
	case wire.KindCreateThread:
		return p.createThread(t, req)
	default:
		return fail(kernelerr.ErrInvalidState)
	}
}

func (p *Process) heapGetSize(t *uthread.Thread, _ wire.SyscallRequest) async.Future[wire.SyscallReply] {
	return ready(wire.SuccessWithVal(uint64(t.PageTable.CurrentHeapSize())))
}

func (p *Process) heapIncreaseBy(t *uthread.Thread, req wire.SyscallRequest) async.Future[wire.SyscallReply] {
	start, end, err := t.PageTable.GrowUserHeap(req.HeapGrowBy)
	if err != nil {
		return fail(err)
	}
	return ready(wire.SuccessWithVal2(uint64(start), uint64(end)))
}

// createThread implements spec.md §4.10's Process::CreateThread: a
// sibling thread sharing the parent's page table, starting at ip with
// extra_data preloaded into the first argument register (RDI, the
// SysV-ABI convention the register snapshot already follows), on a
// freshly carved 16-byte-aligned stack.
func (p *Process) createThread(parent *uthread.Thread, req wire.SyscallRequest) async.Future[wire.SyscallReply] {
	fn, ok := p.lookup(req.ThreadEntryPoint)
	if !ok {
		return fail(kernelerr.ErrInvalidState)
	}

	stackLow, stackHigh, err := parent.PageTable.AllocateUserStack(req.ThreadStackSize)
	if err != nil {
		return fail(err)
	}

	parent.PageTable.IncRef()
	tid := p.ids.Pop()
	regs := wire.Registers{
		RIP: uint64(req.ThreadEntryPoint),
		RDI: req.ThreadExtraData,
		RSP: uint64(stackHigh),
	}
	child := uthread.New(tid, parent.PageTable, regs, func(th *uthread.Thread) {
		fn(th, req.ThreadExtraData)
	}, p.Dispatch)

	klog.Debugf("syscalls: thread %d created child %d, stack [%#x, %#x)", parent.ID, tid, stackLow, stackHigh)
	p.ex.Spawn(child.AsTask(), p.priority)

	return ready(wire.SuccessWithVal(tid))
}
