package kernel

import (
	"sync"
	"time"

	"github.com/moondust-os/moondust/internal/klog"
	"github.com/moondust-os/moondust/pkg/addrspace"
	"github.com/moondust-os/moondust/pkg/syscalls"
	"github.com/moondust-os/moondust/pkg/uthread"
	"github.com/moondust-os/moondust/pkg/wire"
)

// demoChildIP and demoParentIP are the fixed "instruction pointers" the
// demo program image registers; there is no real code at these
// addresses, only the Go closures RunDemoProcess binds to them.
const (
	demoParentIP uintptr = 0x0040_0000
	demoChildIP  uintptr = 0x0040_1000

	demoChildStackSize = 16 * 1024
	demoChildExtraData = uint64(0xABCD)
)

// RunDemoProcess drives the three end-to-end scenarios spec.md §8 names
// through a single program image: a Debug write, a heap-growth round
// trip, and a CreateThread whose child observes the parent's heap write
// and its own preloaded argument register, before both threads exit. It
// blocks until every thread it spawns has exited and returns the
// parent's exit code.
func (k *Kernel) RunDemoProcess(priority int) uint8 {
	pt := addrspace.New(k.Arena, k.Region)
	proc := syscalls.NewProcess(pt, k.Executor, priority, 1)

	var wg sync.WaitGroup
	wg.Add(2)

	var parentExit uint8

	// A thread's Syscall(KindExit) never returns (see trampoline.go), so
	// wg.Done is called just before issuing it rather than deferred.
	proc.RegisterEntryPoint(demoChildIP, func(t *uthread.Thread, arg uint64) {
		b, err := t.PageTable.Bytes(addrspace.UserHeapBase, 1, false)
		if err != nil {
			klog.Warningf("demo: child %d could not read parent's heap write: %v", t.ID, err)
		} else {
			klog.Infof("demo: child %d sees heap byte %#x, arg %#x", t.ID, b[0], arg)
		}
		wg.Done()
		t.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 0})
	})

	proc.RegisterEntryPoint(demoParentIP, func(t *uthread.Thread, _ uint64) {
		t.Syscall(wire.SyscallRequest{Kind: wire.KindDebug, DebugStr: "demo: parent thread starting"})

		sizeReply := t.Syscall(wire.SyscallRequest{Kind: wire.KindHeapGetSize})
		klog.Infof("demo: initial heap size %d", sizeReply.Val)

		growReply := t.Syscall(wire.SyscallRequest{Kind: wire.KindHeapIncreaseBy, HeapGrowBy: addrspace.PageSize})
		if growReply.Kind != wire.ReplySuccessWithVal2 {
			klog.Warningf("demo: heap growth failed: %v", growReply.Err)
			parentExit = 1
			wg.Done()
			t.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 1})
			return
		}

		if b, err := t.PageTable.Bytes(addrspace.UserHeapBase, 1, true); err == nil {
			b[0] = 0x7A
		}

		createReply := t.Syscall(wire.SyscallRequest{
			Kind:             wire.KindCreateThread,
			ThreadEntryPoint: demoChildIP,
			ThreadStackSize:  demoChildStackSize,
			ThreadExtraData:  demoChildExtraData,
		})
		if createReply.Kind != wire.ReplySuccessWithVal {
			klog.Warningf("demo: create_thread failed: %v", createReply.Err)
		} else {
			klog.Infof("demo: parent %d spawned child %d", t.ID, createReply.Val)
		}

		parentExit = 42
		wg.Done()
		t.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 42})
	})

	_, err := proc.SpawnInitialThread(demoParentIP, 0)
	if err != nil {
		klog.Warningf("demo: spawning initial thread: %v", err)
		return 1
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		klog.Warningf("demo: timed out waiting for threads to exit")
	}

	k.logSummary(parentExit)
	return parentExit
}

// logSummary stashes the run's result in a kernel-heap-backed scratch
// buffer before logging it, exercising pkg/kheap as the kernel-internal
// allocator spec.md §4.2 describes it as — distinct from the user heap
// the demo's threads grow through the Heap syscalls above.
func (k *Kernel) logSummary(exitCode uint8) {
	const scratchSize = 32
	addr, err := k.Heap.Allocate(scratchSize)
	if err != nil {
		klog.Warningf("demo: kernel heap scratch allocation failed: %v", err)
		return
	}
	defer k.Heap.Deallocate(addr, scratchSize)

	buf := k.Region.Bytes(addr, scratchSize)
	if buf == nil {
		klog.Warningf("demo: kernel heap scratch has no backing memory")
		return
	}
	buf[0] = exitCode
	klog.Debugf("demo: run summary recorded in kernel scratch at %#x, exit=%d", addr, buf[0])
}
