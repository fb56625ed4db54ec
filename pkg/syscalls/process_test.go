package syscalls

import (
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/moondust-os/moondust/pkg/addrspace"
	"github.com/moondust-os/moondust/pkg/executor"
	"github.com/moondust-os/moondust/pkg/pmm"
	"github.com/moondust-os/moondust/pkg/uthread"
	"github.com/moondust-os/moondust/pkg/wire"
)

func newTestProcess(t *testing.T) (*Process, *executor.Executor) {
	t.Helper()
	arena, err := pmm.NewArena(16 * 1024 * 1024)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	kernel := addrspace.NewKernelRegion(arena, 16*1024*1024)
	pt := addrspace.New(arena, kernel)

	ex := executor.New(1, 2)
	ex.Start()
	t.Cleanup(ex.Stop)

	return NewProcess(pt, ex, 0, 1), ex
}

// TestHeapGrowthScenario mirrors the heap-growth end-to-end scenario:
// GetCurrentHeapSize then IncreaseHeapBy(4096), writing every page of
// the new region without faulting.
func TestHeapGrowthScenario(t *testing.T) {
	p, _ := newTestProcess(t)

	var wg sync.WaitGroup
	wg.Add(1)

	const entryIP = 0x1000
	p.RegisterEntryPoint(entryIP, func(th *uthread.Thread, _ uint64) {
		defer wg.Done()

		r1 := th.Syscall(wire.SyscallRequest{Kind: wire.KindHeapGetSize})
		assert.Equal(t, r1.Kind, wire.ReplySuccessWithVal)
		initial := r1.Val

		r2 := th.Syscall(wire.SyscallRequest{Kind: wire.KindHeapIncreaseBy, HeapGrowBy: 4096})
		assert.Equal(t, r2.Kind, wire.ReplySuccessWithVal2)
		assert.Equal(t, r2.Val, uint64(addrspace.UserHeapBase)+initial)
		assert.Equal(t, r2.Val2-r2.Val, uint64(4096))

		b, err := th.PageTable.Bytes(uintptr(r2.Val), uintptr(r2.Val2-r2.Val), true)
		assert.NilError(t, err)
		for i := range b {
			b[i] = 0xAA
		}

		th.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 0})
	})

	_, err := p.SpawnInitialThread(entryIP, 0)
	assert.NilError(t, err)

	waitOrTimeout(t, &wg, 2*time.Second)
}

// TestCreateThreadScenario mirrors the CreateThread end-to-end scenario:
// the child starts at f with extra_data in its first argument register,
// a fresh 16 KiB stack, and the parent's page table (and therefore its
// heap mappings) shared with the child.
func TestCreateThreadScenario(t *testing.T) {
	p, _ := newTestProcess(t)

	var wg sync.WaitGroup
	wg.Add(2)

	const parentIP = 0x2000
	const childIP = 0x2100
	const stackSize = 16384
	const extraData = uint64(0xABCD)

	var parentID uint64
	var childSeenArg uint64
	var childSeenHeapByte byte

	p.RegisterEntryPoint(childIP, func(th *uthread.Thread, arg uint64) {
		defer wg.Done()
		childSeenArg = arg

		b, err := th.PageTable.Bytes(addrspace.UserHeapBase, 1, false)
		assert.NilError(t, err)
		childSeenHeapByte = b[0]

		th.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 0})
	})

	p.RegisterEntryPoint(parentIP, func(th *uthread.Thread, _ uint64) {
		defer wg.Done()
		parentID = th.ID

		grow := th.Syscall(wire.SyscallRequest{Kind: wire.KindHeapIncreaseBy, HeapGrowBy: 4096})
		assert.Equal(t, grow.Kind, wire.ReplySuccessWithVal2)
		b, err := th.PageTable.Bytes(addrspace.UserHeapBase, 1, true)
		assert.NilError(t, err)
		b[0] = 0x42

		reply := th.Syscall(wire.SyscallRequest{
			Kind:             wire.KindCreateThread,
			ThreadEntryPoint: childIP,
			ThreadStackSize:  stackSize,
			ThreadExtraData:  extraData,
		})
		assert.Equal(t, reply.Kind, wire.ReplySuccessWithVal)
		assert.Assert(t, reply.Val > parentID)

		th.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 0})
	})

	_, err := p.SpawnInitialThread(parentIP, 0)
	assert.NilError(t, err)

	waitOrTimeout(t, &wg, 2*time.Second)

	assert.Equal(t, childSeenArg, extraData)
	assert.Equal(t, childSeenHeapByte, byte(0x42))
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for threads to finish")
	}
}
