package uthread

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/moondust-os/moondust/pkg/addrspace"
	"github.com/moondust-os/moondust/pkg/async"
	"github.com/moondust-os/moondust/pkg/pmm"
	"github.com/moondust-os/moondust/pkg/wire"
)

type testWaker struct{ woken chan struct{} }

func newTestWaker() *testWaker { return &testWaker{woken: make(chan struct{}, 1)} }

func (w *testWaker) Wake() {
	select {
	case w.woken <- struct{}{}:
	default:
	}
}

func newTestTable(t *testing.T) *addrspace.PageTable {
	t.Helper()
	arena, err := pmm.NewArena(16 * 1024 * 1024)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = arena.Close() })
	kernel := addrspace.NewKernelRegion(arena, 16*1024*1024)
	return addrspace.New(arena, kernel)
}

// pollUntil repeatedly polls the thread, waiting for its waker each time
// progress isn't immediate, simulating the executor's re-poll loop
// without needing a whole pkg/executor instance.
func pollUntil(t *testing.T, th *Thread, w *testWaker, timeout time.Duration) (uint8, async.Poll) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		code, p := th.Poll(w)
		if p == async.Ready {
			return code, p
		}
		select {
		case <-w.woken:
		case <-deadline:
			t.Fatal("timed out waiting for thread progress")
		}
	}
}

func TestExitPathResolvesReady(t *testing.T) {
	pt := newTestTable(t)
	w := newTestWaker()

	entry := func(th *Thread) {
		th.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 7})
	}
	noDispatch := func(*Thread, wire.SyscallRequest) async.Future[wire.SyscallReply] {
		t.Fatal("dispatcher should not be called for Exit")
		return nil
	}

	th := New(1, pt, wire.Registers{}, entry, noDispatch)

	code, p := pollUntil(t, th, w, 2*time.Second)
	assert.Equal(t, p, async.Ready)
	assert.Equal(t, code, uint8(7))
}

func TestRunningStateIsInvariantViolationWhenPolledTwiceConcurrently(t *testing.T) {
	pt := newTestTable(t)
	w := newTestWaker()

	started := make(chan struct{})
	release := make(chan struct{})
	entry := func(th *Thread) {
		close(started)
		<-release
		th.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 0})
	}
	th := New(1, pt, wire.Registers{}, entry, nil)

	_, p := th.Poll(w) // NotStarted -> Running, starts goroutine
	assert.Equal(t, p, async.Pending)

	<-started // goroutine is now definitely running and held before its
	// Syscall, so state is still Running; polling again must observe it.
	defer func() {
		r := recover()
		close(release)
		assert.Assert(t, r != nil)
	}()
	th.Poll(w)
}

func TestHeapGrowthSyscallRoundTrip(t *testing.T) {
	pt := newTestTable(t)
	w := newTestWaker()

	dispatch := func(th *Thread, req wire.SyscallRequest) async.Future[wire.SyscallReply] {
		switch req.Kind {
		case wire.KindHeapGetSize:
			return readyReply{wire.SuccessWithVal(uint64(th.PageTable.CurrentHeapSize()))}
		case wire.KindHeapIncreaseBy:
			start, end, err := th.PageTable.GrowUserHeap(req.HeapGrowBy)
			if err != nil {
				return readyReply{wire.Fail(err)}
			}
			return readyReply{wire.SuccessWithVal2(uint64(start), uint64(end))}
		}
		t.Fatalf("unexpected syscall kind %v", req.Kind)
		return nil
	}

	results := make(chan wire.SyscallReply, 2)
	entry := func(th *Thread) {
		results <- th.Syscall(wire.SyscallRequest{Kind: wire.KindHeapGetSize})
		results <- th.Syscall(wire.SyscallRequest{Kind: wire.KindHeapIncreaseBy, HeapGrowBy: 4096})
		th.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 0})
	}

	th := New(1, pt, wire.Registers{}, entry, dispatch)

	go func() {
		pollUntil(t, th, w, 2*time.Second)
	}()

	r1 := <-results
	assert.Equal(t, r1.Kind, wire.ReplySuccessWithVal)
	assert.Equal(t, r1.Val, uint64(0))

	r2 := <-results
	assert.Equal(t, r2.Kind, wire.ReplySuccessWithVal2)
	assert.Equal(t, r2.Val2-r2.Val, uint64(4096))
}

// TestSiblingPollsAreMutuallyExclusiveOnSharedPageTable exercises spec.md
// §4.9 step 1: two threads sharing a page table must never be polled at
// once. It holds one thread mid-poll (inside its dispatch call, which
// runs synchronously before Poll's activation lock is released) and
// checks the other's Poll fails its try-lock, self-wakes, and succeeds
// only once the table is free again.
func TestSiblingPollsAreMutuallyExclusiveOnSharedPageTable(t *testing.T) {
	pt := newTestTable(t)

	gate := make(chan struct{})
	dispatchEntered := make(chan struct{})
	dispatchA := func(th *Thread, req wire.SyscallRequest) async.Future[wire.SyscallReply] {
		close(dispatchEntered)
		<-gate
		return readyReply{wire.NoVal()}
	}
	entryA := func(th *Thread) {
		th.Syscall(wire.SyscallRequest{Kind: wire.KindDebug})
		th.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 1})
	}
	threadA := New(1, pt, wire.Registers{}, entryA, dispatchA)

	entryB := func(th *Thread) {
		th.Syscall(wire.SyscallRequest{Kind: wire.KindExit, ExitCode: 2})
	}
	threadB := New(2, pt, wire.Registers{}, entryB, nil)

	wA := newTestWaker()
	_, p := threadA.Poll(wA) // NotStarted -> Running, spawns the entry goroutine
	assert.Equal(t, p, async.Pending)

	select {
	case <-wA.woken: // entry goroutine trapped into Syscall(Debug)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for thread A to trap")
	}

	go threadA.Poll(wA) // enters stateSyscall, calls dispatchA, blocks on gate
	select {
	case <-dispatchEntered: // actLock is now held for the duration of this call
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatchA to start")
	}

	wB := newTestWaker()
	_, p = threadB.Poll(wB)
	assert.Equal(t, p, async.Pending)
	select {
	case <-wB.woken:
	default:
		t.Fatal("a failed try-lock must wake itself, or B's task would never be repolled")
	}

	close(gate) // let A's dispatch finish and release the page table

	codeB, p := pollUntil(t, threadB, wB, 2*time.Second)
	assert.Equal(t, p, async.Ready)
	assert.Equal(t, codeB, uint8(2))

	pollUntil(t, threadA, wA, 2*time.Second)
}

type readyReply struct{ reply wire.SyscallReply }

func (r readyReply) Poll(async.Waker) (wire.SyscallReply, async.Poll) {
	return r.reply, async.Ready
}
