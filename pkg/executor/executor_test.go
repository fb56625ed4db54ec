package executor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/moondust-os/moondust/pkg/async"
)

// countFuture resolves Ready after n polls, counting how many times it
// was actually polled.
type countFuture struct {
	remaining int32
	polls     int32
}

func (f *countFuture) Poll(w async.Waker) (struct{}, async.Poll) {
	atomic.AddInt32(&f.polls, 1)
	if atomic.AddInt32(&f.remaining, -1) <= 0 {
		return struct{}{}, async.Ready
	}
	w.Wake()
	return struct{}{}, async.Pending
}

func TestSpawnRunsTaskToCompletion(t *testing.T) {
	ex := New(2, 2)
	ex.Start()
	defer ex.Stop()

	f := &countFuture{remaining: 3}
	var wg sync.WaitGroup
	wg.Add(1)

	doneFuture := &waitFuture{inner: f, done: &wg}
	ex.Spawn(doneFuture, 0)

	waitOrFail(t, &wg, 2*time.Second)
	assert.Assert(t, atomic.LoadInt32(&f.polls) >= 3)
}

// waitFuture wraps another future and calls wg.Done() once it resolves.
type waitFuture struct {
	inner async.Future[struct{}]
	done  *sync.WaitGroup
	fired bool
}

func (f *waitFuture) Poll(w async.Waker) (struct{}, async.Poll) {
	_, p := f.inner.Poll(w)
	if p == async.Ready && !f.fired {
		f.fired = true
		f.done.Done()
	}
	return struct{}{}, p
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	ch := make(chan struct{})
	go func() {
		wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for task completion")
	}
}

func TestPanicInOneTaskDoesNotStopOthers(t *testing.T) {
	ex := New(1, 2)
	ex.Start()
	defer ex.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	good := &waitFuture{inner: &countFuture{remaining: 1}, done: &wg}

	ex.Spawn(panicFuture{}, 0)
	ex.Spawn(good, 0)

	waitOrFail(t, &wg, 2*time.Second)
}

type panicFuture struct{}

func (panicFuture) Poll(async.Waker) (struct{}, async.Poll) {
	panic("boom")
}

func TestHigherPriorityDrainsBeforeLower(t *testing.T) {
	ex := New(2, 1)
	ex.Start()
	defer ex.Stop()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)

	record := func(p int) *recordFuture {
		return &recordFuture{p: p, order: &order, mu: &mu, wg: &wg}
	}

	ex.Spawn(record(1), 1)
	ex.Spawn(record(0), 0)

	waitOrFail(t, &wg, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, len(order), 2)
	assert.Equal(t, order[0], 0)
}

type recordFuture struct {
	p     int
	order *[]int
	mu    *sync.Mutex
	wg    *sync.WaitGroup
	done  bool
}

func (f *recordFuture) Poll(async.Waker) (struct{}, async.Poll) {
	if f.done {
		return struct{}{}, async.Ready
	}
	f.done = true
	f.mu.Lock()
	*f.order = append(*f.order, f.p)
	f.mu.Unlock()
	f.wg.Done()
	return struct{}{}, async.Ready
}
