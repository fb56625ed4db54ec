package executor

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/moondust-os/moondust/internal/klog"
	"github.com/moondust-os/moondust/pkg/async"
)

// batchSize caps how many tasks a single drain from the global queue
// pulls into a runner's local queue at once.
const batchSize = 16

// rebalanceEvery is the tick interval at which a runner unconditionally
// refills its local queue from the global queue, per spec.md §4.8.
const rebalanceEvery = 64

// runner is one scheduling worker: a goroutine with a per-priority local
// deque, draining its level's global queue when its local queue empties
// and stealing from peers when the global queue is also dry.
type runner struct {
	id int
	ex *Executor

	localMu []sync.Mutex
	local   [][]*task

	ticks uint64
	rng   *rand.Rand
}

func newRunner(id int, ex *Executor) *runner {
	r := &runner{
		id:      id,
		ex:      ex,
		localMu: make([]sync.Mutex, ex.levels),
		local:   make([][]*task, ex.levels),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(id))),
	}
	return r
}

func (r *runner) popLocal(lvl int) (*task, bool) {
	r.localMu[lvl].Lock()
	defer r.localMu[lvl].Unlock()
	q := r.local[lvl]
	if len(q) == 0 {
		return nil, false
	}
	t := q[0]
	r.local[lvl] = q[1:]
	return t, true
}

func (r *runner) pushLocal(lvl int, t *task) {
	r.localMu[lvl].Lock()
	r.local[lvl] = append(r.local[lvl], t)
	r.localMu[lvl].Unlock()
}

// stealHalf removes up to half of this runner's local queue at lvl and
// returns it to the caller, the target of a peer's steal attempt.
func (r *runner) stealHalf(lvl int) []*task {
	r.localMu[lvl].Lock()
	defer r.localMu[lvl].Unlock()
	q := r.local[lvl]
	n := len(q) / 2
	if n == 0 {
		return nil
	}
	stolen := append([]*task(nil), q[:n]...)
	r.local[lvl] = q[n:]
	return stolen
}

// run is the runner's main loop: strict priority draining, restarting
// from the top whenever a tick makes progress; sleeps only once every
// level has nothing to offer.
func (r *runner) run() {
	defer r.ex.wg.Done()
	for {
		select {
		case <-r.ex.stop:
			return
		default:
		}

		progressed := false
		for lvl := 0; lvl < r.ex.levels; lvl++ {
			if r.tryTick(lvl) {
				progressed = true
				break
			}
		}
		if !progressed {
			r.sleep()
		}
	}
}

// tryTick attempts one unit of work at lvl: local queue first, then a
// drain from the global queue, then a steal from a peer. Reports whether
// a task was actually polled.
func (r *runner) tryTick(lvl int) bool {
	r.ticks++
	if r.ticks%rebalanceEvery == 0 {
		r.rebalance(lvl)
	}

	t, ok := r.popLocal(lvl)
	if !ok {
		batch := r.ex.globals[lvl].drainGlobal(nil, batchSize)
		for _, bt := range batch {
			r.pushLocal(lvl, bt)
		}
		t, ok = r.popLocal(lvl)
	}
	if !ok {
		for _, st := range r.steal(lvl) {
			r.pushLocal(lvl, st)
		}
		t, ok = r.popLocal(lvl)
	}
	if !ok {
		return false
	}

	r.poll(t, lvl)
	return true
}

// rebalance unconditionally pulls a batch from the global queue into the
// local queue, independent of whether the local queue is already
// populated, per spec.md's "each 64 successful ticks ... re-balances ...
// unconditionally."
func (r *runner) rebalance(lvl int) {
	batch := r.ex.globals[lvl].drainGlobal(nil, batchSize)
	for _, t := range batch {
		r.pushLocal(lvl, t)
	}
}

// steal tries each peer runner in turn, starting at a pseudo-random
// offset, taking half of the first peer's queue it finds non-empty.
// Failed attempts are paced with an exponential backoff so a sweep over
// idle peers doesn't spin.
func (r *runner) steal(lvl int) []*task {
	n := len(r.ex.runners)
	if n <= 1 {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Microsecond
	bo.MaxInterval = 2 * time.Millisecond

	offset := r.rng.Intn(n)
	for i := 1; i < n; i++ {
		peer := r.ex.runners[(r.id+offset+i)%n]
		if stolen := peer.stealHalf(lvl); len(stolen) > 0 {
			return stolen
		}
		time.Sleep(bo.NextBackOff())
	}
	return nil
}

// poll runs one poll of t, isolating a panic to this task only (per
// spec.md, a panicking task is dropped; the executor continues), and
// re-enqueues t locally if it was woken during its own poll.
func (r *runner) poll(t *task, lvl int) {
	// polling must become true before state becomes Running, so state ==
	// Running is never observable with polling == false. Reversed, a Wake
	// landing in the gap would see polling == false, state == Running,
	// and re-enqueue the task via task.Wake's Running -> Scheduled CAS
	// while this runner is still about to call future.Poll on it.
	t.polling.Store(true)
	t.state.Store(int32(Running))

	var p async.Poll
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				klog.Warningf("executor: task at priority %d panicked, dropping: %v", t.priority, rec)
				p = async.Ready
			}
		}()
		_, p = t.future.Poll(t)
	}()

	t.polling.Store(false)

	if p == async.Ready {
		t.state.Store(int32(Completed))
		return
	}
	if t.state.CompareAndSwap(int32(Rescheduled), int32(Scheduled)) {
		r.pushLocal(lvl, t)
	}
}

// sleep blocks until any level receives new work or the executor stops.
func (r *runner) sleep() {
	cases := make([]<-chan struct{}, r.ex.levels)
	for i, l := range r.ex.globals {
		cases[i] = l.sleepChan()
	}
	// A simple priority-ordered select is not expressible directly in Go,
	// so block on the highest-priority level's channel with a short
	// timeout and re-scan; this keeps the strict-priority re-check in the
	// run loop itself responsible for ordering, matching spec.md's "sleep
	// by awaiting any of the per-level tick futures in priority order" in
	// spirit rather than letting the runtime's unordered select decide.
	select {
	case <-cases[0]:
	case <-r.ex.stop:
	case <-time.After(time.Millisecond):
	}
}
