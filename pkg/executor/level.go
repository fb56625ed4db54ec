package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// level is one priority level's global queue: a semaphore-bounded
// channel, matching the DOMAIN STACK's use of golang.org/x/sync for
// capped-concurrency queues elsewhere in this rewrite. Push blocks (via
// the semaphore) once the level is saturated, applying natural
// backpressure to whatever is spawning tasks at that priority.
type level struct {
	priority int
	sem      *semaphore.Weighted
	ch       chan *task

	sleepMu sync.Mutex
	sleep   chan struct{} // closed and replaced whenever a task arrives
}

func newLevel(priority, capacity int) *level {
	l := &level{
		priority: priority,
		sem:      semaphore.NewWeighted(int64(capacity)),
		ch:       make(chan *task, capacity),
		sleep:    make(chan struct{}),
	}
	return l
}

// pushGlobal enqueues t onto this level's global queue, applying
// backpressure if the level is saturated, and wakes any runner sleeping
// on this level.
func (l *level) pushGlobal(t *task) {
	_ = l.sem.Acquire(context.Background(), 1)
	l.ch <- t
	l.wakeSleepers()
}

// tryPopGlobal attempts to take one task from the global queue without
// blocking.
func (l *level) tryPopGlobal() (*task, bool) {
	select {
	case t := <-l.ch:
		l.sem.Release(1)
		return t, true
	default:
		return nil, false
	}
}

// drainGlobal moves up to max tasks from the global queue into dst.
func (l *level) drainGlobal(dst []*task, max int) []*task {
	for len(dst) < max {
		t, ok := l.tryPopGlobal()
		if !ok {
			break
		}
		dst = append(dst, t)
	}
	return dst
}

func (l *level) wakeSleepers() {
	l.sleepMu.Lock()
	close(l.sleep)
	l.sleep = make(chan struct{})
	l.sleepMu.Unlock()
}

// sleepChan returns the channel a runner can select on to notice a new
// arrival at this level.
func (l *level) sleepChan() <-chan struct{} {
	l.sleepMu.Lock()
	defer l.sleepMu.Unlock()
	return l.sleep
}
