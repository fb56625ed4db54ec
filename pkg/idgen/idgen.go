// Package idgen implements the kernel's ID allocator (spec.md §4.6):
// pop() returns a previously released ID if any, else advances a
// monotonic counter; push() returns an ID to the pool. The counter path
// is wait-free (a single atomic add); the free-list path is a lock-free
// Treiber stack.
package idgen

import "sync/atomic"

type node struct {
	id   uint64
	next *node
}

// Generator hands out small integer IDs, reusing released ones before
// minting new ones from the monotonic counter.
type Generator struct {
	next uint64 // atomic
	head atomic.Pointer[node]
}

// New returns a Generator that starts minting from start.
func New(start uint64) *Generator {
	return &Generator{next: start}
}

// Pop returns an ID: the most recently released one, if any, otherwise
// the next unused value from the counter.
func (g *Generator) Pop() uint64 {
	for {
		top := g.head.Load()
		if top == nil {
			return atomic.AddUint64(&g.next, 1) - 1
		}
		if g.head.CompareAndSwap(top, top.next) {
			return top.id
		}
	}
}

// Push releases id back to the generator for reuse by a future Pop.
func (g *Generator) Push(id uint64) {
	n := &node{id: id}
	for {
		top := g.head.Load()
		n.next = top
		if g.head.CompareAndSwap(top, n) {
			return
		}
	}
}
