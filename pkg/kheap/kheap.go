// Package kheap implements the kernel's dynamic allocator (spec.md §4.2):
// fixed-size-block free lists for small requests, a first-fit free-list
// fallback for larger ones, both backed by virtual pages obtained from
// the address-space manager's kernel heap region.
package kheap

import (
	"sync"

	"github.com/moondust-os/moondust/internal/kernelerr"
)

// sizeClasses are the fixed block sizes served directly from a free
// list. Requests larger than the last entry fall through to the
// first-fit allocator.
var sizeClasses = []uintptr{16, 32, 64, 128, 256, 512, 1024, 2048}

// Grower maps additional virtual pages into the kernel heap region and
// returns their starting address, the way pkg/addrspace's kernel-heap
// bookkeeping does when the fixed-size lists and the first-fit allocator
// both run dry. It must return page-aligned, zeroed memory.
type Grower func(nbytes uintptr) (uintptr, error)

type freeRun struct {
	addr, size uintptr
}

// Heap is the kernel dynamic allocator. The zero value is not usable;
// use New.
type Heap struct {
	mu sync.Mutex

	grow Grower

	// classFree[i] holds free blocks of sizeClasses[i].
	classFree [][]uintptr

	// runs is the first-fit free list for large allocations, kept sorted
	// by address to make adjacent-run coalescing cheap.
	runs []freeRun

	pageSize uintptr
}

// New creates a Heap that grows through grow, using pageSize-sized
// virtual pages as its unit of growth.
func New(grow Grower, pageSize uintptr) *Heap {
	return &Heap{
		grow:      grow,
		classFree: make([][]uintptr, len(sizeClasses)),
		pageSize:  pageSize,
	}
}

func classFor(size uintptr) int {
	for i, c := range sizeClasses {
		if size <= c {
			return i
		}
	}
	return -1
}

// Allocate returns size bytes of kernel memory, growing the heap through
// Grower if no existing free block can satisfy the request.
func (h *Heap) Allocate(size uintptr) (uintptr, error) {
	if size == 0 {
		size = 1
	}

	h.mu.Lock()
	if idx := classFor(size); idx >= 0 {
		if addr, ok := h.popClass(idx); ok {
			h.mu.Unlock()
			return addr, nil
		}
		h.mu.Unlock()
		return h.growAndRetryClass(idx)
	}

	if addr, ok := h.popRun(size); ok {
		h.mu.Unlock()
		return addr, nil
	}
	h.mu.Unlock()
	return h.growAndRetryRun(size)
}

func (h *Heap) popClass(idx int) (uintptr, bool) {
	free := h.classFree[idx]
	if len(free) == 0 {
		return 0, false
	}
	addr := free[len(free)-1]
	h.classFree[idx] = free[:len(free)-1]
	return addr, true
}

func (h *Heap) popRun(size uintptr) (uintptr, bool) {
	for i, r := range h.runs {
		if r.size < size {
			continue
		}
		h.runs = append(h.runs[:i], h.runs[i+1:]...)
		if r.size > size {
			h.insertRunLocked(r.addr+size, r.size-size)
		}
		return r.addr, true
	}
	return 0, false
}

// growAndRetryClass releases the lock before calling into the grower, as
// spec.md §4.2 requires, then splits the freshly-mapped page into blocks
// of the given size class.
func (h *Heap) growAndRetryClass(idx int) (uintptr, error) {
	size := sizeClasses[idx]
	base, err := h.grow(h.pageSize)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for off := uintptr(0); off+size <= h.pageSize; off += size {
		h.classFree[idx] = append(h.classFree[idx], base+off)
	}
	addr, ok := h.popClass(idx)
	if !ok {
		// Page was smaller than one block of this size; should not
		// happen given pageSize >> largest size class, but surface as
		// exhaustion rather than panicking on a boot misconfiguration.
		return 0, kernelerr.ErrExhausted
	}
	return addr, nil
}

func (h *Heap) growAndRetryRun(size uintptr) (uintptr, error) {
	grow := ((size + h.pageSize - 1) / h.pageSize) * h.pageSize
	base, err := h.grow(grow)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.insertRunLocked(base, grow)
	addr, ok := h.popRun(size)
	if !ok {
		return 0, kernelerr.ErrExhausted
	}
	return addr, nil
}

// Deallocate returns a previously allocated block to its free pool.
func (h *Heap) Deallocate(addr, size uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx := classFor(size); idx >= 0 {
		h.classFree[idx] = append(h.classFree[idx], addr)
		return
	}
	h.insertRunLocked(addr, size)
}

// insertRunLocked inserts [addr, addr+size) into runs in address order,
// coalescing with an immediately adjacent neighbor on either side.
func (h *Heap) insertRunLocked(addr, size uintptr) {
	i := 0
	for i < len(h.runs) && h.runs[i].addr < addr {
		i++
	}
	merged := freeRun{addr, size}

	if i > 0 && h.runs[i-1].addr+h.runs[i-1].size == merged.addr {
		merged.addr = h.runs[i-1].addr
		merged.size += h.runs[i-1].size
		i--
		h.runs = append(h.runs[:i], h.runs[i+1:]...)
	}
	if i < len(h.runs) && merged.addr+merged.size == h.runs[i].addr {
		merged.size += h.runs[i].size
		h.runs = append(h.runs[:i], h.runs[i+1:]...)
	}

	h.runs = append(h.runs, freeRun{})
	copy(h.runs[i+1:], h.runs[i:])
	h.runs[i] = merged
}
