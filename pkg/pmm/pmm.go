// Package pmm implements the physical frame allocator (spec.md §4.1): a
// buddy allocator of order 40 handing out 4 KiB-aligned frames from pools
// registered at boot from the memory map.
//
// Because this rewrite has no hardware frame store, the "physical address
// space" is backed by a real anonymous mapping obtained via
// golang.org/x/sys/unix, so that zeroing a frame and the direct map in
// pkg/addrspace are genuine memory operations rather than bookkeeping
// only.
package pmm

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/moondust-os/moondust/internal/kernelerr"
	"github.com/moondust-os/moondust/internal/klog"
)

// PageSize is the minimum block size the allocator hands out.
const PageSize = 4096

// MaxOrder bounds the buddy tree: order 40 supports blocks up to
// PageSize * 2^40.
const MaxOrder = 40

// Arena is a buddy-managed pool of physical frames backed by a single
// anonymous mmap region. The zero value is not usable; use NewArena.
type Arena struct {
	mu sync.Mutex

	base uintptr
	mem  []byte // the direct-map alias of the whole arena

	// free[order] is the free list of block start offsets (relative to
	// base) at that order. A block at order k has size PageSize<<k.
	free [MaxOrder + 1][]uintptr

	// allocated tracks the order at which a given offset was allocated,
	// so Dealloc knows how far to walk the buddy-merge chain without the
	// caller having to re-derive it (the caller does pass size/align per
	// spec, which we use as a consistency check against this map).
	allocated map[uintptr]int

	oomLimiter *rate.Limiter
}

// NewArena reserves size bytes of anonymous memory (rounded up to a power
// of two number of pages) to back the frame pool and returns an Arena
// with the entire region registered as free, mirroring AddRegion being
// called once at boot with the single region the teacher's memory map
// would otherwise enumerate in pieces.
func NewArena(size uintptr) (*Arena, error) {
	npages := (size + PageSize - 1) / PageSize
	order := 0
	for (uintptr(1) << order) < npages {
		order++
	}
	if order > MaxOrder {
		return nil, fmt.Errorf("pmm: requested arena too large: order %d > %d", order, MaxOrder)
	}
	total := PageSize << order

	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pmm: mmap arena: %w", err)
	}

	a := &Arena{
		mem:        mem,
		allocated:  make(map[uintptr]int),
		oomLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	a.free[order] = append(a.free[order], 0)
	return a, nil
}

// AddRegion registers [start, end) as additional free physical memory,
// the way the boot path feeds free regions from the BOOTBOOT memory map
// into the allocator (spec.md §4.1). start is relative to the arena base.
func (a *Arena) AddRegion(start, end uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addFreeRange(start, end)
}

// addFreeRange splits [start, end) into maximal aligned power-of-two
// blocks and pushes each onto its order's free list.
func (a *Arena) addFreeRange(start, end uintptr) {
	for start < end {
		// Largest block size aligned to start that still fits in
		// [start, end).
		order := MaxOrder
		for order > 0 {
			blockSize := uintptr(PageSize) << order
			if start%blockSize == 0 && start+blockSize <= end {
				break
			}
			order--
		}
		a.free[order] = append(a.free[order], start)
		start += uintptr(PageSize) << order
	}
}

func orderFor(size uintptr) int {
	npages := (size + PageSize - 1) / PageSize
	if npages == 0 {
		npages = 1
	}
	order := 0
	for (uintptr(1) << order) < npages {
		order++
	}
	return order
}

// Alloc returns the offset of a free block able to satisfy size bytes at
// the given alignment (both in bytes; align must be a power of two no
// smaller than PageSize), or ErrOutOfMemory.
func (a *Arena) Alloc(size, align uintptr) (uintptr, error) {
	if size == 0 {
		size = PageSize
	}
	if align < PageSize {
		align = PageSize
	}
	order := orderFor(size)
	// Alignment requirements translate directly to order requirements
	// for a buddy allocator: every block at order k is aligned to
	// PageSize<<k, so bumping order up to match align suffices.
	if alignOrder := orderFor(align); alignOrder > order {
		order = alignOrder
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	off, ok := a.allocOrder(order)
	if !ok {
		if a.oomLimiter.Allow() {
			klog.Warningf("pmm: out of memory allocating order %d (%d bytes)", order, size)
		}
		return 0, kernelerr.ErrOutOfMemory
	}
	a.allocated[off] = order
	return off, nil
}

// allocOrder finds a free block at exactly order, splitting a larger
// block if necessary. The higher half of each split goes back onto its
// child order's free list, per spec.md §4.1.
func (a *Arena) allocOrder(order int) (uintptr, bool) {
	if order > MaxOrder {
		return 0, false
	}
	if n := len(a.free[order]); n > 0 {
		off := a.free[order][n-1]
		a.free[order] = a.free[order][:n-1]
		return off, true
	}
	parent, ok := a.allocOrder(order + 1)
	if !ok {
		return 0, false
	}
	buddy := parent + (uintptr(PageSize) << order)
	a.free[order] = append(a.free[order], buddy)
	return parent, true
}

// AllocZeroed behaves like Alloc but clears the frame through the
// direct-map alias before returning it.
func (a *Arena) AllocZeroed(size, align uintptr) (uintptr, error) {
	off, err := a.Alloc(size, align)
	if err != nil {
		return 0, err
	}
	n := uintptr(PageSize) << orderFor(size)
	a.mu.Lock()
	clear(a.mem[off : off+n])
	a.mu.Unlock()
	return off, nil
}

// Dealloc returns a previously allocated block to the free pool,
// recursively merging with its buddy when possible.
func (a *Arena) Dealloc(addr, size, align uintptr) {
	order := orderFor(size)
	if alignOrder := orderFor(align); alignOrder > order {
		order = alignOrder
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if got, ok := a.allocated[addr]; ok {
		order = got
	}
	delete(a.allocated, addr)
	a.freeOrder(addr, order)
}

// freeOrder returns a block to the free list at order, merging upward
// with its buddy whenever the buddy is also free.
func (a *Arena) freeOrder(addr uintptr, order int) {
	for order < MaxOrder {
		blockSize := uintptr(PageSize) << order
		buddy := addr ^ blockSize
		idx := -1
		for i, off := range a.free[order] {
			if off == buddy {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		a.free[order] = append(a.free[order][:idx], a.free[order][idx+1:]...)
		if buddy < addr {
			addr = buddy
		}
		order++
	}
	a.free[order] = append(a.free[order], addr)
}

// DirectMap returns the direct-map alias of [offset, offset+n) within the
// arena: the slice view every mapping in pkg/addrspace reads and writes
// through.
func (a *Arena) DirectMap(offset, n uintptr) []byte {
	return a.mem[offset : offset+n]
}

// Close releases the underlying mmap region. Only used by tests; the
// kernel's arena is a boot-time singleton that is never torn down, per
// spec.md §9.
func (a *Arena) Close() error {
	return unix.Munmap(a.mem)
}
