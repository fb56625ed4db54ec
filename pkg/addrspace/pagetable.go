// Package addrspace implements the per-process address-space manager
// (spec.md §4.3): page tables with a shared kernel half, guarded
// stack/heap allocation policies, and lifecycle-safe unmap on drop.
//
// This rewrite has no MMU to program, so a PageTable's job is reduced to
// bookkeeping plus making every mapping a real, observable memory
// operation: USER mappings back onto a slice view into pkg/pmm's arena,
// so writes through a mapping and reads through VirtToPhys's result are
// both genuine. This mirrors how gVisor's own pkg/sentry/mm tracks *what*
// is mapped while a separate Platform makes it *true*; here PageTable
// plays both roles, because there is no second ring to delegate to.
package addrspace

import (
	"sync"
	"sync/atomic"

	"github.com/moondust-os/moondust/internal/kernelerr"
	"github.com/moondust-os/moondust/internal/klog"
	"github.com/moondust-os/moondust/pkg/intervaltree"
	"github.com/moondust-os/moondust/pkg/pmm"
)

type segment struct {
	phys  uintptr
	size  uintptr
	perms Perm
}

// PageTable is a single process's address space: a private user region
// plus a shared pointer to the kernel half.
type PageTable struct {
	arena  *pmm.Arena
	kernel *KernelRegion

	mu       sync.Mutex
	segments map[int64]segment // keyed by interval's low bound value
	tree     intervaltree.Tree
	mapped   uintptr

	// actLock is the "one CPU at a time" activation lock spec.md §4.9
	// step 1 try-locks: held for the duration of a single Thread.Poll
	// call, never across it, and distinct from mu (which guards mapping
	// bookkeeping and must stay acquirable from inside a poll, e.g. a
	// dispatched syscall handler calling GrowUserHeap).
	actLock sync.Mutex

	userHeapSize            uintptr
	userStackAllocatedUntil uintptr

	active    atomic.Bool
	refCount  atomic.Int32
	destroyed atomic.Bool
}

// New creates a PageTable for a new process, sharing kernel sees kernel
// via the given KernelRegion. The initial reference count is 1; callers
// that want additional threads to share this table call IncRef.
func New(arena *pmm.Arena, kernel *KernelRegion) *PageTable {
	pt := &PageTable{
		arena:                   arena,
		kernel:                  kernel,
		segments:                make(map[int64]segment),
		userStackAllocatedUntil: UserStackTop,
	}
	pt.refCount.Store(1)
	return pt
}

// IncRef adds a reference, taken when a new thread joins this process.
func (pt *PageTable) IncRef() {
	pt.refCount.Add(1)
}

// DecRef releases a reference, taken when a thread exits. When the last
// reference is released, the table is destroyed: every mapped range is
// unmapped and its frames returned to the physical allocator.
func (pt *PageTable) DecRef() {
	if pt.refCount.Add(-1) == 0 {
		pt.destroy()
	}
}

// destroy implements the drop contract from spec.md §4.3: iterate the
// interval tree, unmap each range, return its frames; panic if the table
// is still the CPU-active one.
func (pt *PageTable) destroy() {
	if pt.active.Load() {
		kernelerr.InvariantViolation("page table dropped while CPU-active")
	}
	if !pt.destroyed.CompareAndSwap(false, true) {
		return
	}

	pt.mu.Lock()
	ivs := pt.tree.Iter()
	pt.mu.Unlock()

	for _, iv := range ivs {
		low := lowValue(iv)
		pt.mu.Lock()
		seg, ok := pt.segments[low]
		pt.mu.Unlock()
		if !ok {
			continue
		}
		if err := pt.Unmap(uintptr(low), seg.size); err != nil {
			kernelerr.InvariantViolation("drop: unmap %d..%d failed: %v", low, low+int64(seg.size), err)
		}
	}
	klog.Debugf("addrspace: page table destroyed, %d bytes released", pt.mapped)
}

func lowValue(iv intervaltree.Interval) int64 {
	// Every interval this package constructs uses Included(low) as its
	// low bound (see intervaltree.New), so recovering the raw value is
	// safe; see the tests for the invariant this relies on.
	v, ok := iv.Low.Value()
	if !ok {
		kernelerr.InvariantViolation("addrspace: unbounded low on a mapped-range interval")
	}
	return v
}

// Activate marks this table as the CPU-active one. The caller must hold
// pt's lock (via TryLock) until the current thread is descheduled, per
// spec.md §4.3; Activate itself only flips the bookkeeping flag, since
// there is no real CPU page-table register in this rewrite.
func (pt *PageTable) Activate() {
	pt.active.Store(true)
}

// Deactivate clears the CPU-active flag.
func (pt *PageTable) Deactivate() {
	pt.active.Store(false)
}

// TryLock attempts to acquire pt's non-blocking activation lock, used by
// pkg/uthread to implement "activate the thread's page table
// (non-blocking try-lock); if another CPU holds it, yield Pending"
// (spec.md §4.9 step 1). It guards CPU-activation only, not mapping
// bookkeeping, so it is safe to hold across a whole Poll call while mu is
// still acquired and released per mapping operation inside it.
func (pt *PageTable) TryLock() bool { return pt.actLock.TryLock() }

// Unlock releases the activation lock acquired by TryLock.
func (pt *PageTable) Unlock() { pt.actLock.Unlock() }

// Map installs phys..phys+size at virt with perms. size must be
// page-aligned. Fails if the range is already mapped.
func (pt *PageTable) Map(phys, virt, size uintptr, perms Perm) error {
	if !isAligned(size, PageSize) || !isAligned(virt, PageSize) {
		return kernelerr.ErrUnaligned
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	iv := intervaltree.New(int64(virt), int64(virt+size))
	if len(pt.tree.QueryOverlapping(iv)) > 0 {
		return kernelerr.ErrAlreadyMapped
	}
	pt.tree = pt.tree.Insert(iv)
	pt.segments[int64(virt)] = segment{phys: phys, size: size, perms: perms}
	pt.mapped += size
	return nil
}

// MapWithAlloc allocates fresh, zeroed frames from the physical
// allocator and maps them at virt.
func (pt *PageTable) MapWithAlloc(virt, size uintptr, perms Perm) error {
	if !isAligned(size, PageSize) || !isAligned(virt, PageSize) {
		return kernelerr.ErrUnaligned
	}
	phys, err := pt.arena.AllocZeroed(size, PageSize)
	if err != nil {
		return err
	}
	if err := pt.Map(phys, virt, size, perms); err != nil {
		pt.arena.Dealloc(phys, size, PageSize)
		return err
	}
	return nil
}

// Unmap removes [virt, virt+size) and returns its frames to the physical
// allocator. Missing pages are silently skipped — unmap is idempotent.
func (pt *PageTable) Unmap(virt, size uintptr) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	end := virt + size
	for cur := virt; cur < end; {
		iv := intervaltree.New(int64(cur), int64(cur+PageSize))
		hits := pt.tree.QueryOverlapping(iv)
		if len(hits) == 0 {
			cur += PageSize
			continue
		}
		for _, hit := range hits {
			low := lowValue(hit)
			seg, ok := pt.segments[low]
			if !ok {
				continue
			}
			pt.tree = pt.tree.Remove(hit)
			delete(pt.segments, low)
			pt.arena.Dealloc(seg.phys, seg.size, PageSize)
			pt.mapped -= seg.size
			cur = uintptr(low) + seg.size
		}
	}
	return nil
}

// VirtToPhys translates a mapped virtual address to its physical offset.
func (pt *PageTable) VirtToPhys(virt uintptr) (uintptr, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	hits := pt.tree.QueryPoint(int64(virt))
	for _, hit := range hits {
		low := lowValue(hit)
		seg, ok := pt.segments[low]
		if !ok {
			continue
		}
		return seg.phys + (virt - uintptr(low)), true
	}
	return 0, false
}

// Bytes returns a direct byte view of [virt, virt+n), provided the whole
// range lies within a single existing mapping with at least Read
// permission.
func (pt *PageTable) Bytes(virt, n uintptr, needWrite bool) ([]byte, error) {
	pt.mu.Lock()
	hits := pt.tree.QueryOverlapping(intervaltree.New(int64(virt), int64(virt+n)))
	var found *segment
	var low int64
	for _, hit := range hits {
		l := lowValue(hit)
		seg := pt.segments[l]
		if uintptr(l) <= virt && virt+n <= uintptr(l)+seg.size {
			found, low = &seg, l
			break
		}
	}
	pt.mu.Unlock()

	if found == nil {
		return nil, kernelerr.ErrNotMapped
	}
	if !found.perms.Has(Read) || (needWrite && !found.perms.Has(Write)) {
		return nil, kernelerr.ErrPermissionDenied
	}
	off := found.phys + (virt - uintptr(low))
	return pt.arena.DirectMap(off, n), nil
}

// CheckUserRange validates that [virt, virt+n) is entirely mapped with
// at least the given permissions, without returning the bytes — for
// callers that only need to know a pointer is safe to dereference before
// doing so through other means.
func (pt *PageTable) CheckUserRange(virt, n uintptr, needWrite bool) error {
	_, err := pt.Bytes(virt, n, needWrite)
	return err
}

// GrowUserHeap extends the user heap by at least delta bytes, rounded up
// to pages, and returns the heap's new [start, end). Fails with
// ErrExhausted if the new size would exceed the user stack's current
// high-water mark (spec.md's "user_heap_start + new_size >
// user_heap_end").
func (pt *PageTable) GrowUserHeap(delta uintptr) (uintptr, uintptr, error) {
	grow := alignUp(delta, PageSize)

	pt.mu.Lock()
	newSize := pt.userHeapSize + grow
	limit := pt.userStackAllocatedUntil
	pt.mu.Unlock()

	if UserHeapBase+newSize > limit {
		return 0, 0, kernelerr.ErrExhausted
	}

	oldSize := pt.currentHeapSize()
	if err := pt.MapWithAlloc(UserHeapBase+oldSize, grow, Read|Write|User); err != nil {
		return 0, 0, err
	}

	pt.mu.Lock()
	pt.userHeapSize = newSize
	pt.mu.Unlock()

	return UserHeapBase, UserHeapBase + newSize, nil
}

// CurrentHeapSize returns the user heap's current size in bytes.
func (pt *PageTable) CurrentHeapSize() uintptr {
	return pt.currentHeapSize()
}

func (pt *PageTable) currentHeapSize() uintptr {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.userHeapSize
}

// AllocateUserStack carves size bytes from the user-stack high-water
// mark (descending), leaves two guard pages below the new stack unmapped,
// updates the mark, and maps the stack. Returns [low, high) of the
// mapped (usable) stack region.
func (pt *PageTable) AllocateUserStack(size uintptr) (uintptr, uintptr, error) {
	size = alignUp(size, PageSize)
	const guardPages = 2

	pt.mu.Lock()
	high := pt.userStackAllocatedUntil
	low := high - size
	newMark := low - guardPages*PageSize
	pt.mu.Unlock()

	if newMark < UserHeapBase+pt.currentHeapSize() {
		return 0, 0, kernelerr.ErrOutOfMemory
	}

	if err := pt.MapWithAlloc(low, size, Read|Write|User); err != nil {
		return 0, 0, err
	}

	pt.mu.Lock()
	pt.userStackAllocatedUntil = newMark
	pt.mu.Unlock()

	return low, high, nil
}
