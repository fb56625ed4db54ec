package addrspace

import (
	"sync"

	"github.com/moondust-os/moondust/internal/kernelerr"
	"github.com/moondust-os/moondust/pkg/pmm"
)

// KernelRegion is the kernel half shared by every process's PageTable:
// the kernel heap and kernel stack virtual regions. spec.md §4.3 puts it
// as "the top two entries are cloned into every new table" and "the
// kernel half is never unmapped"; here, every PageTable holds a pointer
// to the single KernelRegion instance constructed at boot, which is the
// Go-native equivalent of copying an immutable top-level descriptor by
// value — the region's own state is never mutated by a PageTable, only
// by the region's own methods under its own lock.
type KernelRegion struct {
	arena *pmm.Arena

	mu        sync.Mutex
	heapNext  uintptr
	heapMax   uintptr
	stackNext uintptr
	backing   []heapBackingEntry
}

// NewKernelRegion constructs the shared kernel half, backed by arena.
func NewKernelRegion(arena *pmm.Arena, heapMax uintptr) *KernelRegion {
	return &KernelRegion{
		arena:     arena,
		heapNext:  KernelHeapBase,
		heapMax:   KernelHeapBase + heapMax,
		stackNext: KernelStackBase,
	}
}

// GrowKernelHeap maps nbytes (rounded up to pages) of fresh, zeroed
// virtual memory at the end of the kernel heap region and returns its
// start address. It implements pkg/kheap.Grower.
func (k *KernelRegion) GrowKernelHeap(nbytes uintptr) (uintptr, error) {
	n := alignUp(nbytes, PageSize)

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.heapNext+n > k.heapMax {
		return 0, kernelerr.ErrOutOfMemory
	}
	phys, err := k.arena.AllocZeroed(n, PageSize)
	if err != nil {
		return 0, err
	}
	virt := k.heapNext
	k.heapNext += n
	k.recordHeapBacking(virt, phys, n)
	return virt, nil
}

// heapBackingEntry maps a kernel-heap virtual address to its physical offset,
// so Bytes can hand back the real backing memory for a given heap
// address returned by GrowKernelHeap.
type heapBackingEntry struct {
	virt, phys, size uintptr
}

// backing is appended to under k.mu and never removed: the kernel heap
// region, like the kernel stack region, is never returned to the
// physical allocator (spec.md §4.4's "stacks are never returned" applies
// equally to heap growth, since neither region is ever torn down before
// process exit).
func (k *KernelRegion) recordHeapBacking(virt, phys, size uintptr) {
	k.backing = append(k.backing, heapBackingEntry{virt, phys, size})
}

// Bytes returns the direct-map byte view backing [virt, virt+n) within
// the kernel heap or kernel stack regions.
func (k *KernelRegion) Bytes(virt, n uintptr) []byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, e := range k.backing {
		if virt >= e.virt && virt+n <= e.virt+e.size {
			off := virt - e.virt
			return k.arena.DirectMap(e.phys+off, n)
		}
	}
	return nil
}

// NewKernelStackSlot reserves a guard-separated stack slot in the kernel
// stack region and maps it, returning its base (lowest mapped address)
// and top (highest usable address, 16-byte aligned). Used by pkg/kstack.
// Stacks are never returned, per spec.md §4.4.
func (k *KernelRegion) NewKernelStackSlot(stackSize, gap uintptr) (base, top uintptr, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	base = k.stackNext
	k.stackNext += stackSize + gap

	phys, err := k.arena.AllocZeroed(stackSize, PageSize)
	if err != nil {
		return 0, 0, err
	}
	k.recordHeapBacking(base, phys, stackSize)
	// Align down, not up: the stack pointer must stay within the mapped
	// [base, base+stackSize) range, and a few bytes of slack below the
	// true top costs nothing since the stack grows downward anyway.
	top = (base + stackSize) &^ uintptr(15)
	return base, top, nil
}
