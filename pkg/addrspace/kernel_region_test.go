package addrspace

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moondust-os/moondust/pkg/pmm"
)

func TestGrowKernelHeapRespectsMax(t *testing.T) {
	arena, err := pmm.NewArena(16 * 1024 * 1024)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	kr := NewKernelRegion(arena, 2*PageSize)

	virt, err := kr.GrowKernelHeap(PageSize)
	assert.NilError(t, err)
	assert.Equal(t, virt, KernelHeapBase)

	_, err = kr.GrowKernelHeap(2 * PageSize)
	assert.ErrorContains(t, err, "out of memory")
}

func TestKernelStackSlotsDoNotOverlap(t *testing.T) {
	arena, err := pmm.NewArena(16 * 1024 * 1024)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	kr := NewKernelRegion(arena, 16*1024*1024)

	_, top1, err := kr.NewKernelStackSlot(4*PageSize, PageSize)
	assert.NilError(t, err)
	_, top2, err := kr.NewKernelStackSlot(4*PageSize, PageSize)
	assert.NilError(t, err)
	assert.Assert(t, top2 > top1+PageSize)
}

func TestKernelRegionBytesResolvesBacking(t *testing.T) {
	arena, err := pmm.NewArena(16 * 1024 * 1024)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	kr := NewKernelRegion(arena, 16*1024*1024)
	virt, err := kr.GrowKernelHeap(PageSize)
	assert.NilError(t, err)

	b := kr.Bytes(virt, PageSize)
	assert.Assert(t, b != nil)
	b[0] = 7
	b2 := kr.Bytes(virt, 1)
	assert.Equal(t, b2[0], byte(7))
}
