package kstack

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moondust-os/moondust/pkg/addrspace"
	"github.com/moondust-os/moondust/pkg/pmm"
)

func TestAllocGivesUsableGuardedStack(t *testing.T) {
	arena, err := pmm.NewArena(16 * 1024 * 1024)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	region := addrspace.NewKernelRegion(arena, 16*1024*1024)
	alloc := New(region, 8*addrspace.PageSize, addrspace.PageSize)

	s, err := alloc.Alloc()
	assert.NilError(t, err)
	assert.Assert(t, s.Top > s.Bottom)
	assert.Assert(t, s.Top-s.Bottom <= s.Size)

	b := s.Bytes(region)
	assert.Assert(t, b != nil)
	assert.Equal(t, len(b), int(s.Size))
}

func TestSuccessiveStacksAreSeparatedByGap(t *testing.T) {
	arena, err := pmm.NewArena(16 * 1024 * 1024)
	assert.NilError(t, err)
	t.Cleanup(func() { _ = arena.Close() })

	region := addrspace.NewKernelRegion(arena, 16*1024*1024)
	alloc := New(region, 4*addrspace.PageSize, addrspace.PageSize)

	s1, err := alloc.Alloc()
	assert.NilError(t, err)
	s2, err := alloc.Alloc()
	assert.NilError(t, err)

	assert.Assert(t, s2.Bottom >= s1.Bottom+s1.Size+addrspace.PageSize)
}
