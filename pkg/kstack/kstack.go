// Package kstack implements the kernel-stack allocator (spec.md §4.4):
// every kernel thread gets a fixed-size stack carved out of the shared
// kernel stack region, separated from its neighbors by an unmapped guard
// gap. Stacks are never returned to the region once allocated.
package kstack

import (
	"github.com/moondust-os/moondust/pkg/addrspace"
)

// DefaultSize is the stack size handed to a kernel thread unless the
// caller asks for something larger.
const DefaultSize = 64 * 1024

// DefaultGap is the unmapped guard region placed after each stack, sized
// to catch the common case of a blown stack without consuming much
// address space.
const DefaultGap = addrspace.PageSize

// Allocator hands out kernel stack slots from a single shared
// KernelRegion.
type Allocator struct {
	region *addrspace.KernelRegion
	size   uintptr
	gap    uintptr
}

// New builds an Allocator over region, using size for every stack it
// hands out and gap as the guard region following it.
func New(region *addrspace.KernelRegion, size, gap uintptr) *Allocator {
	if size == 0 {
		size = DefaultSize
	}
	if gap == 0 {
		gap = DefaultGap
	}
	return &Allocator{region: region, size: size, gap: gap}
}

// Stack is one allocated kernel stack. Top is the highest usable address
// (16-byte aligned, ready to receive a stack pointer); Bottom is the
// lowest address mapped as part of the stack, below which lies the guard
// gap.
type Stack struct {
	Top, Bottom uintptr
	Size        uintptr
}

// Alloc carves a new stack slot. Stacks are never freed individually;
// the region they come from is torn down only at kernel shutdown.
func (a *Allocator) Alloc() (Stack, error) {
	base, top, err := a.region.NewKernelStackSlot(a.size, a.gap)
	if err != nil {
		return Stack{}, err
	}
	return Stack{Top: top, Bottom: base, Size: a.size}, nil
}

// Bytes returns the direct byte view backing the stack, for callers that
// need to pre-fault or initialize the region (e.g. installing a canary
// at the base).
func (s Stack) Bytes(region *addrspace.KernelRegion) []byte {
	return region.Bytes(s.Bottom, s.Size)
}
