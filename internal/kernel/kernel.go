// Package kernel assembles the pieces pkg/pmm, pkg/kheap, pkg/addrspace,
// and pkg/executor each implement in isolation into the running system
// cmd/moondust boots: one physical frame arena, one shared kernel
// address-space half, one kernel dynamic allocator, and one priority
// task executor, mirroring the way runsc/boot.New wires sentry's
// platform, memory manager, and kernel together before starting a
// container's init process.
package kernel

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/moondust-os/moondust/internal/bootconfig"
	"github.com/moondust-os/moondust/internal/klog"
	"github.com/moondust-os/moondust/pkg/addrspace"
	"github.com/moondust-os/moondust/pkg/executor"
	"github.com/moondust-os/moondust/pkg/kheap"
	"github.com/moondust-os/moondust/pkg/pmm"
)

// defaultArenaSize backs the physical allocator when a config supplies
// no explicit memory map, enough headroom for the kernel heap, a
// handful of kernel stacks, and a demo program's user mappings.
const defaultArenaSize = 64 << 20

// Kernel holds every subsystem cmd/moondust's boot command brings up.
type Kernel struct {
	Config   *bootconfig.Config
	Arena    *pmm.Arena
	Region   *addrspace.KernelRegion
	Heap     *kheap.Heap
	Executor *executor.Executor
}

// Boot brings up the kernel's subsystems per cfg. The physical frame
// arena is reserved first since everything else is built on top of it;
// the kernel address-space half (and the dynamic allocator layered on
// it) and the task executor have no dependency on each other, so they
// come up concurrently, the way errgroup.Group is used throughout the
// pack's own boot paths to fail fast on the first subsystem that errors.
func Boot(ctx context.Context, cfg *bootconfig.Config) (*Kernel, error) {
	arena, err := pmm.NewArena(arenaSize(cfg))
	if err != nil {
		return nil, fmt.Errorf("kernel: reserving physical arena: %w", err)
	}
	for _, r := range cfg.MemRegions {
		if r.Kind == bootconfig.MemFree {
			arena.AddRegion(r.Start, r.Start+r.Size)
		}
	}

	var region *addrspace.KernelRegion
	var heap *kheap.Heap
	var ex *executor.Executor

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		region = addrspace.NewKernelRegion(arena, cfg.KernelHeapMax)
		heap = kheap.New(region.GrowKernelHeap, addrspace.PageSize)
		return nil
	})
	g.Go(func() error {
		levels := cfg.PriorityLevels
		if levels <= 0 {
			levels = 1
		}
		ex = executor.New(levels, numRunners())
		ex.Start()
		return nil
	})
	if err := g.Wait(); err != nil {
		_ = arena.Close()
		return nil, fmt.Errorf("kernel: boot: %w", err)
	}

	klog.Infof("kernel: booted, arena=%d bytes, priority levels=%d", arenaSize(cfg), cfg.PriorityLevels)
	return &Kernel{Config: cfg, Arena: arena, Region: region, Heap: heap, Executor: ex}, nil
}

// Shutdown stops the executor and releases the physical arena's mmap.
func (k *Kernel) Shutdown() {
	k.Executor.Stop()
	if err := k.Arena.Close(); err != nil {
		klog.Warningf("kernel: closing arena: %v", err)
	}
}

// numRunners mirrors spec.md §5's "AP CPUs boot to a halt loop" note:
// the current design has one executor driving one CPU's runner, but we
// run a small pool of goroutine runners in its place since Go has no
// equivalent of pinning a task loop to a real AP core.
func numRunners() int {
	if n := runtime.NumCPU(); n > 1 {
		return n
	}
	return 1
}

func arenaSize(cfg *bootconfig.Config) uintptr {
	var total uintptr
	for _, r := range cfg.MemRegions {
		total += r.Size
	}
	if total == 0 {
		return defaultArenaSize
	}
	return total
}
