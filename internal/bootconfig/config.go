// Package bootconfig assembles the boot-time configuration for the
// simulated kernel: kernel heap/stack sizing, the executor's priority
// count, and the memory-map regions that back the physical frame
// allocator. It mirrors runsc/config's split between flag-registered
// defaults and an optional TOML bundle file, simplified down to the
// handful of knobs this kernel actually needs.
package bootconfig

import (
	"flag"
	"fmt"

	"github.com/BurntSushi/toml"
)

// MemRegionKind classifies a boot memory-map entry the way the BOOTBOOT
// protocol's memory map does (spec.md §6), collapsed to the two kinds
// this kernel acts on directly.
type MemRegionKind string

const (
	// MemFree marks a region the physical frame allocator may hand out.
	MemFree MemRegionKind = "free"
	// MemReserved marks a region the allocator must never touch (used by
	// the loader, ACPI tables, MMIO, etc).
	MemReserved MemRegionKind = "reserved"
)

// MemRegion is one entry of the boot memory map.
type MemRegion struct {
	Start uintptr       `toml:"start"`
	Size  uintptr       `toml:"size"`
	Kind  MemRegionKind `toml:"kind"`
}

// Config holds every boot-time tunable. Defaults match spec.md §6's fixed
// kernel memory layout.
type Config struct {
	KernelHeapInitial uintptr `toml:"kernel_heap_initial"`
	KernelHeapMax     uintptr `toml:"kernel_heap_max"`
	KernelStackSize   uintptr `toml:"kernel_stack_size"`
	KernelStackGap    uintptr `toml:"kernel_stack_gap"`
	PriorityLevels    int     `toml:"priority_levels"`
	ProgramImage      string  `toml:"program_image"`

	MemRegions []MemRegion `toml:"mem_region"`
}

// Default returns the configuration used when no bundle file is supplied.
func Default() *Config {
	return &Config{
		KernelHeapInitial: 30 << 20,   // 30 MiB
		KernelHeapMax:     10 << 30,   // 10 GiB
		KernelStackSize:   10 << 20,   // 10 MiB
		KernelStackGap:    10<<20 + 1, // > 10 MiB
		PriorityLevels:    4,
	}
}

// RegisterFlags registers the subset of Config that makes sense as a
// command-line override, the way runsc/config.RegisterFlags does for its
// own Config.
func RegisterFlags(fs *flag.FlagSet, c *Config) {
	fs.Var(uintptrFlag{&c.KernelHeapInitial}, "kernel-heap-initial", "initial kernel heap size in bytes")
	fs.Var(uintptrFlag{&c.KernelHeapMax}, "kernel-heap-max", "maximum kernel heap size in bytes")
	fs.Var(uintptrFlag{&c.KernelStackSize}, "kernel-stack-size", "per-thread kernel stack size in bytes")
	fs.IntVar(&c.PriorityLevels, "priority-levels", c.PriorityLevels, "number of executor priority levels")
	fs.StringVar(&c.ProgramImage, "program-image", c.ProgramImage, "path to the initial program image to run")
}

// Load reads a moondust.toml bundle file (see runsc's own config.toml
// handling) on top of Default, then applies flag overrides from fs.
func Load(path string, fs *flag.FlagSet) (*Config, error) {
	c := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("bootconfig: decoding %s: %w", path, err)
		}
	}
	if fs != nil {
		RegisterFlags(fs, c)
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	if c.KernelHeapInitial == 0 || c.KernelHeapInitial > c.KernelHeapMax {
		return fmt.Errorf("bootconfig: invalid kernel heap bounds [%d, %d]", c.KernelHeapInitial, c.KernelHeapMax)
	}
	if c.KernelStackSize == 0 {
		return fmt.Errorf("bootconfig: kernel stack size must be non-zero")
	}
	if c.PriorityLevels <= 0 {
		return fmt.Errorf("bootconfig: priority-levels must be positive, got %d", c.PriorityLevels)
	}
	return nil
}

// uintptrFlag adapts a *uintptr to flag.Value.
type uintptrFlag struct {
	p *uintptr
}

func (f uintptrFlag) String() string {
	if f.p == nil {
		return "0"
	}
	return fmt.Sprintf("%d", *f.p)
}

func (f uintptrFlag) Set(s string) error {
	var v uint64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return err
	}
	*f.p = uintptr(v)
	return nil
}
