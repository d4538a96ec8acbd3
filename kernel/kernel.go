// Package kernel provides the boot entry points Init, PostInit, and
// Scheduler: validate the DTB, scan memory/SoC/CPU layout, install
// kernel-segment translations, then construct one page allocator per RAM
// range with system-reserved regions excluded.
package kernel

import (
	"errors"
	"fmt"
	"io"

	"kmazarin/internal/config"
	"kmazarin/internal/console"
	"kmazarin/internal/cpuscan"
	"kmazarin/internal/dtb"
	"kmazarin/internal/memrange"
	"kmazarin/internal/memscan"
	"kmazarin/internal/pagealloc"
	"kmazarin/internal/pagetable"
	"kmazarin/internal/socscan"
	"kmazarin/internal/spinlock"
)

// Config is the configuration record the bootstrap stub passes to Init.
// All addresses are physical; VirtualBase is the high-half offset the
// bootstrap has already mapped identity-like.
type Config struct {
	VirtualBase         uint64
	PageSize            uint64
	BlobPhysicalAddress uint64
	PeripheralBase      uint64
	PeripheralBlockSize uint64
	KernelBase          uint64
	KernelSize          uint64
	KernelPagesStart    uint64
	KernelPagesSize     uint64
}

// ErrAlreadyInitialized guards the one-call-during-boot contract for
// process-wide singletons; Go has no compile-time once-only
// construction, so this sentinel enforces it at runtime.
var ErrAlreadyInitialized = errors.New("kernel: Init called more than once")

var initialized bool

// State is the process-wide mutable state Init constructs exactly once:
// the peripheral virtual base (set once, read many), the per-RAM-range
// allocator table, and the debug-output writer (serialized by its own
// internal spin-lock).
type State struct {
	Config         Config
	PeripheralBase uint64
	Allocators     [config.MaxMemoryRanges]*pagealloc.Allocator
	Cores          []config.Core
	Console        *console.Writer

	gate spinlock.Lock
}

// Init is kernel_init: it validates blob as a DTB, scans the memory, SoC,
// and CPU layout from it, fills in the kernel-segment translations rooted
// at cfg.KernelBase via arch/mem, and constructs one pagealloc.Allocator
// per discovered RAM range with the kernel image, the DTB blob, the
// bootstrap page tables, and each allocator's own metadata tail excluded
// from free space.
func Init(cfg Config, blob []byte, arch pagetable.Arch, mem pagetable.Memory) (*State, error) {
	if initialized {
		return nil, ErrAlreadyInitialized
	}

	reader, err := dtb.NewReader(blob, arch.Word())
	if err != nil {
		return nil, fmt.Errorf("kernel: dtb: %w", err)
	}

	memoryRanges, err := memscan.Scan(reader, arch.Word())
	if err != nil {
		return nil, fmt.Errorf("kernel: memscan: %w", err)
	}

	socMappings, err := socscan.Scan(reader, arch.Word())
	if err != nil {
		return nil, fmt.Errorf("kernel: socscan: %w", err)
	}
	if len(socMappings) == 0 {
		return nil, errors.New("kernel: soc scan returned no mappings")
	}
	chosen := socMappings[0]

	cores, err := cpuscan.Scan(reader, arch.Word())
	if err != nil {
		return nil, fmt.Errorf("kernel: cpuscan: %w", err)
	}

	builder := pagetable.NewBuilder(arch, mem)
	nextFree := cfg.KernelPagesStart

	for i := 0; i < memoryRanges.Len(); i++ {
		nextFree = builder.Fill(cfg.VirtualBase, cfg.KernelBase, nextFree, memoryRanges.At(i), pagetable.AttrNormal)
	}

	// The SoC peripheral virtual base need not equal cfg.PeripheralBase;
	// the chosen window's own SoC base is authoritative.
	peripheralBase := cfg.VirtualBase + chosen.SocBase
	nextFree = builder.Fill(cfg.VirtualBase, cfg.KernelBase, nextFree,
		memrange.Range{Base: chosen.CpuBase, Size: chosen.Size}, pagetable.AttrDevice)

	reserved := memrange.NewSet(4)
	reserved.Insert(memrange.Range{Base: cfg.KernelBase, Size: cfg.KernelSize})
	reserved.Insert(memrange.Range{Base: cfg.BlobPhysicalAddress, Size: uint64(len(blob))})
	reserved.Insert(memrange.Range{Base: cfg.KernelPagesStart, Size: nextFree - cfg.KernelPagesStart})
	reserved.Trim()

	s := &State{
		Config:         cfg,
		PeripheralBase: peripheralBase,
		Cores:          cores,
		Console:        console.New(io.Discard),
	}

	for i := 0; i < memoryRanges.Len() && i < config.MaxMemoryRanges; i++ {
		r := memoryRanges.At(i)
		metaSize := pagealloc.MetadataSize(cfg.PageSize, r.Size)
		if metaSize >= r.Size {
			continue // range too small to host its own bookkeeping tail
		}
		metaBase := r.Base + r.Size - metaSize
		meta := make([]byte, metaSize)

		available := memrange.NewSet(memscan.Capacity + 1)
		available.Insert(r)
		available.Exclude(memrange.Range{Base: metaBase, Size: metaSize}, cfg.PageSize)
		for j := 0; j < reserved.Len(); j++ {
			available.Exclude(reserved.At(j), cfg.PageSize)
		}

		alloc, err := pagealloc.NewAllocator(cfg.PageSize, r.Base, r.Size, meta, available)
		if err != nil {
			return nil, fmt.Errorf("kernel: pagealloc for range %#x: %w", r.Base, err)
		}
		s.Allocators[i] = alloc
	}

	initialized = true
	return s, nil
}

// PostInit is kernel_post_init: it ungates the secondary cores, which
// then each call Scheduler. On this hosted build there is no firmware
// gate to release; PostInit only documents where that release happens on
// real hardware.
func (s *State) PostInit() {
}

// Scheduler is where every core, primary and secondary, converges after
// boot. On real hardware it never returns: it acquires the State's
// parking spin-lock and parks. That lock is separate from the one inside
// Console, so holding it does not block console writes. This hosted
// version returns once, so tests can observe that the lock round-trips
// cleanly.
func Scheduler(s *State) error {
	if s == nil {
		return errors.New("kernel: Scheduler called with nil State")
	}
	if !s.gate.TryLock() {
		return errors.New("kernel: Scheduler found the parking lock already held")
	}
	defer s.gate.Unlock()
	return nil
}

// resetForTesting clears the one-call sentinel so package tests can
// exercise Init more than once within a single test binary.
func resetForTesting() {
	initialized = false
}
