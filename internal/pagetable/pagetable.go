// Package pagetable implements an architecture-parameterized multi-level
// translation-table builder: write a leaf descriptor for each whole entry
// the range fills, and allocate the next-level table on demand for any
// remainder smaller than an entry. It is driven by a pluggable Arch so the same Builder.Fill covers
// both AArch64 and ARMv7a.
package pagetable

import (
	"kmazarin/internal/bitutil"
	"kmazarin/internal/memrange"
)

// Attr selects which memory-attribute class a leaf descriptor gets:
// device-memory for peripheral MMIO windows, normal (cacheable) memory
// for RAM.
type Attr int

const (
	AttrNormal Attr = iota
	AttrDevice
)

func (a Attr) String() string {
	if a == AttrDevice {
		return "device"
	}
	return "normal"
}

// Level describes one translation level: the shift selecting the VA index
// field consumed at this level, the width of that index field, and
// whether this level is permitted to hold a leaf (block or page)
// descriptor rather than always pointing at a finer table. Levels are
// given coarsest-first (index 0 is the table the root physical address
// points at).
type Level struct {
	Shift     uint
	IndexBits uint
	CanBlock  bool
}

// EntrySize is the VA span one index at this level covers (1 << Shift).
func (l Level) EntrySize() uint64 {
	return uint64(1) << l.Shift
}

// IndexCount is the number of entries in a table at this level.
func (l Level) IndexCount() uint64 {
	return uint64(1) << l.IndexBits
}

// Arch parameterizes Builder over a concrete per-architecture descriptor
// encoding. The two provided implementations, pagetable/arm64 and
// pagetable/armv7a, supply the bit layouts; Arch itself carries no
// encoding details so Builder's recursion stays architecture-agnostic.
type Arch interface {
	// PageSize is the final leaf granule (4 KiB for both targets here).
	PageSize() uint64
	// Word is the target's address width, used to bound the DTB root's
	// #address-cells/#size-cells.
	Word() bitutil.Word
	// Levels returns the translation levels, coarsest (root) first.
	Levels() []Level
	// EncodeLeaf returns the descriptor for a block or page mapping phys
	// with attr, at the given level index.
	EncodeLeaf(levelIdx int, phys uint64, attr Attr) uint64
	// EncodeTable returns a pointer descriptor referencing the table at
	// phys (page-aligned).
	EncodeTable(phys uint64) uint64
	// IsValid reports whether entry is a valid (non-fault) descriptor.
	IsValid(entry uint64) bool
	// TablePhysAddr extracts the child table's physical address from a
	// valid table-pointer descriptor.
	TablePhysAddr(entry uint64) uint64
}

// Memory is the physical-memory descriptor read/write surface the builder
// walks. A real target backs this with volatile *uint64 stores against
// physical RAM; this module backs it with a plain byte buffer in tests
// (pagetable/pagetabletest), so the builder's recursive algorithm is
// host-testable without touching hardware.
type Memory interface {
	ReadEntry(tablePhysAddr uint64, index int) uint64
	WriteEntry(tablePhysAddr uint64, index int, entry uint64)
}

// Builder drives translation-table construction over a chosen Arch and
// Memory.
type Builder struct {
	arch Arch
	mem  Memory
}

// NewBuilder returns a Builder that encodes descriptors per arch and
// writes them through mem.
func NewBuilder(arch Arch, mem Memory) *Builder {
	return &Builder{arch: arch, mem: mem}
}

// PageSize returns the architecture's leaf page size.
func (b *Builder) PageSize() uint64 {
	return b.arch.PageSize()
}

// Fill writes descriptors covering rng (physical addresses) into the
// translation tables rooted at rootTablePhysAddr, mapping them at
// virtualBase+rng.Base in the virtual address space with the given
// attribute class. nextFree is the next free page-aligned physical
// address available for a newly allocated table; Fill returns the
// updated nextFree after any tables it allocated.
func (b *Builder) Fill(virtualBase, rootTablePhysAddr, nextFree uint64, rng memrange.Range, attr Attr) uint64 {
	pageSize := b.arch.PageSize()
	bitutil.DebugAssert(rng.Base%pageSize == 0, "pagetable: Fill requires a page-aligned range base")
	bitutil.DebugAssert(rng.Size%pageSize == 0, "pagetable: Fill requires a page-aligned range size")
	if rng.Size == 0 {
		return nextFree
	}
	return b.fillLevel(virtualBase, 0, rootTablePhysAddr, nextFree, rng, attr)
}

// fillLevel is the per-level body of the walk: first it loops, writing
// whole-entry leaf descriptors while the remaining range still fills one,
// advancing base/size by entrySize each time; once it no longer does, it
// examines (and if needed allocates) the descriptor at the current index
// and recurses one level finer with the unconsumed remainder. Recursion
// terminates once a level whose entrySize equals the page size fully
// consumes the range.
func (b *Builder) fillLevel(virtualBase uint64, levelIdx int, tablePhysAddr, nextFree uint64, rng memrange.Range, attr Attr) uint64 {
	levels := b.arch.Levels()
	bitutil.DebugAssert(levelIdx < len(levels), "pagetable: fillLevel ran past the last translation level")
	lvl := levels[levelIdx]
	entrySize := lvl.EntrySize()
	indexCount := lvl.IndexCount()
	bitutil.DebugAssert(entrySize >= b.arch.PageSize(), "pagetable: level entry size below page size")

	for lvl.CanBlock && rng.Size >= entrySize {
		idx := int(((virtualBase + rng.Base) >> lvl.Shift) % indexCount)
		b.mem.WriteEntry(tablePhysAddr, idx, b.arch.EncodeLeaf(levelIdx, rng.Base, attr))
		rng.Base += entrySize
		rng.Size -= entrySize
	}
	if rng.Size == 0 {
		return nextFree
	}

	bitutil.DebugAssert(levelIdx+1 < len(levels), "pagetable: remaining range too small for any level")
	idx := int(((virtualBase + rng.Base) >> lvl.Shift) % indexCount)
	existing := b.mem.ReadEntry(tablePhysAddr, idx)

	var childTable uint64
	if b.arch.IsValid(existing) {
		childTable = b.arch.TablePhysAddr(existing)
	} else {
		childTable = nextFree
		nextFree += b.arch.PageSize()
		b.mem.WriteEntry(tablePhysAddr, idx, b.arch.EncodeTable(childTable))
	}
	return b.fillLevel(virtualBase, levelIdx+1, childTable, nextFree, rng, attr)
}
