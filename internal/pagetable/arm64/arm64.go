// Package arm64 provides pagetable.Arch for the AArch64 4 KiB-granule,
// four-level (L0-L3) configuration: 9-bit indices at each level, a 12-bit
// page offset, 1 GiB blocks at L1 and 2 MiB blocks at L2. The descriptor
// bit layout follows the standard AArch64 long-descriptor PTE_* fields
// (PTE_VALID, PTE_TABLE, PTE_AF, the MAIR-indexed PTE_ATTR_NORMAL/
// PTE_ATTR_DEVICE, PTE_AP_RW_EL1, PTE_SH_INNER).
package arm64

import (
	"kmazarin/internal/bitutil"
	"kmazarin/internal/pagetable"
)

const pageSize = 4096

const (
	pteValid = 1 << 0
	// pteTable distinguishes a table pointer from a block descriptor at
	// L0-L2, and a page descriptor from an (invalid) block at L3: leaving
	// bit1 clear in an L3 entry yields bits[1:0] = 0b01, which is INVALID
	// at L3.
	pteTable = 1 << 1
	pteAF    = 1 << 10

	pteAttrNormal = 0 << 2 // MAIR index 0: Normal, Inner/Outer Write-Back
	pteAttrDevice = 1 << 2 // MAIR index 1: Device-nGnRnE

	pteSHInner = 3 << 8 // PTE_SH_INNER

	pteAPRWEL1 = 0 << 6 // PTE_AP_RW_EL1 (AP[2:1] = 0b00): RW at EL1, no EL0 access

	descriptorMask = ^uint64(0xfff)
)

// Arch is the AArch64 4 KiB-granule pagetable.Arch implementation.
type Arch struct{}

// PageSize returns the 4 KiB leaf granule.
func (Arch) PageSize() uint64 { return pageSize }

// Word returns the AArch64 64-bit address width.
func (Arch) Word() bitutil.Word { return bitutil.Word64 }

// Levels returns L0-L3: 512 GiB/1 GiB/2 MiB/4 KiB per entry respectively.
// Only L1, L2, L3 may hold leaf (block/page) descriptors; L0 always
// points at an L1 table, never a block.
func (Arch) Levels() []pagetable.Level {
	return []pagetable.Level{
		{Shift: 39, IndexBits: 9, CanBlock: false}, // L0
		{Shift: 30, IndexBits: 9, CanBlock: true},  // L1: 1 GiB blocks
		{Shift: 21, IndexBits: 9, CanBlock: true},  // L2: 2 MiB blocks
		{Shift: 12, IndexBits: 9, CanBlock: true},  // L3: 4 KiB pages
	}
}

// EncodeTable returns a table-pointer descriptor referencing phys.
func (Arch) EncodeTable(phys uint64) uint64 {
	return (phys & descriptorMask) | pteTable | pteValid
}

// EncodeLeaf returns a block (L1/L2) or page (L3) descriptor for phys:
// always kernel-RW (EL1 only, no EL0 access, since this core never runs
// user mode), inner-shareable, with the MAIR index selected by attr.
func (Arch) EncodeLeaf(levelIdx int, phys uint64, attr pagetable.Attr) uint64 {
	entry := uint64(pteValid | pteAF | pteSHInner | pteAPRWEL1)
	if levelIdx == 3 {
		entry |= pteTable // L3 page descriptors require bit1 set too
	}
	if attr == pagetable.AttrDevice {
		entry |= pteAttrDevice
	} else {
		entry |= pteAttrNormal
	}
	return (phys & descriptorMask) | entry
}

// IsValid reports whether entry's valid bit is set.
func (Arch) IsValid(entry uint64) bool {
	return entry&pteValid != 0
}

// TablePhysAddr extracts the child table's physical address from a
// table-pointer descriptor.
func (Arch) TablePhysAddr(entry uint64) uint64 {
	return entry & descriptorMask
}
