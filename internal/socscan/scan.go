// Package socscan walks the root's "soc" child, producing the
// SoC-base -> CPU-base -> size translation windows the page-table builder
// later uses to map peripheral MMIO.
package socscan

import (
	"errors"

	"kmazarin/internal/bitutil"
	"kmazarin/internal/dtb"
	"kmazarin/internal/fixedmap"
	"kmazarin/internal/fixedmap/fnv1a"
	"kmazarin/internal/memrange"
)

// Capacity is SocConfig's fixed mapping count.
const Capacity = 64

var (
	// ErrNoSocNode is returned when root has no immediate "soc" child.
	ErrNoSocNode = errors.New("socscan: no soc node found in DTB")
	// ErrWiderSocAddress is returned when the soc node's #address-cells
	// exceeds the CPU's: a SoC bus wider than the CPU's own address space
	// cannot be represented and is rejected outright.
	ErrWiderSocAddress = errors.New("socscan: soc #address-cells wider than cpu #address-cells")
)

// Mapping is a decoded SoC-to-CPU address translation window.
type Mapping struct {
	SocBase uint64
	CpuBase uint64
	Size    uint64
}

type propKind int

const (
	propOther propKind = iota
	propAddressCells
	propSizeCells
	propRanges
)

func newDispatch() *fixedmap.Map[string, propKind] {
	m := fixedmap.New[string, propKind](11, fnv1a.HashString)
	m.Insert("#address-cells", propAddressCells)
	m.Insert("#size-cells", propSizeCells)
	m.Insert("ranges", propRanges)
	return m
}

// Scan locates root's "soc" child and decodes its ranges property into a
// list of Mappings.
func Scan(r *dtb.Reader, word bitutil.Word) ([]Mapping, error) {
	root, ok := r.RootNode()
	if !ok {
		return nil, errors.New("socscan: malformed root node")
	}
	soc, ok := r.FindChildNode(root, "soc")
	if !ok {
		return nil, ErrNoSocNode
	}

	socAddrCells, socSizeCells := r.AddressCells(), r.SizeCells()
	cpuAddrCells := r.AddressCells()
	var rangesValue []byte
	haveRanges := false

	dispatch := newDispatch()
	c := soc
	for {
		prop, next, ok := r.NextProperty(c)
		if !ok {
			break
		}
		name, ok := r.GetSliceFromStringTable(prop.NameOffset)
		if ok {
			kind, _ := dispatch.Find(name)
			switch kind {
			case propAddressCells:
				if v, ok := decodeU32(prop.Value); ok {
					socAddrCells = v
				}
			case propSizeCells:
				if v, ok := decodeU32(prop.Value); ok {
					socSizeCells = v
				}
			case propRanges:
				rangesValue = prop.Value
				haveRanges = true
			}
		}
		c = next
	}

	if socAddrCells > cpuAddrCells {
		return nil, ErrWiderSocAddress
	}
	if !haveRanges {
		return nil, errors.New("socscan: soc node has no ranges property")
	}

	entries, ok := r.DecodeRanges(rangesValue, socAddrCells, cpuAddrCells, socSizeCells)
	if !ok {
		return nil, errors.New("socscan: malformed ranges property")
	}

	out := make([]Mapping, 0, len(entries))
	for _, e := range entries {
		if !fitsWord(e.ChildBase, e.Size, word) || !fitsWord(e.ParentBase, e.Size, word) {
			continue
		}
		out = append(out, Mapping{SocBase: e.ChildBase, CpuBase: e.ParentBase, Size: e.Size})
		if len(out) >= Capacity {
			break
		}
	}
	return out, nil
}

// fitsWord reports whether [base, base+size) fits entirely within the
// platform's addressable range, with no overflow. Entries that would
// overflow either side's remaining space are skipped rather than mapped
// partially.
func fitsWord(base, size uint64, word bitutil.Word) bool {
	if base > word.Max() {
		return false
	}
	end := base + size
	if end < base {
		return false
	}
	if word.Bits() < 64 && end > uint64(1)<<word.Bits() {
		return false
	}
	return true
}

func decodeU32(b []byte) (uint32, bool) {
	if len(b) != 4 {
		return 0, false
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), true
}

// RangesToSet is a convenience for callers that want the mapped windows'
// CPU-side ranges as a memrange.Set rather than a slice.
func RangesToSet(mappings []Mapping) *memrange.Set {
	s := memrange.NewSet(Capacity)
	for _, m := range mappings {
		s.Insert(memrange.Range{Base: m.CpuBase, Size: m.Size})
	}
	s.Trim()
	return s
}
