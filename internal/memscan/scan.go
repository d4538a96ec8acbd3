// Package memscan walks a DTB to produce the physical RAM memrange.Set,
// one of three scanners built on top of internal/dtb and internal/fixedmap,
// the latter used here to dispatch on each node's property names rather
// than a chain of hand-written comparisons.
package memscan

import (
	"errors"

	"kmazarin/internal/bitutil"
	"kmazarin/internal/dtb"
	"kmazarin/internal/fixedmap"
	"kmazarin/internal/fixedmap/fnv1a"
	"kmazarin/internal/memrange"
)

// Capacity is MemoryConfig's fixed range count.
const Capacity = 64

// ErrNoMemoryNodes is returned when the scan completes without finding any
// memory reg pairs: the scan fails outright rather than hand back an empty
// layout.
var ErrNoMemoryNodes = errors.New("memscan: no memory nodes found in DTB")

// propKind classifies a node's properties for dispatch; newDispatch builds
// a short-lived lookup table fresh for every node visited.
type propKind int

const (
	propOther propKind = iota
	propAddressCells
	propSizeCells
	propDeviceType
	propReg
)

func newDispatch() *fixedmap.Map[string, propKind] {
	m := fixedmap.New[string, propKind](11, fnv1a.HashString)
	m.Insert("#address-cells", propAddressCells)
	m.Insert("#size-cells", propSizeCells)
	m.Insert("device_type", propDeviceType)
	m.Insert("reg", propReg)
	return m
}

// Scan walks the whole DTB tree rooted at r, collecting (base, size) pairs
// from every "memory" device node's reg property into a memrange.Set.
func Scan(r *dtb.Reader, word bitutil.Word) (*memrange.Set, error) {
	out := memrange.NewSet(Capacity)
	root, ok := r.RootNode()
	if !ok {
		return nil, errors.New("memscan: malformed root node")
	}
	if err := walk(r, root, r.AddressCells(), r.SizeCells(), word, out); err != nil {
		return nil, err
	}
	out.Trim()
	if out.Len() == 0 {
		return nil, ErrNoMemoryNodes
	}
	return out, nil
}

func walk(r *dtb.Reader, cursor dtb.Cursor, parentAddrCells, parentSizeCells uint32, word bitutil.Word, out *memrange.Set) error {
	dispatch := newDispatch()

	childAddrCells, childSizeCells := parentAddrCells, parentSizeCells
	var deviceType string
	var regValue []byte
	haveDeviceType, haveReg := false, false

	c := cursor
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
					childAddrCells = v
				}
			case propSizeCells:
				if v, ok := decodeU32(prop.Value); ok {
					childSizeCells = v
				}
			case propDeviceType:
				deviceType = trimNUL(prop.Value)
				haveDeviceType = true
			case propReg:
				regValue = prop.Value
				haveReg = true
			}
		}
		c = next
	}

	if haveDeviceType && deviceType == "memory" && haveReg {
		entries, ok := r.DecodeReg(regValue, parentAddrCells, parentSizeCells)
		if ok {
			for _, e := range entries {
				insertClamped(out, e.Base, e.Size, word)
			}
		}
	}

	childCursor := c
	for {
		_, child, after, ok := r.NextChild(childCursor)
		if !ok {
			break
		}
		if err := walk(r, child, childAddrCells, childSizeCells, word, out); err != nil {
			return err
		}
		childCursor = after
	}
	return nil
}

func decodeU32(b []byte) (uint32, bool) {
	if len(b) != 4 {
		return 0, false
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), true
}

func trimNUL(b []byte) string {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}

// insertClamped inserts (base, size) into out, skipping pairs whose base
// exceeds the platform addressable range and clamping pairs whose end
// would overflow it.
func insertClamped(out *memrange.Set, base, size uint64, word bitutil.Word) {
	if base > word.Max() {
		return
	}
	end := base + size
	overflowed := end < base
	if word.Bits() < 64 {
		limit := uint64(1) << word.Bits()
		if overflowed || end > limit {
			end = limit
		}
	} else if overflowed {
		end = ^uint64(0)
	}
	if end <= base {
		return
	}
	out.Insert(memrange.Range{Base: base, Size: end - base})
}
