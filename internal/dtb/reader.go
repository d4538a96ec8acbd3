// Package dtb implements a random-access reader over a flattened devicetree
// blob (FDT): header validation, a trivially-copyable cursor, node/property
// walk, reg/ranges decoding, and string-table lookup. It is the reader the
// memscan, socscan, and cpuscan walks are built on.
package dtb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"kmazarin/internal/bitutil"
)

const (
	fdtMagic = 0xd00dfeed

	fdtBeginNode = 1
	fdtEndNode   = 2
	fdtProp      = 3
	fdtNoop      = 4
	fdtEnd       = 9

	headerSize  = 40 // 10 big-endian 32-bit words, including the magic
	maxBlobSize = 64 * 1024 * 1024
)

var (
	ErrNotADtb   = errors.New("dtb: not a devicetree blob (bad magic)")
	ErrBadSize   = errors.New("dtb: total size out of range")
	ErrBadCells  = errors.New("dtb: root #address-cells/#size-cells out of range")
	ErrTruncated = errors.New("dtb: blob truncated")
)

// Reader is a borrowed, read-only view over a DTB's bytes.
type Reader struct {
	blob         []byte
	structOff    uint32
	structSize   uint32
	stringsOff   uint32
	stringsSize  uint32
	addressCells uint32
	sizeCells    uint32
	word         bitutil.Word
}

// NewReader validates blob's header and returns a Reader over it. word is
// the target platform's address width, used to bound the root node's
// #address-cells/#size-cells to [1, word width in bytes].
func NewReader(blob []byte, word bitutil.Word) (*Reader, error) {
	if len(blob) < headerSize {
		return nil, fmt.Errorf("%w: blob shorter than header", ErrTruncated)
	}
	magic := binary.BigEndian.Uint32(blob[0:4])
	if magic != fdtMagic {
		return nil, ErrNotADtb
	}
	totalSize := binary.BigEndian.Uint32(blob[4:8])
	if totalSize < headerSize || totalSize > maxBlobSize || int(totalSize) > len(blob) {
		return nil, ErrBadSize
	}
	offStruct := binary.BigEndian.Uint32(blob[8:12])
	offStrings := binary.BigEndian.Uint32(blob[12:16])
	sizeStrings := binary.BigEndian.Uint32(blob[32:36])
	sizeStruct := binary.BigEndian.Uint32(blob[36:40])

	r := &Reader{
		blob:         blob[:totalSize],
		structOff:    offStruct,
		structSize:   sizeStruct,
		stringsOff:   offStrings,
		stringsSize:  sizeStrings,
		addressCells: 2,
		sizeCells:    1,
		word:         word,
	}

	root, ok := r.RootNode()
	if !ok {
		return nil, fmt.Errorf("%w: malformed root node", ErrTruncated)
	}
	for {
		prop, next, ok := r.NextProperty(root)
		if !ok {
			break
		}
		name, ok := r.GetSliceFromStringTable(prop.NameOffset)
		if ok {
			switch name {
			case "#address-cells":
				if v, ok := decodeU32(prop.Value); ok {
					r.addressCells = v
				}
			case "#size-cells":
				if v, ok := decodeU32(prop.Value); ok {
					r.sizeCells = v
				}
			}
		}
		root = next
	}

	maxCells := uint64(word)
	if r.addressCells < 1 || uint64(r.addressCells) > maxCells ||
		r.sizeCells < 1 || uint64(r.sizeCells) > maxCells {
		return nil, ErrBadCells
	}
	return r, nil
}

// AddressCells returns the root node's #address-cells.
func (r *Reader) AddressCells() uint32 { return r.addressCells }

// SizeCells returns the root node's #size-cells.
func (r *Reader) SizeCells() uint32 { return r.sizeCells }

// Word returns the target platform word width this reader validates
// against.
func (r *Reader) Word() bitutil.Word { return r.word }

func decodeU32(b []byte) (uint32, bool) {
	if len(b) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(b), true
}

// RootNode returns a cursor just past the root node's FDT_BEGIN_NODE
// marker and empty name (the root's name is always empty in a well-formed
// DTB).
func (r *Reader) RootNode() (Cursor, bool) {
	c := Cursor{off: r.structOff}
	tag, next, ok := r.peekToken(c)
	if !ok || tag != fdtBeginNode {
		return Cursor{}, false
	}
	_, afterName, ok := r.GetNullTerminatedU8Slice(next)
	if !ok {
		return Cursor{}, false
	}
	return afterName, true
}

// FindChildNode returns a cursor positioned just after the named immediate
// child's name, or false if no such child exists among parent's direct
// children. It tracks nesting depth and skips properties (and
// grandchildren) with consumeNodeProperties-equivalent handling inline.
func (r *Reader) FindChildNode(parent Cursor, name string) (Cursor, bool) {
	c := parent
	depth := 0
	for {
		tag, next, ok := r.peekToken(c)
		if !ok {
			return Cursor{}, false
		}
		switch tag {
		case fdtBeginNode:
			childName, afterName, ok := r.GetNullTerminatedU8Slice(next)
			if !ok {
				return Cursor{}, false
			}
			if depth == 0 && string(childName) == name {
				return afterName, true
			}
			depth++
			c = afterName
		case fdtEndNode:
			if depth == 0 {
				return Cursor{}, false
			}
			depth--
			c = next
		case fdtProp:
			plen, _, after, ok := r.readPropHeader(next)
			if !ok {
				return Cursor{}, false
			}
			skipped, ok := r.SkipAndAlign(after, plen)
			if !ok {
				return Cursor{}, false
			}
			c = skipped
		case fdtNoop:
			c = next
		default:
			return Cursor{}, false
		}
	}
}

// skipNode advances past a node's properties and nested children until its
// own matching FDT_END_NODE, returning the cursor just past that marker.
// c must be positioned just after the node's name, as RootNode/
// FindChildNode/NextChild return.
func (r *Reader) skipNode(c Cursor) (Cursor, bool) {
	depth := 0
	for {
		tag, next, ok := r.peekToken(c)
		if !ok {
			return Cursor{}, false
		}
		switch tag {
		case fdtBeginNode:
			_, afterName, ok := r.GetNullTerminatedU8Slice(next)
			if !ok {
				return Cursor{}, false
			}
			depth++
			c = afterName
		case fdtEndNode:
			if depth == 0 {
				return next, true
			}
			depth--
			c = next
		case fdtProp:
			plen, _, after, ok := r.readPropHeader(next)
			if !ok {
				return Cursor{}, false
			}
			skipped, ok := r.SkipAndAlign(after, plen)
			if !ok {
				return Cursor{}, false
			}
			c = skipped
		case fdtNoop:
			c = next
		default:
			return Cursor{}, false
		}
	}
}

// NextChild scans forward from c (positioned just after a node's name, or
// after a previously returned sibling's skip-to cursor), skipping any
// properties, and returns the next immediate child node encountered: its
// name, a cursor just after its name (ready for property/child walk), and
// a cursor just past its entire subtree (to find the sibling after it).
// ok is false once the enclosing node's FDT_END_NODE is reached.
func (r *Reader) NextChild(c Cursor) (name string, child Cursor, after Cursor, ok bool) {
	for {
		tag, next, ok := r.peekToken(c)
		if !ok {
			return "", Cursor{}, Cursor{}, false
		}
		switch tag {
		case fdtBeginNode:
			nameBytes, afterName, ok := r.GetNullTerminatedU8Slice(next)
			if !ok {
				return "", Cursor{}, Cursor{}, false
			}
			afterEnd, ok := r.skipNode(afterName)
			if !ok {
				return "", Cursor{}, Cursor{}, false
			}
			return string(nameBytes), afterName, afterEnd, true
		case fdtEndNode:
			return "", Cursor{}, Cursor{}, false
		case fdtProp:
			plen, _, propAfter, ok := r.readPropHeader(next)
			if !ok {
				return "", Cursor{}, Cursor{}, false
			}
			skipped, ok := r.SkipAndAlign(propAfter, plen)
			if !ok {
				return "", Cursor{}, Cursor{}, false
			}
			c = skipped
		case fdtNoop:
			c = next
		default:
			return "", Cursor{}, Cursor{}, false
		}
	}
}

// Property is a decoded FDT_PROP entry: its name-table offset and raw
// value bytes.
type Property struct {
	NameOffset uint32
	Value      []byte
}

// NextProperty returns the next FDT_PROP encountered from c before any
// FDT_BEGIN_NODE/FDT_END_NODE; FDT_NOOP tokens are transparent. On any
// other marker c is returned unchanged (the "rewind one word" the spec
// describes, since the peek never committed past c) and ok is false.
func (r *Reader) NextProperty(c Cursor) (Property, Cursor, bool) {
	for {
		tag, next, ok := r.peekToken(c)
		if !ok {
			return Property{}, c, false
		}
		switch tag {
		case fdtProp:
			plen, nameOff, after, ok := r.readPropHeader(next)
			if !ok {
				return Property{}, c, false
			}
			value, ok := r.GetU8Slice(after, plen)
			if !ok {
				return Property{}, c, false
			}
			newCursor, ok := r.SkipAndAlign(after, plen)
			if !ok {
				return Property{}, c, false
			}
			return Property{NameOffset: nameOff, Value: value}, newCursor, true
		case fdtNoop:
			c = next
		default:
			return Property{}, c, false
		}
	}
}

func (r *Reader) peekToken(c Cursor) (tag uint32, next Cursor, ok bool) {
	v, n, ok := r.GetU32(c)
	return v, n, ok
}

func (r *Reader) readPropHeader(afterTag Cursor) (plen uint32, nameOff uint32, after Cursor, ok bool) {
	plen, c1, ok := r.GetU32(afterTag)
	if !ok {
		return 0, 0, Cursor{}, false
	}
	nameOff, c2, ok := r.GetU32(c1)
	if !ok {
		return 0, 0, Cursor{}, false
	}
	return plen, nameOff, c2, true
}

// GetU32 reads a big-endian uint32 at c, returning the cursor just past it.
func (r *Reader) GetU32(c Cursor) (uint32, Cursor, bool) {
	if uint64(c.off)+4 > uint64(len(r.blob)) {
		return 0, c, false
	}
	v := binary.BigEndian.Uint32(r.blob[c.off : c.off+4])
	return v, Cursor{off: c.off + 4}, true
}

// GetU8Slice returns the n raw bytes starting at c, without advancing or
// aligning (callers needing the DTB's word-aligned advance should follow
// with SkipAndAlign).
func (r *Reader) GetU8Slice(c Cursor, n uint32) ([]byte, bool) {
	if uint64(c.off)+uint64(n) > uint64(len(r.blob)) {
		return nil, false
	}
	return r.blob[c.off : c.off+n], true
}

// GetNullTerminatedU8Slice reads bytes from c up to (not including) the
// first NUL, returning a cursor advanced past the NUL and aligned up to
// the next word boundary, clamped at end of blob.
func (r *Reader) GetNullTerminatedU8Slice(c Cursor) ([]byte, Cursor, bool) {
	i := c.off
	for {
		if uint64(i) >= uint64(len(r.blob)) {
			return nil, c, false
		}
		if r.blob[i] == 0 {
			break
		}
		i++
	}
	data := r.blob[c.off:i]
	next, ok := r.SkipAndAlign(c, (i-c.off)+1)
	if !ok {
		return nil, c, false
	}
	return data, next, true
}

// SkipAndAlign advances c by n bytes then rounds up to the next 4-byte
// word boundary, clamping at end of blob.
func (r *Reader) SkipAndAlign(c Cursor, n uint32) (Cursor, bool) {
	off := uint64(c.off) + uint64(n)
	off = (off + 3) &^ 3
	if off > uint64(len(r.blob)) {
		off = uint64(len(r.blob))
	}
	return Cursor{off: uint32(off)}, true
}

// GetSliceFromStringTable resolves a property name at the given offset
// into the blob's string block.
func (r *Reader) GetSliceFromStringTable(offset uint32) (string, bool) {
	if offset >= r.stringsSize {
		return "", false
	}
	base := r.stringsOff + offset
	i := base
	for {
		if uint64(i) >= uint64(len(r.blob)) {
			return "", false
		}
		if r.blob[i] == 0 {
			break
		}
		i++
	}
	return string(r.blob[base:i]), true
}

// RegEntry is a decoded reg pair: (address, size) in the parent bus's
// address space.
type RegEntry struct {
	Base uint64
	Size uint64
}

// RangeEntry is a decoded ranges triple: (child address, parent address,
// size).
type RangeEntry struct {
	ChildBase  uint64
	ParentBase uint64
	Size       uint64
}

func (r *Reader) readCells(data []byte, off uint32, cells uint32) (uint64, uint32, bool) {
	if cells == 0 || cells > 2 {
		return 0, 0, false
	}
	need := cells * 4
	if uint64(off)+uint64(need) > uint64(len(data)) {
		return 0, 0, false
	}
	var v uint64
	for i := uint32(0); i < cells; i++ {
		word := binary.BigEndian.Uint32(data[off+i*4 : off+i*4+4])
		v = (v << 32) | uint64(word)
	}
	if v > r.word.Max() {
		return 0, 0, false
	}
	return v, off + need, true
}

// DecodeReg decodes data (a property's raw value) as a sequence of
// (addressCells, sizeCells)-wide reg pairs. If any entry's address or size
// exceeds the platform word width, the whole property is rejected (ok is
// false); no value is ever truncated.
func (r *Reader) DecodeReg(data []byte, addressCells, sizeCells uint32) ([]RegEntry, bool) {
	var out []RegEntry
	off := uint32(0)
	for off < uint32(len(data)) {
		addr, next, ok := r.readCells(data, off, addressCells)
		if !ok {
			return nil, false
		}
		size, next2, ok := r.readCells(data, next, sizeCells)
		if !ok {
			return nil, false
		}
		out = append(out, RegEntry{Base: addr, Size: size})
		off = next2
	}
	return out, true
}

// DecodeRanges decodes data as a sequence of (childCells, parentCells,
// sizeCells)-wide ranges triples.
func (r *Reader) DecodeRanges(data []byte, childCells, parentCells, sizeCells uint32) ([]RangeEntry, bool) {
	var out []RangeEntry
	off := uint32(0)
	for off < uint32(len(data)) {
		childAddr, next, ok := r.readCells(data, off, childCells)
		if !ok {
			return nil, false
		}
		parentAddr, next2, ok := r.readCells(data, next, parentCells)
		if !ok {
			return nil, false
		}
		size, next3, ok := r.readCells(data, next2, sizeCells)
		if !ok {
			return nil, false
		}
		out = append(out, RangeEntry{ChildBase: childAddr, ParentBase: parentAddr, Size: size})
		off = next3
	}
	return out, true
}
