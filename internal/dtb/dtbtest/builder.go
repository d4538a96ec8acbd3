// Package dtbtest builds minimal, well-formed FDT blobs for use by tests
// across the dtb reader and its scanners. It is not used outside test
// files.
package dtbtest

import "encoding/binary"

const (
	fdtBeginNode = 1
	fdtEndNode   = 2
	fdtProp      = 3
	fdtEnd       = 9
	fdtMagic     = 0xd00dfeed
)

// Builder incrementally assembles a DTB struct/strings block pair.
type Builder struct {
	structBlock []byte
	strings     []byte
	strOffsets  map[string]uint32
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{strOffsets: make(map[string]uint32)}
}

func (b *Builder) internString(name string) uint32 {
	if off, ok := b.strOffsets[name]; ok {
		return off
	}
	off := uint32(len(b.strings))
	b.strings = append(b.strings, name...)
	b.strings = append(b.strings, 0)
	b.strOffsets[name] = off
	return off
}

func (b *Builder) appendU32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.structBlock = append(b.structBlock, tmp[:]...)
}

func (b *Builder) alignStruct() {
	for len(b.structBlock)%4 != 0 {
		b.structBlock = append(b.structBlock, 0)
	}
}

// BeginNode opens a node with the given name.
func (b *Builder) BeginNode(name string) {
	b.appendU32(fdtBeginNode)
	b.structBlock = append(b.structBlock, name...)
	b.structBlock = append(b.structBlock, 0)
	b.alignStruct()
}

// EndNode closes the most recently opened node.
func (b *Builder) EndNode() {
	b.appendU32(fdtEndNode)
}

// Prop writes a property with a raw byte value.
func (b *Builder) Prop(name string, value []byte) {
	nameOff := b.internString(name)
	b.appendU32(fdtProp)
	b.appendU32(uint32(len(value)))
	b.appendU32(nameOff)
	b.structBlock = append(b.structBlock, value...)
	b.alignStruct()
}

// PropU32 writes a single-cell property.
func (b *Builder) PropU32(name string, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.Prop(name, tmp[:])
}

// PropString writes a NUL-terminated string property.
func (b *Builder) PropString(name string, s string) {
	b.Prop(name, append([]byte(s), 0))
}

// BECells encodes a sequence of values as big-endian 32-bit cells.
func BECells(cells ...uint64) []byte {
	out := make([]byte, 0, len(cells)*4)
	var tmp [4]byte
	for _, c := range cells {
		binary.BigEndian.PutUint32(tmp[:], uint32(c))
		out = append(out, tmp[:]...)
	}
	return out
}

// BECells64 encodes a single 64-bit value as two big-endian 32-bit cells.
func BECells64(v uint64) []byte {
	return BECells(v>>32, v&0xffffffff)
}

// Finish assembles the header, empty mem-reservation map, struct block, and
// strings block into a complete DTB.
func (b *Builder) Finish() []byte {
	b.appendU32(fdtEnd)

	const headerSize = 40
	memRsvMap := make([]byte, 16) // one zero/zero terminator entry

	offStruct := uint32(headerSize + len(memRsvMap))
	structSize := uint32(len(b.structBlock))
	offStrings := offStruct + structSize
	stringsSize := uint32(len(b.strings))
	totalSize := offStrings + stringsSize

	out := make([]byte, 0, totalSize)
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], fdtMagic)
	binary.BigEndian.PutUint32(header[4:8], totalSize)
	binary.BigEndian.PutUint32(header[8:12], offStruct)
	binary.BigEndian.PutUint32(header[12:16], offStrings)
	binary.BigEndian.PutUint32(header[16:20], headerSize) // off_mem_rsvmap
	binary.BigEndian.PutUint32(header[20:24], 17)         // version
	binary.BigEndian.PutUint32(header[24:28], 16)         // last_comp_version
	binary.BigEndian.PutUint32(header[28:32], 0)          // boot_cpuid_phys
	binary.BigEndian.PutUint32(header[32:36], stringsSize)
	binary.BigEndian.PutUint32(header[36:40], structSize)

	out = append(out, header...)
	out = append(out, memRsvMap...)
	out = append(out, b.structBlock...)
	out = append(out, b.strings...)
	return out
}
