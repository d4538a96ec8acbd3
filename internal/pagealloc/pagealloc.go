// Package pagealloc implements a per-contiguous-region, 11-level bitmap
// "buddy-of-powers-of-two" page allocator. One Allocator governs one RAM
// Range; its metadata lives in a caller-supplied flat byte buffer with no
// internal pointers, which lets the allocator be trivially relocated and
// placed at a fixed physical tail inside the very region it manages.
package pagealloc

import (
	"errors"
	"math/bits"

	"kmazarin/internal/bitutil"
	"kmazarin/internal/memrange"
)

// Levels is the fixed number of bitmap levels: level l tracks blocks of
// 2^l pages.
const Levels = 11

var (
	ErrBadPageSize     = errors.New("pagealloc: page size must be a power of two")
	ErrBadMetadataSize = errors.New("pagealloc: metadata buffer does not match MetadataSize")
)

// MetadataSize returns the number of metadata bytes an Allocator needs for
// a region of blockSize bytes split into pageSize pages: the sum, across
// all 11 levels, of ceil(valid_l/8) bytes, where valid_0 =
// floor(blockSize/pageSize) and valid_(l+1) = floor(valid_l/2).
func MetadataSize(pageSize, blockSize uint64) uint64 {
	valid := blockSize / pageSize
	var total uint64
	for l := 0; l < Levels; l++ {
		total += (valid + 7) / 8
		valid /= 2
	}
	return total
}

type levelInfo struct {
	byteOff uint32
	valid   uint32
	avail   uint32
}

// Allocator governs a contiguous physical range [BaseAddr, BaseAddr+BlockSize)
// split into PageSize-sized pages, tracked by Levels bitmaps of halving
// granularity.
type Allocator struct {
	pageSize  uint64
	baseAddr  uint64
	blockSize uint64
	pageCount uint64
	meta      []byte
	levels    [Levels]levelInfo
}

// NewAllocator constructs an Allocator over [baseAddr, baseAddr+blockSize)
// with pages of pageSize bytes, using metadata (which must be exactly
// MetadataSize(pageSize, blockSize) bytes) for its bitmaps. available
// describes the sub-ranges of [baseAddr, baseAddr+blockSize) that are
// actually free; every other byte, including gaps before the first entry
// and after the last, is reserved immediately via the same Reserve path a
// caller would use later.
func NewAllocator(pageSize, baseAddr, blockSize uint64, metadata []byte, available *memrange.Set) (*Allocator, error) {
	if !bitutil.IsPowerOfTwo(pageSize) {
		return nil, ErrBadPageSize
	}
	if need := MetadataSize(pageSize, blockSize); uint64(len(metadata)) != need {
		return nil, ErrBadMetadataSize
	}

	a := &Allocator{
		pageSize:  pageSize,
		baseAddr:  baseAddr,
		blockSize: blockSize,
		pageCount: blockSize / pageSize,
		meta:      metadata,
	}
	valid := a.pageCount
	off := uint32(0)
	for l := 0; l < Levels; l++ {
		a.levels[l] = levelInfo{byteOff: off, valid: uint32(valid)}
		off += uint32((valid + 7) / 8)
		valid /= 2
	}
	for i := range a.meta {
		a.meta[i] = 0
	}

	a.tileInitialAvailability()
	a.excludeUnavailable(available)
	return a, nil
}

// PageSize returns the allocator's page size in bytes.
func (a *Allocator) PageSize() uint64 { return a.pageSize }

// BaseAddr returns the physical base address the allocator governs.
func (a *Allocator) BaseAddr() uint64 { return a.baseAddr }

// BlockSize returns the size of the physical range the allocator governs.
func (a *Allocator) BlockSize() uint64 { return a.blockSize }

// ValidBits returns the number of valid bits (block positions) at level.
func (a *Allocator) ValidBits(level int) int { return int(a.levels[level].valid) }

// Available returns the current count of free blocks at level (the
// number of set bits in that level's flag slice).
func (a *Allocator) Available(level int) int { return int(a.levels[level].avail) }

// IsFree reports whether the block at (level, idx) is currently marked
// free.
func (a *Allocator) IsFree(level int, idx int) bool { return a.isFree(level, uint64(idx)) }

func (a *Allocator) isFree(level int, idx uint64) bool {
	if idx >= uint64(a.levels[level].valid) {
		return false
	}
	return bitGet(a.meta, a.levels[level].byteOff, uint32(idx))
}

func (a *Allocator) setFree(level int, idx uint64, val bool) {
	li := &a.levels[level]
	if bitGet(a.meta, li.byteOff, uint32(idx)) == val {
		return
	}
	bitSet(a.meta, li.byteOff, uint32(idx), val)
	if val {
		li.avail++
	} else {
		li.avail--
	}
}

// tileInitialAvailability marks every top-level block free, then places
// one free block per set bit of the remaining page count below the top
// level, largest first, consecutively after the top-level blocks (e.g.
// pageCount=2047, 11 one-bits, yields a single free block at every level,
// from the 1024-page block at the start down to the one leftover page at
// the tail).
func (a *Allocator) tileInitialAvailability() {
	placed := uint64(0)
	for l := Levels - 1; l >= 0; l-- {
		count := (a.pageCount >> uint(l)) & 1
		if l == Levels-1 {
			count = a.pageCount >> uint(l)
		}
		for k := uint64(0); k < count; k++ {
			a.setFree(l, placed>>uint(l), true)
			placed += uint64(1) << uint(l)
		}
	}
}

// excludeUnavailable reserves every gap in available within
// [baseAddr, baseAddr+blockSize) (before the first entry, between
// entries, and after the last) via the same Reserve path a caller uses
// at runtime.
func (a *Allocator) excludeUnavailable(available *memrange.Set) {
	cursor := a.baseAddr
	end := a.baseAddr + a.blockSize

	clamp := func(x uint64) uint64 {
		if x < a.baseAddr {
			return a.baseAddr
		}
		if x > end {
			return end
		}
		return x
	}

	for i := 0; i < available.Len(); i++ {
		r := available.At(i)
		base := clamp(r.Base)
		if base > cursor {
			a.Reserve(cursor, base-cursor)
		}
		rEnd := clamp(r.Base + r.Size)
		if rEnd > cursor {
			cursor = rEnd
		}
	}
	if cursor < end {
		a.Reserve(cursor, end-cursor)
	}
}

// Reserve marks [physBase, physBase+bytes) as reserved (unavailable to
// Allocate), rounding the request out to page alignment. It rejects,
// without mutating any state, requests that overrun the allocator's
// block or do not overlap it at all. Reserving the same region twice is
// idempotent.
func (a *Allocator) Reserve(physBase, bytes uint64) bool {
	if bytes == 0 {
		return true
	}
	end := physBase + bytes
	if end < physBase {
		return false
	}
	if physBase < a.baseAddr || end > a.baseAddr+a.blockSize {
		return false
	}

	alignedStart := bitutil.AlignDown(physBase-a.baseAddr, a.pageSize)
	alignedEnd := bitutil.AlignUp(end-a.baseAddr, a.pageSize)
	startPage := alignedStart / a.pageSize
	endPage := alignedEnd / a.pageSize
	if endPage > a.pageCount {
		endPage = a.pageCount
	}
	if startPage >= endPage {
		return true
	}
	a.reservePageRange(startPage, endPage)
	return true
}

// reservePageRange decomposes [startPage, endPage) into the maximal
// aligned power-of-two blocks that tile it and reserves each in turn.
func (a *Allocator) reservePageRange(startPage, endPage uint64) {
	for startPage < endPage {
		level := largestAlignedBlockLevel(startPage, endPage-startPage)
		a.reserveBlock(level, startPage>>uint(level))
		startPage += uint64(1) << uint(level)
	}
}

func largestAlignedBlockLevel(start, remaining uint64) int {
	for level := Levels - 1; level > 0; level-- {
		size := uint64(1) << uint(level)
		if start%size == 0 && size <= remaining {
			return level
		}
	}
	return 0
}

// reserveBlock reserves the single aligned block at (level, idx). It
// walks up to find the coarsest ancestor currently marked free, clears
// that ancestor, then splits back down along the path to (level, idx),
// marking each split's complementary sibling free (e.g. reserving 15
// pages out of a 1024-page free block splits it down, leaving several
// smaller free siblings behind).
func (a *Allocator) reserveBlock(level int, idx uint64) {
	topLevel := level
	for l := level + 1; l < Levels; l++ {
		if a.isFree(l, idx>>uint(l-level)) {
			topLevel = l
		}
	}
	if topLevel == level {
		if a.isFree(level, idx) {
			a.setFree(level, idx, false)
		}
		return // already reserved: idempotent no-op
	}

	curIdx := idx >> uint(topLevel-level)
	a.setFree(topLevel, curIdx, false)
	for l := topLevel - 1; l >= level; l-- {
		curIdx <<= 1
		pathIdx := idx >> uint(l-level)
		if pathIdx == curIdx {
			a.setFree(l, curIdx+1, true)
		} else {
			a.setFree(l, curIdx, true)
			curIdx++
		}
	}
}

// Allocate finds a free 2^order-page block, splitting a coarser free
// block down to order if none exists at that level already. It returns
// the block's physical base address.
func (a *Allocator) Allocate(order int) (uint64, bool) {
	if order < 0 || order >= Levels {
		return 0, false
	}
	if idx, ok := a.firstFree(order); ok {
		a.setFree(order, idx, false)
		return a.baseAddr + idx*(a.pageSize<<uint(order)), true
	}

	for l := order + 1; l < Levels; l++ {
		idx, ok := a.firstFree(l)
		if !ok {
			continue
		}
		a.setFree(l, idx, false)
		curIdx := idx
		for cl := l - 1; cl >= order; cl-- {
			curIdx <<= 1
			a.setFree(cl, curIdx+1, true) // right child stays free
		}
		return a.baseAddr + curIdx*(a.pageSize<<uint(order)), true
	}
	return 0, false
}

// Release returns a previously allocated 2^order-page block at phys,
// buddy-merging it upward while its sibling bit is also set.
func (a *Allocator) Release(phys uint64, order int) bool {
	if order < 0 || order >= Levels || phys < a.baseAddr {
		return false
	}
	blockBytes := a.pageSize << uint(order)
	rel := phys - a.baseAddr
	if rel%blockBytes != 0 {
		return false
	}
	idx := rel / blockBytes
	if idx >= uint64(a.levels[order].valid) {
		return false
	}

	level := order
	for {
		a.setFree(level, idx, true)
		if level+1 >= Levels {
			return true
		}
		buddy := idx ^ 1
		if buddy >= uint64(a.levels[level].valid) || !a.isFree(level, buddy) {
			return true
		}
		a.setFree(level, idx, false)
		a.setFree(level, buddy, false)
		idx /= 2
		level++
	}
}

func (a *Allocator) firstFree(level int) (uint64, bool) {
	li := a.levels[level]
	if li.avail == 0 {
		return 0, false
	}
	nbytes := (uint32(li.valid) + 7) / 8
	for bi := uint32(0); bi < nbytes; bi++ {
		b := a.meta[li.byteOff+bi]
		if b == 0 {
			continue
		}
		for b != 0 {
			tz := bits.TrailingZeros8(b)
			idx := uint64(bi)*8 + uint64(tz)
			if idx < uint64(li.valid) {
				return idx, true
			}
			b &^= 1 << uint(tz)
		}
	}
	return 0, false
}

func bitGet(buf []byte, byteOff uint32, idx uint32) bool {
	b := buf[byteOff+idx/8]
	return b&(1<<(idx%8)) != 0
}

func bitSet(buf []byte, byteOff uint32, idx uint32, val bool) {
	i := byteOff + idx/8
	mask := byte(1) << (idx % 8)
	if val {
		buf[i] |= mask
	} else {
		buf[i] &^= mask
	}
}
