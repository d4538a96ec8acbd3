package memrange

import (
	"kmazarin/internal/bitutil"
	"kmazarin/internal/fixedvec"
)

// Set is a fixed-capacity, base-sorted, pairwise-disjoint collection of
// Ranges: the implementation behind MemoryConfig and the SoC mapping list.
type Set struct {
	ranges *fixedvec.Vec[Range]
}

// NewSet returns an empty Set with room for capacity ranges.
func NewSet(capacity int) *Set {
	return &Set{ranges: fixedvec.New[Range](capacity)}
}

// Len returns the number of ranges currently stored.
func (s *Set) Len() int {
	return s.ranges.Len()
}

// Cap returns the set's fixed capacity.
func (s *Set) Cap() int {
	return s.ranges.Cap()
}

// At returns the range at index i; ranges are sorted by Base.
func (s *Set) At(i int) Range {
	return s.ranges.At(i)
}

// Slice returns the stored ranges in base-sorted order.
func (s *Set) Slice() []Range {
	return s.ranges.Slice()
}

// Insert inserts r before the first existing element whose base is
// strictly greater than r's, preserving stable order for equal bases.
// Returns false without mutating if the set is at capacity.
func (s *Set) Insert(r Range) bool {
	n := s.ranges.Len()
	i := 0
	for i < n && s.ranges.At(i).Base <= r.Base {
		i++
	}
	return s.ranges.InsertAt(i, r)
}

// Exclude subtracts excl from every member, rounding the excluded span
// outward to align (a power of two): a surviving fragment below excl has
// its end aligned down, one above excl has its base aligned up. Fragments
// that collapse to empty are dropped. A member splitting into two grows
// the set's count by one; if the set is already at capacity when a split
// would occur, the second fragment is discarded and a debug assertion
// fires, since losing a fragment silently would otherwise hide a
// capacity-planning bug.
func (s *Set) Exclude(excl Range, align uint64) {
	i := 0
	for i < s.ranges.Len() {
		r := s.ranges.At(i)
		if !Overlaps(r, excl) {
			i++
			continue
		}

		leftEnd := bitutil.AlignDown(max64(r.Base, excl.Base), align)
		rightBase := bitutil.AlignUp(min64(r.End(), excl.End()), align)

		var left, right Range
		haveLeft := leftEnd > r.Base
		if haveLeft {
			left = Range{Base: r.Base, Size: leftEnd - r.Base}
		}
		haveRight := rightBase < r.End()
		if haveRight {
			right = Range{Base: rightBase, Size: r.End() - rightBase}
		}

		switch {
		case haveLeft && haveRight:
			s.ranges.Set(i, left)
			if !s.ranges.InsertAt(i+1, right) {
				bitutil.DebugAssert(false, "memrange: Exclude dropped a surviving fragment at capacity")
			}
			i += 2
		case haveLeft:
			s.ranges.Set(i, left)
			i++
		case haveRight:
			s.ranges.Set(i, right)
			i++
		default:
			s.ranges.RemoveAt(i)
		}
	}
}

// Trim coalesces overlapping or touching members by unioning them and
// drops any member left with zero size, restoring all Set invariants.
func (s *Set) Trim() {
	n := s.ranges.Len()
	if n == 0 {
		return
	}
	merged := make([]Range, 0, n)
	src := append([]Range(nil), s.ranges.Slice()...)
	for _, r := range src {
		if r.Empty() {
			continue
		}
		if len(merged) > 0 {
			last := merged[len(merged)-1]
			if r.Base <= last.End() {
				merged[len(merged)-1] = Union(last, r)
				continue
			}
		}
		merged = append(merged, r)
	}
	s.ranges.Truncate(0)
	for _, r := range merged {
		s.ranges.Push(r)
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
