package memrange

import "testing"

func TestInsertKeepsSortedOrder(t *testing.T) {
	s := NewSet(8)
	s.Insert(Range{0x2000, 0x1000})
	s.Insert(Range{0x0, 0x1000})
	s.Insert(Range{0x1000, 0x1000})
	want := []uint64{0x0, 0x1000, 0x2000}
	for i, b := range want {
		if s.At(i).Base != b {
			t.Errorf("At(%d).Base = %#x, want %#x", i, s.At(i).Base, b)
		}
	}
}

func TestInsertStableForEqualBase(t *testing.T) {
	s := NewSet(4)
	s.Insert(Range{0x1000, 0x10})
	s.Insert(Range{0x1000, 0x20})
	if s.At(0).Size != 0x10 || s.At(1).Size != 0x20 {
		t.Errorf("equal-base insert not stable: got sizes %#x, %#x", s.At(0).Size, s.At(1).Size)
	}
}

func TestInsertFailsAtCapacity(t *testing.T) {
	s := NewSet(1)
	if !s.Insert(Range{0, 0x1000}) {
		t.Fatalf("first insert should succeed")
	}
	if s.Insert(Range{0x2000, 0x1000}) {
		t.Errorf("insert should fail once the set is at capacity")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after failed insert, want 1", s.Len())
	}
}

// TestExcludeSplitsMemberInTwo exercises a RangeSet holding {[0, 0x40000000)}
// excluding [0x10000000, 0x20000000) at 0x1000 alignment, which should leave
// {[0, 0x10000000), [0x20000000, 0x40000000)}.
func TestExcludeSplitsMemberInTwo(t *testing.T) {
	s := NewSet(8)
	s.Insert(Range{0, 0x40000000})
	s.Exclude(Range{0x10000000, 0x10000000}, 0x1000)

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	want := []Range{{0, 0x10000000}, {0x20000000, 0x20000000}}
	for i, w := range want {
		if s.At(i) != w {
			t.Errorf("At(%d) = %v, want %v", i, s.At(i), w)
		}
	}
}

func TestExcludeIsIdempotent(t *testing.T) {
	s := NewSet(8)
	s.Insert(Range{0, 0x40000000})
	s.Exclude(Range{0x10000000, 0x10000000}, 0x1000)
	first := append([]Range(nil), s.Slice()...)
	s.Exclude(Range{0x10000000, 0x10000000}, 0x1000)
	second := s.Slice()
	if len(first) != len(second) {
		t.Fatalf("second exclude changed length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("second exclude changed entry %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestExcludeEntirelyRemovesMember(t *testing.T) {
	s := NewSet(8)
	s.Insert(Range{0x1000, 0x1000})
	s.Exclude(Range{0, 0x10000}, 0x1000)
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after full exclusion", s.Len())
	}
}

func TestTrimCoalescesOverlaps(t *testing.T) {
	s := NewSet(8)
	s.Insert(Range{0, 0x1000})
	s.Insert(Range{0x800, 0x1000})
	s.Insert(Range{0x3000, 0x1000})
	s.Trim()
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after trim", s.Len())
	}
	if s.At(0) != (Range{0, 0x1800}) {
		t.Errorf("At(0) = %v, want merged [0, 0x1800)", s.At(0))
	}
	if s.At(1) != (Range{0x3000, 0x1000}) {
		t.Errorf("At(1) = %v, want [0x3000, 0x4000)", s.At(1))
	}
}

func TestTrimDropsEmptyMembers(t *testing.T) {
	s := NewSet(8)
	s.Insert(Range{0, 0})
	s.Insert(Range{0x1000, 0x1000})
	s.Trim()
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after dropping the empty member", s.Len())
	}
}
