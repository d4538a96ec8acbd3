package bitutil

import "testing"

func TestOnes(t *testing.T) {
	tests := []struct {
		name string
		n    uint64
		want uint64
	}{
		{"zero", 0, 0},
		{"one", 1, 1},
		{"allLowByte", 0xff, 8},
		{"singleHighBit", 1 << 63, 1},
		{"mixed", 0b1011, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Ones(tt.n); got != tt.want {
				t.Errorf("Ones(%#x) = %d, want %d", tt.n, got, tt.want)
			}
		})
	}
}

func TestFloorLog2(t *testing.T) {
	tests := []struct {
		name string
		n    uint64
		want uint64
	}{
		{"zero", 0, 0},
		{"one", 1, 0},
		{"two", 2, 1},
		{"three", 3, 1},
		{"1024", 1024, 10},
		{"2047", 2047, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FloorLog2(tt.n); got != tt.want {
				t.Errorf("FloorLog2(%d) = %d, want %d", tt.n, got, tt.want)
			}
		})
	}
}

func TestCeilLog2(t *testing.T) {
	tests := []struct {
		name string
		n    uint64
		want uint64
	}{
		{"zero", 0, 0},
		{"one", 1, 0},
		{"two", 2, 1},
		{"three", 3, 2},
		{"1024", 1024, 10},
		{"2047", 2047, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CeilLog2(tt.n); got != tt.want {
				t.Errorf("CeilLog2(%d) = %d, want %d", tt.n, got, tt.want)
			}
			fl := FloorLog2(tt.n)
			if got := CeilLog2(tt.n); got != fl && got != fl+1 {
				t.Errorf("CeilLog2(%d) = %d, not in {%d, %d}", tt.n, got, fl, fl+1)
			}
		})
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		name string
		n    uint64
		want bool
	}{
		{"zero", 0, false},
		{"one", 1, true},
		{"two", 2, true},
		{"three", 3, false},
		{"1024", 1024, true},
		{"2047", 2047, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPowerOfTwo(tt.n); got != tt.want {
				t.Errorf("IsPowerOfTwo(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}
}

func TestAlignUpDown(t *testing.T) {
	tests := []struct {
		name string
		x, b uint64
	}{
		{"exact", 4096, 4096},
		{"smallRemainder", 4097, 4096},
		{"zero", 0, 64},
		{"largeUnaligned", 0x3c001234, 0x1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := AlignUp(tt.x, tt.b)
			down := AlignDown(up, tt.b)
			if down != up {
				t.Errorf("AlignDown(AlignUp(%d, %d), %d) = %d, want %d", tt.x, tt.b, tt.b, down, up)
			}
			if up-tt.x >= tt.b {
				t.Errorf("AlignUp(%d, %d) - x = %d, want < %d", tt.x, tt.b, up-tt.x, tt.b)
			}
		})
	}
}

func TestWordMax(t *testing.T) {
	if Word32.Max() != 0xffffffff {
		t.Errorf("Word32.Max() = %#x, want 0xffffffff", Word32.Max())
	}
	if Word64.Max() != ^uint64(0) {
		t.Errorf("Word64.Max() = %#x, want all ones", Word64.Max())
	}
}
