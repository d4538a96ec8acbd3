package memscan

import (
	"testing"

	"kmazarin/internal/bitutil"
	"kmazarin/internal/dtb"
	"kmazarin/internal/dtb/dtbtest"
)

// buildDTB constructs a minimal devicetree with one memory node whose reg
// is the given big-endian cell sequence (two cells each for base and size
// on a 64-bit platform).
func buildDTB(regCells []uint64) []byte {
	b := dtbtest.New()
	b.BeginNode("")
	b.PropU32("#address-cells", 2)
	b.PropU32("#size-cells", 2)
	b.BeginNode("memory@0")
	b.PropString("device_type", "memory")
	b.Prop("reg", dtbtest.BECells(regCells...))
	b.EndNode()
	b.EndNode()
	return b.Finish()
}

// TestScanSingleMemoryNode scans a DTB with one memory node whose
// reg = <0x0 0x0 0x0 0x3c000000> on a 64-bit platform with
// #address-cells=2, #size-cells=2, expecting [Range{base: 0, size: 0x3c000000}].
func TestScanSingleMemoryNode(t *testing.T) {
	blob := buildDTB([]uint64{0x0, 0x0, 0x0, 0x3c000000})
	r, err := dtb.NewReader(blob, bitutil.Word64)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	set, err := Scan(r, bitutil.Word64)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", set.Len())
	}
	if set.At(0).Base != 0 || set.At(0).Size != 0x3c000000 {
		t.Errorf("At(0) = %v, want {0, 0x3c000000}", set.At(0))
	}
}

func TestScanFailsWithNoMemoryNodes(t *testing.T) {
	b := dtbtest.New()
	b.BeginNode("")
	b.PropU32("#address-cells", 2)
	b.PropU32("#size-cells", 2)
	b.BeginNode("cpus")
	b.EndNode()
	b.EndNode()
	blob := b.Finish()

	r, err := dtb.NewReader(blob, bitutil.Word64)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if _, err := Scan(r, bitutil.Word64); err != ErrNoMemoryNodes {
		t.Errorf("Scan = %v, want ErrNoMemoryNodes", err)
	}
}

func TestScanMultipleMemoryNodes(t *testing.T) {
	b := dtbtest.New()
	b.BeginNode("")
	b.PropU32("#address-cells", 2)
	b.PropU32("#size-cells", 2)
	b.BeginNode("memory@0")
	b.PropString("device_type", "memory")
	b.Prop("reg", dtbtest.BECells(0, 0, 0, 0x10000000))
	b.EndNode()
	b.BeginNode("memory@40000000")
	b.PropString("device_type", "memory")
	b.Prop("reg", dtbtest.BECells(0, 0x40000000, 0, 0x10000000))
	b.EndNode()
	b.EndNode()
	blob := b.Finish()

	r, err := dtb.NewReader(blob, bitutil.Word64)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	set, err := Scan(r, bitutil.Word64)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", set.Len())
	}
	if set.At(0).Base != 0 || set.At(1).Base != 0x40000000 {
		t.Errorf("ranges out of order: %v, %v", set.At(0), set.At(1))
	}
}
