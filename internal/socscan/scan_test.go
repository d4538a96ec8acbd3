package socscan

import (
	"testing"

	"kmazarin/internal/bitutil"
	"kmazarin/internal/dtb"
	"kmazarin/internal/dtb/dtbtest"
)

// TestScanDecodesSingleRangesTriple scans a DTB soc node with
// ranges = <0x7e000000 0x3f000000 0x01000000> and matching cell counts,
// expecting one Mapping{SocBase: 0x7e000000, CpuBase: 0x3f000000,
// Size: 0x01000000}.
func TestScanDecodesSingleRangesTriple(t *testing.T) {
	b := dtbtest.New()
	b.BeginNode("")
	b.PropU32("#address-cells", 1)
	b.PropU32("#size-cells", 1)
	b.BeginNode("soc")
	b.Prop("ranges", dtbtest.BECells(0x7e000000, 0x3f000000, 0x01000000))
	b.EndNode()
	b.EndNode()
	blob := b.Finish()

	r, err := dtb.NewReader(blob, bitutil.Word64)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	mappings, err := Scan(r, bitutil.Word64)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(mappings) != 1 {
		t.Fatalf("len(mappings) = %d, want 1", len(mappings))
	}
	want := Mapping{SocBase: 0x7e000000, CpuBase: 0x3f000000, Size: 0x01000000}
	if mappings[0] != want {
		t.Errorf("mappings[0] = %+v, want %+v", mappings[0], want)
	}
}

func TestScanMissingSocNode(t *testing.T) {
	b := dtbtest.New()
	b.BeginNode("")
	b.PropU32("#address-cells", 1)
	b.PropU32("#size-cells", 1)
	b.EndNode()
	blob := b.Finish()

	r, err := dtb.NewReader(blob, bitutil.Word64)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if _, err := Scan(r, bitutil.Word64); err != ErrNoSocNode {
		t.Errorf("Scan = %v, want ErrNoSocNode", err)
	}
}

func TestScanRejectsWiderSocAddress(t *testing.T) {
	b := dtbtest.New()
	b.BeginNode("")
	b.PropU32("#address-cells", 1)
	b.PropU32("#size-cells", 1)
	b.BeginNode("soc")
	b.PropU32("#address-cells", 2)
	b.PropU32("#size-cells", 1)
	b.Prop("ranges", dtbtest.BECells(0, 0x7e000000, 0x3f000000, 0x01000000))
	b.EndNode()
	b.EndNode()
	blob := b.Finish()

	r, err := dtb.NewReader(blob, bitutil.Word64)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	if _, err := Scan(r, bitutil.Word64); err != ErrWiderSocAddress {
		t.Errorf("Scan = %v, want ErrWiderSocAddress", err)
	}
}
